package repository

// Schema definitions for the portal database.
// Compatible with both SQLite and PostgreSQL.

const schemaSecretarias = `
CREATE TABLE IF NOT EXISTS secretarias (
    id INTEGER PRIMARY KEY,
    nome TEXT NOT NULL,
    sigla TEXT NOT NULL,
    url TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_secretarias_sigla ON secretarias(sigla);
`

const schemaRequisitos = `
CREATE TABLE IF NOT EXISTS requisitos (
    id INTEGER PRIMARY KEY,
    texto TEXT NOT NULL,
    texto_ajuda TEXT,
    link_fixo TEXT,
    scoring TEXT NOT NULL DEFAULT 'simples',
    pontuacao REAL NOT NULL
);
`

const schemaAvaliacoes = `
CREATE TABLE IF NOT EXISTS avaliacoes (
    id INTEGER PRIMARY KEY,
    secretaria_id INTEGER NOT NULL,
    ciclo_ano INTEGER NOT NULL,
    url_secretaria TEXT NOT NULL,
    nome_responsavel TEXT NOT NULL,
    email_responsavel TEXT NOT NULL,
    status TEXT NOT NULL,
    prazo_recurso TIMESTAMP,
    recurso_expirado INTEGER NOT NULL DEFAULT 0,
    pontuacao_autoavaliacao INTEGER NOT NULL DEFAULT 0,
    pontuacao_primeira_analise INTEGER NOT NULL DEFAULT 0,
    pontuacao_pos_recurso INTEGER NOT NULL DEFAULT 0,
    pontuacao_final INTEGER NOT NULL DEFAULT 0,
    pontuacao_total INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_avaliacoes_secretaria ON avaliacoes(secretaria_id);
CREATE INDEX IF NOT EXISTS idx_avaliacoes_status ON avaliacoes(status);
CREATE INDEX IF NOT EXISTS idx_avaliacoes_prazo ON avaliacoes(status, prazo_recurso);
`

const schemaRespostas = `
CREATE TABLE IF NOT EXISTS respostas (
    id INTEGER PRIMARY KEY,
    avaliacao_id INTEGER NOT NULL REFERENCES avaliacoes(id) ON DELETE CASCADE,
    requisito_id INTEGER NOT NULL,
    atende INTEGER NOT NULL,
    atende_original INTEGER NOT NULL,
    status_validacao TEXT NOT NULL DEFAULT '',
    status_validacao_historico TEXT NOT NULL DEFAULT '',
    comentario_admin TEXT NOT NULL DEFAULT '',
    recurso_atende INTEGER,
    comentario_recurso TEXT NOT NULL DEFAULT '',
    status_recurso TEXT NOT NULL DEFAULT '',
    analise_final TEXT NOT NULL DEFAULT '',
    analise_final_historico TEXT NOT NULL DEFAULT '',
    UNIQUE (avaliacao_id, requisito_id)
);

CREATE INDEX IF NOT EXISTS idx_respostas_avaliacao ON respostas(avaliacao_id);
`

const schemaEvidencias = `
CREATE TABLE IF NOT EXISTS evidencias (
    id INTEGER PRIMARY KEY,
    resposta_id INTEGER NOT NULL REFERENCES respostas(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    tipo TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_evidencias_resposta ON evidencias(resposta_id);
`

const schemaScanSessions = `
CREATE TABLE IF NOT EXISTS scan_sessions (
    id TEXT PRIMARY KEY,
    url_base TEXT NOT NULL,
    status TEXT NOT NULL,
    total_links INTEGER NOT NULL DEFAULT 0,
    depth_reached INTEGER NOT NULL DEFAULT 0,
    error_message TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL
);
`

const schemaLinks = `
CREATE TABLE IF NOT EXISTS links (
    id INTEGER PRIMARY KEY,
    session_id TEXT NOT NULL REFERENCES scan_sessions(id) ON DELETE CASCADE,
    url TEXT NOT NULL,
    tipo TEXT NOT NULL DEFAULT '',
    origem TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL DEFAULT '',
    http_code INTEGER NOT NULL DEFAULT 0,
    final_url TEXT NOT NULL DEFAULT '',
    profundidade INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_links_session ON links(session_id);
CREATE INDEX IF NOT EXISTS idx_links_created ON links(created_at);
`

// AllSchemas returns all schema statements in order.
func AllSchemas() []string {
	return []string{
		schemaSecretarias,
		schemaRequisitos,
		schemaAvaliacoes,
		schemaRespostas,
		schemaEvidencias,
		schemaScanSessions,
		schemaLinks,
	}
}
