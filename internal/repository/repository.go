// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/opengov-pe/radar/internal/domain"
)

// SQLStore implements domain.Store using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLStore struct {
	db     *sql.DB
	driver string
}

// New creates a new store based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Store, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	store := &SQLStore{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return store, nil
}

// openSQLite uses modernc.org/sqlite, a pure Go driver (no CGO).
func openSQLite(cfg domain.RepositoryConfig) (*sql.DB, error) {
	path := cfg.SQLitePath
	if path == "" {
		path = "./radar.db"
	}
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(ON)"
	return openAndPing("sqlite", dsn)
}

func openPostgres(cfg domain.RepositoryConfig) (*sql.DB, error) {
	host := cfg.PostgresHost
	if host == "" {
		host = "localhost"
	}
	port := cfg.PostgresPort
	if port == 0 {
		port = 5432
	}
	dbname := cfg.PostgresDB
	if dbname == "" {
		dbname = "radar"
	}
	sslmode := cfg.PostgresSSLMode
	if sslmode == "" {
		sslmode = "disable"
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		host, port, cfg.PostgresUser, cfg.PostgresPassword, dbname, sslmode)
	return openAndPing("postgres", dsn)
}

func openAndPing(driver, dsn string) (*sql.DB, error) {
	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", driver, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping %s database: %w", driver, err)
	}
	return db, nil
}

func (s *SQLStore) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := s.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// rebind converts ? placeholders to $N for the postgres driver.
func (s *SQLStore) rebind(query string) string {
	if s.driver != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			b.WriteString("$" + strconv.Itoa(n))
			continue
		}
		b.WriteRune(ch)
	}
	return b.String()
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nextID allocates the next primary key inside the current transaction.
// Keeps the schema identical across SQLite and PostgreSQL. The allocation is
// not unique under concurrency: postgres runs these transactions at READ
// COMMITTED, so two of them can read the same MAX and the loser's INSERT
// fails the primary-key constraint. Callers wrap the whole transaction in
// withIDRetry so the loser re-runs with a fresh allocation.
func (s *SQLStore) nextID(ctx context.Context, q execer, table string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx, "SELECT COALESCE(MAX(id), 0) + 1 FROM "+table).Scan(&id)
	if err != nil {
		return 0, err
	}
	return id, nil
}

// idRetries bounds re-runs of a transaction that lost the id-allocation
// race. SQLite serializes writers and never takes the retry path.
const idRetries = 5

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint")
}

func withIDRetry(fn func() error) error {
	var err error
	for i := 0; i < idRetries; i++ {
		err = fn()
		if err == nil || !isUniqueViolation(err) {
			return err
		}
	}
	return err
}

// --- Evaluation aggregate ---

// CreateAvaliacao stores an evaluation with its responses and evidence in a
// single transaction.
func (s *SQLStore) CreateAvaliacao(ctx context.Context, av *domain.Avaliacao) error {
	return withIDRetry(func() error { return s.createAvaliacao(ctx, av) })
}

func (s *SQLStore) createAvaliacao(ctx context.Context, av *domain.Avaliacao) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := s.nextID(ctx, tx, "avaliacoes")
	if err != nil {
		return err
	}
	av.ID = id

	query := `
		INSERT INTO avaliacoes (
			id, secretaria_id, ciclo_ano, url_secretaria,
			nome_responsavel, email_responsavel, status,
			prazo_recurso, recurso_expirado,
			pontuacao_autoavaliacao, pontuacao_primeira_analise,
			pontuacao_pos_recurso, pontuacao_final, pontuacao_total,
			created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, s.rebind(query),
		av.ID, av.SecretariaID, av.CicloAno, av.URLSecretaria,
		av.NomeResponsavel, av.EmailResponsavel, string(av.Status),
		nullTime(av.PrazoRecurso), boolInt(av.RecursoExpirado),
		av.PontuacaoAutoavaliacao, av.PontuacaoPrimeiraAnalise,
		av.PontuacaoPosRecurso, av.PontuacaoFinal, av.PontuacaoTotal,
		av.CreatedAt, av.UpdatedAt,
	)
	if err != nil {
		return err
	}

	for _, resp := range av.Respostas {
		resp.AvaliacaoID = av.ID
		respID, err := s.nextID(ctx, tx, "respostas")
		if err != nil {
			return err
		}
		resp.ID = respID

		if err := s.insertResposta(ctx, tx, resp); err != nil {
			return err
		}

		for _, ev := range resp.Evidencias {
			ev.RespostaID = resp.ID
			if err := s.insertEvidencia(ctx, tx, ev); err != nil {
				return err
			}
		}
	}

	return tx.Commit()
}

func (s *SQLStore) insertResposta(ctx context.Context, q execer, resp *domain.Resposta) error {
	query := `
		INSERT INTO respostas (
			id, avaliacao_id, requisito_id, atende, atende_original,
			status_validacao, status_validacao_historico, comentario_admin,
			recurso_atende, comentario_recurso, status_recurso,
			analise_final, analise_final_historico
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err := q.ExecContext(ctx, s.rebind(query),
		resp.ID, resp.AvaliacaoID, resp.RequisitoID,
		boolInt(resp.Atende), boolInt(resp.AtendeOriginal),
		string(resp.StatusValidacao), string(resp.StatusValidacaoHistorico), resp.ComentarioAdmin,
		nullBool(resp.RecursoAtende), resp.ComentarioRecurso, resp.StatusRecurso,
		string(resp.AnaliseFinal), string(resp.AnaliseFinalHistorico),
	)
	return err
}

func (s *SQLStore) insertEvidencia(ctx context.Context, q execer, ev *domain.Evidencia) error {
	id, err := s.nextID(ctx, q, "evidencias")
	if err != nil {
		return err
	}
	ev.ID = id

	query := `
		INSERT INTO evidencias (id, resposta_id, url, tipo, created_at)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err = q.ExecContext(ctx, s.rebind(query),
		ev.ID, ev.RespostaID, ev.URL, ev.Tipo, ev.CreatedAt)
	return err
}

// GetAvaliacao retrieves the full aggregate by id.
func (s *SQLStore) GetAvaliacao(ctx context.Context, id int64) (*domain.Avaliacao, error) {
	return s.loadAvaliacao(ctx, s.db, id, false)
}

func (s *SQLStore) loadAvaliacao(ctx context.Context, q execer, id int64, forUpdate bool) (*domain.Avaliacao, error) {
	query := `
		SELECT id, secretaria_id, ciclo_ano, url_secretaria,
			   nome_responsavel, email_responsavel, status,
			   prazo_recurso, recurso_expirado,
			   pontuacao_autoavaliacao, pontuacao_primeira_analise,
			   pontuacao_pos_recurso, pontuacao_final, pontuacao_total,
			   created_at, updated_at
		FROM avaliacoes
		WHERE id = ?
	`
	// Row lock only exists on postgres; SQLite serializes writers anyway.
	if forUpdate && s.driver == "postgres" {
		query += " FOR UPDATE"
	}

	av, err := scanAvaliacao(q.QueryRowContext(ctx, s.rebind(query), id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("avaliacao", id)
		}
		return nil, err
	}

	if err := s.loadRespostas(ctx, q, av); err != nil {
		return nil, err
	}
	return av, nil
}

func (s *SQLStore) loadRespostas(ctx context.Context, q execer, av *domain.Avaliacao) error {
	query := `
		SELECT id, avaliacao_id, requisito_id, atende, atende_original,
			   status_validacao, status_validacao_historico, comentario_admin,
			   recurso_atende, comentario_recurso, status_recurso,
			   analise_final, analise_final_historico
		FROM respostas
		WHERE avaliacao_id = ?
		ORDER BY requisito_id
	`
	rows, err := q.QueryContext(ctx, s.rebind(query), av.ID)
	if err != nil {
		return err
	}
	defer rows.Close()

	byID := make(map[int64]*domain.Resposta)
	for rows.Next() {
		var resp domain.Resposta
		var atende, atendeOriginal int
		var recursoAtende sql.NullInt64
		var statusValidacao, statusHistorico, analiseFinal, analiseHistorico string

		if err := rows.Scan(
			&resp.ID, &resp.AvaliacaoID, &resp.RequisitoID, &atende, &atendeOriginal,
			&statusValidacao, &statusHistorico, &resp.ComentarioAdmin,
			&recursoAtende, &resp.ComentarioRecurso, &resp.StatusRecurso,
			&analiseFinal, &analiseHistorico,
		); err != nil {
			return err
		}

		resp.Atende = atende == 1
		resp.AtendeOriginal = atendeOriginal == 1
		resp.StatusValidacao = domain.Verdict(statusValidacao)
		resp.StatusValidacaoHistorico = domain.Verdict(statusHistorico)
		resp.AnaliseFinal = domain.Verdict(analiseFinal)
		resp.AnaliseFinalHistorico = domain.Verdict(analiseHistorico)
		if recursoAtende.Valid {
			v := recursoAtende.Int64 == 1
			resp.RecursoAtende = &v
		}

		av.Respostas = append(av.Respostas, &resp)
		byID[resp.ID] = &resp
	}
	if err := rows.Err(); err != nil {
		return err
	}

	evQuery := `
		SELECT e.id, e.resposta_id, e.url, e.tipo, e.created_at
		FROM evidencias e
		JOIN respostas r ON r.id = e.resposta_id
		WHERE r.avaliacao_id = ?
		ORDER BY e.id
	`
	evRows, err := q.QueryContext(ctx, s.rebind(evQuery), av.ID)
	if err != nil {
		return err
	}
	defer evRows.Close()

	for evRows.Next() {
		var ev domain.Evidencia
		if err := evRows.Scan(&ev.ID, &ev.RespostaID, &ev.URL, &ev.Tipo, &ev.CreatedAt); err != nil {
			return err
		}
		if resp, ok := byID[ev.RespostaID]; ok {
			resp.Evidencias = append(resp.Evidencias, &ev)
		}
	}
	return evRows.Err()
}

func scanAvaliacao(row *sql.Row) (*domain.Avaliacao, error) {
	var av domain.Avaliacao
	var status string
	var prazo sql.NullTime
	var expirado int

	err := row.Scan(
		&av.ID, &av.SecretariaID, &av.CicloAno, &av.URLSecretaria,
		&av.NomeResponsavel, &av.EmailResponsavel, &status,
		&prazo, &expirado,
		&av.PontuacaoAutoavaliacao, &av.PontuacaoPrimeiraAnalise,
		&av.PontuacaoPosRecurso, &av.PontuacaoFinal, &av.PontuacaoTotal,
		&av.CreatedAt, &av.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	av.Status = domain.Status(status)
	av.RecursoExpirado = expirado == 1
	if prazo.Valid {
		t := prazo.Time
		av.PrazoRecurso = &t
	}
	return &av, nil
}

// ListAvaliacoes returns all evaluations without their responses, newest
// first.
func (s *SQLStore) ListAvaliacoes(ctx context.Context) ([]*domain.Avaliacao, error) {
	query := `
		SELECT id, secretaria_id, ciclo_ano, url_secretaria,
			   nome_responsavel, email_responsavel, status,
			   prazo_recurso, recurso_expirado,
			   pontuacao_autoavaliacao, pontuacao_primeira_analise,
			   pontuacao_pos_recurso, pontuacao_final, pontuacao_total,
			   created_at, updated_at
		FROM avaliacoes
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Avaliacao
	for rows.Next() {
		var av domain.Avaliacao
		var status string
		var prazo sql.NullTime
		var expirado int
		if err := rows.Scan(
			&av.ID, &av.SecretariaID, &av.CicloAno, &av.URLSecretaria,
			&av.NomeResponsavel, &av.EmailResponsavel, &status,
			&prazo, &expirado,
			&av.PontuacaoAutoavaliacao, &av.PontuacaoPrimeiraAnalise,
			&av.PontuacaoPosRecurso, &av.PontuacaoFinal, &av.PontuacaoTotal,
			&av.CreatedAt, &av.UpdatedAt,
		); err != nil {
			return nil, err
		}
		av.Status = domain.Status(status)
		av.RecursoExpirado = expirado == 1
		if prazo.Valid {
			t := prazo.Time
			av.PrazoRecurso = &t
		}
		out = append(out, &av)
	}
	return out, rows.Err()
}

// UpdateAvaliacao applies fn to the aggregate inside a transaction. The row
// is locked on postgres; SQLite serializes writing transactions on its own.
// The transaction may be retried after a lost id allocation on new evidence
// rows, so fn can run more than once, each time on a freshly loaded
// aggregate.
func (s *SQLStore) UpdateAvaliacao(ctx context.Context, id int64, fn func(av *domain.Avaliacao) error) (*domain.Avaliacao, error) {
	var av *domain.Avaliacao
	err := withIDRetry(func() error {
		var txErr error
		av, txErr = s.updateAvaliacao(ctx, id, fn)
		return txErr
	})
	if err != nil {
		return nil, err
	}
	return av, nil
}

func (s *SQLStore) updateAvaliacao(ctx context.Context, id int64, fn func(av *domain.Avaliacao) error) (*domain.Avaliacao, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	av, err := s.loadAvaliacao(ctx, tx, id, true)
	if err != nil {
		return nil, err
	}

	// Remember evidence rows present before fn runs, so replaced appeal
	// evidence can be deleted afterwards.
	existing := make(map[int64]bool)
	for _, resp := range av.Respostas {
		for _, ev := range resp.Evidencias {
			existing[ev.ID] = true
		}
	}

	if err := fn(av); err != nil {
		return nil, err
	}

	query := `
		UPDATE avaliacoes SET
			status = ?, prazo_recurso = ?, recurso_expirado = ?,
			pontuacao_autoavaliacao = ?, pontuacao_primeira_analise = ?,
			pontuacao_pos_recurso = ?, pontuacao_final = ?, pontuacao_total = ?,
			updated_at = ?
		WHERE id = ?
	`
	_, err = tx.ExecContext(ctx, s.rebind(query),
		string(av.Status), nullTime(av.PrazoRecurso), boolInt(av.RecursoExpirado),
		av.PontuacaoAutoavaliacao, av.PontuacaoPrimeiraAnalise,
		av.PontuacaoPosRecurso, av.PontuacaoFinal, av.PontuacaoTotal,
		av.UpdatedAt, av.ID,
	)
	if err != nil {
		return nil, err
	}

	// atende_original is deliberately absent: the self-assessment baseline
	// is immutable after creation.
	respQuery := `
		UPDATE respostas SET
			atende = ?, status_validacao = ?, status_validacao_historico = ?,
			comentario_admin = ?, recurso_atende = ?, comentario_recurso = ?,
			status_recurso = ?, analise_final = ?, analise_final_historico = ?
		WHERE id = ?
	`
	remaining := make(map[int64]bool)
	for _, resp := range av.Respostas {
		_, err = tx.ExecContext(ctx, s.rebind(respQuery),
			boolInt(resp.Atende), string(resp.StatusValidacao), string(resp.StatusValidacaoHistorico),
			resp.ComentarioAdmin, nullBool(resp.RecursoAtende), resp.ComentarioRecurso,
			resp.StatusRecurso, string(resp.AnaliseFinal), string(resp.AnaliseFinalHistorico),
			resp.ID,
		)
		if err != nil {
			return nil, err
		}

		for _, ev := range resp.Evidencias {
			if ev.ID == 0 {
				ev.RespostaID = resp.ID
				if err := s.insertEvidencia(ctx, tx, ev); err != nil {
					return nil, err
				}
			}
			remaining[ev.ID] = true
		}
	}

	for evID := range existing {
		if !remaining[evID] {
			if _, err := tx.ExecContext(ctx, s.rebind("DELETE FROM evidencias WHERE id = ?"), evID); err != nil {
				return nil, err
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return av, nil
}

// DeleteAvaliacao removes an evaluation; responses and evidence cascade.
func (s *SQLStore) DeleteAvaliacao(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM avaliacoes WHERE id = ?"), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("avaliacao", id)
	}
	return nil
}

// AvaliacaoIDByResposta resolves the owning evaluation of a response.
func (s *SQLStore) AvaliacaoIDByResposta(ctx context.Context, respostaID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT avaliacao_id FROM respostas WHERE id = ?"), respostaID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.NewNotFoundError("resposta", respostaID)
	}
	if err != nil {
		return 0, err
	}
	return id, nil
}

// ListAguardandoRecurso returns ids of evaluations whose appeal window
// closed before the given instant and were not yet expired.
func (s *SQLStore) ListAguardandoRecurso(ctx context.Context, before time.Time) ([]int64, error) {
	query := `
		SELECT id FROM avaliacoes
		WHERE status = ? AND recurso_expirado = 0
		  AND prazo_recurso IS NOT NULL AND prazo_recurso < ?
		ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query),
		string(domain.StatusAguardandoRecurso), before)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// --- Checklist reference data ---

// SaveRequisito inserts or updates a checklist item. Items without an id get
// one allocated; a lost allocation is retried as a plain insert so it can
// never upsert over a concurrently created row.
func (s *SQLStore) SaveRequisito(ctx context.Context, req *domain.Requisito) error {
	if req.ID == 0 {
		return withIDRetry(func() error {
			id, err := s.nextID(ctx, s.db, "requisitos")
			if err != nil {
				return err
			}
			query := `
				INSERT INTO requisitos (id, texto, texto_ajuda, link_fixo, scoring, pontuacao)
				VALUES (?, ?, ?, ?, ?, ?)
			`
			if _, err := s.db.ExecContext(ctx, s.rebind(query),
				id, req.Texto, req.TextoAjuda, req.LinkFixo, string(req.Scoring), req.Pontuacao); err != nil {
				return err
			}
			req.ID = id
			return nil
		})
	}
	query := `
		INSERT INTO requisitos (id, texto, texto_ajuda, link_fixo, scoring, pontuacao)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			texto = excluded.texto,
			texto_ajuda = excluded.texto_ajuda,
			link_fixo = excluded.link_fixo,
			scoring = excluded.scoring,
			pontuacao = excluded.pontuacao
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		req.ID, req.Texto, req.TextoAjuda, req.LinkFixo, string(req.Scoring), req.Pontuacao)
	return err
}

// GetRequisito retrieves one checklist item.
func (s *SQLStore) GetRequisito(ctx context.Context, id int64) (*domain.Requisito, error) {
	query := `
		SELECT id, texto, COALESCE(texto_ajuda, ''), COALESCE(link_fixo, ''), scoring, pontuacao
		FROM requisitos WHERE id = ?
	`
	var req domain.Requisito
	var scoring string
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&req.ID, &req.Texto, &req.TextoAjuda, &req.LinkFixo, &scoring, &req.Pontuacao)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("requisito", id)
	}
	if err != nil {
		return nil, err
	}
	req.Scoring = domain.ScoringKind(scoring)
	return &req, nil
}

// ListRequisitos returns the whole checklist ordered by id.
func (s *SQLStore) ListRequisitos(ctx context.Context) ([]*domain.Requisito, error) {
	query := `
		SELECT id, texto, COALESCE(texto_ajuda, ''), COALESCE(link_fixo, ''), scoring, pontuacao
		FROM requisitos ORDER BY id
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Requisito
	for rows.Next() {
		var req domain.Requisito
		var scoring string
		if err := rows.Scan(&req.ID, &req.Texto, &req.TextoAjuda, &req.LinkFixo, &scoring, &req.Pontuacao); err != nil {
			return nil, err
		}
		req.Scoring = domain.ScoringKind(scoring)
		out = append(out, &req)
	}
	return out, rows.Err()
}

// --- Secretariats ---

// SaveSecretaria inserts or updates a secretariat. Allocation mirrors
// SaveRequisito: new rows insert plainly and retry on a lost allocation.
func (s *SQLStore) SaveSecretaria(ctx context.Context, sec *domain.Secretaria) error {
	if sec.ID == 0 {
		return withIDRetry(func() error {
			id, err := s.nextID(ctx, s.db, "secretarias")
			if err != nil {
				return err
			}
			query := `INSERT INTO secretarias (id, nome, sigla, url) VALUES (?, ?, ?, ?)`
			if _, err := s.db.ExecContext(ctx, s.rebind(query), id, sec.Nome, sec.Sigla, sec.URL); err != nil {
				return err
			}
			sec.ID = id
			return nil
		})
	}
	query := `
		INSERT INTO secretarias (id, nome, sigla, url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			nome = excluded.nome,
			sigla = excluded.sigla,
			url = excluded.url
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query), sec.ID, sec.Nome, sec.Sigla, sec.URL)
	return err
}

// GetSecretaria retrieves one secretariat.
func (s *SQLStore) GetSecretaria(ctx context.Context, id int64) (*domain.Secretaria, error) {
	var sec domain.Secretaria
	err := s.db.QueryRowContext(ctx,
		s.rebind("SELECT id, nome, sigla, url FROM secretarias WHERE id = ?"), id).Scan(
		&sec.ID, &sec.Nome, &sec.Sigla, &sec.URL)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("secretaria", id)
	}
	if err != nil {
		return nil, err
	}
	return &sec, nil
}

// ListSecretarias returns all secretariats ordered by name.
func (s *SQLStore) ListSecretarias(ctx context.Context) ([]*domain.Secretaria, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT id, nome, sigla, url FROM secretarias ORDER BY nome")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Secretaria
	for rows.Next() {
		var sec domain.Secretaria
		if err := rows.Scan(&sec.ID, &sec.Nome, &sec.Sigla, &sec.URL); err != nil {
			return nil, err
		}
		out = append(out, &sec)
	}
	return out, rows.Err()
}

// --- Crawler sessions ---

// CreateScanSession stores a new crawler session.
func (s *SQLStore) CreateScanSession(ctx context.Context, sess *domain.ScanSession) error {
	query := `
		INSERT INTO scan_sessions (id, url_base, status, total_links, depth_reached, error_message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	_, err := s.db.ExecContext(ctx, s.rebind(query),
		sess.ID, sess.URLBase, sess.Status, sess.TotalLinks, sess.DepthReached,
		sess.ErrorMessage, sess.CreatedAt)
	return err
}

// GetScanSession retrieves a crawler session by id.
func (s *SQLStore) GetScanSession(ctx context.Context, id string) (*domain.ScanSession, error) {
	query := `
		SELECT id, url_base, status, total_links, depth_reached, error_message, created_at
		FROM scan_sessions WHERE id = ?
	`
	var sess domain.ScanSession
	err := s.db.QueryRowContext(ctx, s.rebind(query), id).Scan(
		&sess.ID, &sess.URLBase, &sess.Status, &sess.TotalLinks,
		&sess.DepthReached, &sess.ErrorMessage, &sess.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewNotFoundError("scan session", id)
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// ListScanSessions returns all crawler sessions, newest first.
func (s *SQLStore) ListScanSessions(ctx context.Context) ([]*domain.ScanSession, error) {
	query := `
		SELECT id, url_base, status, total_links, depth_reached, error_message, created_at
		FROM scan_sessions ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.ScanSession
	for rows.Next() {
		var sess domain.ScanSession
		if err := rows.Scan(
			&sess.ID, &sess.URLBase, &sess.Status, &sess.TotalLinks,
			&sess.DepthReached, &sess.ErrorMessage, &sess.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &sess)
	}
	return out, rows.Err()
}

// UpdateScanSession writes session status fields back.
func (s *SQLStore) UpdateScanSession(ctx context.Context, sess *domain.ScanSession) error {
	query := `
		UPDATE scan_sessions SET
			status = ?, total_links = ?, depth_reached = ?, error_message = ?
		WHERE id = ?
	`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		sess.Status, sess.TotalLinks, sess.DepthReached, sess.ErrorMessage, sess.ID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("scan session", sess.ID)
	}
	return nil
}

// DeleteScanSession removes a session; its links cascade.
func (s *SQLStore) DeleteScanSession(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM scan_sessions WHERE id = ?"), id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.NewNotFoundError("scan session", id)
	}
	return nil
}

// --- Crawler links ---

// CreateLink stores one crawled link. The scanner flushes links
// concurrently, so a lost id allocation is retried.
func (s *SQLStore) CreateLink(ctx context.Context, l *domain.Link) error {
	return withIDRetry(func() error { return s.createLink(ctx, l) })
}

func (s *SQLStore) createLink(ctx context.Context, l *domain.Link) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	id, err := s.nextID(ctx, tx, "links")
	if err != nil {
		return err
	}
	l.ID = id

	query := `
		INSERT INTO links (id, session_id, url, tipo, origem, status, http_code, final_url, profundidade, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = tx.ExecContext(ctx, s.rebind(query),
		l.ID, l.SessionID, l.URL, l.Tipo, l.Origem, l.Status,
		l.HTTPCode, l.FinalURL, l.Profundidade, l.CreatedAt)
	if err != nil {
		return err
	}
	return tx.Commit()
}

// ListLinks returns all links for a session in insertion order.
func (s *SQLStore) ListLinks(ctx context.Context, sessionID string) ([]*domain.Link, error) {
	query := `
		SELECT id, session_id, url, tipo, origem, status, http_code, final_url, profundidade, created_at
		FROM links WHERE session_id = ? ORDER BY created_at
	`
	rows, err := s.db.QueryContext(ctx, s.rebind(query), sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*domain.Link
	for rows.Next() {
		var l domain.Link
		if err := rows.Scan(
			&l.ID, &l.SessionID, &l.URL, &l.Tipo, &l.Origem, &l.Status,
			&l.HTTPCode, &l.FinalURL, &l.Profundidade, &l.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, &l)
	}
	return out, rows.Err()
}

// UpdateLinkByURL updates verification results for every link matching the
// url within a session, returning the number of rows touched.
func (s *SQLStore) UpdateLinkByURL(ctx context.Context, sessionID, url string, l *domain.Link) (int64, error) {
	query := `
		UPDATE links SET status = ?, http_code = ?, final_url = ?, profundidade = ?
		WHERE session_id = ? AND url = ?
	`
	res, err := s.db.ExecContext(ctx, s.rebind(query),
		l.Status, l.HTTPCode, l.FinalURL, l.Profundidade, sessionID, url)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// DeleteLinksBefore removes link rows older than the cutoff. Used by the
// startup cleanup.
func (s *SQLStore) DeleteLinksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, s.rebind("DELETE FROM links WHERE created_at < ?"), cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// Ping checks database connectivity.
func (s *SQLStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullBool(b *bool) any {
	if b == nil {
		return nil
	}
	return boolInt(*b)
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}
