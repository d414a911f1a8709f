// Seed loads the assessment checklist and the secretariat registry into the
// database, and can mint development access tokens.
//
// Usage:
//
//	seed              seed requisitos and secretarias
//	seed -token scge  print an access token for the given role
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/opengov-pe/radar/internal/auth"
	"github.com/opengov-pe/radar/internal/domain"
	"github.com/opengov-pe/radar/internal/repository"
)

func main() {
	tokenRole := flag.String("token", "", "print an access token for a role (secretaria or scge) instead of seeding")
	secretariaID := flag.Int64("secretaria", 0, "secretariat id embedded in a secretaria token")
	expiresIn := flag.Duration("expires", 24*time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	cfg := domain.FromEnv()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, nil)))

	if *tokenRole != "" {
		printToken(cfg, *tokenRole, *secretariaID, *expiresIn)
		return
	}

	store, err := repository.New(cfg.Repository)
	if err != nil {
		slog.Error("failed to open repository", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()

	for _, sec := range secretarias() {
		if err := store.SaveSecretaria(ctx, sec); err != nil {
			slog.Error("failed to save secretaria", "sigla", sec.Sigla, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("secretarias seeded", "count", len(secretarias()))

	for _, req := range requisitos() {
		if err := store.SaveRequisito(ctx, req); err != nil {
			slog.Error("failed to save requisito", "id", req.ID, "error", err)
			os.Exit(1)
		}
	}
	slog.Info("requisitos seeded", "count", len(requisitos()))
}

func printToken(cfg *domain.Config, role string, secretariaID int64, expiresIn time.Duration) {
	if role != auth.RoleSecretaria && role != auth.RoleSCGE {
		slog.Error("unknown role", "role", role)
		os.Exit(1)
	}
	if role == auth.RoleSecretaria && secretariaID == 0 {
		slog.Error("-secretaria is required for secretaria tokens")
		os.Exit(1)
	}

	key := cfg.Server.JWTSigningKey
	if key == "" {
		key = "radar-dev-key"
		slog.Warn("RADAR_JWT_KEY not set; signing with the development key")
	}

	token, err := auth.NewJWTService(key, "radar").GenerateToken(role, secretariaID, expiresIn)
	if err != nil {
		slog.Error("failed to generate token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}

// secretarias is the registry of bodies under assessment.
func secretarias() []*domain.Secretaria {
	return []*domain.Secretaria{
		{ID: 1, Nome: "Secretaria da Fazenda", Sigla: "SEFAZ", URL: "https://www.sefaz.pe.gov.br"},
		{ID: 2, Nome: "Secretaria de Educação e Esportes", Sigla: "SEE", URL: "http://www.educacao.pe.gov.br"},
		{ID: 3, Nome: "Secretaria de Saúde", Sigla: "SES", URL: "https://portal.saude.pe.gov.br"},
		{ID: 4, Nome: "Secretaria de Administração", Sigla: "SAD", URL: "https://www.sad.pe.gov.br"},
		{ID: 5, Nome: "Secretaria de Planejamento e Gestão", Sigla: "SEPLAG", URL: "https://www.seplag.pe.gov.br"},
		{ID: 6, Nome: "Secretaria de Defesa Social", Sigla: "SDS", URL: "https://www.sds.pe.gov.br"},
		{ID: 7, Nome: "Secretaria de Desenvolvimento Econômico", Sigla: "SDEC", URL: "https://www.sdec.pe.gov.br"},
		{ID: 8, Nome: "Secretaria de Justiça e Direitos Humanos", Sigla: "SJDH", URL: "https://www.sjdh.pe.gov.br"},
	}
}

// requisitos is the fixed assessment checklist. Split requirements score each
// half (availability and history) at half weight.
func requisitos() []*domain.Requisito {
	return []*domain.Requisito{
		{
			ID:        1,
			Texto:     "Publica as despesas realizadas, atualizadas em tempo real",
			Scoring:   domain.ScoringDividida,
			Pontuacao: 10,
			LinkFixo:  "KEYWORD: despesas",
		},
		{
			ID:        2,
			Texto:     "Publica as receitas arrecadadas, com série histórica",
			Scoring:   domain.ScoringDividida,
			Pontuacao: 10,
			LinkFixo:  "KEYWORD: receitas",
		},
		{
			ID:         3,
			Texto:      "Publica os editais de licitação e os contratos celebrados",
			TextoAjuda: "Inclui dispensas e inexigibilidades.",
			Scoring:    domain.ScoringDividida,
			Pontuacao:  10,
			LinkFixo:   "KEYWORD: licitacoes",
		},
		{
			ID:        4,
			Texto:     "Publica o quadro de servidores com remuneração individualizada",
			Scoring:   domain.ScoringSimples,
			Pontuacao: 10,
			LinkFixo:  "KEYWORD: servidores",
		},
		{
			ID:         5,
			Texto:      "Mantém canal eletrônico de acesso à informação (e-SIC)",
			TextoAjuda: "Formulário eletrônico com protocolo de acompanhamento.",
			Scoring:    domain.ScoringSimples,
			Pontuacao:  10,
			LinkFixo:   "KEYWORD: acesso-a-informacao",
		},
		{
			ID:        6,
			Texto:     "Divulga a estrutura organizacional, competências e endereços",
			Scoring:   domain.ScoringSimples,
			Pontuacao: 10,
		},
		{
			ID:        7,
			Texto:     "Publica respostas às perguntas mais frequentes da sociedade",
			Scoring:   domain.ScoringSimples,
			Pontuacao: 5,
		},
		{
			ID:        8,
			Texto:     "Disponibiliza dados em formatos abertos e legíveis por máquina",
			Scoring:   domain.ScoringSimples,
			Pontuacao: 10,
		},
		{
			ID:        9,
			Texto:     "Publica relatórios de gestão fiscal e execução orçamentária",
			Scoring:   domain.ScoringDividida,
			Pontuacao: 10,
			LinkFixo:  "KEYWORD: orcamento",
		},
		{
			ID:        10,
			Texto:     "Mantém ouvidoria com canal de denúncias identificado",
			Scoring:   domain.ScoringSimples,
			Pontuacao: 5,
			LinkFixo:  "KEYWORD: ouvidoria",
		},
		{
			ID:        11,
			Texto:     "Divulga diárias e passagens pagas a servidores",
			Scoring:   domain.ScoringSimples,
			Pontuacao: 5,
		},
		{
			ID:        12,
			Texto:     "Publica convênios e transferências de recursos",
			Scoring:   domain.ScoringDividida,
			Pontuacao: 10,
			LinkFixo:  "KEYWORD: convenios",
		},
	}
}
