package domain

import (
	"time"
)

// Status is the lifecycle state of an Avaliacao.
type Status string

const (
	// StatusEmAnaliseSCGE is the initial state: the self-assessment is under
	// first review by the central authority.
	StatusEmAnaliseSCGE Status = "EM_ANALISE_SCGE"

	// StatusAguardandoRecurso means the evaluation was returned to the
	// secretariat and the appeal window is open.
	StatusAguardandoRecurso Status = "AGUARDANDO_RECURSO"

	// StatusEmAnaliseDeRecurso means an appeal was submitted, or the window
	// expired, and the evaluation is under final review.
	StatusEmAnaliseDeRecurso Status = "EM_ANALISE_DE_RECURSO"

	// StatusFinalizada is terminal: scores are published and no score field
	// may change afterwards.
	StatusFinalizada Status = "FINALIZADA"
)

// Verdict is a reviewer decision on a single response (or on one half of a
// split requirement).
type Verdict string

const (
	VerdictAprovado  Verdict = "aprovado"
	VerdictReprovado Verdict = "reprovado"
	VerdictNone      Verdict = ""
)

// Appeal review outcomes recorded on a response.
const (
	RecursoPendente   = "pendente"
	RecursoDeferido   = "deferido"
	RecursoIndeferido = "indeferido"
)

// Evidence phase tags.
const (
	EvidenciaOriginal = "original"
	EvidenciaRecurso  = "recurso"
)

// Avaliacao is one secretariat's submission for one assessment cycle.
type Avaliacao struct {
	ID            int64  `json:"id"`
	SecretariaID  int64  `json:"secretariaId"`
	CicloAno      int    `json:"cicloAno"`
	URLSecretaria string `json:"urlSecretaria"`

	// Submitter contact, immutable once created.
	NomeResponsavel  string `json:"nomeResponsavel"`
	EmailResponsavel string `json:"emailResponsavel"`

	Status Status `json:"status"`

	// Appeal window bookkeeping.
	PrazoRecurso    *time.Time `json:"prazoRecurso,omitempty"`
	RecursoExpirado bool       `json:"recursoExpirado"`

	// Score snapshots, derived from the responses at each transition and
	// never edited by hand.
	PontuacaoAutoavaliacao   int `json:"pontuacaoAutoavaliacao"`
	PontuacaoPrimeiraAnalise int `json:"pontuacaoPrimeiraAnalise"`
	PontuacaoPosRecurso      int `json:"pontuacaoPosRecurso"`
	PontuacaoFinal           int `json:"pontuacaoFinal"`
	PontuacaoTotal           int `json:"pontuacaoTotal"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`

	Respostas []*Resposta `json:"respostas,omitempty"`
}

// Resposta is one requirement's answer within an evaluation. The pair
// (AvaliacaoID, RequisitoID) is unique.
type Resposta struct {
	ID          int64 `json:"id"`
	AvaliacaoID int64 `json:"avaliacaoId"`
	RequisitoID int64 `json:"requisitoId"`

	// Atende may be overwritten by the final review; AtendeOriginal is the
	// self-assessment baseline, set once at creation and never mutated.
	Atende         bool `json:"atende"`
	AtendeOriginal bool `json:"atendeOriginal"`

	// First-review verdicts. Split requirements carry an independent verdict
	// for the history half.
	StatusValidacao          Verdict `json:"statusValidacao,omitempty"`
	StatusValidacaoHistorico Verdict `json:"statusValidacaoHistorico,omitempty"`
	ComentarioAdmin          string  `json:"comentarioAdmin,omitempty"`

	// Appeal fields. RecursoAtende is nil until the submitter touches this
	// response during an appeal.
	RecursoAtende     *bool  `json:"recursoAtende,omitempty"`
	ComentarioRecurso string `json:"comentarioRecurso,omitempty"`
	StatusRecurso     string `json:"statusRecurso,omitempty"`

	// Final-review verdicts; empty means fall back to the first review.
	AnaliseFinal          Verdict `json:"analiseFinal,omitempty"`
	AnaliseFinalHistorico Verdict `json:"analiseFinalHistorico,omitempty"`

	Evidencias []*Evidencia `json:"evidencias,omitempty"`
}

// Evidencia is a supporting URL attached to a response, tagged by the
// submission phase that produced it.
type Evidencia struct {
	ID         int64     `json:"id"`
	RespostaID int64     `json:"respostaId"`
	URL        string    `json:"url"`
	Tipo       string    `json:"tipo"`
	CreatedAt  time.Time `json:"createdAt"`
}

// TocadaPorRecurso reports whether the submitter touched this response
// during the appeal: an appeal verdict was set, an appeal comment was
// written, or appeal-tagged evidence exists.
func (r *Resposta) TocadaPorRecurso() bool {
	if r.RecursoAtende != nil {
		return true
	}
	if r.ComentarioRecurso != "" {
		return true
	}
	for _, ev := range r.Evidencias {
		if ev.Tipo == EvidenciaRecurso {
			return true
		}
	}
	return false
}

// Resposta returns the response for the given requirement, or nil.
func (a *Avaliacao) Resposta(requisitoID int64) *Resposta {
	for _, r := range a.Respostas {
		if r.RequisitoID == requisitoID {
			return r
		}
	}
	return nil
}

// DeadlineInfo is the result of an appeal-deadline check.
type DeadlineInfo struct {
	WithinWindow     bool  `json:"withinWindow"`
	SecondsRemaining int64 `json:"secondsRemaining"`
}
