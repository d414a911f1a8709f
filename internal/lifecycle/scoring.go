// Package lifecycle implements the evaluation state machine and scoring.
package lifecycle

import (
	"fmt"
	"math"

	"github.com/opengov-pe/radar/internal/domain"
)

// Placar holds the four score snapshots plus the total possible points.
// All values are rounded to the nearest integer; halves of split
// requirements may contribute fractional weights before rounding.
type Placar struct {
	Autoavaliacao   int `json:"autoavaliacao"`
	PrimeiraAnalise int `json:"primeiraAnalise"`
	PosRecurso      int `json:"posRecurso"`
	Final           int `json:"final"`
	Total           int `json:"total"`
}

// ComputeScores derives all four snapshots in one pass over the responses.
// The same function runs at every transition; only the response state it
// reads differs per stage.
func ComputeScores(respostas []*domain.Resposta, requisitos map[int64]*domain.Requisito) (Placar, error) {
	var auto, primeira, posRecurso, final, total float64

	for _, r := range respostas {
		req, ok := requisitos[r.RequisitoID]
		if !ok {
			return Placar{}, fmt.Errorf("resposta %d references unknown requisito %d", r.ID, r.RequisitoID)
		}

		w := req.Peso()
		total += w

		if r.AtendeOriginal {
			auto += w
		}

		pa := primeiraAnaliseContrib(r, req)
		primeira += pa

		if r.TocadaPorRecurso() {
			if r.RecursoAtende != nil && *r.RecursoAtende {
				posRecurso += w
			}
		} else {
			// Untouched responses carry their first-review verdict over.
			posRecurso += pa
		}

		final += finalContrib(r, req)
	}

	return Placar{
		Autoavaliacao:   round(auto),
		PrimeiraAnalise: round(primeira),
		PosRecurso:      round(posRecurso),
		Final:           round(final),
		Total:           round(total),
	}, nil
}

// primeiraAnaliseContrib is the first-review contribution of one response.
// Split requirements score each half independently.
func primeiraAnaliseContrib(r *domain.Resposta, req *domain.Requisito) float64 {
	if req.Dividida() {
		var c float64
		if r.StatusValidacao == domain.VerdictAprovado {
			c += req.PesoMetade()
		}
		if r.StatusValidacaoHistorico == domain.VerdictAprovado {
			c += req.PesoMetade()
		}
		return c
	}
	if r.StatusValidacao == domain.VerdictAprovado {
		return req.Peso()
	}
	return 0
}

// finalContrib scores a response with the final-review verdict when one was
// recorded, falling back to the first-review verdict otherwise.
func finalContrib(r *domain.Resposta, req *domain.Requisito) float64 {
	if req.Dividida() {
		var c float64
		if effective(r.AnaliseFinal, r.StatusValidacao) == domain.VerdictAprovado {
			c += req.PesoMetade()
		}
		if effective(r.AnaliseFinalHistorico, r.StatusValidacaoHistorico) == domain.VerdictAprovado {
			c += req.PesoMetade()
		}
		return c
	}
	if effective(r.AnaliseFinal, r.StatusValidacao) == domain.VerdictAprovado {
		return req.Peso()
	}
	return 0
}

func effective(finalVerdict, firstVerdict domain.Verdict) domain.Verdict {
	if finalVerdict != domain.VerdictNone {
		return finalVerdict
	}
	return firstVerdict
}

func round(v float64) int {
	return int(math.Round(v))
}
