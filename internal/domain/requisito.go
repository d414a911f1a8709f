package domain

// ScoringKind distinguishes simple pass/fail requirements from split ones,
// where availability and history sub-criteria are reviewed independently and
// each contributes half the weight.
type ScoringKind string

const (
	ScoringSimples  ScoringKind = "simples"
	ScoringDividida ScoringKind = "dividida"
)

// Requisito is one fixed checklist item. The checklist is reference data:
// seeded once per cycle and read-only to the lifecycle engine.
type Requisito struct {
	ID         int64  `json:"id"`
	Texto      string `json:"texto"`
	TextoAjuda string `json:"textoAjuda,omitempty"`

	// LinkFixo is an optional verification target: a URL that must be
	// reachable from the secretariat's site, or a "KEYWORD:" marker for the
	// pre-validator.
	LinkFixo string `json:"linkFixo,omitempty"`

	Scoring   ScoringKind `json:"scoring"`
	Pontuacao float64     `json:"pontuacao"`
}

// Peso returns the requirement's full point weight.
func (r *Requisito) Peso() float64 {
	return r.Pontuacao
}

// PesoMetade returns the weight of one half of a split requirement.
func (r *Requisito) PesoMetade() float64 {
	return r.Pontuacao / 2
}

// Dividida reports whether the requirement is reviewed as two halves.
func (r *Requisito) Dividida() bool {
	return r.Scoring == ScoringDividida
}
