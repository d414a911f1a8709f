package domain

import "time"

// Secretaria is one government body under assessment.
type Secretaria struct {
	ID    int64  `json:"id"`
	Nome  string `json:"nome"`
	Sigla string `json:"sigla"`
	URL   string `json:"url"`
}

// ScanSession is one run of the external link crawler against a
// secretariat's site.
type ScanSession struct {
	ID           string    `json:"id"`
	URLBase      string    `json:"urlBase"`
	Status       string    `json:"status"`
	TotalLinks   int       `json:"totalLinks"`
	DepthReached int       `json:"depthReached"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Scan session states.
const (
	ScanIniciado     = "iniciado"
	ScanConcluido    = "concluido"
	ScanInterrompido = "interrompido"
	ScanErro         = "erro"
)

// Link is one URL found (or probed) by the crawler during a session.
type Link struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"sessionId"`
	URL          string    `json:"url"`
	Tipo         string    `json:"tipo,omitempty"`
	Origem       string    `json:"origem,omitempty"`
	Status       string    `json:"status"`
	HTTPCode     int       `json:"httpCode,omitempty"`
	FinalURL     string    `json:"finalUrl,omitempty"`
	Profundidade int       `json:"profundidade"`
	CreatedAt    time.Time `json:"createdAt"`
}
