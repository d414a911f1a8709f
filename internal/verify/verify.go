// Package verify runs pre-validation checks over crawler findings.
//
// Each checklist item that names a fixed link or keyword compiles to a CEL
// program evaluated against the links collected by a scan session. Results
// are advisory: they help reviewers spot answers contradicted by the
// secretariat's own site, they never change a verdict on their own.
package verify

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/common/types/ref"

	"github.com/opengov-pe/radar/internal/domain"
)

// Marker prefix in Requisito.LinkFixo that requests a keyword search instead
// of an exact path match.
const keywordMarker = "KEYWORD:"

// Checker compiles and evaluates pre-validation checks.
type Checker struct {
	mu         sync.RWMutex
	env        *cel.Env
	compiled   map[int64]*CompiledCheck
	maxWorkers int
}

// CompiledCheck holds a pre-compiled CEL program for one checklist item.
type CompiledCheck struct {
	Requisito  *domain.Requisito
	Expression string
	Program    cel.Program
}

// Finding is the outcome of one check against one scan session.
type Finding struct {
	RequisitoID int64  `json:"requisitoId"`
	Atendido    bool   `json:"atendido"`
	Detalhe     string `json:"detalhe,omitempty"`
	ProcessMs   int64  `json:"processMs"`
}

// NewChecker creates a checker with a CEL environment over scan results.
func NewChecker(maxWorkers int) (*Checker, error) {
	if maxWorkers <= 0 {
		maxWorkers = 10
	}

	env, err := cel.NewEnv(
		cel.Variable("urls", cel.ListType(cel.StringType)),
		cel.Variable("ok_urls", cel.ListType(cel.StringType)),
		cel.Variable("ok_count", cel.IntType),
		cel.Variable("base_url", cel.StringType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Checker{
		env:        env,
		compiled:   make(map[int64]*CompiledCheck),
		maxWorkers: maxWorkers,
	}, nil
}

// LoadChecklist compiles checks for every requirement that declares one.
// Items without a fixed link or keyword get no check.
func (c *Checker) LoadChecklist(requisitos []*domain.Requisito) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.compiled = make(map[int64]*CompiledCheck, len(requisitos))
	for _, req := range requisitos {
		if strings.TrimSpace(req.LinkFixo) == "" {
			continue
		}

		check, err := c.compile(req)
		if err != nil {
			return fmt.Errorf("requisito %d: %w", req.ID, err)
		}
		c.compiled[req.ID] = check
	}
	return nil
}

// Expression returns the CEL source compiled for a requirement, or "".
func (c *Checker) Expression(requisitoID int64) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if check, ok := c.compiled[requisitoID]; ok {
		return check.Expression
	}
	return ""
}

func (c *Checker) compile(req *domain.Requisito) (*CompiledCheck, error) {
	expr := buildExpression(req.LinkFixo)

	ast, issues := c.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile check: %w", issues.Err())
	}

	program, err := c.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to build program: %w", err)
	}

	return &CompiledCheck{
		Requisito:  req,
		Expression: expr,
		Program:    program,
	}, nil
}

// buildExpression turns a fixed-link declaration into a CEL expression.
// KEYWORD: markers search reachable URLs for a fragment; anything else is
// matched as a path against reachable URLs.
func buildExpression(linkFixo string) string {
	decl := strings.TrimSpace(linkFixo)

	if frag, ok := strings.CutPrefix(decl, keywordMarker); ok {
		frag = strings.ToLower(strings.TrimSpace(frag))
		return fmt.Sprintf("ok_urls.exists(u, u.contains(%q))", frag)
	}

	// Strip scheme and host so deployments under www/non-www both match.
	path := decl
	if i := strings.Index(path, "://"); i >= 0 {
		path = path[i+3:]
		if j := strings.Index(path, "/"); j >= 0 {
			path = path[j:]
		}
	}
	path = strings.ToLower(path)

	return fmt.Sprintf("ok_urls.exists(u, u.contains(%q))", path)
}

// CheckAll evaluates every loaded check against a session's links in
// parallel. Links with a 2xx probe count as reachable.
func (c *Checker) CheckAll(ctx context.Context, baseURL string, links []*domain.Link) ([]Finding, error) {
	c.mu.RLock()
	checks := make([]*CompiledCheck, 0, len(c.compiled))
	for _, check := range c.compiled {
		checks = append(checks, check)
	}
	c.mu.RUnlock()

	if len(checks) == 0 {
		return nil, nil
	}

	activation := buildActivation(baseURL, links)

	results := make([]Finding, len(checks))
	var wg sync.WaitGroup
	sem := make(chan struct{}, c.maxWorkers)

	for i, check := range checks {
		wg.Add(1)
		go func(idx int, ch *CompiledCheck) {
			defer wg.Done()

			sem <- struct{}{}
			defer func() { <-sem }()

			results[idx] = evaluateCheck(ch, activation)
		}(i, check)
	}

	wg.Wait()
	return results, nil
}

func buildActivation(baseURL string, links []*domain.Link) map[string]any {
	urls := make([]string, 0, len(links))
	okURLs := make([]string, 0, len(links))
	for _, l := range links {
		u := l.URL
		if l.FinalURL != "" {
			u = l.FinalURL
		}
		u = strings.ToLower(u)
		urls = append(urls, u)
		if l.HTTPCode >= 200 && l.HTTPCode < 300 {
			okURLs = append(okURLs, u)
		}
	}

	return map[string]any{
		"urls":     urls,
		"ok_urls":  okURLs,
		"ok_count": int64(len(okURLs)),
		"base_url": strings.ToLower(baseURL),
	}
}

func evaluateCheck(check *CompiledCheck, activation map[string]any) Finding {
	start := time.Now()

	finding := Finding{RequisitoID: check.Requisito.ID}

	out, _, err := check.Program.Eval(activation)
	if err != nil {
		finding.Detalhe = fmt.Sprintf("evaluation error: %v", err)
		finding.ProcessMs = time.Since(start).Milliseconds()
		return finding
	}

	finding.Atendido = toBool(out)
	if !finding.Atendido {
		finding.Detalhe = "declared content not found among reachable links"
	}
	finding.ProcessMs = time.Since(start).Milliseconds()
	return finding
}

func toBool(val ref.Val) bool {
	if b, ok := val.(types.Bool); ok {
		return bool(b)
	}
	return false
}
