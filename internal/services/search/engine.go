// Package search implements the engines that resolve a search header into
// an NZB document.
package search

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzb"
)

const maxNZBSize = 15 * 1024 * 1024 // 15MB

// Engine resolves a search header into an NZB document. Implementations are
// stateless per call and never retry internally; fallback between engines is
// the pipeline's job.
type Engine interface {
	Name() string
	GetNZB(ctx context.Context, header string) (*nzb.Document, error)
}

// Error wraps a failure of one engine with the engine's name.
type Error struct {
	Engine string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("search engine %s: %v", e.Engine, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates the engine for one configuration entry.
func New(cfg config.EngineConfig, timeout time.Duration, logger *logrus.Logger) (Engine, error) {
	client := &http.Client{Timeout: timeout}
	switch cfg.Kind {
	case config.EngineGeneric:
		return newGenericEngine(cfg, client, logger)
	case config.EngineCorrelation:
		return newCorrelationEngine(cfg, client, logger), nil
	}
	return nil, fmt.Errorf("unknown engine kind: %s", cfg.Kind)
}

// NewAll creates engines for all active configuration entries, in order.
func NewAll(cfgs []config.EngineConfig, timeout time.Duration, logger *logrus.Logger) ([]Engine, error) {
	var engines []Engine
	for _, cfg := range cfgs {
		if !cfg.Active {
			continue
		}
		engine, err := New(cfg, timeout, logger)
		if err != nil {
			return nil, fmt.Errorf("engine %s: %w", cfg.Name, err)
		}
		engines = append(engines, engine)
	}
	return engines, nil
}

// fetch performs a GET and returns the body, treating non-2xx as an error
// carrying the status text.
func fetch(ctx context.Context, client *http.Client, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("User-Agent", "nzbrelay/1.0")

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("request to %s returned %s", url, resp.Status)
	}

	return readBody(resp)
}

func readBody(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxNZBSize))
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	return body, nil
}

// cleanHeader normalizes the search header per the engine's clean flags.
func cleanHeader(header string, clean config.CleanSettings) string {
	cleaned := header
	if clean.StripUnderscores {
		cleaned = strings.ReplaceAll(cleaned, "_", " ")
	}
	if clean.StripHyphens {
		cleaned = strings.ReplaceAll(cleaned, "-", " ")
	}
	cleaned = strings.Join(strings.Fields(cleaned), " ")
	if clean.Quote {
		cleaned = `"` + cleaned + `"`
	}
	return cleaned
}
