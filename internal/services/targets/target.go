// Package targets implements the download-client backends an acquired NZB
// can be pushed to.
package targets

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/amaumene/nzbrelay/internal/config"
)

const (
	defaultTimeout = 60 * time.Second
	// pushPermits bounds concurrent pushes per network target so a large
	// archive batch cannot overwhelm a single backend.
	pushPermits = 5
)

// Upload is the finished payload handed to a target.
type Upload struct {
	Title    string
	Filename string
	Password string
	Category string
	Content  string // serialized NZB document
}

// Target is one configured download-client backend.
type Target interface {
	Name() string
	Push(ctx context.Context, up *Upload) error
	TestConnection(ctx context.Context) error
}

// CategoryProvider is implemented by targets that can list the categories
// configured on the backend itself.
type CategoryProvider interface {
	GetCategories(ctx context.Context) ([]string, error)
}

// Error wraps a failure of one target with the target's name.
type Error struct {
	Target string
	Err    error
}

func (e *Error) Error() string {
	return fmt.Sprintf("target %s: %v", e.Target, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// New creates the adapter for one target configuration.
func New(cfg config.TargetConfig, logger *logrus.Logger) (Target, error) {
	switch cfg.Kind {
	case config.TargetLocalDir:
		return newLocalDir(cfg, logger), nil
	case config.TargetSABnzbd:
		return newSABnzbd(cfg, logger), nil
	case config.TargetNZBGet:
		return newNZBGet(cfg, logger), nil
	case config.TargetSynology:
		return newSynology(cfg, logger), nil
	case config.TargetPremiumize:
		return newPremiumize(cfg, logger), nil
	}
	return nil, fmt.Errorf("unknown target kind: %s", cfg.Kind)
}

// NewAll creates adapters for all configured targets, in order. Inactive
// targets still get an adapter so per-acquisition overrides can enable them.
func NewAll(cfgs []config.TargetConfig, logger *logrus.Logger) ([]Target, error) {
	targets := make([]Target, 0, len(cfgs))
	for _, cfg := range cfgs {
		target, err := New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("target %s: %w", cfg.Name, err)
		}
		targets = append(targets, target)
	}
	return targets, nil
}

// httpTarget carries the shared plumbing of the network-bound adapters.
type httpTarget struct {
	name   string
	client *http.Client
	sem    *semaphore.Weighted
	logger *logrus.Logger
}

func newHTTPTarget(name string, logger *logrus.Logger) httpTarget {
	return httpTarget{
		name:   name,
		client: &http.Client{Timeout: defaultTimeout},
		sem:    semaphore.NewWeighted(pushPermits),
		logger: logger,
	}
}

func (t *httpTarget) Name() string {
	return t.name
}

// acquire blocks until a push permit is free or the context is cancelled.
func (t *httpTarget) acquire(ctx context.Context) (release func(), err error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, &Error{Target: t.name, Err: fmt.Errorf("waiting for push slot: %w", err)}
	}
	return func() { t.sem.Release(1) }, nil
}
