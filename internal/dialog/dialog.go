// Package dialog brokers interactive request/response round trips with an
// external surface (a connected web UI). A request resolves with the user's
// decision or fails with ErrCancelled when the user declines or the surface
// goes away.
package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// ErrCancelled indicates the user declined a dialog or closed the surface
// without answering.
var ErrCancelled = errors.New("cancelled by user")

// Kind identifies the dialog being opened.
type Kind string

const (
	// KindCategory asks the user to pick one category for a target.
	KindCategory Kind = "category"
	// KindReview shows a batch of acquired items for selection before dispatch.
	KindReview Kind = "review"
)

// Request is sent to the surface.
type Request struct {
	ID      string      `json:"id"`
	Kind    Kind        `json:"kind"`
	Payload interface{} `json:"payload"`
}

// Surface delivers requests to the user. A websocket connection implements
// this on the API side.
type Surface interface {
	SendRequest(req *Request) error
}

type pendingRequest struct {
	surface  Surface
	decision chan json.RawMessage
	cancel   chan error
}

// Broker tracks in-flight dialog requests and matches responses to them.
type Broker struct {
	mu      sync.Mutex
	surface Surface
	pending map[string]*pendingRequest
	logger  *logrus.Logger
}

// NewBroker creates a broker without an attached surface.
func NewBroker(logger *logrus.Logger) *Broker {
	return &Broker{
		pending: make(map[string]*pendingRequest),
		logger:  logger,
	}
}

// Attach connects a surface. A previously attached surface is replaced; new
// requests go to the replacement, while requests already sent stay pending on
// their originating surface until answered or that surface detaches.
func (b *Broker) Attach(s Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.surface = s
	b.logger.Debug("Dialog surface attached")
}

// Detach cancels every request pending on s, so no caller hangs on a window
// that no longer exists. s may already have been replaced as the current
// surface; its requests are cancelled either way.
func (b *Broker) Detach(s Surface) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.surface == s {
		b.surface = nil
	}
	for id, req := range b.pending {
		if req.surface != s {
			continue
		}
		req.cancel <- fmt.Errorf("%w: dialog surface disconnected", ErrCancelled)
		delete(b.pending, id)
	}
	b.logger.Debug("Dialog surface detached")
}

// Open sends a dialog request and blocks until the user answers, cancels,
// the surface disconnects, or the context ends.
func (b *Broker) Open(ctx context.Context, kind Kind, payload interface{}) (json.RawMessage, error) {
	id := uuid.NewString()
	req := &pendingRequest{
		decision: make(chan json.RawMessage, 1),
		cancel:   make(chan error, 1),
	}

	b.mu.Lock()
	surface := b.surface
	if surface == nil {
		b.mu.Unlock()
		return nil, fmt.Errorf("%w: no dialog surface connected", ErrCancelled)
	}
	req.surface = surface
	b.pending[id] = req
	b.mu.Unlock()

	if err := surface.SendRequest(&Request{ID: id, Kind: kind, Payload: payload}); err != nil {
		b.drop(id)
		return nil, fmt.Errorf("%w: failed to reach dialog surface", ErrCancelled)
	}

	select {
	case decision := <-req.decision:
		return decision, nil
	case err := <-req.cancel:
		return nil, err
	case <-ctx.Done():
		b.drop(id)
		return nil, ctx.Err()
	}
}

// Resolve delivers the user's answer for a pending request. With
// cancelled=true the request fails with ErrCancelled instead.
func (b *Broker) Resolve(id string, data json.RawMessage, cancelled bool) {
	b.mu.Lock()
	req, ok := b.pending[id]
	if ok {
		delete(b.pending, id)
	}
	b.mu.Unlock()
	if !ok {
		b.logger.WithField("request_id", id).Debug("Response for unknown dialog request")
		return
	}
	if cancelled {
		req.cancel <- ErrCancelled
		return
	}
	req.decision <- data
}

func (b *Broker) drop(id string) {
	b.mu.Lock()
	delete(b.pending, id)
	b.mu.Unlock()
}
