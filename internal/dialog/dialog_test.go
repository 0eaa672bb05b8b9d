package dialog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/amaumene/nzbrelay/internal/utils"
)

// recordingSurface captures sent requests so the test can answer them.
type recordingSurface struct {
	requests chan *Request
	fail     bool
}

func newRecordingSurface() *recordingSurface {
	return &recordingSurface{requests: make(chan *Request, 4)}
}

func (s *recordingSurface) SendRequest(req *Request) error {
	if s.fail {
		return errors.New("connection gone")
	}
	s.requests <- req
	return nil
}

func TestOpenResolve(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	surface := newRecordingSurface()
	broker.Attach(surface)

	go func() {
		req := <-surface.requests
		if req.Kind != KindCategory {
			t.Errorf("kind = %q", req.Kind)
		}
		broker.Resolve(req.ID, json.RawMessage(`{"category":"tv"}`), false)
	}()

	decision, err := broker.Open(context.Background(), KindCategory, map[string]string{"title": "x"})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	var answer struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(decision, &answer); err != nil {
		t.Fatalf("decoding decision: %v", err)
	}
	if answer.Category != "tv" {
		t.Errorf("category = %q", answer.Category)
	}
}

func TestOpenUserCancel(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	surface := newRecordingSurface()
	broker.Attach(surface)

	go func() {
		req := <-surface.requests
		broker.Resolve(req.ID, nil, true)
	}()

	_, err := broker.Open(context.Background(), KindReview, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}

func TestOpenNoSurface(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	_, err := broker.Open(context.Background(), KindCategory, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}

func TestOpenSendFailure(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	surface := newRecordingSurface()
	surface.fail = true
	broker.Attach(surface)

	_, err := broker.Open(context.Background(), KindCategory, nil)
	if !errors.Is(err, ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}

func TestDetachCancelsPending(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	surface := newRecordingSurface()
	broker.Attach(surface)

	errs := make(chan error, 1)
	go func() {
		_, err := broker.Open(context.Background(), KindCategory, nil)
		errs <- err
	}()

	<-surface.requests
	broker.Detach(surface)

	select {
	case err := <-errs:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after Detach")
	}
}

func TestDetachForeignSurfaceIgnored(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	current := newRecordingSurface()
	broker.Attach(current)

	// Detaching an unrelated surface must not cancel requests pending on
	// the current one.
	broker.Detach(newRecordingSurface())

	go func() {
		req := <-current.requests
		broker.Resolve(req.ID, json.RawMessage(`{}`), false)
	}()

	if _, err := broker.Open(context.Background(), KindCategory, nil); err != nil {
		t.Fatalf("Open failed: %v", err)
	}
}

func TestDetachReplacedSurfaceCancelsItsRequests(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	old := newRecordingSurface()
	broker.Attach(old)

	errs := make(chan error, 1)
	go func() {
		_, err := broker.Open(context.Background(), KindCategory, nil)
		errs <- err
	}()
	<-old.requests

	// A second tab takes over, then the first tab closes. The request it
	// was showing must fail instead of waiting forever.
	replacement := newRecordingSurface()
	broker.Attach(replacement)
	broker.Detach(old)

	select {
	case err := <-errs:
		if !errors.Is(err, ErrCancelled) {
			t.Fatalf("error = %v, want ErrCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Open did not return after its surface detached")
	}

	// The replacement surface keeps serving new requests.
	go func() {
		req := <-replacement.requests
		broker.Resolve(req.ID, json.RawMessage(`{}`), false)
	}()
	if _, err := broker.Open(context.Background(), KindReview, nil); err != nil {
		t.Fatalf("Open on replacement surface failed: %v", err)
	}
}

func TestOpenContextCancelled(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	surface := newRecordingSurface()
	broker.Attach(surface)

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-surface.requests
		cancel()
	}()

	_, err := broker.Open(ctx, KindCategory, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("error = %v, want context.Canceled", err)
	}
}

func TestResolveUnknownID(t *testing.T) {
	broker := NewBroker(utils.NewTestLogger())
	// Must not panic or block.
	broker.Resolve("nope", json.RawMessage(`{}`), false)
}
