package controllers

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/dialog"
	"github.com/amaumene/nzbrelay/internal/utils"
)

// fakeDialogs answers every dialog with a canned response.
type fakeDialogs struct {
	opened  int
	kind    dialog.Kind
	payload interface{}
	answer  json.RawMessage
	err     error
}

func (d *fakeDialogs) Open(_ context.Context, kind dialog.Kind, payload interface{}) (json.RawMessage, error) {
	d.opened++
	d.kind = kind
	d.payload = payload
	if d.err != nil {
		return nil, d.err
	}
	return d.answer, nil
}

func automaticSettings(fallback string) config.CategorySettings {
	return config.CategorySettings{
		Mode:     config.CategoryAutomatic,
		Fallback: fallback,
		List: []config.CategoryRule{
			{Name: "tv", Pattern: `S\d+E\d+`, Active: true},
			{Name: "movies", Pattern: `\d{4}`, Active: true, Default: true},
			{Name: "disabled", Pattern: `.*`, Active: false},
		},
	}
}

func TestResolveOff(t *testing.T) {
	r := NewCategoryResolver(&fakeDialogs{}, utils.NewTestLogger())
	for _, settings := range []config.CategorySettings{{}, {Mode: config.CategoryOff}} {
		category, err := r.Resolve(context.Background(), settings, "anything")
		if err != nil || category != "" {
			t.Errorf("Resolve = (%q, %v), want empty", category, err)
		}
	}
}

func TestResolveAutomaticFirstMatchWins(t *testing.T) {
	r := NewCategoryResolver(&fakeDialogs{}, utils.NewTestLogger())

	// Matches both the tv and movies patterns; the first rule wins.
	category, err := r.Resolve(context.Background(), automaticSettings(config.FallbackNone), "Show.2023.S01E02")
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}
	if category != "tv" {
		t.Errorf("category = %q, want tv", category)
	}
}

func TestResolveAutomaticCaseInsensitive(t *testing.T) {
	r := NewCategoryResolver(&fakeDialogs{}, utils.NewTestLogger())
	category, err := r.Resolve(context.Background(), automaticSettings(config.FallbackNone), "show.s01e02")
	if err != nil || category != "tv" {
		t.Errorf("Resolve = (%q, %v), want tv", category, err)
	}
}

func TestResolveAutomaticFallbacks(t *testing.T) {
	dialogs := &fakeDialogs{answer: json.RawMessage(`{"category":"picked"}`)}
	r := NewCategoryResolver(dialogs, utils.NewTestLogger())

	// No rule matches "nomatch".
	category, err := r.Resolve(context.Background(), automaticSettings(config.FallbackNone), "nomatch")
	if err != nil || category != "" {
		t.Errorf("fallback none = (%q, %v), want empty", category, err)
	}

	category, err = r.Resolve(context.Background(), automaticSettings(config.FallbackFixed), "nomatch")
	if err != nil || category != "movies" {
		t.Errorf("fallback fixed = (%q, %v), want movies", category, err)
	}

	category, err = r.Resolve(context.Background(), automaticSettings(config.FallbackManual), "nomatch")
	if err != nil || category != "picked" {
		t.Errorf("fallback manual = (%q, %v), want picked", category, err)
	}
	if dialogs.kind != dialog.KindCategory {
		t.Errorf("dialog kind = %q", dialogs.kind)
	}
}

func TestResolveAutomaticSkipsInvalidPattern(t *testing.T) {
	r := NewCategoryResolver(&fakeDialogs{}, utils.NewTestLogger())
	settings := config.CategorySettings{
		Mode: config.CategoryAutomatic,
		List: []config.CategoryRule{
			{Name: "broken", Pattern: `([`, Active: true},
			{Name: "works", Pattern: `show`, Active: true},
		},
	}
	category, err := r.Resolve(context.Background(), settings, "show")
	if err != nil || category != "works" {
		t.Errorf("Resolve = (%q, %v), want works", category, err)
	}
}

func TestResolveFixed(t *testing.T) {
	r := NewCategoryResolver(&fakeDialogs{}, utils.NewTestLogger())
	settings := automaticSettings("")
	settings.Mode = config.CategoryFixed
	category, err := r.Resolve(context.Background(), settings, "whatever")
	if err != nil || category != "movies" {
		t.Errorf("Resolve = (%q, %v), want movies", category, err)
	}
}

func TestResolveManualCancelled(t *testing.T) {
	dialogs := &fakeDialogs{err: dialog.ErrCancelled}
	r := NewCategoryResolver(dialogs, utils.NewTestLogger())
	settings := automaticSettings("")
	settings.Mode = config.CategoryManual

	_, err := r.Resolve(context.Background(), settings, "whatever")
	if !errors.Is(err, dialog.ErrCancelled) {
		t.Fatalf("error = %v, want ErrCancelled", err)
	}
}
