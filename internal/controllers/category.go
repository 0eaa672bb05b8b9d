package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/dialog"
)

// DialogOpener is the interactive surface the resolver prompts through.
type DialogOpener interface {
	Open(ctx context.Context, kind dialog.Kind, payload interface{}) (json.RawMessage, error)
}

// CategoryResolver maps a title to a category under a target's category
// policy, prompting the user when the policy asks for it.
type CategoryResolver struct {
	dialogs DialogOpener
	logger  *logrus.Logger
}

// NewCategoryResolver creates a new category resolver.
func NewCategoryResolver(dialogs DialogOpener, logger *logrus.Logger) *CategoryResolver {
	return &CategoryResolver{dialogs: dialogs, logger: logger}
}

// Resolve returns the category for title under the given policy, empty
// string meaning none. A user cancellation of the manual prompt is an error,
// not a silent empty result.
func (r *CategoryResolver) Resolve(ctx context.Context, settings config.CategorySettings, title string) (string, error) {
	if !settings.UseCategories() {
		return "", nil
	}

	switch settings.Mode {
	case config.CategoryAutomatic:
		if category, ok := r.matchAutomatic(settings, title); ok {
			return category, nil
		}
		switch settings.Fallback {
		case config.FallbackFixed:
			return defaultCategory(settings), nil
		case config.FallbackManual:
			return r.prompt(ctx, settings, title)
		}
		return "", nil
	case config.CategoryFixed:
		return defaultCategory(settings), nil
	case config.CategoryManual:
		return r.prompt(ctx, settings, title)
	}
	return "", fmt.Errorf("unknown category mode: %s", settings.Mode)
}

// matchAutomatic applies the rules in configured order, first match wins.
func (r *CategoryResolver) matchAutomatic(settings config.CategorySettings, title string) (string, bool) {
	for _, rule := range settings.List {
		if !rule.Active || rule.Pattern == "" {
			continue
		}
		matcher, err := regexp.Compile("(?i)" + rule.Pattern)
		if err != nil {
			r.logger.WithFields(logrus.Fields{
				"category": rule.Name,
				"pattern":  rule.Pattern,
			}).Warn("Skipping category rule with invalid pattern")
			continue
		}
		if matcher.MatchString(title) {
			return rule.Name, true
		}
	}
	return "", false
}

func (r *CategoryResolver) prompt(ctx context.Context, settings config.CategorySettings, title string) (string, error) {
	names := make([]string, 0, len(settings.List))
	for _, rule := range settings.List {
		names = append(names, rule.Name)
	}

	decision, err := r.dialogs.Open(ctx, dialog.KindCategory, map[string]interface{}{
		"title":      title,
		"categories": names,
	})
	if err != nil {
		return "", fmt.Errorf("category selection: %w", err)
	}

	var answer struct {
		Category string `json:"category"`
	}
	if err := json.Unmarshal(decision, &answer); err != nil {
		return "", fmt.Errorf("category selection: invalid decision: %w", err)
	}
	return answer.Category, nil
}

func defaultCategory(settings config.CategorySettings) string {
	for _, rule := range settings.List {
		if rule.Default {
			return rule.Name
		}
	}
	return ""
}
