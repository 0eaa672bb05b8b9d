package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/services/targets"
)

// TargetsHandler tests connections and lists backend categories
type TargetsHandler struct {
	targets []targets.Target
	logger  *logrus.Logger
}

// NewTargetsHandler creates a new targets handler
func NewTargetsHandler(adapters []targets.Target, logger *logrus.Logger) *TargetsHandler {
	return &TargetsHandler{targets: adapters, logger: logger}
}

// TargetTestResult is the outcome of one target's connection test
type TargetTestResult struct {
	Name       string   `json:"name"`
	Reachable  bool     `json:"reachable"`
	Error      string   `json:"error,omitempty"`
	Categories []string `json:"categories,omitempty"`
}

// ServeHTTP handles POST /api/targets/test
func (h *TargetsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	results := make([]TargetTestResult, 0, len(h.targets))
	for _, target := range h.targets {
		result := TargetTestResult{Name: target.Name()}
		if err := target.TestConnection(r.Context()); err != nil {
			result.Error = err.Error()
			h.logger.WithError(err).WithField("target", target.Name()).Warn("Target connection test failed")
		} else {
			result.Reachable = true
			// Not every backend can list its categories.
			if provider, ok := target.(targets.CategoryProvider); ok {
				if categories, err := provider.GetCategories(r.Context()); err == nil {
					result.Categories = categories
				}
			}
		}
		results = append(results, result)
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(results)
}
