package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/models"
)

const defaultListLimit = 50

// AcquisitionsHandler serves the activity log
type AcquisitionsHandler struct {
	db     *models.Database
	logger *logrus.Logger
}

// NewAcquisitionsHandler creates a new acquisitions handler
func NewAcquisitionsHandler(db *models.Database, logger *logrus.Logger) *AcquisitionsHandler {
	return &AcquisitionsHandler{db: db, logger: logger}
}

// ServeHTTP handles GET /api/acquisitions and GET /api/acquisitions/{id}
func (h *AcquisitionsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/acquisitions")
	rest = strings.Trim(rest, "/")

	w.Header().Set("Content-Type", "application/json")

	if rest == "" {
		limit := defaultListLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
				limit = parsed
			}
		}
		entries, err := h.db.GetEntries(limit)
		if err != nil {
			h.logger.WithError(err).Error("Failed to list activity entries")
			http.Error(w, "Internal server error", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(entries)
		return
	}

	id, err := strconv.ParseUint(rest, 10, 64)
	if err != nil {
		http.Error(w, "Invalid acquisition id", http.StatusBadRequest)
		return
	}
	entry, err := h.db.GetEntry(id)
	if err != nil {
		http.Error(w, "Not found", http.StatusNotFound)
		return
	}
	json.NewEncoder(w).Encode(entry)
}
