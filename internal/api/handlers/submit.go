package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/controllers"
	"github.com/amaumene/nzbrelay/internal/models"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
)

// SubmitHandler accepts nzblnk links for acquisition
type SubmitHandler struct {
	pipeline *controllers.Pipeline
	logger   *logrus.Logger
}

// NewSubmitHandler creates a new submit handler
func NewSubmitHandler(pipeline *controllers.Pipeline, logger *logrus.Logger) *SubmitHandler {
	return &SubmitHandler{pipeline: pipeline, logger: logger}
}

// SubmitRequest is the body of a link submission
type SubmitRequest struct {
	Link    string   `json:"link"`
	Source  string   `json:"source"`
	Targets []string `json:"targets"` // optional override, empty means all active
}

// ItemResponse summarizes one acquisition item
type ItemResponse struct {
	ID      string            `json:"id"`
	Status  models.ItemStatus `json:"status"`
	Title   string            `json:"title"`
	Error   string            `json:"error,omitempty"`
	Targets []TargetStatus    `json:"targets"`
}

// TargetStatus is the per-target slice of an item response
type TargetStatus struct {
	Name   string               `json:"name"`
	Status models.BindingStatus `json:"status"`
	Error  string               `json:"error,omitempty"`
}

func itemResponse(item *models.Item) ItemResponse {
	resp := ItemResponse{
		ID:     item.ID,
		Status: item.Status,
		Title:  item.Title,
		Error:  item.ErrorMessage,
	}
	for _, b := range item.Bindings {
		resp.Targets = append(resp.Targets, TargetStatus{
			Name:   b.TargetName,
			Status: b.Status,
			Error:  b.ErrorMessage,
		})
	}
	return resp
}

// ServeHTTP handles POST /api/nzblnk
func (h *SubmitHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req SubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Link == "" {
		http.Error(w, "link is required", http.StatusBadRequest)
		return
	}

	item, err := h.pipeline.ProcessNzblnk(r.Context(), req.Link, req.Source, req.Targets)
	status := http.StatusOK
	if err != nil {
		if errors.Is(err, nzblnk.ErrInvalidLink) {
			status = http.StatusBadRequest
		} else {
			status = http.StatusBadGateway
		}
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(itemResponse(item))
}
