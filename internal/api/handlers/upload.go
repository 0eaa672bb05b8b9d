package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/archive"
	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/controllers"
	"github.com/amaumene/nzbrelay/internal/nzb"
)

const maxUploadSize = 100 * 1024 * 1024 // 100MB

// UploadHandler accepts NZB and archive uploads (manual or intercepted)
type UploadHandler struct {
	pipeline *controllers.Pipeline
	rules    []config.InterceptionRule
	logger   *logrus.Logger
}

// NewUploadHandler creates a new upload handler
func NewUploadHandler(pipeline *controllers.Pipeline, rules []config.InterceptionRule, logger *logrus.Logger) *UploadHandler {
	return &UploadHandler{pipeline: pipeline, rules: rules, logger: logger}
}

// ServeHTTP handles POST /api/upload with a multipart "file" field plus
// optional "source" and "targets" fields.
func (h *UploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := r.ParseMultipartForm(maxUploadSize); err != nil {
		http.Error(w, "Invalid multipart body", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(io.LimitReader(file, maxUploadSize))
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusBadRequest)
		return
	}

	source := r.FormValue("source")
	var targets []string
	if raw := r.FormValue("targets"); raw != "" {
		targets = strings.Split(raw, ",")
	}

	filename := header.Filename
	lower := strings.ToLower(filename)

	w.Header().Set("Content-Type", "application/json")

	switch {
	case strings.HasSuffix(lower, ".nzb"):
		item, err := h.pipeline.AddNZBFile(r.Context(), string(data), filename, source, targets)
		status := http.StatusOK
		if err != nil {
			if errors.Is(err, nzb.ErrFormat) {
				status = http.StatusBadRequest
			} else {
				status = http.StatusBadGateway
			}
		}
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(itemResponse(item))
	case archive.Supported(filename) && h.archiveAllowed(filename, source):
		items, err := h.pipeline.ProcessArchive(r.Context(), data, filename, source, targets, h.ReviewRequired(source))
		if err != nil {
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
			return
		}
		responses := make([]ItemResponse, 0, len(items))
		for _, item := range items {
			responses = append(responses, itemResponse(item))
		}
		json.NewEncoder(w).Encode(responses)
	default:
		http.Error(w, "Unsupported file type", http.StatusUnsupportedMediaType)
	}
}

// archiveAllowed consults the interception rules for the source URL. An
// upload without a source, or from a domain without a rule, is treated as a
// manual upload and always allowed.
func (h *UploadHandler) archiveAllowed(filename, source string) bool {
	rule := h.matchRule(source)
	if rule == nil {
		return true
	}
	if len(rule.ArchiveExtensions) == 0 {
		return true
	}
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(filename)), ".")
	for _, allowed := range rule.ArchiveExtensions {
		if strings.EqualFold(allowed, ext) {
			return true
		}
	}
	h.logger.WithFields(logrus.Fields{
		"filename": filename,
		"source":   source,
	}).Warn("Archive extension not allowed for intercepted domain")
	return false
}

func (h *UploadHandler) matchRule(source string) *config.InterceptionRule {
	if source == "" {
		return nil
	}
	parsed, err := url.Parse(source)
	if err != nil {
		return nil
	}
	host := strings.ToLower(parsed.Hostname())
	for i := range h.rules {
		rule := &h.rules[i]
		domain := strings.ToLower(rule.Domain)
		if host != domain && !strings.HasSuffix(host, "."+domain) {
			continue
		}
		if rule.PathPattern != "" && !strings.Contains(parsed.Path, rule.PathPattern) {
			continue
		}
		return rule
	}
	return nil
}

// ReviewRequired reports whether an intercepted upload from source must be
// confirmed by the user before dispatch.
func (h *UploadHandler) ReviewRequired(source string) bool {
	rule := h.matchRule(source)
	return rule != nil && rule.RequireConfirmation
}
