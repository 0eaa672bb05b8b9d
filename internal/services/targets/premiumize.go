package targets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
)

const premiumizeBaseURL = "https://www.premiumize.me/api"

// premiumize uploads NZB files as cloud transfers.
type premiumize struct {
	httpTarget
	apiKey  string
	baseURL string
}

func newPremiumize(cfg config.TargetConfig, logger *logrus.Logger) *premiumize {
	baseURL := premiumizeBaseURL
	if cfg.URL != "" {
		baseURL = cfg.URL
	}
	return &premiumize{
		httpTarget: newHTTPTarget(cfg.Name, logger),
		apiKey:     cfg.APIKey,
		baseURL:    baseURL,
	}
}

func (t *premiumize) endpoint(path string) string {
	return fmt.Sprintf("%s%s?apikey=%s", t.baseURL, path, t.apiKey)
}

func (t *premiumize) Push(ctx context.Context, up *Upload) error {
	release, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	filename := nzblnk.JoinFilename(up.Title, up.Password)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}
	if _, err := part.Write([]byte(up.Content)); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}
	if up.Password != "" {
		writer.WriteField("password", up.Password)
	}
	if err := writer.Close(); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint("/transfer/create"), &body)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("upload failed: %w", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &Error{Target: t.name, Err: fmt.Errorf("upload returned %s", resp.Status)}
	}

	var result struct {
		Status  string `json:"status"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("parsing response: %w", err)}
	}
	if result.Status != "success" {
		return &Error{Target: t.name, Err: fmt.Errorf("premiumize rejected transfer: %s", result.Message)}
	}

	t.logger.WithFields(logrus.Fields{
		"target": t.name,
		"title":  up.Title,
	}).Debug("NZB file pushed to premiumize")
	return nil
}

func (t *premiumize) TestConnection(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.endpoint("/account/info"), nil)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	defer resp.Body.Close()

	var result struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("parsing response: %w", err)}
	}
	if result.Status != "success" {
		return &Error{Target: t.name, Err: fmt.Errorf("account check failed")}
	}
	return nil
}
