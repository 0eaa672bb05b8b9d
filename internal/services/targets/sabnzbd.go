package targets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
)

// sabnzbd pushes NZB files through the SABnzbd api endpoint. The password
// travels in the filename per the {{password}} convention, which SABnzbd
// understands natively.
type sabnzbd struct {
	httpTarget
	baseURL string
	apiKey  string
}

func newSABnzbd(cfg config.TargetConfig, logger *logrus.Logger) *sabnzbd {
	return &sabnzbd{
		httpTarget: newHTTPTarget(cfg.Name, logger),
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		apiKey:     cfg.APIKey,
	}
}

func (t *sabnzbd) apiURL(params url.Values) string {
	params.Set("apikey", t.apiKey)
	params.Set("output", "json")
	return t.baseURL + "/api?" + params.Encode()
}

func (t *sabnzbd) Push(ctx context.Context, up *Upload) error {
	release, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	filename := nzblnk.JoinFilename(up.Title, up.Password)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("name", filename)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}
	if _, err := part.Write([]byte(up.Content)); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}
	writer.WriteField("nzbname", up.Title)
	if up.Category != "" {
		writer.WriteField("cat", up.Category)
	}
	if err := writer.Close(); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}

	params := url.Values{}
	params.Set("mode", "addfile")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.apiURL(params), &body)
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
		Status bool   `json:"status"`
		Error  string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("parsing response: %w", err)}
	}
	if !result.Status {
		return &Error{Target: t.name, Err: fmt.Errorf("SABnzbd rejected upload: %s", result.Error)}
	}

	t.logger.WithFields(logrus.Fields{
		"target": t.name,
		"title":  up.Title,
	}).Debug("NZB file pushed to SABnzbd")
	return nil
}

func (t *sabnzbd) TestConnection(ctx context.Context) error {
	params := url.Values{}
	params.Set("mode", "version")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiURL(params), nil)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &Error{Target: t.name, Err: fmt.Errorf("version check returned %s", resp.Status)}
	}
	return nil
}

// GetCategories lists the categories configured on the SABnzbd instance.
func (t *sabnzbd) GetCategories(ctx context.Context) ([]string, error) {
	params := url.Values{}
	params.Set("mode", "get_cats")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.apiURL(params), nil)
	if err != nil {
		return nil, &Error{Target: t.name, Err: err}
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return nil, &Error{Target: t.name, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, &Error{Target: t.name, Err: fmt.Errorf("get_cats returned %s", resp.Status)}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1024*1024))
	if err != nil {
		return nil, &Error{Target: t.name, Err: err}
	}
	var result struct {
		Categories []string `json:"categories"`
	}
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, &Error{Target: t.name, Err: fmt.Errorf("parsing categories: %w", err)}
	}

	categories := make([]string, 0, len(result.Categories))
	for _, c := range result.Categories {
		if c != "*" && c != "" {
			categories = append(categories, c)
		}
	}
	return categories, nil
}
