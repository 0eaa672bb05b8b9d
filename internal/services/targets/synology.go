package targets

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
)

// synology pushes NZB files as DownloadStation tasks. Every push performs a
// login/create/logout round trip; DSM sessions are cheap and keeping one
// alive across pushes would need keep-alive handling for no gain.
type synology struct {
	httpTarget
	baseURL  string
	username string
	password string
}

func newSynology(cfg config.TargetConfig, logger *logrus.Logger) *synology {
	return &synology{
		httpTarget: newHTTPTarget(cfg.Name, logger),
		baseURL:    strings.TrimSuffix(cfg.URL, "/"),
		username:   cfg.Username,
		password:   cfg.Password,
	}
}

type synoResponse struct {
	Success bool `json:"success"`
	Data    struct {
		SID string `json:"sid"`
	} `json:"data"`
	Error struct {
		Code int `json:"code"`
	} `json:"error"`
}

func (t *synology) login(ctx context.Context) (string, error) {
	params := url.Values{}
	params.Set("api", "SYNO.API.Auth")
	params.Set("version", "3")
	params.Set("method", "login")
	params.Set("account", t.username)
	params.Set("passwd", t.password)
	params.Set("session", "DownloadStation")
	params.Set("format", "sid")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/webapi/auth.cgi?"+params.Encode(), nil)
	if err != nil {
		return "", fmt.Errorf("creating login request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("login failed: %w", err)
	}
	defer resp.Body.Close()

	var result synoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("parsing login response: %w", err)
	}
	if !result.Success {
		return "", fmt.Errorf("login rejected (code %d)", result.Error.Code)
	}
	return result.Data.SID, nil
}

func (t *synology) logout(ctx context.Context, sid string) {
	params := url.Values{}
	params.Set("api", "SYNO.API.Auth")
	params.Set("version", "3")
	params.Set("method", "logout")
	params.Set("session", "DownloadStation")
	params.Set("_sid", sid)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		t.baseURL+"/webapi/auth.cgi?"+params.Encode(), nil)
	if err != nil {
		return
	}
	if resp, err := t.client.Do(req); err == nil {
		resp.Body.Close()
	}
}

func (t *synology) Push(ctx context.Context, up *Upload) error {
	release, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	sid, err := t.login(ctx)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	defer t.logout(ctx, sid)

	filename := nzblnk.JoinFilename(up.Title, up.Password)

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	writer.WriteField("api", "SYNO.DownloadStation.Task")
	writer.WriteField("version", "2")
	writer.WriteField("method", "create")
	writer.WriteField("_sid", sid)
	if up.Password != "" {
		writer.WriteField("unzip_password", up.Password)
	}
	if up.Category != "" {
		writer.WriteField("destination", up.Category)
	}
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}
	if _, err := part.Write([]byte(up.Content)); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}
	if err := writer.Close(); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("building upload: %w", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.baseURL+"/webapi/DownloadStation/task.cgi", &body)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("creating request: %w", err)}
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	resp, err := t.client.Do(req)
	if err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("upload failed: %w", err)}
	}
	defer resp.Body.Close()

	var result synoResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return &Error{Target: t.name, Err: fmt.Errorf("parsing response: %w", err)}
	}
	if !result.Success {
		return &Error{Target: t.name, Err: fmt.Errorf("DownloadStation rejected task (code %d)", result.Error.Code)}
	}

	t.logger.WithFields(logrus.Fields{
		"target": t.name,
		"title":  up.Title,
	}).Debug("NZB file pushed to DownloadStation")
	return nil
}

func (t *synology) TestConnection(ctx context.Context) error {
	sid, err := t.login(ctx)
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	t.logout(ctx, sid)
	return nil
}
