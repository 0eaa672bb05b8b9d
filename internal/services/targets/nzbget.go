package targets

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzblnk"
)

// nzbget talks JSON-RPC to an NZBGet instance.
type nzbget struct {
	httpTarget
	rpcURL string
	auth   string
}

func newNZBGet(cfg config.TargetConfig, logger *logrus.Logger) *nzbget {
	auth := ""
	if cfg.Username != "" || cfg.Password != "" {
		auth = "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.Username+":"+cfg.Password))
	}
	return &nzbget{
		httpTarget: newHTTPTarget(cfg.Name, logger),
		rpcURL:     strings.TrimSuffix(strings.TrimSuffix(cfg.URL, "/"), "/jsonrpc") + "/jsonrpc",
		auth:       auth,
	}
}

// call makes a JSON-RPC request and decodes the result field into output.
func (t *nzbget) call(ctx context.Context, method string, output interface{}, args ...interface{}) error {
	request := map[string]interface{}{
		"method": method,
		"params": args,
		"id":     1,
	}
	message, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encoding request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.rpcURL, bytes.NewBuffer(message))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	if t.auth != "" {
		req.Header.Set("Authorization", t.auth)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("making request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpc returned %s", resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return fmt.Errorf("reading response: %w", err)
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return fmt.Errorf("parsing response: %w", err)
	}
	if envelope.Error != nil {
		return fmt.Errorf("rpc error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}
	if output != nil {
		if err := json.Unmarshal(envelope.Result, output); err != nil {
			return fmt.Errorf("parsing result: %w", err)
		}
	}
	return nil
}

func (t *nzbget) Push(ctx context.Context, up *Upload) error {
	release, err := t.acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	filename := nzblnk.JoinFilename(up.Title, up.Password)
	content := base64.StdEncoding.EncodeToString([]byte(up.Content))

	// append(NZBFilename, Content, Category, Priority, AddToTop, AddPaused,
	// DupeKey, DupeScore, DupeMode, PPParameters)
	var queueID int
	err = t.call(ctx, "append", &queueID,
		filename, content, up.Category, 0, false, false, "", 0, "SCORE", []interface{}{})
	if err != nil {
		return &Error{Target: t.name, Err: err}
	}
	if queueID <= 0 {
		return &Error{Target: t.name, Err: fmt.Errorf("NZBGet rejected upload (queue id %d)", queueID)}
	}

	t.logger.WithFields(logrus.Fields{
		"target":   t.name,
		"title":    up.Title,
		"queue_id": queueID,
	}).Debug("NZB file pushed to NZBGet")
	return nil
}

func (t *nzbget) TestConnection(ctx context.Context) error {
	var version string
	if err := t.call(ctx, "version", &version); err != nil {
		return &Error{Target: t.name, Err: err}
	}
	return nil
}

// GetCategories lists the CategoryN.Name options of the NZBGet config.
func (t *nzbget) GetCategories(ctx context.Context) ([]string, error) {
	var options []struct {
		Name  string `json:"Name"`
		Value string `json:"Value"`
	}
	if err := t.call(ctx, "config", &options); err != nil {
		return nil, &Error{Target: t.name, Err: err}
	}

	var categories []string
	for _, opt := range options {
		if strings.HasPrefix(opt.Name, "Category") && strings.HasSuffix(opt.Name, ".Name") && opt.Value != "" {
			categories = append(categories, opt.Value)
		}
	}
	return categories, nil
}
