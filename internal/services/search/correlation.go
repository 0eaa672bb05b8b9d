package search

import (
	"context"
	"encoding/base64"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzb"
)

// Multi-part uploads list each volume as a separate result. Volume markers
// like ".part01", ".vol003+04" or a trailing "(2/15)" counter are stripped
// before hashing so all parts of one upload land in the same group.
var volumeMarkerRegexp = regexp.MustCompile(`(?i)(\.part\d+|\.vol\d+\+\d+|\s*[(\[]\d+\s*/\s*\d+[)\]]\s*)`)

// correlationEngine drives the one provider whose API returns a flat JSON
// result list instead of a single hit: results are correlated into upload
// groups by hashing base filename and poster, and the first group's signed
// ids are posted back to obtain the combined NZB.
type correlationEngine struct {
	cfg    config.EngineConfig
	client *http.Client
	logger *logrus.Logger
}

func newCorrelationEngine(cfg config.EngineConfig, client *http.Client, logger *logrus.Logger) *correlationEngine {
	return &correlationEngine{cfg: cfg, client: client, logger: logger}
}

func (e *correlationEngine) Name() string {
	return e.cfg.Name
}

type resultGroup struct {
	ids   []string
	files []string
}

func (e *correlationEngine) GetNZB(ctx context.Context, header string) (*nzb.Document, error) {
	cleaned := cleanHeader(header, e.cfg.Clean)
	searchURL := strings.Replace(e.cfg.SearchURL, "%s", url.QueryEscape(cleaned), 1)

	e.logger.WithFields(logrus.Fields{
		"engine": e.cfg.Name,
		"url":    searchURL,
	}).Debug("Searching")

	body, err := fetch(ctx, e.client, searchURL)
	if err != nil {
		return nil, &Error{Engine: e.cfg.Name, Err: err}
	}

	groups, order := correlate(gjson.GetBytes(body, "results").Array())
	var winner *resultGroup
	for _, key := range order {
		if group := groups[key]; len(group.ids) > 0 {
			winner = group
			break
		}
	}
	if winner == nil {
		return nil, &Error{Engine: e.cfg.Name, Err: fmt.Errorf("no results for header %q", header)}
	}

	payload, err := e.fetchCombined(ctx, winner)
	if err != nil {
		return nil, &Error{Engine: e.cfg.Name, Err: err}
	}

	doc, err := nzb.ParseString(string(payload))
	if err != nil {
		return nil, &Error{Engine: e.cfg.Name, Err: fmt.Errorf("download is not a valid NZB file: %w", err)}
	}
	return doc, nil
}

// correlate buckets the results by upload group, preserving first-seen order.
func correlate(results []gjson.Result) (map[uint64]*resultGroup, []uint64) {
	groups := make(map[uint64]*resultGroup)
	var order []uint64

	for _, result := range results {
		id := result.Get("id").String()
		name := result.Get("name").String()
		poster := result.Get("poster").String()
		if id == "" || name == "" {
			continue
		}

		key := groupKey(name, poster)
		group, ok := groups[key]
		if !ok {
			group = &resultGroup{}
			groups[key] = group
			order = append(order, key)
		}
		group.ids = append(group.ids, id)
		group.files = append(group.files, name)
	}
	return groups, order
}

func groupKey(name, poster string) uint64 {
	base := volumeMarkerRegexp.ReplaceAllString(name, "")
	base = strings.TrimSuffix(base, path.Ext(base))
	h := fnv.New64a()
	h.Write([]byte(strings.ToLower(base)))
	h.Write([]byte{0})
	h.Write([]byte(strings.ToLower(poster)))
	return h.Sum64()
}

// fetchCombined posts the signed ids of one group together with the
// base64-encoded filename/extension pairs and returns the combined NZB.
func (e *correlationEngine) fetchCombined(ctx context.Context, group *resultGroup) ([]byte, error) {
	form := url.Values{}
	for i, id := range group.ids {
		form.Add("id["+strconv.Itoa(i)+"]", id)
		name := group.files[i]
		ext := strings.TrimPrefix(path.Ext(name), ".")
		base := strings.TrimSuffix(name, path.Ext(name))
		form.Add("file["+strconv.Itoa(i)+"]", base64.StdEncoding.EncodeToString([]byte(base+"|"+ext)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.cfg.DownloadURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("User-Agent", "nzbrelay/1.0")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("download request returned %s", resp.Status)
	}
	return readBody(resp)
}
