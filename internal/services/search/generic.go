package search

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/nzb"
)

// genericEngine drives any indexer reachable through a search-URL template:
// fetch the result page, extract a download id via regex (HTML responses) or
// JSON path (JSON responses), substitute it into the download-URL template
// and fetch the NZB payload.
type genericEngine struct {
	cfg     config.EngineConfig
	client  *http.Client
	pattern *regexp.Regexp
	logger  *logrus.Logger
}

func newGenericEngine(cfg config.EngineConfig, client *http.Client, logger *logrus.Logger) (*genericEngine, error) {
	e := &genericEngine{cfg: cfg, client: client, logger: logger}
	if cfg.Response != "json" {
		if cfg.Pattern == "" {
			return nil, fmt.Errorf("html engine requires an extraction pattern")
		}
		pattern, err := regexp.Compile(cfg.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid extraction pattern: %w", err)
		}
		e.pattern = pattern
	} else if cfg.JSONPath == "" {
		return nil, fmt.Errorf("json engine requires a json_path")
	}
	return e, nil
}

func (e *genericEngine) Name() string {
	return e.cfg.Name
}

func (e *genericEngine) GetNZB(ctx context.Context, header string) (*nzb.Document, error) {
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

	id, err := e.extractID(body)
	if err != nil {
		return nil, &Error{Engine: e.cfg.Name, Err: err}
	}

	downloadURL := strings.Replace(e.cfg.DownloadURL, "%s", url.QueryEscape(id), 1)
	payload, err := fetch(ctx, e.client, downloadURL)
	if err != nil {
		return nil, &Error{Engine: e.cfg.Name, Err: err}
	}

	doc, err := nzb.ParseString(string(payload))
	if err != nil {
		return nil, &Error{Engine: e.cfg.Name, Err: fmt.Errorf("download is not a valid NZB file: %w", err)}
	}

	e.logger.WithFields(logrus.Fields{
		"engine": e.cfg.Name,
		"files":  len(doc.Files),
	}).Debug("Search succeeded")

	return doc, nil
}

func (e *genericEngine) extractID(body []byte) (string, error) {
	if e.cfg.Response == "json" {
		result := gjson.GetBytes(body, e.cfg.JSONPath)
		if !result.Exists() || result.String() == "" {
			return "", fmt.Errorf("json path %q yielded no result", e.cfg.JSONPath)
		}
		return result.String(), nil
	}

	matches := e.pattern.FindStringSubmatch(string(body))
	group := e.cfg.Group
	if group == 0 && e.pattern.NumSubexp() > 0 {
		group = 1
	}
	if matches == nil || group >= len(matches) || matches[group] == "" {
		return "", fmt.Errorf("extraction pattern found no match")
	}
	return matches[group], nil
}
