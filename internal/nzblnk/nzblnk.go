// Package nzblnk parses the nzblnk URI scheme and the companion
// "title{{password}}.nzb" filename convention.
package nzblnk

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// ErrInvalidLink indicates a malformed nzblnk URI or one without a header.
var ErrInvalidLink = fmt.Errorf("invalid nzblnk")

// Link carries the parameters encoded in an nzblnk URI.
type Link struct {
	Header   string
	Title    string
	Password string
}

var passwordSuffixRegexp = regexp.MustCompile(`^(.*?)\{\{(.*)\}\}$`)

// Parse decodes an nzblnk URI of the form nzblnk:?h=<header>&t=<title>&p=<password>.
// Parameters may be separated by "&" or an HTML-escaped "&amp;"; the legacy
// g and d parameters are accepted and ignored. The title defaults to the
// header when absent.
func Parse(raw string) (*Link, error) {
	trimmed := strings.TrimSpace(raw)
	lower := strings.ToLower(trimmed)
	if !strings.HasPrefix(lower, "nzblnk:") {
		return nil, fmt.Errorf("%w: missing nzblnk scheme in %q", ErrInvalidLink, raw)
	}

	query := trimmed[len("nzblnk:"):]
	query = strings.TrimPrefix(query, "//")
	query = strings.TrimPrefix(query, "?")
	query = strings.ReplaceAll(query, "&amp;", "&")

	link := &Link{}
	for _, pair := range strings.Split(query, "&") {
		if pair == "" {
			continue
		}
		key, value, _ := strings.Cut(pair, "=")
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "h":
			link.Header = decoded
		case "t":
			link.Title = decoded
		case "p":
			link.Password = decoded
		}
	}

	if link.Header == "" {
		return nil, fmt.Errorf("%w: missing h parameter in %q", ErrInvalidLink, raw)
	}
	if link.Title == "" {
		link.Title = link.Header
	}
	return link, nil
}

// SplitFilename extracts title and password from a filename following the
// "title{{password}}.nzb" convention. The password segment is optional.
func SplitFilename(name string) (title, password string) {
	base := name
	if idx := strings.LastIndex(strings.ToLower(base), ".nzb"); idx >= 0 && idx == len(base)-4 {
		base = base[:idx]
	}
	if m := passwordSuffixRegexp.FindStringSubmatch(base); m != nil {
		return m[1], m[2]
	}
	return base, ""
}

// JoinFilename builds a filename following the "title{{password}}.nzb"
// convention, omitting the password segment when empty.
func JoinFilename(title, password string) string {
	if password != "" {
		return title + "{{" + password + "}}.nzb"
	}
	return title + ".nzb"
}
