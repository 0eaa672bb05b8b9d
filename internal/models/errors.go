package models

import "errors"

// Pipeline-level failures with no fallback alternative. Errors local to a
// single engine attempt or target push live next to their adapters and are
// only surfaced when every alternative has failed.
var (
	ErrNoActiveEngines = errors.New("no active search engines configured")
	ErrNoSearchResults = errors.New("no search engine returned a usable NZB file")
	ErrNoActiveTargets = errors.New("no active targets configured")
	ErrPushFailed      = errors.New("push failed for all targets")
)
