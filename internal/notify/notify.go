// Package notify delivers user-facing notifications, gated by a configured
// verbosity threshold.
package notify

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// Level orders notification severities for threshold gating.
type Level int

const (
	LevelNone Level = iota
	LevelError
	LevelWarn
	LevelInfo
)

// ParseLevel maps a configuration string to a Level, defaulting to info.
func ParseLevel(s string) Level {
	switch s {
	case "none":
		return LevelNone
	case "error":
		return LevelError
	case "warn", "warning":
		return LevelWarn
	default:
		return LevelInfo
	}
}

// Sink receives notifications that pass the threshold. The websocket hub
// registers itself as a sink to push notifications to connected UIs.
type Sink interface {
	Notify(level string, message string)
}

// Notifier fans notifications out to the log and all registered sinks.
type Notifier struct {
	mu        sync.RWMutex
	threshold Level
	sinks     []Sink
	logger    *logrus.Logger
}

// NewNotifier creates a notifier with the given verbosity threshold.
func NewNotifier(threshold Level, logger *logrus.Logger) *Notifier {
	return &Notifier{threshold: threshold, logger: logger}
}

// AddSink registers an additional delivery sink.
func (n *Notifier) AddSink(s Sink) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sinks = append(n.sinks, s)
}

// Info announces a routine event.
func (n *Notifier) Info(message string) {
	n.emit(LevelInfo, "info", message)
}

// Success announces a completed acquisition. Gated like info.
func (n *Notifier) Success(message string) {
	n.emit(LevelInfo, "success", message)
}

// Warn announces a partial outcome.
func (n *Notifier) Warn(message string) {
	n.emit(LevelWarn, "warning", message)
}

// Error announces a failed acquisition.
func (n *Notifier) Error(message string) {
	n.emit(LevelError, "error", message)
}

func (n *Notifier) emit(level Level, kind, message string) {
	switch level {
	case LevelError:
		n.logger.Error(message)
	case LevelWarn:
		n.logger.Warn(message)
	default:
		n.logger.Info(message)
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if level > n.threshold {
		return
	}
	for _, sink := range n.sinks {
		sink.Notify(kind, message)
	}
}
