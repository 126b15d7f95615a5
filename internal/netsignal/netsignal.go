// Package netsignal produces per-entity network risk scores from traffic
// telemetry. The primary implementation reads flow aggregates from InfluxDB;
// a static source exists for demos and tests.
package netsignal

import (
	"context"
	"sync"
)

// Signal is a single entity's network risk observation.
type Signal struct {
	Entity      string  `json:"entity"`
	Risk        float64 `json:"risk"`
	BytesIn     int64   `json:"bytesIn"`
	PacketsIn   int64   `json:"packetsIn"`
	WindowSecs  int     `json:"windowSecs"`
	Description string  `json:"description,omitempty"`
}

// Source yields the current set of network risk signals.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Signal, error)
}

// StaticSource serves a fixed, mutable set of signals. Used in demos and
// as a stand-in when no telemetry backend is configured.
type StaticSource struct {
	mu      sync.RWMutex
	signals []Signal
}

// NewStaticSource creates a source that returns the given signals.
func NewStaticSource(signals ...Signal) *StaticSource {
	return &StaticSource{signals: signals}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(ctx context.Context) ([]Signal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Signal, len(s.signals))
	copy(out, s.signals)
	return out, nil
}

// Set replaces the signal set.
func (s *StaticSource) Set(signals ...Signal) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.signals = make([]Signal, len(signals))
	copy(s.signals, signals)
}
