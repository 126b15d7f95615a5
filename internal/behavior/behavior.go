// Package behavior derives per-user risk scores from activity logs. Events
// are aggregated into per-user feature vectors, scored for anomaly by a
// pluggable scorer, and min-max normalized across the observed population.
package behavior

import (
	"context"
	"fmt"
	"time"
)

// Event is a single user activity record.
type Event struct {
	UserType    string    `json:"userType"`
	User        string    `json:"user"`
	SourceIP    string    `json:"sourceIP"`
	EventTime   time.Time `json:"eventTime"`
	EventSource string    `json:"eventSource"`
	EventName   string    `json:"eventName"`
}

// Source yields the current window of activity events.
type Source interface {
	Name() string
	Fetch(ctx context.Context) ([]Event, error)
}

// AnomalyScorer assigns a raw anomaly score to each feature vector.
// Higher means more anomalous. Raw scores are only meaningful relative
// to each other within one batch.
type AnomalyScorer interface {
	Name() string
	Score(vectors []FeatureVector) ([]float64, error)
}

// degenerateRisk is assigned to every user when the batch has no spread
// (all raw scores equal, or a single user), since min-max normalization
// is undefined there.
const degenerateRisk = 0.1

// ComputeRisks turns a window of events into per-user risk in [0,1].
// Raw anomaly scores are min-max normalized across users; a degenerate
// batch gets the flat baseline risk.
func ComputeRisks(events []Event, scorer AnomalyScorer) (map[string]float64, error) {
	features := ExtractFeatures(events)
	if len(features) == 0 {
		return map[string]float64{}, nil
	}

	vectors := make([]FeatureVector, len(features))
	for i, f := range features {
		vectors[i] = f.Vector
	}
	raw, err := scorer.Score(vectors)
	if err != nil {
		return nil, fmt.Errorf("anomaly scoring failed: %w", err)
	}
	if len(raw) != len(features) {
		return nil, fmt.Errorf("scorer returned %d scores for %d users", len(raw), len(features))
	}

	lo, hi := raw[0], raw[0]
	for _, s := range raw[1:] {
		if s < lo {
			lo = s
		}
		if s > hi {
			hi = s
		}
	}

	risks := make(map[string]float64, len(features))
	if hi == lo {
		for _, f := range features {
			risks[f.User] = degenerateRisk
		}
		return risks, nil
	}
	for i, f := range features {
		risks[f.User] = (raw[i] - lo) / (hi - lo)
	}
	return risks, nil
}

// StaticSource serves a fixed event set, for demos and tests.
type StaticSource struct {
	events []Event
}

// NewStaticSource creates a source that returns the given events.
func NewStaticSource(events ...Event) *StaticSource {
	return &StaticSource{events: events}
}

func (s *StaticSource) Name() string { return "static" }

func (s *StaticSource) Fetch(ctx context.Context) ([]Event, error) {
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out, nil
}
