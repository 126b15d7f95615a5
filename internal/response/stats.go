package response

import (
	"sync"
	"time"
)

// statistics holds monotonically increasing operation counters.
type statistics struct {
	mu              sync.Mutex
	startTime       time.Time
	totalBlocks     uint64
	totalUnblocks   uint64
	totalAlerts     uint64
	totalSuppressed uint64
	totalRateLimits uint64
}

func newStatistics(start time.Time) *statistics {
	return &statistics{startTime: start}
}

func (s *statistics) addBlock()     { s.mu.Lock(); s.totalBlocks++; s.mu.Unlock() }
func (s *statistics) addUnblock()   { s.mu.Lock(); s.totalUnblocks++; s.mu.Unlock() }
func (s *statistics) addAlert()     { s.mu.Lock(); s.totalAlerts++; s.mu.Unlock() }
func (s *statistics) addSuppress()  { s.mu.Lock(); s.totalSuppressed++; s.mu.Unlock() }
func (s *statistics) addRateLimit() { s.mu.Lock(); s.totalRateLimits++; s.mu.Unlock() }

// Statistics is a point-in-time snapshot of controller state for operators.
type Statistics struct {
	StartTime        time.Time `json:"startTime"`
	UptimeSeconds    float64   `json:"uptimeSeconds"`
	TotalBlocks      uint64    `json:"totalBlocks"`
	TotalUnblocks    uint64    `json:"totalUnblocks"`
	TotalAlerts      uint64    `json:"totalAlerts"`
	AlertsSuppressed uint64    `json:"alertsSuppressed"`
	TotalRateLimits  uint64    `json:"totalRateLimits"`
	CurrentlyBlocked int       `json:"currentlyBlocked"`
	BlockedEntities  []string  `json:"blockedEntities"`
}

func (s *statistics) snapshot(now time.Time, registry *BlockRegistry) Statistics {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Statistics{
		StartTime:        s.startTime,
		UptimeSeconds:    now.Sub(s.startTime).Seconds(),
		TotalBlocks:      s.totalBlocks,
		TotalUnblocks:    s.totalUnblocks,
		TotalAlerts:      s.totalAlerts,
		AlertsSuppressed: s.totalSuppressed,
		TotalRateLimits:  s.totalRateLimits,
		CurrentlyBlocked: registry.Len(),
		BlockedEntities:  registry.Entities(),
	}
}
