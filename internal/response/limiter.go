package response

import (
	"sync"
	"time"
)

// historyCap bounds retained notification history.
const historyCap = 1000

// AlertLimiter caps outbound alert volume per wall-clock hour. The window is
// the current clock hour (14:00–14:59), not a sliding 60-minute span: the
// counter effectively resets at the top of each hour.
type AlertLimiter struct {
	mu         sync.RWMutex
	maxPerHour int
	threshold  float64
	history    []NotificationRecord
}

// NewAlertLimiter creates a limiter admitting at most maxPerHour alerts whose
// risk is at or above threshold within one clock hour.
func NewAlertLimiter(maxPerHour int, threshold float64) *AlertLimiter {
	return &AlertLimiter{maxPerHour: maxPerHour, threshold: threshold}
}

// Admit reports whether one more alert may be sent at the given instant.
// Call before Record.
func (l *AlertLimiter) Admit(now time.Time) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	hourStart := now.Truncate(time.Hour)
	count := 0
	for i := len(l.history) - 1; i >= 0; i-- {
		rec := l.history[i]
		if rec.Timestamp.Before(hourStart) {
			break // history is appended in time order
		}
		if rec.FinalRisk >= l.threshold {
			count++
		}
	}
	return count < l.maxPerHour
}

// Record appends an admitted alert to the history.
func (l *AlertLimiter) Record(rec NotificationRecord) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.history = append(l.history, rec)
	if len(l.history) > historyCap {
		l.history = l.history[len(l.history)-historyCap:]
	}
}

// History returns the most recent records, newest first, up to limit
// (limit <= 0 means all retained).
func (l *AlertLimiter) History(limit int) []NotificationRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()

	n := len(l.history)
	if limit <= 0 || limit > n {
		limit = n
	}
	out := make([]NotificationRecord, 0, limit)
	for i := n - 1; i >= n-limit; i-- {
		out = append(out, l.history[i])
	}
	return out
}
