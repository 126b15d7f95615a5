// Package fusion combines independent risk signals into a single score
// and maps scores onto the threat level ladder.
package fusion

// Signal weights. Network telemetry dominates because it is measured at
// the boundary; behavioral risk refines the picture.
const (
	weightNetwork = 0.6
	weightUser    = 0.4
)

// Level is a threat level on the four-step ladder.
type Level int

const (
	Low Level = iota
	Medium
	High
	Critical
)

// String returns the canonical level name.
func (l Level) String() string {
	switch l {
	case Low:
		return "LOW"
	case Medium:
		return "MEDIUM"
	case High:
		return "HIGH"
	case Critical:
		return "CRITICAL"
	default:
		return "UNKNOWN"
	}
}

// Result is a fused risk score with its labeled level.
type Result struct {
	FinalRisk float64 `json:"finalRisk"`
	Level     Level   `json:"level"`
}

// Fuse computes the weighted final risk from the network and user
// signals and labels it. The level bands use strict lower bounds: an
// exact 0.8 is HIGH, an exact 0.4 is LOW. Inputs are not clamped; a
// caller feeding scores outside [0,1] gets a proportional result.
func Fuse(networkRisk, userRisk float64) Result {
	final := weightNetwork*networkRisk + weightUser*userRisk
	return Result{FinalRisk: final, Level: Label(final)}
}

// Label maps a fused score onto the level ladder.
func Label(finalRisk float64) Level {
	switch {
	case finalRisk > 0.8:
		return Critical
	case finalRisk > 0.6:
		return High
	case finalRisk > 0.4:
		return Medium
	default:
		return Low
	}
}
