package torrentkit

import "torrentkit/internal/engine"

// Priority is a file's bandwidth priority within its torrent.
type Priority int8

const (
	PriorityLow    Priority = -1
	PriorityNormal Priority = 0
	PriorityHigh   Priority = 1
)

func (p Priority) String() string {
	switch {
	case p < 0:
		return "low"
	case p > 0:
		return "high"
	default:
		return "normal"
	}
}

// PriorityFromInt maps any signed value onto the three-level scale:
// negative is low, zero is normal, positive is high.
func PriorityFromInt(v int) Priority {
	switch {
	case v < 0:
		return PriorityLow
	case v > 0:
		return PriorityHigh
	default:
		return PriorityNormal
	}
}

func (p Priority) engineLevel() int8 {
	switch {
	case p < 0:
		return engine.PrioLow
	case p > 0:
		return engine.PrioHigh
	default:
		return engine.PrioNormal
	}
}

func priorityFromEngine(v int8) Priority {
	return PriorityFromInt(int(v))
}
