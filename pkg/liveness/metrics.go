// Package liveness implements the challenge-response liveness check:
// per-frame geometric metrics, action detection over a rolling metric
// history, challenge generation, and the per-session state machine that
// drives issue, verify, timeout, and retry-or-fail.
package liveness

import (
	"time"

	"github.com/facegate/facegate/pkg/vision"
)

// MetricVector holds the geometric signals extracted from one frame.
type MetricVector struct {
	EyeRatio   float64
	MouthRatio float64
	PoseProxy  float64
	Timestamp  time.Time
}

// ExtractMetrics converts a landmark set into the per-frame signals the
// action detectors consume.
func ExtractMetrics(set *vision.LandmarkSet, at time.Time) MetricVector {
	return MetricVector{
		EyeRatio:   set.EyeOpenness(),
		MouthRatio: set.MouthOpenness(),
		PoseProxy:  set.PoseAsymmetry(),
		Timestamp:  at,
	}
}

// History is a fixed-capacity ring of metric vectors, oldest evicted
// first. Not safe for concurrent use; callers serialize access.
type History struct {
	buf   []MetricVector
	start int
	size  int
}

// NewHistory creates a history holding at most capacity samples.
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{buf: make([]MetricVector, capacity)}
}

// Push appends a sample, evicting the oldest when full.
func (h *History) Push(mv MetricVector) {
	idx := (h.start + h.size) % len(h.buf)
	h.buf[idx] = mv
	if h.size < len(h.buf) {
		h.size++
	} else {
		h.start = (h.start + 1) % len(h.buf)
	}
}

// Len returns the number of stored samples.
func (h *History) Len() int {
	return h.size
}

// Snapshot returns the samples in order, oldest first.
func (h *History) Snapshot() []MetricVector {
	out := make([]MetricVector, h.size)
	for i := 0; i < h.size; i++ {
		out[i] = h.buf[(h.start+i)%len(h.buf)]
	}
	return out
}

// Reset discards all samples.
func (h *History) Reset() {
	h.start, h.size = 0, 0
}
