// Package emotion implements the post-authentication streaming loop.
// It samples the most recent submitted frame at a bounded rate,
// classifies the emotion on it, and emits readings until cancelled.
package emotion

import (
	"context"
	"sync"
	"time"

	"github.com/facegate/facegate/pkg/clock"
	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/vision"
)

// NoReadingLabel marks a sample where no face could be classified.
const NoReadingLabel = "N/A"

// Reading is one emotion observation. Transient, never persisted.
type Reading struct {
	Label      string           `json:"emotion"`
	Confidence float64          `json:"confidence"`
	Box        vision.Rectangle `json:"box"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Streamer samples frames at a fixed interval independent of the raw
// frame rate. Frame submission goes through a latest-wins mailbox that
// never blocks the delivery path; readings go to a buffered channel
// and are dropped when no consumer keeps up.
type Streamer struct {
	classifier vision.EmotionClassifier
	detector   vision.LandmarkDetector
	ticker     clock.Ticker
	out        chan Reading

	mu     sync.Mutex
	latest *vision.Frame
}

// NewStreamer creates a streamer sampling at cfg.SampleInterval. The
// sampling ticker starts here, not in Run, so ticks elapsing between
// construction and the first Run iteration are not lost.
func NewStreamer(classifier vision.EmotionClassifier, detector vision.LandmarkDetector, cfg config.EmotionConfig, clk clock.Clock) *Streamer {
	return &Streamer{
		classifier: classifier,
		detector:   detector,
		ticker:     clk.NewTicker(cfg.SampleInterval()),
		out:        make(chan Reading, cfg.Buffer),
	}
}

// Submit records a frame as the latest sample candidate. It overwrites
// any unsampled predecessor and never blocks.
func (s *Streamer) Submit(frame vision.Frame) {
	s.mu.Lock()
	s.latest = &frame
	s.mu.Unlock()
}

// Readings returns the output channel. It is closed when Run returns.
func (s *Streamer) Readings() <-chan Reading {
	return s.out
}

// Run samples until the context is cancelled, emitting one reading per
// elapsed interval while a frame is available. A failed classification
// produces an N/A reading rather than stopping the loop. Cancellation
// is observed at the next sampling boundary; the output channel is
// closed on return.
func (s *Streamer) Run(ctx context.Context) {
	defer s.ticker.Stop()
	defer close(s.out)

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-s.ticker.C():
			if ctx.Err() != nil {
				return
			}
			s.sample(now)
		}
	}
}

// sample classifies the latest frame and emits the reading. Without a
// frame yet there is nothing to report and the tick is skipped.
func (s *Streamer) sample(now time.Time) {
	s.mu.Lock()
	frame := s.latest
	s.mu.Unlock()

	if frame == nil {
		return
	}

	reading := Reading{Timestamp: now}
	label, confidence, err := s.classifier.Classify(*frame)
	if err != nil {
		// Transient per-frame failures are reported, never fatal.
		logging.Debugf("Emotion sample skipped: %v", err)
		reading.Label = NoReadingLabel
	} else {
		reading.Label = label
		reading.Confidence = confidence
		reading.Box = s.faceBox(*frame)
	}

	select {
	case s.out <- reading:
	default:
		// Consumer is behind; drop rather than block the loop.
	}
}

// faceBox resolves the face bounding box for a classified frame.
func (s *Streamer) faceBox(frame vision.Frame) vision.Rectangle {
	set, err := vision.ResolveLandmarks(frame, s.detector)
	if err != nil {
		return vision.Rectangle{}
	}
	return set.BoundingBox()
}
