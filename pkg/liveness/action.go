package liveness

import (
	"math"

	"github.com/facegate/facegate/pkg/config"
)

// Action is a named liveness challenge.
type Action int

const (
	ActionBlink Action = iota
	ActionSmile
	ActionTurnLeft
	ActionTurnRight
)

// String returns the action's identifier.
func (a Action) String() string {
	switch a {
	case ActionBlink:
		return "blink"
	case ActionSmile:
		return "smile"
	case ActionTurnLeft:
		return "turn_left"
	case ActionTurnRight:
		return "turn_right"
	default:
		return "unknown"
	}
}

// Prompt returns the instruction shown to the user.
func (a Action) Prompt() string {
	switch a {
	case ActionBlink:
		return "Blink"
	case ActionSmile:
		return "Smile"
	case ActionTurnLeft:
		return "Look Left"
	case ActionTurnRight:
		return "Look Right"
	default:
		return ""
	}
}

// Challenge is one issued liveness challenge. Immutable once issued.
type Challenge struct {
	Action Action
	Prompt string
}

// Verdict is the action detector's classification of a metric history.
type Verdict int

const (
	// NotYetComplete means the action has not been observed yet.
	NotYetComplete Verdict = iota
	// Completed means the action was performed.
	Completed
	// Invalid means the history cannot come from a live subject.
	Invalid
)

// String returns the verdict's identifier.
func (v Verdict) String() string {
	switch v {
	case NotYetComplete:
		return "not_yet_complete"
	case Completed:
		return "completed"
	case Invalid:
		return "invalid"
	default:
		return "unknown"
	}
}

// DetectAction classifies a rolling metric history against a challenge
// action. It is a pure function of its inputs and never mutates state,
// so detection policy is testable without a running session.
func DetectAction(history []MetricVector, action Action, cfg config.LivenessConfig) Verdict {
	if len(history) == 0 {
		return NotYetComplete
	}
	if isStatic(history, cfg) {
		return Invalid
	}

	switch action {
	case ActionBlink:
		return detectBlink(history, cfg)
	case ActionSmile:
		return detectSmile(history, cfg)
	case ActionTurnLeft:
		return detectTurn(history, cfg, -1)
	case ActionTurnRight:
		return detectTurn(history, cfg, +1)
	default:
		return Invalid
	}
}

// isStatic reports whether the history is a flat signal across all
// three metrics, indicating a static image. Histories shorter than
// StaticMinFrames are never judged static.
func isStatic(history []MetricVector, cfg config.LivenessConfig) bool {
	if len(history) < cfg.StaticMinFrames {
		return false
	}

	peak := variance(history, func(mv MetricVector) float64 { return mv.EyeRatio })
	peak = math.Max(peak, variance(history, func(mv MetricVector) float64 { return mv.MouthRatio }))
	peak = math.Max(peak, variance(history, func(mv MetricVector) float64 { return mv.PoseProxy }))

	return peak < cfg.StaticVarianceEpsilon
}

// variance computes the population variance of one signal.
func variance(history []MetricVector, signal func(MetricVector) float64) float64 {
	var mean float64
	for _, mv := range history {
		mean += signal(mv)
	}
	mean /= float64(len(history))

	var sum float64
	for _, mv := range history {
		d := signal(mv) - mean
		sum += d * d
	}
	return sum / float64(len(history))
}

// detectBlink looks for a closed-then-open eye cycle: at least
// MinClosedFrames consecutive samples below the closed threshold,
// followed by a recovery above the open threshold within
// RecoveryFrames samples. Eyes that never close are NotYetComplete.
func detectBlink(history []MetricVector, cfg config.LivenessConfig) Verdict {
	run := 0
	for i, mv := range history {
		if mv.EyeRatio < cfg.EyeClosedThreshold {
			run++
			continue
		}
		if run >= cfg.MinClosedFrames && eyesReopen(history[i:], cfg) {
			return Completed
		}
		run = 0
	}
	return NotYetComplete
}

// eyesReopen reports whether the eye ratio recovers above the open
// threshold within the recovery window.
func eyesReopen(tail []MetricVector, cfg config.LivenessConfig) bool {
	limit := min(cfg.RecoveryFrames, len(tail))
	for _, mv := range tail[:limit] {
		if mv.EyeRatio > cfg.EyeOpenThreshold {
			return true
		}
	}
	return false
}

// detectSmile requires the mouth ratio to stay above the smile
// threshold for SmileHoldFrames consecutive samples, so a single-frame
// spike never passes.
func detectSmile(history []MetricVector, cfg config.LivenessConfig) Verdict {
	run := 0
	for _, mv := range history {
		if mv.MouthRatio > cfg.SmileThreshold {
			run++
			if run >= cfg.SmileHoldFrames {
				return Completed
			}
		} else {
			run = 0
		}
	}
	return NotYetComplete
}

// detectTurn requires the pose proxy to move past the directional
// threshold for MinTurnFrames consecutive samples and then partially
// return toward center within RecoveryFrames. direction is -1 for a
// left turn and +1 for a right turn.
func detectTurn(history []MetricVector, cfg config.LivenessConfig, direction float64) Verdict {
	run := 0
	for i, mv := range history {
		if mv.PoseProxy*direction > cfg.TurnThreshold {
			run++
			continue
		}
		if run >= cfg.MinTurnFrames && returnsToCenter(history[i:], cfg) {
			return Completed
		}
		run = 0
	}
	return NotYetComplete
}

// returnsToCenter reports whether the pose proxy comes back inside the
// return threshold within the recovery window.
func returnsToCenter(tail []MetricVector, cfg config.LivenessConfig) bool {
	limit := min(cfg.RecoveryFrames, len(tail))
	for _, mv := range tail[:limit] {
		if math.Abs(mv.PoseProxy) < cfg.TurnReturnThreshold {
			return true
		}
	}
	return false
}
