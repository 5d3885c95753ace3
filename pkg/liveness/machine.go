package liveness

import (
	"errors"
	"time"

	"github.com/facegate/facegate/pkg/clock"
	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/logging"
)

// State is the liveness machine's position in one challenge attempt.
type State int

const (
	StateIdle State = iota
	StateChallengeIssued
	StateVerifying
	StatePassed
	StateFailed
)

// String returns the state's identifier.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateChallengeIssued:
		return "challenge_issued"
	case StateVerifying:
		return "verifying"
	case StatePassed:
		return "passed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// FailReason identifies why an attempt reached StateFailed.
type FailReason int

const (
	FailNone FailReason = iota
	FailSpoofSuspected
	FailTimeoutExceeded
	FailRetriesExhausted
)

// String returns the reason's identifier.
func (r FailReason) String() string {
	switch r {
	case FailSpoofSuspected:
		return "spoof_suspected"
	case FailTimeoutExceeded:
		return "timeout_exceeded"
	case FailRetriesExhausted:
		return "retries_exhausted"
	default:
		return "none"
	}
}

// RetryCause identifies what triggered the most recent challenge
// re-issue within the current attempt.
type RetryCause int

const (
	RetryNone RetryCause = iota
	RetryTimeout
	RetrySpoof
)

// ErrChallengeActive is returned when beginning an attempt while one
// is already in progress.
var ErrChallengeActive = errors.New("challenge already in progress")

// ErrNoChallenge is returned when a frame arrives without an active
// challenge.
var ErrNoChallenge = errors.New("no active challenge")

// Machine drives one liveness attempt end-to-end: issue a challenge,
// collect frames, detect the action, and apply the deadline/retry
// policy. It is not safe for concurrent use; the session registry
// serializes access per session. Time comes from an injected clock so
// the deadline ladder is testable without real waits.
type Machine struct {
	cfg config.LivenessConfig
	clk clock.Clock
	gen *Generator

	state      State
	challenge  *Challenge
	deadline   time.Time
	history    *History
	retries    int
	reason     FailReason
	retryCause RetryCause
}

// NewMachine creates an idle machine.
func NewMachine(cfg config.LivenessConfig, clk clock.Clock, gen *Generator) *Machine {
	return &Machine{
		cfg:     cfg,
		clk:     clk,
		gen:     gen,
		history: NewHistory(cfg.HistorySize),
	}
}

// State returns the current state after applying any elapsed deadline.
func (m *Machine) State() State {
	m.Tick(m.clk.Now())
	return m.state
}

// Reason returns why the attempt failed, or FailNone.
func (m *Machine) Reason() FailReason {
	return m.reason
}

// LastRetryCause returns what triggered the current challenge's
// re-issue, or RetryNone for a first challenge.
func (m *Machine) LastRetryCause() RetryCause {
	return m.retryCause
}

// Retries returns the number of retry cycles burned in this attempt.
func (m *Machine) Retries() int {
	return m.retries
}

// Challenge returns the active challenge, or nil outside an attempt.
func (m *Machine) Challenge() *Challenge {
	return m.challenge
}

// Deadline returns the active challenge's deadline.
func (m *Machine) Deadline() time.Time {
	return m.deadline
}

// Begin starts a fresh attempt: a challenge is issued and the deadline
// armed. Only an idle machine can begin.
func (m *Machine) Begin() (Challenge, error) {
	if m.state != StateIdle {
		return Challenge{}, ErrChallengeActive
	}

	m.retries = 0
	m.reason = FailNone
	m.retryCause = RetryNone
	m.issue(m.clk.Now())
	return *m.challenge, nil
}

// Observe feeds one frame's metrics into the attempt. Elapsed
// deadlines are applied first, so a frame arriving after an expired
// window lands in the re-issued challenge or finds the attempt failed.
func (m *Machine) Observe(mv MetricVector) error {
	now := m.clk.Now()
	if mv.Timestamp.IsZero() {
		mv.Timestamp = now
	}
	m.Tick(now)

	if m.state != StateChallengeIssued && m.state != StateVerifying {
		return ErrNoChallenge
	}

	m.state = StateVerifying
	m.history.Push(mv)

	verdict := DetectAction(m.history.Snapshot(), m.challenge.Action, m.cfg)
	switch verdict {
	case Completed:
		m.state = StatePassed
		logging.Infof("Liveness challenge %q completed after %d frame(s)",
			m.challenge.Action, m.history.Len())
	case Invalid:
		m.spoofExpiry(now)
	case NotYetComplete:
		// Keep verifying until the deadline ladder says otherwise.
	}
	return nil
}

// Tick applies the deadline/retry policy for the given time, burning
// one retry cycle per fully elapsed challenge window. It is safe to
// call in any state and is invoked lazily from Observe and State as
// well as by the registry's janitor, so an attempt never silently
// lingers past its deadline.
func (m *Machine) Tick(now time.Time) {
	for m.state == StateChallengeIssued || m.state == StateVerifying {
		if !now.After(m.deadline) {
			return
		}
		m.timeoutExpiry()
	}
}

// Reset returns the machine to idle, clearing the attempt.
func (m *Machine) Reset() {
	m.state = StateIdle
	m.challenge = nil
	m.deadline = time.Time{}
	m.history.Reset()
	m.retries = 0
	m.reason = FailNone
	m.retryCause = RetryNone
}

// timeoutExpiry burns one elapsed challenge window: either a retry
// with a re-issued challenge, or the terminal failure once the retry
// budget is gone. A budget of zero fails as a pure timeout; otherwise
// exhaustion through repeated timeouts reports RetriesExhausted.
func (m *Machine) timeoutExpiry() {
	m.retries++
	if m.retries > m.cfg.MaxRetries {
		if m.retries == 1 {
			m.fail(FailTimeoutExceeded)
		} else {
			m.fail(FailRetriesExhausted)
		}
		return
	}

	m.retryCause = RetryTimeout
	expired := m.deadline
	m.issue(expired)
	logging.Debugf("Liveness challenge timed out, retry %d/%d with %q",
		m.retries, m.cfg.MaxRetries, m.challenge.Action)
}

// spoofExpiry handles an Invalid verdict: a retry with a different
// challenge while the spoof budget lasts, terminal SpoofSuspected after.
func (m *Machine) spoofExpiry(now time.Time) {
	m.retries++
	if m.retries > m.cfg.MaxSpoofRetries {
		m.fail(FailSpoofSuspected)
		return
	}

	m.retryCause = RetrySpoof
	m.issue(now)
	logging.Debugf("Invalid liveness pattern, retry %d/%d with %q",
		m.retries, m.cfg.MaxSpoofRetries, m.challenge.Action)
}

// issue installs the next challenge with a fresh window and history.
func (m *Machine) issue(from time.Time) {
	ch := m.gen.Next()
	m.challenge = &ch
	m.deadline = from.Add(m.cfg.ChallengeWindow())
	m.history.Reset()
	m.state = StateChallengeIssued
}

// fail marks the attempt terminally failed; only Reset leaves it.
func (m *Machine) fail(reason FailReason) {
	m.state = StateFailed
	m.reason = reason
	logging.Infof("Liveness attempt failed: %s", reason)
}
