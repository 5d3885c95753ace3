// Package session owns the per-session lifecycle: it sequences the
// liveness machine, the authentication handoff and the emotion
// streaming loop, and serializes all access to one session's state.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/facegate/facegate/pkg/emotion"
	"github.com/facegate/facegate/pkg/liveness"
)

// Mode selects what a passed liveness attempt hands off to.
type Mode int

const (
	ModeLogin Mode = iota
	ModeRegister
)

// String returns the mode's identifier.
func (m Mode) String() string {
	if m == ModeRegister {
		return "register"
	}
	return "login"
}

// ParseMode converts the wire-level mode string.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "login":
		return ModeLogin, nil
	case "register":
		return ModeRegister, nil
	default:
		return ModeLogin, fmt.Errorf("unknown mode %q", s)
	}
}

// State is a session's position in the authentication flow. It extends
// the liveness machine's states with the post-handoff outcomes.
type State int

const (
	StateIdle State = iota
	StateChallengeIssued
	StateVerifying
	StatePassed
	StateAuthenticated
	StateRegistered
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
	case StateAuthenticated:
		return "authenticated"
	case StateRegistered:
		return "registered"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// ErrorCode identifies a failure in a form the client can act on.
type ErrorCode string

const (
	CodeNoFace           ErrorCode = "NO_FACE"
	CodeMultipleFaces    ErrorCode = "MULTIPLE_FACES"
	CodeSpoofSuspected   ErrorCode = "SPOOF_SUSPECTED"
	CodeTimeout          ErrorCode = "TIMEOUT"
	CodeRetriesExhausted ErrorCode = "RETRIES_EXHAUSTED"
	CodeNotRecognized    ErrorCode = "NOT_RECOGNIZED"
	CodeDuplicateName    ErrorCode = "DUPLICATE_NAME"
	CodeInvalidName      ErrorCode = "INVALID_NAME"
	CodeSessionNotActive ErrorCode = "SESSION_NOT_ACTIVE"
)

// errorMessages maps codes to the messages shown to the user.
var errorMessages = map[ErrorCode]string{
	CodeNoFace:           "No face detected. Please look at the camera.",
	CodeMultipleFaces:    "Multiple faces detected. Please ensure only one person is visible.",
	CodeSpoofSuspected:   "Liveness check failed.",
	CodeTimeout:          "Challenge timed out. Please try again.",
	CodeRetriesExhausted: "Too many attempts. Please reset and try again.",
	CodeNotRecognized:    "Face not recognized.",
	CodeDuplicateName:    "That name is already registered.",
	CodeInvalidName:      "Please provide a valid name.",
	CodeSessionNotActive: "Session is not accepting frames.",
}

// Message returns the user-facing message for a code.
func (c ErrorCode) Message() string {
	if msg, ok := errorMessages[c]; ok {
		return msg
	}
	return "An unexpected error occurred."
}

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// ErrSessionNotActive is returned when an operation does not apply to
// the session's current state.
var ErrSessionNotActive = errors.New("session not active")

// ErrNotAuthenticated is returned when the emotion stream is requested
// before a successful login.
var ErrNotAuthenticated = errors.New("session not authenticated")

// Status is the client-visible snapshot of one session.
type Status struct {
	ID       string    `json:"session_id"`
	State    string    `json:"state"`
	Prompt   string    `json:"prompt,omitempty"`
	UserName string    `json:"user,omitempty"`
	Message  string    `json:"message,omitempty"`
	Token    string    `json:"token,omitempty"`
	Code     ErrorCode `json:"code,omitempty"`
	Error    string    `json:"error,omitempty"`
}

// Session is one client's authentication attempt. All fields are
// guarded by mu; the registry takes the lock around every operation so
// frames for one session are analyzed strictly in submission order.
type Session struct {
	mu sync.Mutex

	id      string
	mode    Mode
	machine *liveness.Machine

	// pendingName is the sanitized registration name, set at begin.
	pendingName string
	// userName is set if and only if the session is authenticated.
	userName string
	token    string
	message  string

	// outcome is the post-handoff state (authenticated, registered or
	// failed); StateIdle means the liveness machine still decides.
	outcome  State
	failCode ErrorCode

	// lastImage holds the bytes of the most recent image-bearing frame,
	// the input to the handoff once liveness passes.
	lastImage []byte

	streamer     *emotion.Streamer
	cancelStream context.CancelFunc

	createdAt time.Time
	lastSeen  time.Time
}

// currentState returns the effective session state, applying any
// elapsed liveness deadline first. Callers hold mu.
func (s *Session) currentState() State {
	if s.outcome != StateIdle {
		return s.outcome
	}

	switch s.machine.State() {
	case liveness.StateChallengeIssued:
		return StateChallengeIssued
	case liveness.StateVerifying:
		return StateVerifying
	case liveness.StatePassed:
		return StatePassed
	case liveness.StateFailed:
		s.syncFailure()
		return StateFailed
	default:
		return StateIdle
	}
}

// syncFailure records the liveness machine's failure reason as the
// session's terminal code. Callers hold mu.
func (s *Session) syncFailure() {
	switch s.machine.Reason() {
	case liveness.FailSpoofSuspected:
		s.failCode = CodeSpoofSuspected
	case liveness.FailTimeoutExceeded:
		s.failCode = CodeTimeout
	case liveness.FailRetriesExhausted:
		s.failCode = CodeRetriesExhausted
	}
}

// status builds the client-visible snapshot. Callers hold mu.
func (s *Session) status() Status {
	st := Status{
		ID:       s.id,
		State:    s.currentState().String(),
		UserName: s.userName,
		Message:  s.message,
		Token:    s.token,
	}

	if ch := s.machine.Challenge(); ch != nil && s.outcome == StateIdle {
		switch s.machine.State() {
		case liveness.StateChallengeIssued, liveness.StateVerifying:
			st.Prompt = ch.Prompt
		}
	}

	if s.currentState() == StateFailed && s.failCode != "" {
		st.Code = s.failCode
		st.Error = s.failCode.Message()
	}
	return st
}

// stopStreaming cancels the emotion loop if one is running. Callers
// hold mu; cancellation is observed at the loop's next sampling
// boundary.
func (s *Session) stopStreaming() {
	if s.cancelStream != nil {
		s.cancelStream()
		s.cancelStream = nil
		s.streamer = nil
	}
}
