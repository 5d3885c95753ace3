package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"

	"github.com/oklog/ulid/v2"

	"github.com/facegate/facegate/pkg/auth"
	"github.com/facegate/facegate/pkg/clock"
	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/emotion"
	"github.com/facegate/facegate/pkg/liveness"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/recognition"
	"github.com/facegate/facegate/pkg/storage"
	"github.com/facegate/facegate/pkg/vision"
)

// Registry maps session ids to sessions and drives each one through
// liveness, handoff and emotion streaming. Sessions are independent
// and may run in parallel; access to any single session is serialized
// through its lock. Sessions are in-memory and ephemeral.
type Registry struct {
	cfg        *config.Config
	clk        clock.Clock
	detector   vision.LandmarkDetector
	classifier vision.EmotionClassifier
	handoff    *auth.Handoff

	mu       sync.RWMutex
	sessions map[string]*Session

	// seed supplies per-session challenge generator seeds; tests
	// replace it for deterministic sequences.
	seed func() int64

	janitorTicker clock.Ticker
	stop          chan struct{}
	done          chan struct{}
}

// NewRegistry creates a registry and starts its janitor, which applies
// elapsed liveness deadlines between frames and removes idle sessions.
// The janitor ticker is registered here, before the goroutine spawns,
// so no interval elapsing during startup goes unobserved.
func NewRegistry(cfg *config.Config, clk clock.Clock, detector vision.LandmarkDetector, classifier vision.EmotionClassifier, handoff *auth.Handoff) *Registry {
	r := &Registry{
		cfg:           cfg,
		clk:           clk,
		detector:      detector,
		classifier:    classifier,
		handoff:       handoff,
		sessions:      make(map[string]*Session),
		seed:          func() int64 { return clk.Now().UnixNano() ^ rand.Int63() },
		janitorTicker: clk.NewTicker(cfg.Session.JanitorInterval()),
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go r.janitor()
	return r
}

// Create allocates a new idle session and returns its snapshot.
func (r *Registry) Create() Status {
	id := ulid.MustNew(ulid.Timestamp(r.clk.Now()), ulid.DefaultEntropy()).String()

	now := r.clk.Now()
	sess := &Session{
		id:        id,
		machine:   liveness.NewMachine(r.cfg.Liveness, r.clk, liveness.NewGenerator(r.seed())),
		createdAt: now,
		lastSeen:  now,
	}

	r.mu.Lock()
	r.sessions[id] = sess
	r.mu.Unlock()

	logging.WithField("session", id).Debug("Session created")
	return Status{ID: id, State: StateIdle.String()}
}

// BeginLiveness starts a liveness attempt. In register mode the name
// is validated up front so a doomed enrollment fails before the user
// performs the challenge. Returns the initial prompt.
func (r *Registry) BeginLiveness(id string, mode Mode, name string) (Status, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return Status{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastSeen = r.clk.Now()

	if sess.currentState() != StateIdle {
		return sess.status(), ErrSessionNotActive
	}

	if mode == ModeRegister {
		clean, err := r.handoff.CheckNameAvailable(name)
		if err != nil {
			return sess.status(), err
		}
		sess.pendingName = clean
	}
	sess.mode = mode

	ch, err := sess.machine.Begin()
	if err != nil {
		return sess.status(), err
	}

	logging.WithFields(logging.Fields{
		"session":   id,
		"mode":      mode.String(),
		"challenge": ch.Action.String(),
	}).Info("Liveness attempt started")
	return sess.status(), nil
}

// SubmitFrame feeds one frame into the session. Liveness states run
// the metric pipeline; an authenticated session routes the frame to
// its emotion loop; any other state rejects it. Input-quality errors
// (no face, multiple faces) leave the attempt untouched and consume no
// retry.
func (r *Registry) SubmitFrame(id string, frame vision.Frame) (Status, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return Status{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	now := r.clk.Now()
	sess.lastSeen = now

	switch sess.currentState() {
	case StateChallengeIssued, StateVerifying:
		return r.observeFrame(sess, frame)
	case StatePassed:
		// Liveness already passed but the handoff still needs a usable
		// capture; keep accepting frames until one embeds.
		if len(frame.Image) > 0 {
			sess.lastImage = frame.Image
		}
		return r.runHandoff(sess)
	case StateAuthenticated:
		if frame.Timestamp.IsZero() {
			frame.Timestamp = now
		}
		sess.streamer.Submit(frame)
		return sess.status(), nil
	default:
		return sess.status(), ErrSessionNotActive
	}
}

// observeFrame runs the liveness pipeline for one frame. Callers hold
// the session lock.
func (r *Registry) observeFrame(sess *Session, frame vision.Frame) (Status, error) {
	set, err := vision.ResolveLandmarks(frame, r.detector)
	if err != nil {
		return sess.status(), err
	}
	if len(frame.Image) > 0 {
		sess.lastImage = frame.Image
	}

	mv := liveness.ExtractMetrics(set, frame.Timestamp)
	if err := sess.machine.Observe(mv); err != nil {
		return sess.status(), err
	}

	switch sess.machine.State() {
	case liveness.StatePassed:
		return r.runHandoff(sess)
	case liveness.StateFailed:
		sess.syncFailure()
	}
	return sess.status(), nil
}

// runHandoff performs login or registration from the frame that
// completed liveness. Callers hold the session lock.
func (r *Registry) runHandoff(sess *Session) (Status, error) {
	if len(sess.lastImage) == 0 {
		// Landmark-only frames carried the attempt; wait for a capture.
		return sess.status(), vision.ErrNoFaceDetected
	}

	if sess.mode == ModeRegister {
		name, err := r.handoff.Register(sess.pendingName, sess.lastImage)
		switch {
		case err == nil:
			sess.outcome = StateRegistered
			sess.message = fmt.Sprintf("User %s registered.", name)
			logging.WithField("user", name).Info("Registration completed")
			return sess.status(), nil
		case errors.Is(err, storage.ErrDuplicateName):
			sess.outcome = StateFailed
			sess.failCode = CodeDuplicateName
			return sess.status(), err
		default:
			// Input-quality or store errors leave the attempt in the
			// passed state so a better capture can retry the handoff.
			return sess.status(), err
		}
	}

	result, err := r.handoff.Login(sess.lastImage)
	switch {
	case err == nil:
		sess.outcome = StateAuthenticated
		sess.userName = result.Name
		sess.token = result.Token
		sess.message = fmt.Sprintf("Welcome, %s!", result.Name)
		r.startStreaming(sess)
		return sess.status(), nil
	case errors.Is(err, recognition.ErrNoMatch):
		sess.outcome = StateFailed
		sess.failCode = CodeNotRecognized
		return sess.status(), err
	default:
		return sess.status(), err
	}
}

// startStreaming launches the emotion loop for an authenticated
// session. Callers hold the session lock.
func (r *Registry) startStreaming(sess *Session) {
	ctx, cancel := context.WithCancel(context.Background())
	sess.streamer = emotion.NewStreamer(r.classifier, r.detector, r.cfg.Emotion, r.clk)
	sess.cancelStream = cancel
	go sess.streamer.Run(ctx)

	logging.WithFields(logging.Fields{
		"session": sess.id,
		"user":    sess.userName,
	}).Debug("Emotion streaming started")
}

// EmotionStream returns the reading channel of an authenticated
// session. The channel closes when the session resets or expires.
func (r *Registry) EmotionStream(id string) (<-chan emotion.Reading, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	sess.lastSeen = r.clk.Now()

	if sess.currentState() != StateAuthenticated {
		return nil, ErrNotAuthenticated
	}
	return sess.streamer.Readings(), nil
}

// Reset returns a session to idle, cancelling any emotion loop and
// clearing the attempt. This is the only way out of a failed state.
func (r *Registry) Reset(id string) (Status, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return Status{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	sess.stopStreaming()
	sess.machine.Reset()
	sess.mode = ModeLogin
	sess.pendingName = ""
	sess.userName = ""
	sess.token = ""
	sess.message = ""
	sess.outcome = StateIdle
	sess.failCode = ""
	sess.lastImage = nil
	sess.lastSeen = r.clk.Now()

	logging.WithField("session", id).Debug("Session reset")
	return sess.status(), nil
}

// Status returns the session snapshot, applying any elapsed liveness
// deadline so expiry is observed even between frames.
func (r *Registry) Status(id string) (Status, error) {
	sess, err := r.lookup(id)
	if err != nil {
		return Status{}, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	return sess.status(), nil
}

// Remove destroys a session, stopping its emotion loop.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	sess, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()

	if ok {
		sess.mu.Lock()
		sess.stopStreaming()
		sess.mu.Unlock()
		logging.WithField("session", id).Debug("Session removed")
	}
}

// Close stops the janitor and destroys every session.
func (r *Registry) Close() {
	close(r.stop)
	<-r.done

	r.mu.Lock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.sessions = make(map[string]*Session)
	r.mu.Unlock()

	for _, sess := range sessions {
		sess.mu.Lock()
		sess.stopStreaming()
		sess.mu.Unlock()
	}
}

// CodeFor maps a domain error to its client-facing code. Unknown
// errors map to the empty code.
func CodeFor(err error) ErrorCode {
	switch {
	case errors.Is(err, vision.ErrNoFaceDetected):
		return CodeNoFace
	case errors.Is(err, vision.ErrMultipleFaces):
		return CodeMultipleFaces
	case errors.Is(err, recognition.ErrNoMatch):
		return CodeNotRecognized
	case errors.Is(err, storage.ErrDuplicateName):
		return CodeDuplicateName
	case errors.Is(err, auth.ErrInvalidName):
		return CodeInvalidName
	case errors.Is(err, ErrSessionNotActive), errors.Is(err, ErrNotAuthenticated):
		return CodeSessionNotActive
	default:
		return ""
	}
}

// lookup finds a session by id.
func (r *Registry) lookup(id string) (*Session, error) {
	r.mu.RLock()
	sess, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

// janitor periodically applies elapsed deadlines to sessions that see
// no traffic and expires sessions idle past the TTL.
func (r *Registry) janitor() {
	defer close(r.done)
	defer r.janitorTicker.Stop()

	for {
		select {
		case <-r.stop:
			return
		case <-r.janitorTicker.C():
			r.sweep()
		}
	}
}

// sweep runs one janitor pass.
func (r *Registry) sweep() {
	now := r.clk.Now()
	ttl := r.cfg.Session.IdleTTL()

	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, sess := range r.sessions {
		sessions = append(sessions, sess)
	}
	r.mu.RUnlock()

	var expired []string
	for _, sess := range sessions {
		sess.mu.Lock()
		sess.currentState() // applies elapsed liveness deadlines
		if now.Sub(sess.lastSeen) > ttl {
			expired = append(expired, sess.id)
		}
		sess.mu.Unlock()
	}

	for _, id := range expired {
		logging.WithField("session", id).Info("Expiring idle session")
		r.Remove(id)
	}
}
