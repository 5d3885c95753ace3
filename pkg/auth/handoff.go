// Package auth implements the authentication handoff that runs once a
// liveness attempt passes: biometric login against the template store,
// and enrollment of new names. It consumes the embedding model and the
// store through small local interfaces so it can be tested with fakes.
package auth

import (
	"errors"
	"fmt"
	"strings"

	"github.com/facegate/facegate/pkg/config"
	"github.com/facegate/facegate/pkg/logging"
	"github.com/facegate/facegate/pkg/recognition"
	"github.com/facegate/facegate/pkg/storage"
	"github.com/facegate/facegate/pkg/vision"
)

// ErrInvalidName is returned when a registration name is empty after
// sanitization.
var ErrInvalidName = errors.New("invalid name")

// TemplateStore is the slice of the storage surface the handoff needs.
type TemplateStore interface {
	LookupAll() ([]recognition.NamedTemplate, error)
	Append(name string, embedding recognition.Embedding) error
	Exists(name string) bool
	UpdateLastUsed(name string) error
}

// LoginResult is a successful identity match.
type LoginResult struct {
	Name     string
	Distance float64
	Token    string
	Box      vision.Rectangle
}

// Handoff performs login and registration from the frame that
// completed a liveness attempt.
type Handoff struct {
	embedder vision.Embedder
	store    TemplateStore
	tokens   TokenIssuer
	cfg      config.RecognitionConfig
}

// NewHandoff creates a handoff. The token issuer may be nil when
// no access tokens are wanted (e.g. CLI enrollment paths).
func NewHandoff(embedder vision.Embedder, store TemplateStore, tokens TokenIssuer, cfg config.RecognitionConfig) *Handoff {
	return &Handoff{
		embedder: embedder,
		store:    store,
		tokens:   tokens,
		cfg:      cfg,
	}
}

// Login embeds the live face and selects the best-matching enrolled
// identity. The winner must beat the match threshold and clear the
// minimum margin to the runner-up; otherwise recognition.ErrNoMatch is
// returned. Input-quality errors from the embedder pass through.
func (h *Handoff) Login(image []byte) (LoginResult, error) {
	probe, box, err := h.embedder.Embed(image)
	if err != nil {
		return LoginResult{}, err
	}

	templates, err := h.store.LookupAll()
	if err != nil {
		return LoginResult{}, fmt.Errorf("failed to load templates: %w", err)
	}

	match, err := recognition.SelectIdentity(probe, templates, h.cfg.MatchThreshold, h.cfg.MinMargin)
	if err != nil {
		logging.WithFields(logging.Fields{
			"candidates": len(templates),
		}).Info("Login attempt did not match any enrolled face")
		return LoginResult{}, err
	}

	if err := h.store.UpdateLastUsed(match.Name); err != nil {
		logging.Warnf("Could not update last-used for %s: %v", match.Name, err)
	}

	result := LoginResult{Name: match.Name, Distance: match.Distance, Box: box}
	if h.tokens != nil {
		token, err := h.tokens.Issue(match.Name)
		if err != nil {
			return LoginResult{}, fmt.Errorf("failed to issue token: %w", err)
		}
		result.Token = token
	}

	logging.WithFields(logging.Fields{
		"user":     match.Name,
		"distance": fmt.Sprintf("%.3f", match.Distance),
	}).Info("Login matched enrolled face")
	return result, nil
}

// Register enrolls the live face under the given name. The name is
// sanitized first; duplicates surface as storage.ErrDuplicateName from
// the store's single-writer append. Returns the sanitized name.
func (h *Handoff) Register(name string, image []byte) (string, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return "", ErrInvalidName
	}

	probe, _, err := h.embedder.Embed(image)
	if err != nil {
		return "", err
	}

	embedding := recognition.Embedding{Vector: probe, Quality: 1.0, Angle: "front"}
	if err := h.store.Append(clean, embedding); err != nil {
		return "", err
	}

	return clean, nil
}

// CheckNameAvailable reports whether a registration name is valid and
// not yet enrolled, so a doomed attempt fails before the user performs
// the liveness challenge.
func (h *Handoff) CheckNameAvailable(name string) (string, error) {
	clean := SanitizeName(name)
	if clean == "" {
		return "", ErrInvalidName
	}
	if h.store.Exists(clean) {
		return "", fmt.Errorf("%q: %w", clean, storage.ErrDuplicateName)
	}
	return clean, nil
}

// SanitizeName reduces a raw name to letters, digits, spaces and
// underscores, with surrounding whitespace trimmed.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == ' ', r == '_':
			b.WriteRune(r)
		}
	}
	return strings.TrimSpace(b.String())
}
