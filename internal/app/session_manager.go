package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/MrWong99/advisorsim/internal/conversation"
	"github.com/MrWong99/advisorsim/internal/feedback"
	"github.com/MrWong99/advisorsim/internal/scenario"
)

// ErrUnknownScenario is returned by [SessionManager.Start] when the query
// matches no scenario of the catalogue.
var ErrUnknownScenario = errors.New("unknown scenario")

// SessionInfo holds metadata about the active training session.
type SessionInfo struct {
	// SessionID is the unique identifier for this session.
	SessionID string

	// ScenarioID is the persona being played.
	ScenarioID string

	// Title is the scenario's display title.
	Title string

	// StartedAt is when the session was started.
	StartedAt time.Time
}

// SessionManager runs training sessions on one [conversation.Conversation].
// Only one session can be active at a time. All exported methods are safe
// for concurrent use.
type SessionManager struct {
	mu     sync.Mutex
	active bool
	info   SessionInfo

	conv      *conversation.Conversation
	catalogue *scenario.Catalogue
	store     feedback.Store
	log       *slog.Logger
	now       func() time.Time
}

// SessionManagerConfig holds all dependencies for a [SessionManager].
type SessionManagerConfig struct {
	Conversation *conversation.Conversation
	Catalogue    *scenario.Catalogue
	Store        feedback.Store
	Logger       *slog.Logger

	// Now defaults to time.Now.
	Now func() time.Time
}

// NewSessionManager creates a SessionManager with the given dependencies.
func NewSessionManager(cfg SessionManagerConfig) *SessionManager {
	sm := &SessionManager{
		conv:      cfg.Conversation,
		catalogue: cfg.Catalogue,
		store:     cfg.Store,
		log:       cfg.Logger,
		now:       cfg.Now,
	}
	if sm.store == nil {
		sm.store = feedback.NopStore{}
	}
	if sm.log == nil {
		sm.log = slog.Default()
	}
	if sm.now == nil {
		sm.now = time.Now
	}
	return sm
}

// Start resolves query against the catalogue and begins a session with the
// matching scenario. A report left on screen by the previous session is
// dismissed first.
//
// A failed greeting still leaves the session active so the advisor can
// retry by sending a message; the error is returned for display.
func (sm *SessionManager) Start(ctx context.Context, query string) (scenario.Scenario, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if sm.active {
		return scenario.Scenario{}, fmt.Errorf("session: a session is already active (id=%s)", sm.info.SessionID)
	}
	sc, ok := sm.catalogue.Find(query)
	if !ok {
		return scenario.Scenario{}, fmt.Errorf("session: %w: %q", ErrUnknownScenario, query)
	}
	if sm.conv.Mode() == conversation.ModeFeedback {
		if err := sm.conv.Reset(); err != nil {
			return scenario.Scenario{}, fmt.Errorf("session: dismiss report: %w", err)
		}
	}

	now := sm.now().UTC()
	sm.info = SessionInfo{
		SessionID:  fmt.Sprintf("session-%s-%s", sanitizeName(sc.ID), now.Format("20060102T150405Z")),
		ScenarioID: sc.ID,
		Title:      sc.Title,
		StartedAt:  now,
	}

	err := sm.conv.Start(ctx, sc)
	if sm.conv.Mode() == conversation.ModeIdle {
		sm.info = SessionInfo{}
		return scenario.Scenario{}, fmt.Errorf("session: start: %w", err)
	}
	sm.active = true
	sm.log.Info("session started", "session_id", sm.info.SessionID, "scenario", sc.ID)
	if err != nil {
		return sc, fmt.Errorf("session: greeting: %w", err)
	}
	return sc, nil
}

// Send forwards an advisor message and returns the persona's reply.
func (sm *SessionManager) Send(ctx context.Context, text string) (string, error) {
	if !sm.IsActive() {
		return "", fmt.Errorf("session: no active session")
	}
	return sm.conv.SendText(ctx, text)
}

// ToggleVoice starts or stops the voice call of the active session and
// reports whether voice is active afterwards.
func (sm *SessionManager) ToggleVoice(ctx context.Context) (bool, error) {
	if !sm.IsActive() {
		return false, fmt.Errorf("session: no active session")
	}
	return sm.conv.ToggleVoice(ctx)
}

// SpeakLast replays the persona's last line through the speech output.
func (sm *SessionManager) SpeakLast(ctx context.Context) {
	sm.conv.SpeakLast(ctx)
}

// End finishes the active session and returns its outcome.
func (sm *SessionManager) End(ctx context.Context) (conversation.Outcome, error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	if !sm.active {
		return conversation.Outcome{}, fmt.Errorf("session: no active session to end")
	}
	out, err := sm.conv.End(ctx)
	if err != nil {
		return conversation.Outcome{}, fmt.Errorf("session: end: %w", err)
	}

	sm.log.Info("session ended",
		"session_id", sm.info.SessionID,
		"path", out.Path,
		"duration", sm.now().UTC().Sub(sm.info.StartedAt).Round(time.Second),
	)
	sm.active = false
	sm.info = SessionInfo{}
	return out, nil
}

// Reset dismisses the report of the last session.
func (sm *SessionManager) Reset() error {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	if sm.active {
		return fmt.Errorf("session: end the active session first")
	}
	return sm.conv.Reset()
}

// IsActive reports whether a session is running.
func (sm *SessionManager) IsActive() bool {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.active
}

// Info returns the metadata of the active session.
func (sm *SessionManager) Info() (SessionInfo, bool) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.info, sm.active
}

// Mode returns the conversation mode.
func (sm *SessionManager) Mode() conversation.Mode { return sm.conv.Mode() }

// History returns up to limit report records, newest first. An empty
// scenarioID lists every scenario.
func (sm *SessionManager) History(ctx context.Context, scenarioID string, limit int) ([]feedback.Record, error) {
	recs, err := sm.store.Recent(ctx, scenarioID, limit)
	if err != nil {
		return nil, fmt.Errorf("session: history: %w", err)
	}
	return recs, nil
}

// sanitizeName replaces characters that are not alphanumeric or hyphens
// with hyphens and lowercases the result.
func sanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') || r == '-' {
			b.WriteRune(r)
		} else {
			b.WriteRune('-')
		}
	}
	return b.String()
}
