package integrity

import (
	"context"
	"sync"
	"time"

	"github.com/quizdeck/proctor-gateway/internal/model"
	"github.com/quizdeck/proctor-gateway/internal/session"
	"github.com/quizdeck/proctor-gateway/internal/upstream"
	"github.com/rs/zerolog"
)

// Account is the disturbance-accounting slice of the session engine. The
// monitor drives the counts but the engine owns them.
type Account interface {
	OptimisticDisturbance(description string) int
	CommitDisturbance(total int)
	RollbackDisturbance()
	AttemptID() string
	Ended() bool
}

// Recorder is the upstream slice the monitor calls for each violation.
type Recorder interface {
	RecordDisturbance(ctx context.Context, token upstream.TokenSource, attemptID string) (*upstream.DisturbanceResult, error)
}

// Terminator requests the single-shot terminal submission. The engine's
// guard arbitrates when multiple triggers race.
type Terminator func(ctx context.Context, reason session.TerminateReason)

// AuditEvent is handed to the audit hook for out-of-band persistence.
type AuditEvent struct {
	AttemptID string              `json:"attempt_id"`
	Kind      model.ViolationKind `json:"kind"`
	Detail    string              `json:"detail"`
	At        int64               `json:"at"`
}

// Monitor converts observed environment signals into disturbance events,
// reconciles the optimistic local count against the upstream-confirmed one,
// and enforces the local violation threshold.
type Monitor struct {
	acct      Account
	recorder  Recorder
	token     upstream.TokenSource
	terminate Terminator
	clock     session.Clock
	log       zerolog.Logger

	limit int
	grace time.Duration

	// audit, when set, receives every violation for async persistence.
	audit func(AuditEvent)

	mu             sync.Mutex
	started        bool
	promptDeadline time.Time // zero when no return-to-fullscreen prompt is up
}

// NewMonitor wires a monitor to one session's engine.
func NewMonitor(acct Account, recorder Recorder, token upstream.TokenSource, terminate Terminator, clock session.Clock, limit int, grace time.Duration, log zerolog.Logger) *Monitor {
	if clock == nil {
		clock = session.SystemClock{}
	}
	return &Monitor{
		acct:      acct,
		recorder:  recorder,
		token:     token,
		terminate: terminate,
		clock:     clock,
		limit:     limit,
		grace:     grace,
		log:       log.With().Str("component", "integrity_monitor").Logger(),
	}
}

// SetAudit registers the violation audit hook. Must be called before
// BeginSession.
func (m *Monitor) SetAudit(fn func(AuditEvent)) {
	m.audit = fn
}

// BeginSession records the initial fullscreen check. A session entered
// outside fullscreen raises the return prompt but never counts a violation;
// only transitions away from fullscreen after this point do.
func (m *Monitor) BeginSession(fullscreen bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.started = true
	if !fullscreen {
		m.promptDeadline = m.clock.Now().Add(m.grace)
	}
}

// FullscreenChanged handles a fullscreen transition. Entering fullscreen
// clears the prompt; leaving it after session start is one violation and
// re-raises the prompt.
func (m *Monitor) FullscreenChanged(ctx context.Context, active bool) {
	m.mu.Lock()
	if active {
		m.promptDeadline = time.Time{}
		m.mu.Unlock()
		return
	}
	started := m.started
	m.promptDeadline = m.clock.Now().Add(m.grace)
	m.mu.Unlock()

	if started {
		m.report(ctx, model.ViolationFullscreenExit, "Exited fullscreen mode")
	}
}

// FocusLost handles a window blur. Every occurrence is one violation.
func (m *Monitor) FocusLost(ctx context.Context) {
	m.report(ctx, model.ViolationFocusLost, "Window lost focus")
}

// KeyPressed handles a key combination reported by the page. Returns true
// when the combo is forbidden (the page has already prevented its default
// action).
func (m *Monitor) KeyPressed(ctx context.Context, combo string) bool {
	desc, forbidden := MatchForbiddenKey(combo)
	if !forbidden {
		return false
	}
	m.report(ctx, model.ViolationForbiddenKey, desc)
	return true
}

// Report handles a pre-classified violation from the REST surface.
func (m *Monitor) Report(ctx context.Context, kind model.ViolationKind, detail string) {
	if detail == "" {
		switch kind {
		case model.ViolationFullscreenExit:
			detail = "Exited fullscreen mode"
		case model.ViolationFocusLost:
			detail = "Window lost focus"
		case model.ViolationForbiddenKey:
			detail = "Forbidden key combination"
		}
	}
	if kind == model.ViolationFullscreenExit {
		m.mu.Lock()
		m.promptDeadline = m.clock.Now().Add(m.grace)
		m.mu.Unlock()
	}
	m.report(ctx, kind, detail)
}

// PromptRemaining returns the seconds left on the return-to-fullscreen
// prompt countdown, and whether the prompt is up at all. At zero the page
// is expected to re-request fullscreen programmatically.
func (m *Monitor) PromptRemaining() (int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.promptDeadline.IsZero() {
		return 0, false
	}
	remaining := m.promptDeadline.Sub(m.clock.Now())
	if remaining < 0 {
		remaining = 0
	}
	return int(remaining.Seconds()), true
}

// report runs the uniform violation path: optimistic increment and display,
// upstream record, authoritative replace or best-effort rollback, and both
// termination checks (server end-quiz flag, local threshold). Signals that
// arrive after the terminal transition are dropped; the final tally is
// already submitted and must not move.
func (m *Monitor) report(ctx context.Context, kind model.ViolationKind, detail string) {
	if m.acct.Ended() {
		m.log.Debug().
			Str("kind", string(kind)).
			Msg("Violation after session end, dropped")
		return
	}

	count := m.acct.OptimisticDisturbance(detail)

	m.log.Info().
		Str("kind", string(kind)).
		Str("detail", detail).
		Int("local_count", count).
		Msg("Violation detected")

	if m.audit != nil {
		m.audit(AuditEvent{
			AttemptID: m.acct.AttemptID(),
			Kind:      kind,
			Detail:    detail,
			At:        m.clock.Now().Unix(),
		})
	}

	// The local threshold is enforced before the round trip so a slow or
	// failed upstream cannot delay it.
	if count >= m.limit {
		m.terminate(ctx, session.ReasonDisturbanceLimit)
	}

	res, err := m.recorder.RecordDisturbance(ctx, m.token, m.acct.AttemptID())
	if err != nil {
		// Non-fatal: roll the optimistic increment back so the displayed
		// count never drifts above what the upstream confirmed. The
		// warning stays visible.
		m.log.Warn().Err(err).Msg("Disturbance record failed, rolling back")
		m.acct.RollbackDisturbance()
		return
	}

	m.acct.CommitDisturbance(res.TotalDisturbance)

	if res.EndQuiz {
		m.terminate(ctx, session.ReasonServerFlag)
		return
	}
	if res.TotalDisturbance >= m.limit {
		m.terminate(ctx, session.ReasonDisturbanceLimit)
	}
}
