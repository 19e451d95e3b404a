package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/quizdeck/proctor-gateway/internal/model"
	"github.com/quizdeck/proctor-gateway/internal/upstream"
	"github.com/rs/zerolog"
)

// TerminateReason records which trigger claimed the terminal submission.
type TerminateReason string

const (
	ReasonTimerExpired     TerminateReason = "TIMER_EXPIRED"
	ReasonDisturbanceLimit TerminateReason = "DISTURBANCE_LIMIT"
	ReasonServerFlag       TerminateReason = "SERVER_END_FLAG"
	ReasonUserSubmit       TerminateReason = "USER_SUBMIT"
)

// Session errors surfaced to handlers.
var (
	ErrNotInitialized  = errors.New("session is not initialized")
	ErrSessionEnded    = errors.New("session has already ended")
	ErrIndexOutOfRange = errors.New("question index out of range")
)

// Collaborator is the slice of the upstream client the engine depends on.
// *upstream.Client satisfies it; tests substitute fakes.
type Collaborator interface {
	StartAttempt(ctx context.Context, token upstream.TokenSource, quizID string) (*upstream.StartAttemptResult, error)
	SubmitAnswer(ctx context.Context, token upstream.TokenSource, attemptID, questionID, option string) (*upstream.SubmitAnswerResult, error)
	RecordDisturbance(ctx context.Context, token upstream.TokenSource, attemptID string) (*upstream.DisturbanceResult, error)
	SubmitAttempt(ctx context.Context, token upstream.TokenSource, quizID string) (*upstream.SubmitAttemptResult, error)
}

// Engine owns one proctored attempt session: the attempt record, its answer
// and disturbance state, the deadline tracker, and the terminal transition.
// All mutable state behind mu; the terminal claim is a separate atomic so it
// can be taken synchronously from any trigger goroutine.
type Engine struct {
	quizID string
	token  upstream.TokenSource
	api    Collaborator
	clock  Clock
	log    zerolog.Logger

	mu       sync.Mutex
	attempt  *model.Attempt
	username string
	answers  *AnswerSheet
	current  int
	tracker  *DeadlineTracker

	disturbances  int
	lastViolation string

	ended     bool
	reason    TerminateReason
	result    *upstream.SubmitAttemptResult
	submitErr string

	// submitClaim is the single-shot guard for SubmitAttempt. Set-if-unset
	// before the upstream call begins, never reset.
	submitClaim atomic.Bool

	// onChange, when set, receives a snapshot after every state mutation.
	// Snapshots flow through notifyCh so subscribers observe them in
	// mutation order.
	onChange   func(Snapshot)
	notifyCh   chan Snapshot
	notifyDone bool
}

// NewEngine creates an engine for one quiz attempt. Call Initialize before
// any other operation.
func NewEngine(quizID string, token upstream.TokenSource, api Collaborator, clock Clock, log zerolog.Logger) *Engine {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Engine{
		quizID: quizID,
		token:  token,
		api:    api,
		clock:  clock,
		log:    log.With().Str("component", "session_engine").Str("quiz_id", quizID).Logger(),
	}
}

// SetOnChange registers the state push callback. Not synchronized; set it
// before the engine is shared with other goroutines.
func (e *Engine) SetOnChange(fn func(Snapshot)) {
	e.onChange = fn
	ch := make(chan Snapshot, 16)
	e.notifyCh = ch
	go func() {
		for snap := range ch {
			e.onChange(snap)
		}
	}()
}

// Initialize starts or resumes the attempt upstream and seeds all local
// state. On error nothing is seeded and no timers run; the caller surfaces
// the failure and offers a manual reload.
func (e *Engine) Initialize(ctx context.Context) error {
	res, err := e.api.StartAttempt(ctx, e.token, e.quizID)
	if err != nil {
		return fmt.Errorf("initialize session: %w", err)
	}

	end, derr := ComputeDeadline(res.Attempt.QuizStartTime, res.Attempt.DurationHours, res.Attempt.EndTime)
	tracker := NewDeadlineTracker(e.clock, end, derr == nil, func() {
		// Timer expiry is one of the terminal triggers; the single-shot
		// guard inside SubmitAttempt arbitrates between them.
		e.SubmitAttempt(context.Background(), ReasonTimerExpired)
	})
	if derr != nil {
		// Fail-open: a broken deadline must not spuriously end a
		// legitimate attempt. No countdown runs.
		e.log.Warn().
			Str("attempt_id", res.Attempt.ID).
			Str("end_time", res.Attempt.EndTime).
			Msg("Attempt has no usable deadline, countdown disabled")
	}

	e.mu.Lock()
	e.attempt = res.Attempt
	e.username = res.User.Username
	e.answers = NewAnswerSheet(res.Attempt.Questions)
	e.disturbances = res.Attempt.TotalDisturbance
	e.tracker = tracker
	e.mu.Unlock()

	e.log.Info().
		Str("attempt_id", res.Attempt.ID).
		Int("questions", len(res.Attempt.Questions)).
		Int("disturbances", res.Attempt.TotalDisturbance).
		Bool("deadline", derr == nil).
		Msg("Session initialized")

	return nil
}

// StartClock begins the one-second deadline poll. Separate from Initialize
// so callers control when monitoring starts.
func (e *Engine) StartClock(ctx context.Context) {
	e.mu.Lock()
	tracker := e.tracker
	e.mu.Unlock()
	if tracker != nil {
		tracker.Start(ctx)
	}
}

// SelectOption writes a tentative answer. Pure state update; option
// membership in the question's declared set is the presentation layer's
// concern (it renders a closed set of choices), but the index is bounded
// here since it crosses the wire.
func (e *Engine) SelectOption(index int, option string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.answers == nil {
		return ErrNotInitialized
	}
	if e.ended {
		return ErrSessionEnded
	}
	if index < 0 || index >= e.answers.Total() {
		return ErrIndexOutOfRange
	}

	e.answers.Select(index, option)
	e.current = index
	e.notifyLocked()
	return nil
}

// SubmitAnswer confirms the tentative answer for one question upstream.
// A question with no tentative answer is a no-op. On failure all local
// state is preserved and the user may simply retry (the upstream call is
// idempotent per question id). Concurrent submissions for the same index
// are last-response-wins.
func (e *Engine) SubmitAnswer(ctx context.Context, index int) error {
	e.mu.Lock()
	if e.answers == nil {
		e.mu.Unlock()
		return ErrNotInitialized
	}
	if e.ended {
		e.mu.Unlock()
		return ErrSessionEnded
	}
	if index < 0 || index >= e.answers.Total() {
		e.mu.Unlock()
		return ErrIndexOutOfRange
	}

	option, ok := e.answers.Tentative(index)
	if !ok {
		e.mu.Unlock()
		return nil // Nothing selected yet; explicit no-op per contract.
	}
	attemptID := e.attempt.ID
	questionID := e.attempt.Questions[index].ID
	total := e.answers.Total()
	e.mu.Unlock()

	if _, err := e.api.SubmitAnswer(ctx, e.token, attemptID, questionID, option); err != nil {
		e.log.Warn().Err(err).Int("question_index", index).Msg("Answer submission failed")
		return fmt.Errorf("submit answer: %w", err)
	}

	e.mu.Lock()
	// Record the option this call carried, not the current tentative value:
	// a newer in-flight submission must be able to overwrite this later.
	e.answers.SetSubmitted(index, option)
	if index == e.current && index < total-1 {
		e.current++
	}
	e.notifyLocked()
	e.mu.Unlock()
	return nil
}

// SubmitAttempt executes the terminal whole-attempt submission at most once
// per session, no matter how many triggers race for it. The claim is taken
// synchronously before the upstream call; a failed call is logged and the
// session still exits, since the attempt's authoritative status is owned
// upstream and a retry could double-submit.
func (e *Engine) SubmitAttempt(ctx context.Context, reason TerminateReason) {
	if !e.submitClaim.CompareAndSwap(false, true) {
		return
	}

	e.mu.Lock()
	if e.attempt == nil {
		e.mu.Unlock()
		return
	}
	quizID := e.attempt.QuizID
	if quizID == "" {
		quizID = e.quizID
	}
	tracker := e.tracker
	e.mu.Unlock()

	if tracker != nil {
		tracker.Stop()
	}

	e.log.Info().Str("reason", string(reason)).Msg("Submitting attempt")

	res, err := e.api.SubmitAttempt(ctx, e.token, quizID)

	e.mu.Lock()
	e.ended = true
	e.reason = reason
	if err != nil {
		e.submitErr = err.Error()
		e.log.Error().Err(err).Msg("Attempt submission failed; session exits regardless")
	} else {
		e.result = res
	}
	e.notifyLocked()
	e.mu.Unlock()
}

// Teardown stops the deadline poll and the snapshot dispatcher. Idempotent;
// called on session unmount.
func (e *Engine) Teardown() {
	e.mu.Lock()
	tracker := e.tracker
	if e.notifyCh != nil && !e.notifyDone {
		e.notifyDone = true
		close(e.notifyCh)
	}
	e.mu.Unlock()
	if tracker != nil {
		tracker.Stop()
	}
}

// Ended reports whether the terminal transition has completed.
func (e *Engine) Ended() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ended
}

// ─── Disturbance accounting (driven by the integrity monitor) ───────────

// OptimisticDisturbance increments the local count ahead of upstream
// confirmation and records the violation description for display. Returns
// the new local count. Once the session has ended the count is frozen; late
// reports return the final tally unchanged.
func (e *Engine) OptimisticDisturbance(description string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return e.disturbances
	}
	e.disturbances++
	e.lastViolation = description
	e.notifyLocked()
	return e.disturbances
}

// CommitDisturbance replaces the local count with the upstream's
// authoritative total. No-op once the session has ended.
func (e *Engine) CommitDisturbance(total int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended {
		return
	}
	e.disturbances = total
	e.notifyLocked()
}

// RollbackDisturbance undoes one optimistic increment after a failed
// upstream record. The violation warning stays visible; only the count
// retreats. No-op once the session has ended.
func (e *Engine) RollbackDisturbance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ended || e.disturbances == 0 {
		return
	}
	e.disturbances--
	e.notifyLocked()
}

// Disturbances returns the current local count.
func (e *Engine) Disturbances() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.disturbances
}

// AttemptID returns the upstream attempt identifier.
func (e *Engine) AttemptID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.attempt == nil {
		return ""
	}
	return e.attempt.ID
}

// Username returns the display name reported by the upstream.
func (e *Engine) Username() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.username
}

// notifyLocked queues a snapshot for the registered callback. Caller holds
// mu, so queue order matches mutation order; the dispatch goroutine delivers
// snapshots one at a time.
func (e *Engine) notifyLocked() {
	if e.notifyCh == nil || e.notifyDone {
		return
	}
	e.notifyCh <- e.snapshotLocked()
}
