package session

import (
	"github.com/quizdeck/proctor-gateway/internal/upstream"
)

// QuestionState is the display view of one question's answer state.
type QuestionState struct {
	Index        int      `json:"index"`
	QuestionText string   `json:"question_text"`
	Options      []string `json:"options"`
	Tentative    string   `json:"tentative,omitempty"`
	Submitted    string   `json:"submitted,omitempty"`
}

// Snapshot is the read-only view the presentation layer renders from. It is
// recomputed on every state change and pushed over the event stream.
type Snapshot struct {
	AttemptID string `json:"attempt_id"`
	QuizID    string `json:"quiz_id"`
	Username  string `json:"username"`

	CurrentIndex   int             `json:"current_index"`
	TotalQuestions int             `json:"total_questions"`
	AnsweredCount  int             `json:"answered_count"`
	Questions      []QuestionState `json:"questions"`

	RemainingSeconds int    `json:"remaining_seconds"`
	RemainingDisplay string `json:"remaining_display"`
	Urgent           bool   `json:"urgent"`
	DeadlineKnown    bool   `json:"deadline_known"`

	Disturbances  int    `json:"disturbances"`
	LastViolation string `json:"last_violation,omitempty"`

	Ended     bool                          `json:"ended"`
	Reason    TerminateReason               `json:"reason,omitempty"`
	Result    *upstream.SubmitAttemptResult `json:"result,omitempty"`
	SubmitErr string                        `json:"submit_error,omitempty"`
}

// Snapshot returns the current display view.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Engine) snapshotLocked() Snapshot {
	snap := Snapshot{
		QuizID:   e.quizID,
		Username: e.username,
	}
	if e.attempt == nil {
		return snap
	}

	snap.AttemptID = e.attempt.ID
	snap.CurrentIndex = e.current
	snap.TotalQuestions = e.answers.Total()
	snap.AnsweredCount = e.answers.SubmittedCount()

	snap.Questions = make([]QuestionState, len(e.attempt.Questions))
	for i, q := range e.attempt.Questions {
		qs := QuestionState{
			Index:        i,
			QuestionText: q.QuestionText,
			Options:      q.Options,
		}
		if v, ok := e.answers.Tentative(i); ok {
			qs.Tentative = v
		}
		if v, ok := e.answers.Submitted(i); ok {
			qs.Submitted = v
		}
		snap.Questions[i] = qs
	}

	if e.tracker != nil && e.tracker.Valid() {
		remaining := e.tracker.Remaining()
		snap.DeadlineKnown = true
		snap.RemainingSeconds = int(remaining.Seconds())
		snap.RemainingDisplay = FormatRemaining(remaining)
		snap.Urgent = e.tracker.Urgent()
	} else {
		snap.RemainingDisplay = FormatRemaining(0)
	}

	snap.Disturbances = e.disturbances
	snap.LastViolation = e.lastViolation
	snap.Ended = e.ended
	snap.Reason = e.reason
	snap.Result = e.result
	snap.SubmitErr = e.submitErr

	return snap
}
