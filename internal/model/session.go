package model

// ViolationKind enumerates the proctoring violation sources.
type ViolationKind string

const (
	ViolationFullscreenExit ViolationKind = "FULLSCREEN_EXIT"
	ViolationFocusLost      ViolationKind = "FOCUS_LOST"
	ViolationForbiddenKey   ViolationKind = "FORBIDDEN_KEY"
)

// StartSessionRequest opens a proctored session for a quiz. The bearer
// credential for the upstream backend travels in the Authorization header,
// not in the body.
type StartSessionRequest struct {
	QuizID string `json:"quiz_id" binding:"required,min=1,max=64"`
	// Fullscreen reports whether the page is already fullscreen at entry.
	// A false value raises the return-to-fullscreen prompt without counting
	// a violation.
	Fullscreen bool `json:"fullscreen"`
}

// SelectOptionRequest writes a tentative answer.
type SelectOptionRequest struct {
	QuestionIndex int    `json:"question_index" binding:"min=0"`
	Option        string `json:"option" binding:"required"`
}

// SubmitAnswerRequest confirms the tentative answer for one question.
type SubmitAnswerRequest struct {
	QuestionIndex int `json:"question_index" binding:"min=0"`
}

// ViolationRequest reports one observed proctoring violation.
type ViolationRequest struct {
	Kind   ViolationKind `json:"kind" binding:"required,oneof=FULLSCREEN_EXIT FOCUS_LOST FORBIDDEN_KEY"`
	Detail string        `json:"detail" binding:"max=255"`
}
