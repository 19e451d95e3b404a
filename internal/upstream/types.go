package upstream

import (
	"github.com/quizdeck/proctor-gateway/internal/model"
)

// StartAttemptResult is the upstream response to the start/resume call.
type StartAttemptResult struct {
	Message string         `json:"message"`
	Attempt *model.Attempt `json:"attempt"`
	User    struct {
		Username string `json:"username"`
	} `json:"user"`
}

// SubmitAnswerResult is the upstream response to a single-answer submission.
type SubmitAnswerResult struct {
	Message string         `json:"message"`
	Attempt *model.Attempt `json:"attempt"`
}

// DisturbanceResult is the upstream response to a disturbance record. The
// returned total is authoritative and replaces any optimistic local count.
type DisturbanceResult struct {
	Message          string              `json:"message"`
	TotalDisturbance int                 `json:"totalDisturbance"`
	EndQuiz          bool                `json:"endQuiz"`
	Status           model.AttemptStatus `json:"status"`
}

// SubmitAttemptResult is the upstream response to the terminal submission.
type SubmitAttemptResult struct {
	Message       string  `json:"message"`
	Result        string  `json:"result"`
	Percentage    float64 `json:"percentage"`
	MarksObtained float64 `json:"marksObtained"`
}

// errorBody is the upstream failure envelope.
type errorBody struct {
	Message string `json:"message"`
}
