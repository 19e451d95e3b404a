package model

import (
	"time"
)

// AttemptStatus enumerates the upstream attempt lifecycle states.
type AttemptStatus string

const (
	AttemptStatusRegistered AttemptStatus = "REGISTERED"
	AttemptStatusInProgress AttemptStatus = "IN_PROGRESS"
	AttemptStatusCompleted  AttemptStatus = "COMPLETED"
)

// Attempt is the upstream-issued record of one user's run through one quiz.
// The question order is fixed by the upstream at attempt creation and is
// never reshuffled by the gateway. JSON tags follow the upstream wire format.
type Attempt struct {
	ID               string        `json:"id"`
	QuizID           string        `json:"quizId"`
	QuizStartTime    time.Time     `json:"quizStartTime"`
	DurationHours    float64       `json:"duration"`
	EndTime          string        `json:"endTime"` // scheduled end-of-window, "HH:MM"
	TotalDisturbance int           `json:"totalDisturbance"`
	Status           AttemptStatus `json:"status"`
	Questions        []Question    `json:"shuffledQuestions"`
}

// Question is one multiple-choice item within an attempt. Read-only on the
// gateway side; SelectedOption carries a previously submitted choice on resume.
type Question struct {
	ID             string   `json:"questionId"`
	QuestionText   string   `json:"questionText"`
	Options        []string `json:"options"`
	SelectedOption *string  `json:"selectedOption,omitempty"`
}

// HasOption reports whether option is one of the question's declared choices.
func (q Question) HasOption(option string) bool {
	for _, o := range q.Options {
		if o == option {
			return true
		}
	}
	return false
}
