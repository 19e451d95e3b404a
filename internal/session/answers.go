package session

import (
	"github.com/quizdeck/proctor-gateway/internal/model"
)

// AnswerSheet holds the per-question answer state for one attempt: the
// option the user currently has picked (tentative) and the option last
// acknowledged by the upstream (submitted). Both maps are last-write-wins.
// The sheet is not goroutine-safe; the owning engine serializes access.
type AnswerSheet struct {
	tentative map[int]string
	submitted map[int]string
	total     int
}

// NewAnswerSheet seeds a sheet from the attempt's question list. A question
// resumed with a previously selected option seeds both maps, so no network
// call is needed to restore it.
func NewAnswerSheet(questions []model.Question) *AnswerSheet {
	s := &AnswerSheet{
		tentative: make(map[int]string, len(questions)),
		submitted: make(map[int]string, len(questions)),
		total:     len(questions),
	}
	for i, q := range questions {
		if q.SelectedOption != nil && *q.SelectedOption != "" {
			s.tentative[i] = *q.SelectedOption
			s.submitted[i] = *q.SelectedOption
		}
	}
	return s
}

// Select writes a tentative answer. Always permitted, regardless of
// submitted state.
func (s *AnswerSheet) Select(index int, option string) {
	s.tentative[index] = option
}

// Tentative returns the current tentative answer for a question.
func (s *AnswerSheet) Tentative(index int) (string, bool) {
	v, ok := s.tentative[index]
	return v, ok
}

// Submitted returns the last upstream-acknowledged answer for a question.
func (s *AnswerSheet) Submitted(index int) (string, bool) {
	v, ok := s.submitted[index]
	return v, ok
}

// SetSubmitted records an upstream-acknowledged answer. Callers pass the
// option the acknowledged call carried; a later acknowledgment for the same
// index simply overwrites (last response wins).
func (s *AnswerSheet) SetSubmitted(index int, option string) {
	s.submitted[index] = option
}

// SubmittedCount returns how many questions have an acknowledged answer.
func (s *AnswerSheet) SubmittedCount() int {
	return len(s.submitted)
}

// Total returns the number of questions on the sheet.
func (s *AnswerSheet) Total() int {
	return s.total
}

// TentativeSnapshot returns a copy of the tentative map, used for autosave.
func (s *AnswerSheet) TentativeSnapshot() map[int]string {
	out := make(map[int]string, len(s.tentative))
	for k, v := range s.tentative {
		out[k] = v
	}
	return out
}
