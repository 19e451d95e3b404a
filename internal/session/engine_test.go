package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/quizdeck/proctor-gateway/internal/model"
	"github.com/quizdeck/proctor-gateway/internal/upstream"
	"github.com/rs/zerolog"
)

// fakeAPI is a scriptable Collaborator recording every call.
type fakeAPI struct {
	mu sync.Mutex

	startRes *upstream.StartAttemptResult
	startErr error

	answerErr   error
	answerCalls []string // question ids, in call order

	disturbRes *upstream.DisturbanceResult
	disturbErr error

	submitRes   *upstream.SubmitAttemptResult
	submitErr   error
	submitCalls int
}

func (f *fakeAPI) StartAttempt(ctx context.Context, token upstream.TokenSource, quizID string) (*upstream.StartAttemptResult, error) {
	if f.startErr != nil {
		return nil, f.startErr
	}
	return f.startRes, nil
}

func (f *fakeAPI) SubmitAnswer(ctx context.Context, token upstream.TokenSource, attemptID, questionID, option string) (*upstream.SubmitAnswerResult, error) {
	f.mu.Lock()
	f.answerCalls = append(f.answerCalls, questionID)
	f.mu.Unlock()
	if f.answerErr != nil {
		return nil, f.answerErr
	}
	return &upstream.SubmitAnswerResult{Message: "saved"}, nil
}

func (f *fakeAPI) RecordDisturbance(ctx context.Context, token upstream.TokenSource, attemptID string) (*upstream.DisturbanceResult, error) {
	if f.disturbErr != nil {
		return nil, f.disturbErr
	}
	return f.disturbRes, nil
}

func (f *fakeAPI) SubmitAttempt(ctx context.Context, token upstream.TokenSource, quizID string) (*upstream.SubmitAttemptResult, error) {
	f.mu.Lock()
	f.submitCalls++
	f.mu.Unlock()
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return f.submitRes, nil
}

func (f *fakeAPI) submitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitCalls
}

func testAttempt() *model.Attempt {
	return &model.Attempt{
		ID:            "attempt-1",
		QuizID:        "quiz-1",
		QuizStartTime: time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
		DurationHours: 1,
		EndTime:       "23:00",
		Questions: []model.Question{
			{ID: "q1", QuestionText: "one", Options: []string{"A", "B"}, SelectedOption: strPtr("A")},
			{ID: "q2", QuestionText: "two", Options: []string{"A", "B"}},
			{ID: "q3", QuestionText: "three", Options: []string{"A", "B"}},
		},
	}
}

func newTestEngine(t *testing.T, api *fakeAPI) *Engine {
	t.Helper()

	if api.startRes == nil {
		res := &upstream.StartAttemptResult{Attempt: testAttempt()}
		res.User.Username = "alice"
		api.startRes = res
	}
	if api.submitRes == nil {
		api.submitRes = &upstream.SubmitAttemptResult{Result: "PASS", Percentage: 80, MarksObtained: 8}
	}

	clock := newFakeClock(time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC))
	eng := NewEngine("quiz-1", upstream.StaticToken("tok"), api, clock, zerolog.Nop())
	if err := eng.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	return eng
}

func TestInitializeSeedsState(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})

	snap := eng.Snapshot()
	if snap.AttemptID != "attempt-1" {
		t.Errorf("AttemptID = %q", snap.AttemptID)
	}
	if snap.Username != "alice" {
		t.Errorf("Username = %q", snap.Username)
	}
	if snap.TotalQuestions != 3 {
		t.Errorf("TotalQuestions = %d", snap.TotalQuestions)
	}
	if snap.AnsweredCount != 1 {
		t.Errorf("AnsweredCount = %d, want 1 (resumed answer)", snap.AnsweredCount)
	}
	if !snap.DeadlineKnown {
		t.Error("DeadlineKnown = false with valid scheduling fields")
	}
	if snap.Questions[0].Submitted != "A" {
		t.Errorf("resumed answer not marked submitted: %q", snap.Questions[0].Submitted)
	}
}

func TestInitializeFailure(t *testing.T) {
	api := &fakeAPI{startErr: errors.New("upstream down")}
	clock := newFakeClock(time.Now())
	eng := NewEngine("quiz-1", upstream.StaticToken("tok"), api, clock, zerolog.Nop())

	if err := eng.Initialize(context.Background()); err == nil {
		t.Fatal("expected error")
	}
	if err := eng.SelectOption(0, "A"); !errors.Is(err, ErrNotInitialized) {
		t.Errorf("SelectOption after failed init: %v, want ErrNotInitialized", err)
	}
}

func TestInitializeMalformedDeadlineFailsOpen(t *testing.T) {
	attempt := testAttempt()
	attempt.EndTime = "not-a-time"
	res := &upstream.StartAttemptResult{Attempt: attempt}
	res.User.Username = "alice"
	eng := newTestEngine(t, &fakeAPI{startRes: res})

	snap := eng.Snapshot()
	if snap.DeadlineKnown {
		t.Error("DeadlineKnown = true with malformed end time")
	}
	if snap.Ended {
		t.Error("session ended by a broken deadline")
	}
}

func TestSelectOptionBounds(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})

	if err := eng.SelectOption(-1, "A"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("index -1: %v", err)
	}
	if err := eng.SelectOption(3, "A"); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("index 3: %v", err)
	}

	if err := eng.SelectOption(1, "B"); err != nil {
		t.Fatalf("valid select: %v", err)
	}
	snap := eng.Snapshot()
	if snap.CurrentIndex != 1 {
		t.Errorf("CurrentIndex = %d, want 1", snap.CurrentIndex)
	}
	if snap.Questions[1].Tentative != "B" {
		t.Errorf("Tentative = %q", snap.Questions[1].Tentative)
	}
}

func TestSubmitAnswerNoTentativeIsNoop(t *testing.T) {
	api := &fakeAPI{}
	eng := newTestEngine(t, api)

	if err := eng.SubmitAnswer(context.Background(), 1); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(api.answerCalls) != 0 {
		t.Errorf("upstream called %d times for an unanswered question", len(api.answerCalls))
	}
}

func TestSubmitAnswerFailurePreservesState(t *testing.T) {
	api := &fakeAPI{answerErr: errors.New("timeout")}
	eng := newTestEngine(t, api)

	if err := eng.SelectOption(1, "B"); err != nil {
		t.Fatal(err)
	}
	if err := eng.SubmitAnswer(context.Background(), 1); err == nil {
		t.Fatal("expected error")
	}

	snap := eng.Snapshot()
	if snap.Questions[1].Submitted != "" {
		t.Errorf("failed submission marked acknowledged: %q", snap.Questions[1].Submitted)
	}
	if snap.Questions[1].Tentative != "B" {
		t.Errorf("tentative lost on failure: %q", snap.Questions[1].Tentative)
	}
	if snap.Ended {
		t.Error("session ended by a failed answer submission")
	}

	// Retry succeeds.
	api.answerErr = nil
	if err := eng.SubmitAnswer(context.Background(), 1); err != nil {
		t.Fatalf("retry: %v", err)
	}
	if v := eng.Snapshot().Questions[1].Submitted; v != "B" {
		t.Errorf("Submitted = %q after retry", v)
	}
}

func TestSubmitAnswerAdvancesCurrent(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})

	if err := eng.SelectOption(0, "A"); err != nil {
		t.Fatal(err)
	}
	if err := eng.SubmitAnswer(context.Background(), 0); err != nil {
		t.Fatal(err)
	}
	if idx := eng.Snapshot().CurrentIndex; idx != 1 {
		t.Errorf("CurrentIndex = %d, want 1", idx)
	}

	// The last question never advances past the end.
	if err := eng.SelectOption(2, "B"); err != nil {
		t.Fatal(err)
	}
	if err := eng.SubmitAnswer(context.Background(), 2); err != nil {
		t.Fatal(err)
	}
	if idx := eng.Snapshot().CurrentIndex; idx != 2 {
		t.Errorf("CurrentIndex = %d, want 2", idx)
	}
}

func TestSubmitAttemptSingleShot(t *testing.T) {
	api := &fakeAPI{}
	eng := newTestEngine(t, api)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			eng.SubmitAttempt(context.Background(), ReasonUserSubmit)
		}()
	}
	wg.Wait()

	if n := api.submitCount(); n != 1 {
		t.Fatalf("upstream submit called %d times, want 1", n)
	}

	snap := eng.Snapshot()
	if !snap.Ended {
		t.Error("Ended = false after submit")
	}
	if snap.Reason != ReasonUserSubmit {
		t.Errorf("Reason = %q", snap.Reason)
	}
	if snap.Result == nil || snap.Result.Result != "PASS" {
		t.Errorf("Result = %+v", snap.Result)
	}

	// A later trigger with a different reason is swallowed.
	eng.SubmitAttempt(context.Background(), ReasonTimerExpired)
	if n := api.submitCount(); n != 1 {
		t.Errorf("late trigger reached upstream: %d calls", n)
	}
	if r := eng.Snapshot().Reason; r != ReasonUserSubmit {
		t.Errorf("late trigger overwrote reason: %q", r)
	}
}

func TestSubmitAttemptFailureStillEnds(t *testing.T) {
	api := &fakeAPI{submitErr: errors.New("502")}
	eng := newTestEngine(t, api)

	eng.SubmitAttempt(context.Background(), ReasonTimerExpired)

	snap := eng.Snapshot()
	if !snap.Ended {
		t.Error("session survived a failed terminal submission")
	}
	if snap.SubmitErr == "" {
		t.Error("SubmitErr empty after failure")
	}
	if snap.Result != nil {
		t.Errorf("Result = %+v after failure", snap.Result)
	}

	// The claim is never reset, so a retry cannot double-submit.
	eng.SubmitAttempt(context.Background(), ReasonUserSubmit)
	if n := api.submitCount(); n != 1 {
		t.Errorf("retry after failure reached upstream: %d calls", n)
	}
}

func TestOperationsRejectedAfterEnd(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})
	eng.SubmitAttempt(context.Background(), ReasonUserSubmit)

	if err := eng.SelectOption(0, "B"); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("SelectOption: %v", err)
	}
	if err := eng.SubmitAnswer(context.Background(), 0); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("SubmitAnswer: %v", err)
	}
}

func TestDisturbanceAccounting(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})

	if n := eng.OptimisticDisturbance("left fullscreen"); n != 1 {
		t.Fatalf("optimistic count = %d, want 1", n)
	}
	if snap := eng.Snapshot(); snap.LastViolation != "left fullscreen" {
		t.Errorf("LastViolation = %q", snap.LastViolation)
	}

	// Server total replaces, never adds.
	eng.CommitDisturbance(5)
	if n := eng.Disturbances(); n != 5 {
		t.Errorf("Disturbances = %d after commit, want 5", n)
	}

	eng.OptimisticDisturbance("blur")
	eng.RollbackDisturbance()
	if n := eng.Disturbances(); n != 5 {
		t.Errorf("Disturbances = %d after rollback, want 5", n)
	}
}

func TestDisturbanceSeededFromResume(t *testing.T) {
	attempt := testAttempt()
	attempt.TotalDisturbance = 2
	res := &upstream.StartAttemptResult{Attempt: attempt}
	res.User.Username = "alice"
	eng := newTestEngine(t, &fakeAPI{startRes: res})

	if n := eng.Disturbances(); n != 2 {
		t.Errorf("Disturbances = %d, want 2 from resume", n)
	}
}

func TestDisturbancesFrozenAfterEnd(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})
	eng.SubmitAttempt(context.Background(), ReasonUserSubmit)

	before := eng.Disturbances()
	for i := 0; i < 5; i++ {
		if n := eng.OptimisticDisturbance("late blur"); n != before {
			t.Fatalf("OptimisticDisturbance after end = %d, want %d", n, before)
		}
	}
	eng.CommitDisturbance(9)
	eng.RollbackDisturbance()

	if n := eng.Disturbances(); n != before {
		t.Errorf("Disturbances = %d after end, want %d unchanged", n, before)
	}
	if snap := eng.Snapshot(); snap.LastViolation != "" {
		t.Errorf("LastViolation = %q after end, want empty", snap.LastViolation)
	}
}

func TestSnapshotsDeliveredInMutationOrder(t *testing.T) {
	eng := newTestEngine(t, &fakeAPI{})
	defer eng.Teardown()

	got := make(chan Snapshot, 16)
	eng.SetOnChange(func(snap Snapshot) { got <- snap })

	for i := 0; i < 4; i++ {
		eng.OptimisticDisturbance("blur")
	}
	eng.SubmitAttempt(context.Background(), ReasonDisturbanceLimit)

	var snaps []Snapshot
	timeout := time.After(2 * time.Second)
	for len(snaps) < 5 {
		select {
		case snap := <-got:
			snaps = append(snaps, snap)
		case <-timeout:
			t.Fatalf("received %d snapshots, want 5", len(snaps))
		}
	}

	for i, snap := range snaps[:4] {
		if snap.Disturbances != i+1 {
			t.Errorf("snapshot[%d].Disturbances = %d, want %d", i, snap.Disturbances, i+1)
		}
		if snap.Ended {
			t.Errorf("snapshot[%d] ended before the terminal one", i)
		}
	}
	if last := snaps[4]; !last.Ended || last.Reason != ReasonDisturbanceLimit {
		t.Errorf("terminal snapshot = ended %v reason %q", last.Ended, last.Reason)
	}
}
