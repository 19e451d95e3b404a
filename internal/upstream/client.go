package upstream

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// TokenSource supplies the bearer credential attached to every upstream call.
// The gateway never inspects the token; it belongs to the upstream backend.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource wrapping a fixed credential.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

// Client talks to the quiz backend's four collaborator operations. All
// methods convert transport errors, timeouts and non-2xx responses into a
// plain error; callers decide whether the failure is fatal.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient creates an upstream client. timeout bounds each call end-to-end.
func NewClient(baseURL string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "upstream_client").Logger(),
	}
}

// StartAttempt starts or resumes the caller's attempt for a quiz.
// POST /quiz/startquiz?quizId=...
func (c *Client) StartAttempt(ctx context.Context, token TokenSource, quizID string) (*StartAttemptResult, error) {
	var out StartAttemptResult
	params := url.Values{"quizId": {quizID}}
	if err := c.post(ctx, token, "/quiz/startquiz", params, &out); err != nil {
		return nil, err
	}
	if out.Attempt == nil {
		return nil, fmt.Errorf("start attempt: response missing attempt")
	}
	return &out, nil
}

// SubmitAnswer records one selected option for one question.
// POST /quiz/submit-answer?quizAttemptId=...&questionId=...&selectedOption=...
// Idempotent upstream by question id, so user-driven retries are safe.
func (c *Client) SubmitAnswer(ctx context.Context, token TokenSource, attemptID, questionID, option string) (*SubmitAnswerResult, error) {
	var out SubmitAnswerResult
	params := url.Values{
		"quizAttemptId":  {attemptID},
		"questionId":     {questionID},
		"selectedOption": {option},
	}
	if err := c.post(ctx, token, "/quiz/submit-answer", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// RecordDisturbance reports one proctoring violation and returns the
// authoritative disturbance total plus the end-quiz flag.
// POST /quiz/disturbance?attemptId=...
func (c *Client) RecordDisturbance(ctx context.Context, token TokenSource, attemptID string) (*DisturbanceResult, error) {
	var out DisturbanceResult
	params := url.Values{"attemptId": {attemptID}}
	if err := c.post(ctx, token, "/quiz/disturbance", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitAttempt performs the terminal whole-attempt submission.
// POST /quiz/submitQuiz?quizId=...
func (c *Client) SubmitAttempt(ctx context.Context, token TokenSource, quizID string) (*SubmitAttemptResult, error) {
	var out SubmitAttemptResult
	params := url.Values{"quizId": {quizID}}
	if err := c.post(ctx, token, "/quiz/submitQuiz", params, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) post(ctx context.Context, token TokenSource, path string, params url.Values, out interface{}) error {
	endpoint := c.baseURL + path
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := token.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Timeouts land here and are indistinguishable from other transport
		// failures on purpose.
		return fmt.Errorf("upstream %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("read upstream response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var eb errorBody
		if json.Unmarshal(body, &eb) == nil && eb.Message != "" {
			return fmt.Errorf("upstream %s: %s", path, eb.Message)
		}
		return fmt.Errorf("upstream %s: status %d", path, resp.StatusCode)
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode upstream response: %w", err)
	}
	return nil
}
