//go:build e2e
// +build e2e

// End-to-end flow against an in-process gateway with a scripted upstream.
// Requires a reachable Redis (REDIS_URL, default localhost:6379). Postgres
// is not needed: the audit workers are not started here, queued records
// simply accumulate in Redis.
package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/quizdeck/proctor-gateway/internal/config"
	"github.com/quizdeck/proctor-gateway/internal/handler"
	"github.com/quizdeck/proctor-gateway/internal/router"
	"github.com/quizdeck/proctor-gateway/internal/service"
	"github.com/quizdeck/proctor-gateway/internal/upstream"
	"github.com/quizdeck/proctor-gateway/internal/validator"
)

// fakeQuizBackend scripts the four upstream operations.
type fakeQuizBackend struct {
	disturbances atomic.Int64
	submits      atomic.Int64
}

func (f *fakeQuizBackend) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/quiz/startquiz", func(w http.ResponseWriter, r *http.Request) {
		start := time.Now().UTC().Format(time.RFC3339)
		fmt.Fprintf(w, `{
			"message": "Quiz started",
			"attempt": {
				"id": "a1", "quizId": %q, "quizStartTime": %q,
				"duration": 1, "endTime": "23:59", "totalDisturbance": 0,
				"status": "IN_PROGRESS",
				"shuffledQuestions": [
					{"questionId": "q1", "questionText": "one", "options": ["A","B"]},
					{"questionId": "q2", "questionText": "two", "options": ["A","B"]}
				]
			},
			"user": {"username": "e2e_student"}
		}`, r.URL.Query().Get("quizId"), start)
	})
	mux.HandleFunc("/quiz/submit-answer", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"message": "saved"}`)
	})
	mux.HandleFunc("/quiz/disturbance", func(w http.ResponseWriter, r *http.Request) {
		n := f.disturbances.Add(1)
		fmt.Fprintf(w, `{"message": "recorded", "totalDisturbance": %d, "endQuiz": false, "status": "IN_PROGRESS"}`, n)
	})
	mux.HandleFunc("/quiz/submitQuiz", func(w http.ResponseWriter, r *http.Request) {
		f.submits.Add(1)
		fmt.Fprint(w, `{"message": "done", "result": "PASS", "percentage": 50, "marksObtained": 1}`)
	})
	return mux
}

type envelope struct {
	Data  json.RawMessage `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type startData struct {
	SessionToken string `json:"session_token"`
	State        state  `json:"state"`
}

type state struct {
	SessionID      string `json:"session_id"`
	AttemptID      string `json:"attempt_id"`
	Username       string `json:"username"`
	CurrentIndex   int    `json:"current_index"`
	TotalQuestions int    `json:"total_questions"`
	AnsweredCount  int    `json:"answered_count"`
	Disturbances   int    `json:"disturbances"`
	Ended          bool   `json:"ended"`
	Reason         string `json:"reason"`
}

func setupGateway(t *testing.T) (baseURL string, backend *fakeQuizBackend) {
	t.Helper()

	backend = &fakeQuizBackend{}
	upstreamSrv := httptest.NewServer(backend.handler())
	t.Cleanup(upstreamSrv.Close)

	cfg := config.Load()
	cfg.GinMode = "test"
	cfg.UpstreamBaseURL = upstreamSrv.URL
	cfg.JWTSecret = "e2e-secret"
	if v := os.Getenv("REDIS_URL"); v != "" {
		cfg.RedisURL = v
	}

	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		t.Fatalf("parse redis url: %v", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		t.Skipf("redis unavailable: %v", err)
	}
	t.Cleanup(func() { rdb.Close() })

	validator.Setup()
	log := zerolog.Nop()

	client := upstream.NewClient(cfg.UpstreamBaseURL, cfg.UpstreamTimeout, log)
	tokenService := service.NewTokenService(cfg)
	sessionService := service.NewSessionService(cfg, client, client, rdb, nil, log)
	t.Cleanup(sessionService.Shutdown)

	handlers := &router.Handlers{
		Session: handler.NewSessionHandler(sessionService, tokenService),
		WS:      handler.NewWSHandler(sessionService, log, nil),
	}
	gatewaySrv := httptest.NewServer(router.SetupRouter(tokenService, handlers, cfg))
	t.Cleanup(gatewaySrv.Close)

	return gatewaySrv.URL, backend
}

func call(t *testing.T, method, url, token string, body interface{}) (*http.Response, envelope) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req, err := http.NewRequest(method, url, &buf)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	return resp, env
}

func TestFullSessionFlow(t *testing.T) {
	baseURL, backend := setupGateway(t)

	// Start.
	resp, env := call(t, http.MethodPost, baseURL+"/api/v1/sessions", "upstream-bearer",
		map[string]interface{}{"quiz_id": "quiz-e2e", "fullscreen": true})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("start status = %d, error = %+v", resp.StatusCode, env.Error)
	}
	var started startData
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatal(err)
	}
	if started.SessionToken == "" || started.State.TotalQuestions != 2 {
		t.Fatalf("start data = %+v", started)
	}
	token := started.SessionToken

	// Select then confirm an answer.
	resp, _ = call(t, http.MethodPost, baseURL+"/api/v1/sessions/current/select", token,
		map[string]interface{}{"question_index": 0, "option": "A"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("select status = %d", resp.StatusCode)
	}
	resp, env = call(t, http.MethodPost, baseURL+"/api/v1/sessions/current/answers", token,
		map[string]interface{}{"question_index": 0})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("answer status = %d", resp.StatusCode)
	}
	var answered struct {
		State state `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &answered); err != nil {
		t.Fatal(err)
	}
	if answered.State.AnsweredCount != 1 || answered.State.CurrentIndex != 1 {
		t.Errorf("state after answer = %+v", answered.State)
	}

	// Three violations end the session.
	for i := 0; i < 3; i++ {
		resp, _ = call(t, http.MethodPost, baseURL+"/api/v1/sessions/current/violations", token,
			map[string]interface{}{"kind": "FOCUS_LOST"})
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("violation %d status = %d", i+1, resp.StatusCode)
		}
	}

	resp, env = call(t, http.MethodGet, baseURL+"/api/v1/sessions/current", token, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("state status = %d", resp.StatusCode)
	}
	var final struct {
		State state `json:"state"`
	}
	if err := json.Unmarshal(env.Data, &final); err != nil {
		t.Fatal(err)
	}
	if !final.State.Ended {
		t.Fatal("session not ended after three violations")
	}
	if final.State.Reason != "DISTURBANCE_LIMIT" {
		t.Errorf("reason = %q", final.State.Reason)
	}
	if n := backend.submits.Load(); n != 1 {
		t.Errorf("upstream submit calls = %d, want exactly 1", n)
	}
}

func TestUserSubmitIsIdempotent(t *testing.T) {
	baseURL, backend := setupGateway(t)

	_, env := call(t, http.MethodPost, baseURL+"/api/v1/sessions", "upstream-bearer",
		map[string]interface{}{"quiz_id": "quiz-idem", "fullscreen": true})
	var started startData
	if err := json.Unmarshal(env.Data, &started); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		resp, _ := call(t, http.MethodPost, baseURL+"/api/v1/sessions/current/submit", started.SessionToken, nil)
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("submit %d status = %d", i+1, resp.StatusCode)
		}
	}

	if n := backend.submits.Load(); n != 1 {
		t.Errorf("upstream submit calls = %d, want exactly 1", n)
	}
}

func TestStartRequiresBearer(t *testing.T) {
	baseURL, _ := setupGateway(t)

	resp, _ := call(t, http.MethodPost, baseURL+"/api/v1/sessions", "",
		map[string]interface{}{"quiz_id": "quiz-x"})
	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("status = %d, want 401", resp.StatusCode)
	}
}
