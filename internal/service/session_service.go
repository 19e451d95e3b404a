package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/quizdeck/proctor-gateway/internal/config"
	"github.com/quizdeck/proctor-gateway/internal/integrity"
	"github.com/quizdeck/proctor-gateway/internal/model"
	"github.com/quizdeck/proctor-gateway/internal/session"
	"github.com/quizdeck/proctor-gateway/internal/upstream"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ErrSessionNotFound is returned when a token references no live session.
var ErrSessionNotFound = errors.New("session not found")

// SessionView is the full display state for one session: the engine
// snapshot plus the fullscreen-prompt countdown owned by the monitor.
type SessionView struct {
	SessionID string `json:"session_id"`
	session.Snapshot
	PromptActive     bool `json:"prompt_active"`
	PromptRemaining  int  `json:"prompt_remaining"`
	DisturbanceLimit int  `json:"disturbance_limit"`
}

// LiveSession bundles one session's engine and monitor with its stream
// subscribers.
type LiveSession struct {
	ID       string
	QuizID   string
	Username string
	Engine   *session.Engine
	Monitor  *integrity.Monitor

	mu   sync.Mutex
	subs map[chan SessionView]struct{}
}

// Subscribe registers a state-push channel. A full channel drops the
// update; the next one supersedes it.
func (ls *LiveSession) Subscribe() chan SessionView {
	ch := make(chan SessionView, 8)
	ls.mu.Lock()
	ls.subs[ch] = struct{}{}
	ls.mu.Unlock()
	return ch
}

// Unsubscribe detaches a state-push channel.
func (ls *LiveSession) Unsubscribe(ch chan SessionView) {
	ls.mu.Lock()
	delete(ls.subs, ch)
	ls.mu.Unlock()
}

func (ls *LiveSession) broadcast(view SessionView) {
	ls.mu.Lock()
	defer ls.mu.Unlock()
	for ch := range ls.subs {
		select {
		case ch <- view:
		default: // Slow consumer; a newer snapshot will follow.
		}
	}
}

// SessionService owns the registry of live proctored sessions: one engine
// and one monitor per session, autosave and audit queues in Redis, and the
// active-session guard per user.
type SessionService struct {
	cfg   *config.Config
	api   session.Collaborator
	rec   integrity.Recorder
	rdb   *redis.Client
	clock session.Clock
	log   zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*LiveSession
}

// NewSessionService creates a SessionService. api and rec are normally the
// same *upstream.Client.
func NewSessionService(cfg *config.Config, api session.Collaborator, rec integrity.Recorder, rdb *redis.Client, clock session.Clock, log zerolog.Logger) *SessionService {
	if clock == nil {
		clock = session.SystemClock{}
	}
	return &SessionService{
		cfg:      cfg,
		api:      api,
		rec:      rec,
		rdb:      rdb,
		clock:    clock,
		log:      log.With().Str("component", "session_service").Logger(),
		sessions: make(map[string]*LiveSession),
	}
}

// StartSession initializes the attempt upstream and brings up the full
// session: engine state seeded, integrity monitor attached, deadline clock
// running. A user who already has a live, unfinished session for the same
// quiz gets that session back instead of a second one.
func (s *SessionService) StartSession(ctx context.Context, bearer string, req model.StartSessionRequest) (*LiveSession, error) {
	token := upstream.StaticToken(bearer)

	eng := session.NewEngine(req.QuizID, token, s.api, s.clock, s.log)
	if err := eng.Initialize(ctx); err != nil {
		// Initialization failure is fatal to session start: no timers, no
		// monitors, no registry entry. The caller offers a manual reload.
		return nil, err
	}

	username := eng.Username()

	// One active session per user: resume the existing one when possible.
	if existing := s.findActive(ctx, username, req.QuizID); existing != nil {
		existing.Monitor.BeginSession(req.Fullscreen)
		return existing, nil
	}

	live := &LiveSession{
		ID:       uuid.New().String(),
		QuizID:   req.QuizID,
		Username: username,
		Engine:   eng,
		subs:     make(map[chan SessionView]struct{}),
	}

	mon := integrity.NewMonitor(
		eng,
		s.rec,
		token,
		func(tctx context.Context, reason session.TerminateReason) {
			eng.SubmitAttempt(tctx, reason)
		},
		s.clock,
		s.cfg.DisturbanceLimit,
		s.cfg.FullscreenGrace,
		s.log,
	)
	mon.SetAudit(func(ev integrity.AuditEvent) {
		s.queueViolation(live.ID, ev)
	})
	live.Monitor = mon

	eng.SetOnChange(func(snap session.Snapshot) {
		s.onChange(live, snap)
	})

	mon.BeginSession(req.Fullscreen)

	s.mu.Lock()
	s.sessions[live.ID] = live
	s.mu.Unlock()

	s.cacheSession(ctx, live)

	// The deadline poll outlives the start request; teardown stops it.
	eng.StartClock(context.Background())

	s.log.Info().
		Str("session_id", live.ID).
		Str("quiz_id", req.QuizID).
		Str("username", username).
		Msg("Session started")

	return live, nil
}

// Get returns a live session by id.
func (s *SessionService) Get(sessionID string) (*LiveSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return live, nil
}

// View builds the composed display state for one session.
func (s *SessionService) View(live *LiveSession) SessionView {
	return s.composeView(live, live.Engine.Snapshot())
}

// Teardown stops the session's timers and detaches its subscribers. The
// registry entry stays so the final state remains readable.
func (s *SessionService) Teardown(live *LiveSession) {
	live.Engine.Teardown()

	live.mu.Lock()
	for ch := range live.subs {
		delete(live.subs, ch)
		close(ch)
	}
	live.mu.Unlock()
}

// Shutdown tears down every live session. Called on process exit.
func (s *SessionService) Shutdown() {
	s.mu.Lock()
	all := make([]*LiveSession, 0, len(s.sessions))
	for _, live := range s.sessions {
		all = append(all, live)
	}
	s.mu.Unlock()

	for _, live := range all {
		s.Teardown(live)
	}
}

// onChange runs after every engine state mutation: pushes the composed view
// to stream subscribers, autosaves tentative answers, and on the terminal
// transition queues the result audit record and releases the user guard.
func (s *SessionService) onChange(live *LiveSession, snap session.Snapshot) {
	ctx := context.Background()
	view := s.composeView(live, snap)
	live.broadcast(view)

	// Last-known view, readable by ops tooling without touching the engine.
	if raw, err := json.Marshal(view); err == nil {
		s.rdb.Set(ctx, config.CacheKey.SessionKey(live.ID), raw, s.cfg.JWTExpiry)
	}

	s.autosaveAnswers(ctx, live.ID, snap)

	if snap.Ended {
		s.queueResult(live, snap)
		s.rdb.Del(ctx, config.CacheKey.UserActiveSessionKey(live.Username))
	}
}

func (s *SessionService) composeView(live *LiveSession, snap session.Snapshot) SessionView {
	remaining, active := live.Monitor.PromptRemaining()
	return SessionView{
		SessionID:        live.ID,
		Snapshot:         snap,
		PromptActive:     active,
		PromptRemaining:  remaining,
		DisturbanceLimit: s.cfg.DisturbanceLimit,
	}
}

// findActive resolves the user's cached active session, returning it only
// when it is still live, unfinished, and for the same quiz.
func (s *SessionService) findActive(ctx context.Context, username, quizID string) *LiveSession {
	id, err := s.rdb.Get(ctx, config.CacheKey.UserActiveSessionKey(username)).Result()
	if err != nil {
		return nil
	}

	s.mu.Lock()
	live, ok := s.sessions[id]
	s.mu.Unlock()

	if !ok || live.QuizID != quizID || live.Engine.Ended() {
		return nil
	}
	return live
}

// cacheSession records the Redis mappings used for reconnect and the
// active-session guard. Failures are logged, not fatal; the in-memory
// registry stays the source of truth.
func (s *SessionService) cacheSession(ctx context.Context, live *LiveSession) {
	pipe := s.rdb.Pipeline()
	pipe.Set(ctx, config.CacheKey.UserActiveSessionKey(live.Username), live.ID, s.cfg.JWTExpiry)
	pipe.Set(ctx, config.CacheKey.AttemptSessionKey(live.Engine.AttemptID()), live.ID, s.cfg.JWTExpiry)
	if _, err := pipe.Exec(ctx); err != nil {
		s.log.Warn().Err(err).Str("session_id", live.ID).Msg("Failed to cache session mappings")
	}
}

// autosaveAnswers mirrors the tentative answer map into a Redis hash so a
// reconnecting page can restore unsubmitted picks.
func (s *SessionService) autosaveAnswers(ctx context.Context, sessionID string, snap session.Snapshot) {
	if len(snap.Questions) == 0 {
		return
	}
	fields := make(map[string]interface{})
	for _, q := range snap.Questions {
		if q.Tentative != "" {
			fields[strconv.Itoa(q.Index)] = q.Tentative
		}
	}
	if len(fields) == 0 {
		return
	}
	key := config.CacheKey.SessionAnswersKey(sessionID)
	if err := s.rdb.HSet(ctx, key, fields).Err(); err != nil {
		s.log.Debug().Err(err).Str("session_id", sessionID).Msg("Answer autosave failed")
	}
}

// queueViolation pushes a violation audit record onto the worker queue.
func (s *SessionService) queueViolation(sessionID string, ev integrity.AuditEvent) {
	payload, err := json.Marshal(map[string]interface{}{
		"session_id": sessionID,
		"attempt_id": ev.AttemptID,
		"kind":       ev.Kind,
		"detail":     ev.Detail,
		"at":         ev.At,
	})
	if err != nil {
		return
	}
	if err := s.rdb.RPush(context.Background(), config.WorkerKey.PersistViolationsQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to queue violation audit record")
	}
}

// queueResult pushes the terminal submission outcome onto the worker queue.
func (s *SessionService) queueResult(live *LiveSession, snap session.Snapshot) {
	record := map[string]interface{}{
		"session_id": live.ID,
		"attempt_id": snap.AttemptID,
		"quiz_id":    live.QuizID,
		"username":   live.Username,
		"reason":     snap.Reason,
		"submit_err": snap.SubmitErr,
		"at":         s.clock.Now().Unix(),
	}
	if snap.Result != nil {
		record["result"] = snap.Result.Result
		record["percentage"] = snap.Result.Percentage
		record["marks"] = snap.Result.MarksObtained
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return
	}
	if err := s.rdb.RPush(context.Background(), config.WorkerKey.PersistResultsQueue, payload).Err(); err != nil {
		s.log.Warn().Err(err).Msg("Failed to queue result audit record")
	}
}

// ResumeAnswers loads the autosaved tentative answers for a session, keyed
// by question index.
func (s *SessionService) ResumeAnswers(ctx context.Context, sessionID string) (map[int]string, error) {
	raw, err := s.rdb.HGetAll(ctx, config.CacheKey.SessionAnswersKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load autosaved answers: %w", err)
	}
	out := make(map[int]string, len(raw))
	for k, v := range raw {
		idx, err := strconv.Atoi(k)
		if err != nil {
			continue
		}
		out[idx] = v
	}
	return out, nil
}
