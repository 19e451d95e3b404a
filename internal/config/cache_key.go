package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// SessionKey returns the cache key for a live session's snapshot.
func (r *CacheKeyStruct) SessionKey(sessionID string) string {
	return fmt.Sprintf("session:%s:snapshot", sessionID)
}

// SessionAnswersKey returns the cache key for a session's tentative answers.
func (r *CacheKeyStruct) SessionAnswersKey(sessionID string) string {
	return fmt.Sprintf("session:%s:answers", sessionID)
}

// UserActiveSessionKey returns the cache key guarding one active session per user.
func (r *CacheKeyStruct) UserActiveSessionKey(userName string) string {
	return fmt.Sprintf("user:%s:active_session", userName)
}

// AttemptSessionKey maps an upstream attempt id back to its gateway session.
func (r *CacheKeyStruct) AttemptSessionKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:session", attemptID)
}

var CacheKey = NewCacheKeyStruct()
