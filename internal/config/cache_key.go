package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// AttemptAnswersKey returns the cache key for an attempt's answer mirror.
// The hash maps question IDs to the latest saved answer so a reload can
// rebuild the palette without a round trip per question.
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptHeartbeatKey returns the cache key for an attempt's last heartbeat.
func (r *CacheKeyStruct) AttemptHeartbeatKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:heartbeat", attemptID)
}

// PaperPayloadKey returns the cache key for a paper's exam-safe payload
// (questions with the answer key stripped).
func (r *CacheKeyStruct) PaperPayloadKey(paperID string) string {
	return fmt.Sprintf("paper:%s:payload", paperID)
}

// UserActiveAttemptKey returns the cache key for a user's active attempt id.
func (r *CacheKeyStruct) UserActiveAttemptKey(userID string) string {
	return fmt.Sprintf("user:%s:active_attempt", userID)
}

var CacheKey = NewCacheKeyStruct()
