package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"media-conversion-bot/internal/notify"
)

// Selection is the short-lived state of one title->kind->quality dialogue.
// Sessions live in Redis with a TTL: an abandoned dialogue simply expires,
// and a new title supersedes whatever was pending.
type Selection struct {
	UserID    int64                `json:"user_id"`
	ChatID    int64                `json:"chat_id"`
	Title     string               `json:"title"`
	Kind      string               `json:"kind,omitempty"`
	PromptMsg notify.MessageHandle `json:"prompt_msg"`
}

// Store keeps at most one pending selection per user.
type Store struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStore(client *redis.Client, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Store{client: client, ttl: ttl}
}

func key(userID int64) string {
	return fmt.Sprintf("session:%d", userID)
}

// Put stores the selection, replacing any pending one and refreshing the TTL.
func (s *Store) Put(ctx context.Context, sel Selection) error {
	data, err := json.Marshal(sel)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	if err := s.client.Set(ctx, key(sel.UserID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	return nil
}

// Get returns the pending selection, if any.
func (s *Store) Get(ctx context.Context, userID int64) (Selection, bool, error) {
	val, err := s.client.Get(ctx, key(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return Selection{}, false, nil
	}
	if err != nil {
		return Selection{}, false, fmt.Errorf("load session: %w", err)
	}
	var sel Selection
	if err := json.Unmarshal([]byte(val), &sel); err != nil {
		return Selection{}, false, fmt.Errorf("unmarshal session: %w", err)
	}
	return sel, true, nil
}

// Delete drops the pending selection.
func (s *Store) Delete(ctx context.Context, userID int64) error {
	if err := s.client.Del(ctx, key(userID)).Err(); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}
