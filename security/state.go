package security

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateNotFound means the state value is unknown, expired, or already
// consumed.
var ErrStateNotFound = fmt.Errorf("oauth state not found or expired")

const stateTTL = 10 * time.Minute

// StateStore keeps one short-lived record per authorization attempt, keyed
// by a random state value. Each record maps back to the account that
// started the attempt and is consumed exactly once by the callback.
type StateStore struct {
	client *redis.Client
	ttl    time.Duration
}

func NewStateStore(client *redis.Client) *StateStore {
	return &StateStore{client: client, ttl: stateTTL}
}

// Create registers a new authorization attempt and returns its state value.
func (s *StateStore) Create(ctx context.Context, accountID int64) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	state := base64.RawURLEncoding.EncodeToString(raw)

	key := stateKey(state)
	if err := s.client.Set(ctx, key, strconv.FormatInt(accountID, 10), s.ttl).Err(); err != nil {
		return "", fmt.Errorf("store oauth state: %w", err)
	}
	return state, nil
}

// Consume resolves a state value to its account and deletes the record so
// it cannot be replayed.
func (s *StateStore) Consume(ctx context.Context, state string) (int64, error) {
	key := stateKey(state)
	raw, err := s.client.GetDel(ctx, key).Result()
	if err == redis.Nil {
		return 0, ErrStateNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("resolve oauth state: %w", err)
	}
	accountID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, ErrStateNotFound
	}
	return accountID, nil
}

func stateKey(state string) string {
	return "oauth_state:" + state
}
