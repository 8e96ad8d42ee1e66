package identity

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// SessionRecord is the server-side state of an issued session
type SessionRecord struct {
	ID           string    `json:"id"`
	UserID       string    `json:"user_id"`
	Email        string    `json:"email"`
	RefreshToken string    `json:"refresh_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// Token kinds stored through SessionStore.SaveToken
const (
	TokenPasswordReset = "recovery"
	TokenConfirmEmail  = "confirm"
)

// SessionStore keeps session records and single-use tokens
type SessionStore interface {
	Save(ctx context.Context, rec SessionRecord) error
	Get(ctx context.Context, id string) (*SessionRecord, error)
	Delete(ctx context.Context, id string) error
	SaveToken(ctx context.Context, kind, token, userID string, ttl time.Duration) error
	// TakeToken returns the user the token was issued for and invalidates it.
	TakeToken(ctx context.Context, kind, token string) (string, error)
}

// RedisSessionStore stores sessions as JSON values with a TTL
type RedisSessionStore struct {
	client *redis.Client
}

func NewRedisSessionStore(client *redis.Client) *RedisSessionStore {
	return &RedisSessionStore{client: client}
}

func sessionKey(id string) string {
	return fmt.Sprintf("session:%s", id)
}

func tokenKey(kind, token string) string {
	return fmt.Sprintf("token:%s:%s", kind, token)
}

func (s *RedisSessionStore) Save(ctx context.Context, rec SessionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("json marshal error: %w", err)
	}
	ttl := time.Until(rec.ExpiresAt)
	if ttl <= 0 {
		return nil
	}
	return s.client.Set(ctx, sessionKey(rec.ID), data, ttl).Err()
}

func (s *RedisSessionStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	data, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	var rec SessionRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("json unmarshal error: %w", err)
	}
	return &rec, nil
}

func (s *RedisSessionStore) Delete(ctx context.Context, id string) error {
	return s.client.Del(ctx, sessionKey(id)).Err()
}

func (s *RedisSessionStore) SaveToken(ctx context.Context, kind, token, userID string, ttl time.Duration) error {
	return s.client.Set(ctx, tokenKey(kind, token), userID, ttl).Err()
}

func (s *RedisSessionStore) TakeToken(ctx context.Context, kind, token string) (string, error) {
	userID, err := s.client.GetDel(ctx, tokenKey(kind, token)).Result()
	if err == redis.Nil {
		return "", ErrInvalidToken
	}
	if err != nil {
		return "", fmt.Errorf("redis getdel error: %w", err)
	}
	return userID, nil
}

type memoryToken struct {
	userID    string
	expiresAt time.Time
}

// MemorySessionStore is used when Redis is unavailable. Expired entries are
// dropped lazily on read and by Sweep.
type MemorySessionStore struct {
	mu       sync.Mutex
	sessions map[string]SessionRecord
	tokens   map[string]memoryToken
	now      func() time.Time
}

func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{
		sessions: make(map[string]SessionRecord),
		tokens:   make(map[string]memoryToken),
		now:      time.Now,
	}
}

func (s *MemorySessionStore) Save(ctx context.Context, rec SessionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[rec.ID] = rec
	return nil
}

func (s *MemorySessionStore) Get(ctx context.Context, id string) (*SessionRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.sessions[id]
	if !ok || !s.now().Before(rec.ExpiresAt) {
		delete(s.sessions, id)
		return nil, ErrSessionNotFound
	}
	return &rec, nil
}

func (s *MemorySessionStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

func (s *MemorySessionStore) SaveToken(ctx context.Context, kind, token, userID string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens[tokenKey(kind, token)] = memoryToken{userID: userID, expiresAt: s.now().Add(ttl)}
	return nil
}

func (s *MemorySessionStore) TakeToken(ctx context.Context, kind, token string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := tokenKey(kind, token)
	t, ok := s.tokens[key]
	delete(s.tokens, key)
	if !ok || !s.now().Before(t.expiresAt) {
		return "", ErrInvalidToken
	}
	return t.userID, nil
}

// Sweep removes expired sessions and tokens and reports how many were dropped
func (s *MemorySessionStore) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	removed := 0
	for id, rec := range s.sessions {
		if !now.Before(rec.ExpiresAt) {
			delete(s.sessions, id)
			removed++
		}
	}
	for key, t := range s.tokens {
		if !now.Before(t.expiresAt) {
			delete(s.tokens, key)
			removed++
		}
	}
	return removed
}
