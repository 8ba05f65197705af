package session

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

var (
	NowFunc = time.Now // mockable

	ErrNotFound = errors.New("session not found")
)

// Data is the server-side payload of an authenticated session.
type Data struct {
	UserID             int64  `json:"user_id"`
	Role               string `json:"role"`
	MustChangePassword bool   `json:"must_change_password"`
}

// Store keeps session payloads by id. Entries expire after their TTL unless touched.
type Store interface {
	Get(ctx context.Context, id string) (Data, error)
	Set(ctx context.Context, id string, data Data, ttl time.Duration) error
	Touch(ctx context.Context, id string, ttl time.Duration) error
	Delete(ctx context.Context, id string) error
}

type memEntry struct {
	data    Data
	expires time.Time
}

type memoryStore struct {
	mu       sync.Mutex
	sessions map[string]memEntry
}

var _ Store = (*memoryStore)(nil) // interface compliance check

// NewMemoryStore returns a process-local Store. Expired entries are dropped lazily.
func NewMemoryStore() Store {
	return &memoryStore{sessions: make(map[string]memEntry)}
}

func (s *memoryStore) Get(_ context.Context, id string) (Data, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	if !ok {
		return Data{}, ErrNotFound
	}
	if !NowFunc().Before(entry.expires) {
		delete(s.sessions, id)
		return Data{}, ErrNotFound
	}
	return entry.data, nil
}

func (s *memoryStore) Set(_ context.Context, id string, data Data, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.sessions[id] = memEntry{data: data, expires: NowFunc().Add(ttl)}
	return nil
}

func (s *memoryStore) Touch(_ context.Context, id string, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.sessions[id]
	now := NowFunc()
	if !ok || !now.Before(entry.expires) {
		delete(s.sessions, id)
		return ErrNotFound
	}
	entry.expires = now.Add(ttl)
	s.sessions[id] = entry
	return nil
}

func (s *memoryStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.sessions, id)
	return nil
}

type redisStore struct {
	client *redis.Client
}

var _ Store = (*redisStore)(nil) // interface compliance check

// NewRedisStore returns a Store shared by every instance connected to the same redis.
func NewRedisStore(client *redis.Client) Store {
	return &redisStore{client: client}
}

func sessionKey(id string) string {
	return "gradebook:session:" + id
}

func (s *redisStore) Get(ctx context.Context, id string) (Data, error) {
	raw, err := s.client.Get(ctx, sessionKey(id)).Bytes()
	if err == redis.Nil {
		return Data{}, ErrNotFound
	}
	if err != nil {
		return Data{}, errors.Wrap(err, "redis.Get")
	}

	var data Data
	if err := json.Unmarshal(raw, &data); err != nil {
		return Data{}, errors.Wrap(err, "json.Unmarshal")
	}
	return data, nil
}

func (s *redisStore) Set(ctx context.Context, id string, data Data, ttl time.Duration) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return errors.Wrap(err, "json.Marshal")
	}
	return errors.Wrap(s.client.Set(ctx, sessionKey(id), raw, ttl).Err(), "redis.Set")
}

func (s *redisStore) Touch(ctx context.Context, id string, ttl time.Duration) error {
	ok, err := s.client.Expire(ctx, sessionKey(id), ttl).Result()
	if err != nil {
		return errors.Wrap(err, "redis.Expire")
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func (s *redisStore) Delete(ctx context.Context, id string) error {
	return errors.Wrap(s.client.Del(ctx, sessionKey(id)).Err(), "redis.Del")
}
