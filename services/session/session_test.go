package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/trezcool/gradebook/core"
)

func newManager(store Store) *Manager {
	conf := &core.Config{SecretKey: "secret"}
	conf.Server.SessionTTL = time.Hour
	return NewManager(conf, store)
}

func lastCookie(t *testing.T, rec *httptest.ResponseRecorder) *http.Cookie {
	t.Helper()
	cookies := rec.Result().Cookies()
	require.NotEmpty(t, cookies)
	return cookies[len(cookies)-1]
}

func requestWith(cookie *http.Cookie) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if cookie != nil {
		req.AddCookie(cookie)
	}
	return req
}

func TestManager_CreateLoad(t *testing.T) {
	ctx := context.Background()
	m := newManager(NewMemoryStore())
	data := Data{UserID: 7, Role: "teacher", MustChangePassword: true}

	rec := httptest.NewRecorder()
	id, err := m.Create(ctx, rec, "", data)
	require.NoError(t, err)

	cookie := lastCookie(t, rec)
	assert.Equal(t, CookieName, cookie.Name)
	assert.True(t, cookie.HttpOnly)
	assert.Equal(t, http.SameSiteLaxMode, cookie.SameSite)
	assert.Equal(t, 3600, cookie.MaxAge)
	assert.True(t, strings.HasPrefix(cookie.Value, id+"."))

	gotID, got, err := m.Load(requestWith(cookie))
	require.NoError(t, err)
	assert.Equal(t, id, gotID)
	assert.Equal(t, data, got)
}

func TestManager_Load_rejected(t *testing.T) {
	ctx := context.Background()
	m := newManager(NewMemoryStore())
	id, err := m.Create(ctx, httptest.NewRecorder(), "", Data{UserID: 1, Role: "admin"})
	require.NoError(t, err)

	other := NewManager(&core.Config{SecretKey: "another secret"}, NewMemoryStore())

	tests := []struct {
		name   string
		cookie *http.Cookie
	}{
		{name: "no cookie"},
		{name: "unsigned", cookie: &http.Cookie{Name: CookieName, Value: id}},
		{name: "empty signature", cookie: &http.Cookie{Name: CookieName, Value: id + "."}},
		{name: "tampered id", cookie: &http.Cookie{Name: CookieName, Value: "x" + m.encode(id)}},
		{name: "foreign key", cookie: &http.Cookie{Name: CookieName, Value: other.encode(id)}},
		{name: "unknown session", cookie: &http.Cookie{Name: CookieName, Value: m.encode("nope")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := m.Load(requestWith(tt.cookie))
			assert.Equal(t, ErrNotFound, err)
		})
	}
}

func TestManager_CreateRegeneratesID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newManager(store)

	oldID, err := m.Create(ctx, httptest.NewRecorder(), "", Data{UserID: 1, Role: "student"})
	require.NoError(t, err)
	newID, err := m.Create(ctx, httptest.NewRecorder(), oldID, Data{UserID: 1, Role: "student"})
	require.NoError(t, err)

	assert.NotEqual(t, oldID, newID)
	_, err = store.Get(ctx, oldID)
	assert.Equal(t, ErrNotFound, err)
}

func TestManager_SlidingExpiry(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 5, 10, 0, 0, 0, time.UTC)
	NowFunc = func() time.Time { return now }
	t.Cleanup(func() { NowFunc = time.Now })

	store := NewMemoryStore()
	m := newManager(store)
	id, err := m.Create(ctx, httptest.NewRecorder(), "", Data{UserID: 1, Role: "student"})
	require.NoError(t, err)

	now = now.Add(50 * time.Minute)
	rec := httptest.NewRecorder()
	require.NoError(t, m.Refresh(ctx, rec, id))
	assert.Equal(t, 3600, lastCookie(t, rec).MaxAge)

	now = now.Add(50 * time.Minute)
	_, err = store.Get(ctx, id)
	assert.NoError(t, err, "touched session outlives its first hour")

	now = now.Add(11 * time.Minute)
	_, err = store.Get(ctx, id)
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrNotFound, m.Refresh(ctx, httptest.NewRecorder(), id))
}

func TestManager_SaveAndDestroy(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	m := newManager(store)
	id, err := m.Create(ctx, httptest.NewRecorder(), "", Data{UserID: 3, Role: "teacher", MustChangePassword: true})
	require.NoError(t, err)

	require.NoError(t, m.Save(ctx, httptest.NewRecorder(), id, Data{UserID: 3, Role: "teacher"}))
	data, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.False(t, data.MustChangePassword)

	rec := httptest.NewRecorder()
	require.NoError(t, m.Destroy(ctx, rec, id))
	assert.Equal(t, -1, lastCookie(t, rec).MaxAge)
	_, err = store.Get(ctx, id)
	assert.Equal(t, ErrNotFound, err)

	assert.NoError(t, m.Destroy(ctx, httptest.NewRecorder(), ""))
}

// Runs against a live redis when TEST_REDIS_ADDR is set.
func TestRedisStore(t *testing.T) {
	addr := os.Getenv("TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	client := redis.NewClient(&redis.Options{Addr: addr})
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Ping(ctx).Err())

	store := NewRedisStore(client)
	data := Data{UserID: 9, Role: "admin"}
	require.NoError(t, store.Set(ctx, "redis-test", data, time.Minute))
	t.Cleanup(func() { _ = store.Delete(ctx, "redis-test") })

	got, err := store.Get(ctx, "redis-test")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Touch(ctx, "redis-test", time.Hour))
	ttl, err := client.TTL(ctx, sessionKey("redis-test")).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Minute)

	require.NoError(t, store.Delete(ctx, "redis-test"))
	_, err = store.Get(ctx, "redis-test")
	assert.Equal(t, ErrNotFound, err)
	assert.Equal(t, ErrNotFound, store.Touch(ctx, "redis-test", time.Hour))
}
