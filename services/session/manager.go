package session

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/gradebook/core"
)

const CookieName = "sid"

var (
	salt = []byte("gradebook.services.session")

	errInvalidCookie = errors.New("invalid session cookie")
)

// Manager issues, loads and destroys sessions referenced by a signed `sid` cookie.
type Manager struct {
	store  Store
	key    [sha256.Size]byte
	ttl    time.Duration
	secure bool
}

func NewManager(conf *core.Config, store Store) *Manager {
	ttl := conf.Server.SessionTTL
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Manager{
		store:  store,
		key:    sha256.Sum256(append(salt, conf.SecretKey...)),
		ttl:    ttl,
		secure: conf.Server.SecureCookies,
	}
}

func (m *Manager) sign(id string) string {
	h := hmac.New(sha256.New, m.key[:])
	h.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(h.Sum(nil))
}

func (m *Manager) encode(id string) string {
	return id + "." + m.sign(id)
}

// decode returns the session id of a cookie value after checking its signature.
func (m *Manager) decode(value string) (string, error) {
	i := strings.LastIndexByte(value, '.')
	if i <= 0 || i == len(value)-1 {
		return "", errInvalidCookie
	}
	id, sig := value[:i], value[i+1:]
	if !hmac.Equal([]byte(sig), []byte(m.sign(id))) {
		return "", errInvalidCookie
	}
	return id, nil
}

func (m *Manager) setCookie(w http.ResponseWriter, value string, maxAge int) {
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// Load returns the session referenced by the request cookie.
// A missing, tampered or expired cookie yields ErrNotFound.
func (m *Manager) Load(r *http.Request) (string, Data, error) {
	cookie, err := r.Cookie(CookieName)
	if err != nil {
		return "", Data{}, ErrNotFound
	}
	id, err := m.decode(cookie.Value)
	if err != nil {
		return "", Data{}, ErrNotFound
	}
	data, err := m.store.Get(r.Context(), id)
	if err != nil {
		return "", Data{}, err
	}
	return id, data, nil
}

// Create starts a new session under a fresh id, discarding oldID if any.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter, oldID string, data Data) (string, error) {
	if oldID != "" {
		if err := m.store.Delete(ctx, oldID); err != nil {
			return "", errors.Wrap(err, "store.Delete")
		}
	}
	id := uuid.NewString()
	if err := m.store.Set(ctx, id, data, m.ttl); err != nil {
		return "", errors.Wrap(err, "store.Set")
	}
	m.setCookie(w, m.encode(id), int(m.ttl/time.Second))
	return id, nil
}

// Save replaces the payload of an existing session and restarts its TTL.
func (m *Manager) Save(ctx context.Context, w http.ResponseWriter, id string, data Data) error {
	if err := m.store.Set(ctx, id, data, m.ttl); err != nil {
		return errors.Wrap(err, "store.Set")
	}
	m.setCookie(w, m.encode(id), int(m.ttl/time.Second))
	return nil
}

// Refresh slides the expiry of the session and of its cookie.
func (m *Manager) Refresh(ctx context.Context, w http.ResponseWriter, id string) error {
	if err := m.store.Touch(ctx, id, m.ttl); err != nil {
		return err
	}
	m.setCookie(w, m.encode(id), int(m.ttl/time.Second))
	return nil
}

// Destroy removes the session and expires the cookie; the cookie is cleared even if the store fails.
func (m *Manager) Destroy(ctx context.Context, w http.ResponseWriter, id string) error {
	m.setCookie(w, "", -1)
	if id == "" {
		return nil
	}
	return errors.Wrap(m.store.Delete(ctx, id), "store.Delete")
}
