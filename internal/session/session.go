// Package session keeps the per-browser dashboard session: the upstream API
// key, the user's name and email, and the categories they unlocked.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// DefaultTTL is how long a session lives after the last login.
const DefaultTTL = 7 * 24 * time.Hour

// ErrNoSession is returned when a session is missing or expired.
var ErrNoSession = errors.New("no active session")

// Storage keys, suffixed to the session id.
const (
	keyUser          = "user"
	keyExpiration    = "sessionExpiration"
	keyAuthenticated = "n8n_authenticated"
	keyToken         = "n8n_authenticated_token"

	// LoginCountKey counts successful API key logins across sessions.
	LoginCountKey = "login_count"
)

// User identifies who acts in a session.
type User struct {
	Name        string   `json:"name"`
	Email       string   `json:"email"`
	Permissions []string `json:"permissions"`
}

// Session is the explicit per-request session context.
type Session struct {
	ID        string
	User      *User
	APIKey    string
	ExpiresAt time.Time
	// System sessions act with the service's own key and pass every
	// category check.
	System bool
}

// NewSystem returns a session for non-browser callers.
func NewSystem(apiKey, actor string) *Session {
	return &Session{ID: "system", User: &User{Name: actor}, APIKey: apiKey, System: true}
}

// Authenticated reports whether an upstream API key was accepted.
func (s *Session) Authenticated() bool {
	return s != nil && s.APIKey != ""
}

// HasPermission reports whether the user unlocked a category.
func (s *Session) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	if s.System {
		return true
	}
	if s.User == nil {
		return false
	}
	return slices.Contains(s.User.Permissions, permission)
}

// Actor returns the name and email to record in the audit trail.
func (s *Session) Actor() (name, email string) {
	if s == nil || s.User == nil {
		return "", ""
	}
	return s.User.Name, s.User.Email
}

type ctxKey struct{}

// WithSession returns a context carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session stored in ctx, if any.
func FromContext(ctx context.Context) (*Session, bool) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	return s, ok && s != nil
}

// Manager loads and mutates sessions in a Store.
type Manager struct {
	store Store
	ttl   time.Duration
	now   func() time.Time
}

// NewManager creates a Manager. A zero ttl uses DefaultTTL.
func NewManager(store Store, ttl time.Duration) *Manager {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Manager{store: store, ttl: ttl, now: time.Now}
}

// NewID returns a fresh random session id.
func NewID() string {
	return uuid.New().String()
}

func key(id, name string) string {
	return id + ":" + name
}

// Load reads the session with the given id. An expired session is cleared
// and reported as ErrNoSession.
func (m *Manager) Load(ctx context.Context, id string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}

	expRaw, ok, err := m.store.Get(ctx, key(id, keyExpiration))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok {
		return nil, ErrNoSession
	}
	expMillis, err := strconv.ParseInt(expRaw, 10, 64)
	if err != nil {
		_ = m.Logout(ctx, id)
		return nil, ErrNoSession
	}
	expiresAt := time.UnixMilli(expMillis)
	if !expiresAt.After(m.now()) {
		if err := m.Logout(ctx, id); err != nil {
			return nil, err
		}
		return nil, ErrNoSession
	}

	s := &Session{ID: id, ExpiresAt: expiresAt}

	if authed, _, err := m.store.Get(ctx, key(id, keyAuthenticated)); err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	} else if authed == "true" {
		token, _, err := m.store.Get(ctx, key(id, keyToken))
		if err != nil {
			return nil, fmt.Errorf("failed to load session: %w", err)
		}
		s.APIKey = token
	}

	userRaw, ok, err := m.store.Get(ctx, key(id, keyUser))
	if err != nil {
		return nil, fmt.Errorf("failed to load session: %w", err)
	}
	if ok {
		var u User
		if err := json.Unmarshal([]byte(userRaw), &u); err == nil {
			s.User = &u
		}
	}

	return s, nil
}

// Authenticate stores an accepted upstream API key in the session, starting
// it if needed, and bumps the login counter.
func (m *Manager) Authenticate(ctx context.Context, id, apiKey string) (*Session, error) {
	if id == "" {
		id = NewID()
	}
	if err := m.store.Set(ctx, key(id, keyToken), apiKey, m.ttl); err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, key(id, keyAuthenticated), "true", m.ttl); err != nil {
		return nil, err
	}
	if _, err := m.store.Incr(ctx, LoginCountKey); err != nil {
		return nil, err
	}
	if err := m.touch(ctx, id); err != nil {
		return nil, err
	}
	return m.Load(ctx, id)
}

// ClearCredentials drops a rejected API key so a stale key is never reused.
func (m *Manager) ClearCredentials(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Remove(ctx, key(id, keyToken), key(id, keyAuthenticated))
}

// Grant records name and email and adds permission to the user, keeping
// previously granted permissions.
func (m *Manager) Grant(ctx context.Context, id, name, email, permission string) (*Session, error) {
	return m.saveUser(ctx, id, name, email, permission)
}

// Identify records name and email without granting anything.
func (m *Manager) Identify(ctx context.Context, id, name, email string) (*Session, error) {
	return m.saveUser(ctx, id, name, email, "")
}

func (m *Manager) saveUser(ctx context.Context, id, name, email, permission string) (*Session, error) {
	if id == "" {
		return nil, ErrNoSession
	}
	current, err := m.Load(ctx, id)
	if err != nil && !errors.Is(err, ErrNoSession) {
		return nil, err
	}

	u := User{Name: name, Email: email, Permissions: []string{}}
	if current != nil && current.User != nil {
		u.Permissions = slices.Clone(current.User.Permissions)
	}
	if permission != "" {
		u.Permissions = append(u.Permissions, permission)
	}
	slices.Sort(u.Permissions)
	u.Permissions = slices.Compact(u.Permissions)

	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	if err := m.store.Set(ctx, key(id, keyUser), string(data), m.ttl); err != nil {
		return nil, err
	}
	if err := m.touch(ctx, id); err != nil {
		return nil, err
	}
	return m.Load(ctx, id)
}

// Logout removes every key of the session.
func (m *Manager) Logout(ctx context.Context, id string) error {
	if id == "" {
		return nil
	}
	return m.store.Remove(ctx,
		key(id, keyUser),
		key(id, keyExpiration),
		key(id, keyAuthenticated),
		key(id, keyToken),
	)
}

// LoginCount returns the number of successful logins.
func (m *Manager) LoginCount(ctx context.Context) (int64, error) {
	v, ok, err := m.store.Get(ctx, LoginCountKey)
	if err != nil || !ok {
		return 0, err
	}
	return strconv.ParseInt(v, 10, 64)
}

func (m *Manager) touch(ctx context.Context, id string) error {
	exp := m.now().Add(m.ttl).UnixMilli()
	return m.store.Set(ctx, key(id, keyExpiration), strconv.FormatInt(exp, 10), m.ttl)
}
