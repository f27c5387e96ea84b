package auth

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"flowdeck/backend/internal/config"
	"flowdeck/backend/internal/session"
	"flowdeck/backend/pkg/models"
)

// NoOpLogger for testing
type NoOpLogger struct{}

func (l *NoOpLogger) Debug(msg string, args ...any) {}
func (l *NoOpLogger) Info(msg string, args ...any)  {}
func (l *NoOpLogger) Error(msg string, args ...any) {}

// MockKeySet satisfies oidc.KeySet to bypass signature verification
type MockKeySet struct{}

func (m *MockKeySet) VerifySignature(ctx context.Context, jwtToken string) ([]byte, error) {
	parts := strings.Split(jwtToken, ".")
	if len(parts) != 3 {
		return nil, fmt.Errorf("malformed jwt")
	}
	return base64.RawURLEncoding.DecodeString(parts[1])
}

// MockKeyVerifier satisfies KeyVerifier
type MockKeyVerifier struct {
	mock.Mock
}

func (m *MockKeyVerifier) VerifyAPIKey(ctx context.Context, apiKey string) error {
	args := m.Called(ctx, apiKey)
	return args.Error(0)
}

func newTestAuth(t *testing.T, keys KeyVerifier) (*Auth, *session.Manager) {
	t.Helper()
	cfg := &config.Config{
		Environment: "PROD",
		Categories:  map[string]string{"analysis": "11", "test": "testpass"},
	}
	sessions := session.NewManager(session.NewMemoryStore(), time.Hour)
	a, err := New(context.Background(), cfg, sessions, keys, &NoOpLogger{})
	require.NoError(t, err)
	return a, sessions
}

func post(t *testing.T, h http.HandlerFunc, sid string, body any) *httptest.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/auth", strings.NewReader(string(data)))
	req.Header.Set("Content-Type", "application/json")
	if sid != "" {
		req.AddCookie(&http.Cookie{Name: SessionCookie, Value: sid})
	}
	rec := httptest.NewRecorder()
	h(rec, req)
	return rec
}

func cookieValue(rec *httptest.ResponseRecorder, name string) string {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c.Value
		}
	}
	return ""
}

func fakeToken(t *testing.T, claims map[string]any) string {
	t.Helper()
	headerBytes, _ := json.Marshal(map[string]any{"alg": "RS256", "typ": "JWT", "kid": "test-key"})
	payload, err := json.Marshal(claims)
	require.NoError(t, err)
	return base64.RawURLEncoding.EncodeToString(headerBytes) + "." +
		base64.RawURLEncoding.EncodeToString(payload) + "." +
		base64.RawURLEncoding.EncodeToString([]byte("fakesignature"))
}

func TestLoginHandler_Success(t *testing.T) {
	keys := new(MockKeyVerifier)
	keys.On("VerifyAPIKey", mock.Anything, "good-key").Return(nil).Once()
	a, sessions := newTestAuth(t, keys)

	rec := post(t, a.LoginHandler, "", map[string]string{"apiKey": " good-key "})

	assert.Equal(t, http.StatusOK, rec.Code)
	sid := cookieValue(rec, SessionCookie)
	require.NotEmpty(t, sid)

	s, err := sessions.Load(context.Background(), sid)
	require.NoError(t, err)
	assert.Equal(t, "good-key", s.APIKey)

	var v SessionView
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v))
	assert.True(t, v.Authenticated)
	keys.AssertExpectations(t)
}

func TestLoginHandler_RejectedKeyClearsCredentials(t *testing.T) {
	keys := new(MockKeyVerifier)
	keys.On("VerifyAPIKey", mock.Anything, "stale").Return(errors.New("401")).Once()
	a, sessions := newTestAuth(t, keys)
	ctx := context.Background()

	_, err := sessions.Authenticate(ctx, "sid", "stale")
	require.NoError(t, err)

	rec := post(t, a.LoginHandler, "sid", map[string]string{"apiKey": "stale"})

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var problem models.ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &problem))
	assert.Equal(t, MsgKeyRejected, problem.Detail)

	s, err := sessions.Load(ctx, "sid")
	require.NoError(t, err)
	assert.False(t, s.Authenticated())
}

func TestLoginHandler_Validation(t *testing.T) {
	a, _ := newTestAuth(t, new(MockKeyVerifier))

	rec := post(t, a.LoginHandler, "", map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	req := httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader("{"))
	rec = httptest.NewRecorder()
	a.LoginHandler(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestUnlockHandler(t *testing.T) {
	a, sessions := newTestAuth(t, new(MockKeyVerifier))
	ctx := context.Background()

	rec := post(t, a.UnlockHandler, "sid", map[string]string{
		"name": "Ann", "email": "ann@example.com", "category": "analysis", "password": "12",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Body.String(), MsgWrongPassword)

	rec = post(t, a.UnlockHandler, "sid", map[string]string{
		"name": "Ann", "email": "ann@example.com", "category": "unknown", "password": "11",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = post(t, a.UnlockHandler, "sid", map[string]string{
		"name": "Ann", "email": "not-an-email", "category": "analysis", "password": "11",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = post(t, a.UnlockHandler, "sid", map[string]string{
		"name": "Ann", "email": "ann@example.com", "category": "analysis", "password": "11",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sid", cookieValue(rec, SessionCookie))

	s, err := sessions.Load(ctx, "sid")
	require.NoError(t, err)
	assert.True(t, s.HasPermission("analysis"))
	assert.Equal(t, "ann@example.com", s.User.Email)
}

func TestLogoutHandler(t *testing.T) {
	a, sessions := newTestAuth(t, new(MockKeyVerifier))
	ctx := context.Background()
	_, err := sessions.Authenticate(ctx, "sid", "key")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPost, "/auth/logout", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sid"})
	rec := httptest.NewRecorder()
	a.LogoutHandler(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	_, err = sessions.Load(ctx, "sid")
	assert.ErrorIs(t, err, session.ErrNoSession)
}

func TestRequireSession_Cookie(t *testing.T) {
	a, sessions := newTestAuth(t, new(MockKeyVerifier))
	_, err := sessions.Authenticate(context.Background(), "sid", "key")
	require.NoError(t, err)

	var seen *session.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodGet, "/dashboard/workflows", nil)
	rec := httptest.NewRecorder()
	a.RequireSession(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Nil(t, seen)

	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sid"})
	rec = httptest.NewRecorder()
	a.RequireSession(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "key", seen.APIKey)
}

func TestRequireSession_UnlockedButNoKey(t *testing.T) {
	a, sessions := newTestAuth(t, new(MockKeyVerifier))
	_, err := sessions.Grant(context.Background(), "sid", "Ann", "ann@example.com", "analysis")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/dashboard/workflows", nil)
	req.AddCookie(&http.Cookie{Name: SessionCookie, Value: "sid"})
	rec := httptest.NewRecorder()
	a.RequireSession(http.NotFoundHandler()).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSession_BearerTokenNamesUser(t *testing.T) {
	issuer := "https://test-issuer.com"
	token := fakeToken(t, map[string]any{
		"iss":   issuer,
		"aud":   "api://default",
		"sub":   "test-user",
		"exp":   time.Now().Add(time.Hour).Unix(),
		"iat":   time.Now().Add(-1 * time.Minute).Unix(),
		"email": "user@acme.com",
		"name":  "Acme User",
	})

	a, _ := newTestAuth(t, new(MockKeyVerifier))
	a.apiVerifier = oidc.NewVerifier(issuer, &MockKeySet{}, &oidc.Config{SkipClientIDCheck: true})

	req := httptest.NewRequest(http.MethodGet, "/dashboard/workflows", nil)
	req.Header.Set(APIKeyHeader, "header-key")
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		assert.True(t, ok, "session should be in context")
		assert.Equal(t, "header-key", s.APIKey)
		name, email := s.Actor()
		assert.Equal(t, "Acme User", name)
		assert.Equal(t, "user@acme.com", email)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireSession(next).ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Logf("Response Body: %s", rec.Body.String())
	}
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireSession_HeaderKeyNamesAPIActor(t *testing.T) {
	a, _ := newTestAuth(t, new(MockKeyVerifier))

	var seen *session.Session
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = session.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	req := httptest.NewRequest(http.MethodPost, "/dashboard/workflows/wf1/activate", nil)
	req.Header.Set(APIKeyHeader, "header-key")
	rec := httptest.NewRecorder()
	a.RequireSession(next).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen)
	assert.Equal(t, "header-key", seen.APIKey)
	assert.False(t, seen.System)
	assert.False(t, seen.HasPermission("analysis"))
	name, email := seen.Actor()
	assert.Equal(t, APIActor, name)
	assert.Empty(t, email)
}

func TestRequireSession_BearerWithoutProvider(t *testing.T) {
	a, _ := newTestAuth(t, new(MockKeyVerifier))

	req := httptest.NewRequest(http.MethodGet, "/dashboard/workflows", nil)
	req.Header.Set(APIKeyHeader, "header-key")
	req.Header.Set("Authorization", "Bearer x.y.z")
	rec := httptest.NewRecorder()
	a.RequireSession(http.NotFoundHandler()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireSession_BypassMode(t *testing.T) {
	cfg := &config.Config{
		Environment:   "DEV",
		DevModeBypass: true,
	}
	cfg.Upstream.APIKey = "service-key"
	cfg.Auth.OktaDomain = "https://unreachable.example.com"
	a, err := New(context.Background(), cfg, session.NewManager(session.NewMemoryStore(), 0), new(MockKeyVerifier), &NoOpLogger{})
	require.NoError(t, err)
	assert.False(t, a.OIDCEnabled())

	req := httptest.NewRequest(http.MethodGet, "/dashboard/workflows", nil)
	rec := httptest.NewRecorder()

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, ok := session.FromContext(r.Context())
		assert.True(t, ok)
		assert.Equal(t, "service-key", s.APIKey)
		assert.True(t, s.HasPermission("analysis"))
		_, email := s.Actor()
		assert.Equal(t, "dev@localhost", email)
		w.WriteHeader(http.StatusOK)
	})

	a.RequireSession(next).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNew_IncompleteOIDCConfig(t *testing.T) {
	cfg := &config.Config{Environment: "PROD"}
	cfg.Auth.OktaDomain = "https://example.okta.com"

	_, err := New(context.Background(), cfg, session.NewManager(session.NewMemoryStore(), 0), new(MockKeyVerifier), &NoOpLogger{})
	assert.EqualError(t, err, "auth configuration is incomplete")
}
