package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc"
	"github.com/go-playground/validator/v10"
	"golang.org/x/oauth2"

	"flowdeck/backend/internal/config"
	"flowdeck/backend/internal/session"
	"flowdeck/backend/pkg/models"
)

// Cookie names.
const (
	SessionCookie = "session_id"
	stateCookie   = "oauthstate"
)

// APIKeyHeader lets API clients pass the upstream key instead of a session cookie.
const APIKeyHeader = "X-N8N-API-KEY"

// APIActor names header-authenticated callers in the audit trail when no
// bearer token identifies the user.
const APIActor = "api"

// Human-facing messages.
const (
	MsgKeyRejected   = "Ключ не подошёл. Проверь буквы — возможно, ты случайно вызвал демона, а нам нужен просто правильный ключ доступа."
	MsgWrongPassword = "Неверный пароль."
)

// Logger defines the logging interface compatible with the application logger.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Error(msg string, args ...any)
}

// KeyVerifier checks an upstream API key.
type KeyVerifier interface {
	VerifyAPIKey(ctx context.Context, apiKey string) error
}

// Auth owns the dashboard session lifecycle: API key login, category unlock,
// logout and the optional OpenID Connect identity flow.
type Auth struct {
	sessions     *session.Manager
	keys         KeyVerifier
	categories   map[string]string
	oauth2Config *oauth2.Config
	verifier     *oidc.IDTokenVerifier
	apiVerifier  *oidc.IDTokenVerifier
	validate     *validator.Validate
	logger       Logger
	authBypass   bool
	devAPIKey    string
	secure       bool
	cookieTTL    time.Duration
}

// New creates a new Auth object using values from the application
// configuration. When an identity provider is configured it connects to it
// and prepares ID token verifiers.
func New(ctx context.Context, cfg *config.Config, sessions *session.Manager, keys KeyVerifier, logger Logger) (*Auth, error) {
	isDev := strings.ToUpper(cfg.Environment) == "DEV"
	shouldBypass := isDev && cfg.DevModeBypass

	a := &Auth{
		sessions:   sessions,
		keys:       keys,
		categories: cfg.Categories,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		logger:     logger,
		authBypass: shouldBypass,
		devAPIKey:  cfg.Upstream.APIKey,
		secure:     cfg.TLS.Enable,
		cookieTTL:  cfg.Session.TTL,
	}
	if a.cookieTTL <= 0 {
		a.cookieTTL = session.DefaultTTL
	}

	if shouldBypass || !cfg.OIDCEnabled() {
		return a, nil
	}

	if cfg.Auth.ClientID == "" || cfg.Auth.ClientSecret == "" || cfg.Auth.RedirectURL == "" {
		return nil, errors.New("auth configuration is incomplete")
	}

	provider, err := oidc.NewProvider(ctx, cfg.Auth.OktaDomain)
	if err != nil {
		return nil, err
	}

	a.oauth2Config = &oauth2.Config{
		ClientID:     cfg.Auth.ClientID,
		ClientSecret: cfg.Auth.ClientSecret,
		Endpoint:     provider.Endpoint(),
		RedirectURL:  cfg.Auth.RedirectURL,
		Scopes:       AllScopes,
	}
	a.verifier = provider.Verifier(&oidc.Config{ClientID: cfg.Auth.ClientID})
	// Access tokens carry a different audience (e.g. "api://default").
	a.apiVerifier = provider.Verifier(&oidc.Config{SkipClientIDCheck: true})

	return a, nil
}

// OIDCEnabled reports whether the identity flow is available.
func (a *Auth) OIDCEnabled() bool {
	return a.oauth2Config != nil
}

type loginRequest struct {
	APIKey string `json:"apiKey" validate:"required"`
}

type unlockRequest struct {
	Name     string `json:"name" validate:"required"`
	Email    string `json:"email" validate:"required,email"`
	Category string `json:"category" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// SessionView is the public state of a session.
type SessionView struct {
	Authenticated bool          `json:"authenticated"`
	User          *session.User `json:"user,omitempty"`
	ExpiresAt     *time.Time    `json:"expiresAt,omitempty"`
}

func view(s *session.Session) SessionView {
	if s == nil {
		return SessionView{}
	}
	v := SessionView{Authenticated: s.Authenticated(), User: s.User}
	if !s.ExpiresAt.IsZero() {
		v.ExpiresAt = &s.ExpiresAt
	}
	return v
}

// LoginHandler checks the submitted upstream API key with a workflow listing.
// A rejected key is removed from the session so it is never reused.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !a.decode(w, r, &req) {
		return
	}
	id := sessionID(r)

	if err := a.keys.VerifyAPIKey(r.Context(), strings.TrimSpace(req.APIKey)); err != nil {
		a.logger.Info("api key rejected", "error", err)
		if clearErr := a.sessions.ClearCredentials(r.Context(), id); clearErr != nil {
			a.logger.Error("failed to clear credentials", "error", clearErr)
		}
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", MsgKeyRejected)
		return
	}

	s, err := a.sessions.Authenticate(r.Context(), id, strings.TrimSpace(req.APIKey))
	if err != nil {
		a.logger.Error("failed to store session", "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to store session")
		return
	}
	a.setSessionCookie(w, s.ID)
	writeJSON(w, http.StatusOK, view(s))
}

// UnlockHandler grants a password-protected category to the session user.
func (a *Auth) UnlockHandler(w http.ResponseWriter, r *http.Request) {
	var req unlockRequest
	if !a.decode(w, r, &req) {
		return
	}

	password, ok := a.categories[req.Category]
	if !ok || password == "" ||
		subtle.ConstantTimeCompare([]byte(password), []byte(req.Password)) != 1 {
		writeProblem(w, http.StatusUnauthorized, "Unauthorized", MsgWrongPassword)
		return
	}

	id := sessionID(r)
	if id == "" {
		id = session.NewID()
	}
	s, err := a.sessions.Grant(r.Context(), id, req.Name, req.Email, req.Category)
	if err != nil {
		a.logger.Error("failed to store session", "error", err)
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", "failed to store session")
		return
	}
	a.logger.Info("category unlocked", "category", req.Category, "email", req.Email)
	a.setSessionCookie(w, s.ID)
	writeJSON(w, http.StatusOK, view(s))
}

// SessionHandler reports the current session.
func (a *Auth) SessionHandler(w http.ResponseWriter, r *http.Request) {
	s, err := a.sessions.Load(r.Context(), sessionID(r))
	if err != nil && !errors.Is(err, session.ErrNoSession) {
		writeProblem(w, http.StatusInternalServerError, "Internal Server Error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, view(s))
}

// LogoutHandler removes every session key and clears the cookie.
func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Logout(r.Context(), sessionID(r)); err != nil {
		a.logger.Error("failed to clear session", "error", err)
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	w.WriteHeader(http.StatusNoContent)
}

// OIDCLoginHandler initiates the OAuth2 authorization code flow by
// redirecting the user to the authorization endpoint. A random state value is
// stored in a cookie to mitigate CSRF attacks.
func (a *Auth) OIDCLoginHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass || a.oauth2Config == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	state, err := generateState()
	if err != nil {
		http.Error(w, "failed to generate state", http.StatusInternalServerError)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		HttpOnly: true,
		Path:     "/",
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
	})

	http.Redirect(w, r, a.oauth2Config.AuthCodeURL(state), http.StatusTemporaryRedirect)
}

// OIDCCallbackHandler handles the redirect back from the identity provider.
// It verifies the state parameter, exchanges the code for tokens, validates
// the ID token and records the name and email claims in the session.
func (a *Auth) OIDCCallbackHandler(w http.ResponseWriter, r *http.Request) {
	if a.authBypass || a.oauth2Config == nil {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	cookie, err := r.Cookie(stateCookie)
	if err != nil || r.URL.Query().Get("state") != cookie.Value {
		http.Error(w, "invalid state", http.StatusBadRequest)
		return
	}

	token, err := a.oauth2Config.Exchange(r.Context(), r.URL.Query().Get("code"))
	if err != nil {
		http.Error(w, "token exchange failed", http.StatusInternalServerError)
		return
	}

	rawIDToken, ok := token.Extra("id_token").(string)
	if !ok {
		http.Error(w, "no id_token in token response", http.StatusInternalServerError)
		return
	}

	idToken, err := a.verifier.Verify(r.Context(), rawIDToken)
	if err != nil {
		http.Error(w, "failed to verify id token", http.StatusUnauthorized)
		return
	}

	var claims identityClaims
	if err := idToken.Claims(&claims); err != nil {
		http.Error(w, "failed to parse token claims", http.StatusUnauthorized)
		return
	}

	id := sessionID(r)
	if id == "" {
		id = session.NewID()
	}
	if _, err := a.sessions.Identify(r.Context(), id, claims.displayName(), claims.Email); err != nil {
		a.logger.Error("failed to store session", "error", err)
		http.Error(w, "failed to store session", http.StatusInternalServerError)
		return
	}
	a.setSessionCookie(w, id)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

type identityClaims struct {
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (c identityClaims) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.Email
}

// RequireSession is middleware that resolves the caller's session and puts it
// in the request context. Browsers use the session cookie; API clients may
// send the upstream key in X-N8N-API-KEY, optionally with a Bearer access
// token naming the user.
func (a *Auth) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.authBypass {
			s := session.NewSystem(a.devAPIKey, "dev")
			s.User.Email = "dev@localhost"
			next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
			return
		}

		var s *session.Session
		if key := strings.TrimSpace(r.Header.Get(APIKeyHeader)); key != "" {
			s = &session.Session{APIKey: key, User: &session.User{Name: APIActor}}
			if authHeader := r.Header.Get("Authorization"); strings.HasPrefix(authHeader, "Bearer ") {
				if a.apiVerifier == nil {
					writeProblem(w, http.StatusUnauthorized, "Unauthorized", "bearer tokens are not accepted")
					return
				}
				token, err := a.apiVerifier.Verify(r.Context(), strings.TrimPrefix(authHeader, "Bearer "))
				if err != nil {
					writeProblem(w, http.StatusUnauthorized, "Unauthorized", "invalid token: "+err.Error())
					return
				}
				var claims identityClaims
				if err := token.Claims(&claims); err != nil {
					writeProblem(w, http.StatusUnauthorized, "Unauthorized", "failed to parse token claims")
					return
				}
				s.User = &session.User{Name: claims.displayName(), Email: claims.Email}
			}
		} else {
			loaded, err := a.sessions.Load(r.Context(), sessionID(r))
			if err != nil {
				if !errors.Is(err, session.ErrNoSession) {
					a.logger.Error("failed to load session", "error", err)
				}
				writeProblem(w, http.StatusUnauthorized, "Unauthorized", "session expired or missing")
				return
			}
			s = loaded
		}

		if !s.Authenticated() {
			writeProblem(w, http.StatusUnauthorized, "Unauthorized", "api key login required")
			return
		}
		next.ServeHTTP(w, r.WithContext(session.WithSession(r.Context(), s)))
	})
}

func (a *Auth) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", "invalid JSON body")
		return false
	}
	if err := a.validate.Struct(dst); err != nil {
		writeProblem(w, http.StatusBadRequest, "Bad Request", err.Error())
		return false
	}
	return true
}

func (a *Auth) setSessionCookie(w http.ResponseWriter, id string) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   a.secure,
		SameSite: http.SameSiteLaxMode,
		MaxAge:   int(a.cookieTTL / time.Second),
	})
}

func sessionID(r *http.Request) string {
	c, err := r.Cookie(SessionCookie)
	if err != nil {
		return ""
	}
	return c.Value
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeProblem(w http.ResponseWriter, status int, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(models.ProblemDetails{
		Type:   "about:blank",
		Title:  title,
		Status: status,
		Detail: detail,
	})
}

func generateState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}
