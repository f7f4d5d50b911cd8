// Package session keeps the signed-in user and their backend token
package session

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/golang-jwt/jwt/v5"

	"marketplace-storefront/internal/client"
	"marketplace-storefront/internal/models"
	"marketplace-storefront/internal/storage"
)

// ErrNoSession is returned when nobody is signed in
var ErrNoSession = errors.New("no active session")

// Authenticator is the part of the backend client the session needs
type Authenticator interface {
	Login(ctx context.Context, email, password string) (*client.LoginResult, error)
	Logout(ctx context.Context, token string) error
}

// Manager persists the session under the token and user keys so that every
// agent sharing the store shares the session
type Manager struct {
	store  storage.Store
	auth   Authenticator
	now    func() time.Time
	logger *slog.Logger
}

// NewManager creates a session manager
func NewManager(store storage.Store, auth Authenticator) *Manager {
	return &Manager{
		store:  store,
		auth:   auth,
		now:    time.Now,
		logger: slog.Default().With("component", "session"),
	}
}

// Token returns the stored token unless it is missing or an expired JWT.
// Opaque (non-JWT) tokens are returned as they are.
func (m *Manager) Token(ctx context.Context) (string, bool) {
	raw, err := m.store.Get(ctx, storage.KeyToken)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			m.logger.Warn("Failed to read session token", "error", err)
		}
		return "", false
	}

	token := strings.TrimSpace(string(raw))
	if token == "" {
		return "", false
	}
	if exp, ok := Expiry(token); ok && !m.now().Before(exp) {
		m.logger.Debug("Session token expired", "expired_at", exp)
		return "", false
	}
	return token, true
}

// IsAuthenticated reports whether a usable token is stored
func (m *Manager) IsAuthenticated(ctx context.Context) bool {
	_, ok := m.Token(ctx)
	return ok
}

// User returns the signed-in user
func (m *Manager) User(ctx context.Context) (*models.User, error) {
	if !m.IsAuthenticated(ctx) {
		return nil, ErrNoSession
	}

	var user models.User
	if err := storage.GetJSON(ctx, m.store, storage.KeyUser, &user); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, ErrNoSession
		}
		return nil, err
	}
	return &user, nil
}

// Login authenticates against the backend and stores the session
func (m *Manager) Login(ctx context.Context, email, password string) (*models.User, error) {
	result, err := m.auth.Login(ctx, strings.TrimSpace(email), password)
	if err != nil {
		return nil, errors.Wrap(err, "login")
	}
	if err := m.SetToken(ctx, result.Token, &result.User); err != nil {
		return nil, err
	}

	m.logger.Info("User signed in", "user_id", result.User.ID, "role", result.User.Role)
	return &result.User, nil
}

// SetToken stores token, and user when given, as the current session
func (m *Manager) SetToken(ctx context.Context, token string, user *models.User) error {
	if err := m.store.Set(ctx, storage.KeyToken, []byte(token)); err != nil {
		return errors.Wrap(err, "store token")
	}
	if user != nil {
		if err := storage.SetJSON(ctx, m.store, storage.KeyUser, user); err != nil {
			return errors.Wrap(err, "store user")
		}
	}
	return nil
}

// Logout revokes the token on the backend, best effort, and clears the
// stored session
func (m *Manager) Logout(ctx context.Context) error {
	if token, ok := m.Token(ctx); ok {
		if err := m.auth.Logout(ctx, token); err != nil {
			m.logger.Warn("Backend logout failed, clearing local session anyway", "error", err)
		}
	}

	if err := m.store.Delete(ctx, storage.KeyToken, storage.KeyUser); err != nil {
		return errors.Wrap(err, "clear session")
	}
	m.logger.Info("User signed out")
	return nil
}

// Expiry returns the exp claim of a JWT. The signature is not checked:
// only the backend can verify it, the agent just avoids sending a token
// it already knows is dead.
func Expiry(token string) (time.Time, bool) {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return time.Time{}, false
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, false
	}
	return exp.Time, true
}

// HasRole reports whether u has one of roles
func HasRole(u *models.User, roles ...string) bool {
	if u == nil {
		return false
	}
	for _, role := range roles {
		if strings.EqualFold(u.Role, role) {
			return true
		}
	}
	return false
}

// OwnsCompany reports whether u is the entrepreneur behind c. The backend
// links the two only through the contact e-mail, compared case-insensitively.
func OwnsCompany(u *models.User, c models.Company) bool {
	if !HasRole(u, models.RoleEntrepreneur) {
		return false
	}
	email := strings.TrimSpace(u.Email)
	return email != "" && strings.EqualFold(email, strings.TrimSpace(c.Email))
}
