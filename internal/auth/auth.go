// Package auth issues and verifies API bearer tokens and hashes account
// passwords.
package auth

import (
	"context"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/envsense/envsense/internal/conf"
	"github.com/envsense/envsense/internal/datastore/v2/entities"
	"github.com/envsense/envsense/internal/datastore/v2/repository"
	"github.com/envsense/envsense/internal/errors"
)

const (
	componentAuth   = "auth"
	defaultTokenTTL = 24 * time.Hour
	defaultIssuer   = "envsense"
)

// ErrInvalidCredentials is returned for an unknown user or a wrong password.
var ErrInvalidCredentials = errors.Newf("invalid username or password").
	Component(componentAuth).Category(errors.CategoryUnauthorized).Build()

// Claims is the token payload.
type Claims struct {
	UserID   uint   `json:"user_id"`
	Username string `json:"username"`
	jwt.RegisteredClaims
}

// Token is a signed bearer token and its expiry.
type Token struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Manager signs tokens with an HMAC secret.
type Manager struct {
	secret []byte
	ttl    time.Duration
	issuer string
	now    func() time.Time
}

// NewManager creates a Manager. An empty secret is a configuration error.
func NewManager(s conf.AuthSettings) (*Manager, error) {
	if s.JWTSecret == "" {
		return nil, errors.Newf("auth.jwtsecret is required").
			Component(componentAuth).Category(errors.CategoryConfiguration).Build()
	}
	m := &Manager{
		secret: []byte(s.JWTSecret),
		ttl:    s.TokenTTL.Std(),
		issuer: s.Issuer,
		now:    time.Now,
	}
	if m.ttl <= 0 {
		m.ttl = defaultTokenTTL
	}
	if m.issuer == "" {
		m.issuer = defaultIssuer
	}
	return m, nil
}

// Issue signs a token for user.
func (m *Manager) Issue(user *entities.User) (*Token, error) {
	now := m.now()
	expires := now.Add(m.ttl)
	claims := &Claims{
		UserID:   user.ID,
		Username: user.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   user.Username,
			ExpiresAt: jwt.NewNumericDate(expires),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return nil, errors.New(err).Component(componentAuth).Build()
	}
	return &Token{Token: signed, ExpiresAt: expires.UTC()}, nil
}

// Verify parses and validates a signed token.
func (m *Manager) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(m.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	)
	if err != nil {
		return nil, errors.Newf("invalid token: %w", err).
			Component(componentAuth).Category(errors.CategoryUnauthorized).Build()
	}
	if claims.UserID == 0 {
		return nil, errors.Newf("invalid token: missing user").
			Component(componentAuth).Category(errors.CategoryUnauthorized).Build()
	}
	return claims, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// HashPassword returns the bcrypt hash of password.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.Validation(componentAuth, "password", "password must not be empty")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", errors.New(err).Component(componentAuth).Build()
	}
	return string(hash), nil
}

// CheckPassword reports whether password matches hash.
func CheckPassword(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Login checks credentials against users and issues a token.
func (m *Manager) Login(ctx context.Context, users repository.UserRepository, username, password string) (*entities.User, *Token, error) {
	user, err := users.GetUserByUsername(ctx, username)
	if err != nil {
		if repository.IsNotFound(err) {
			return nil, nil, ErrInvalidCredentials
		}
		return nil, nil, err
	}
	if !CheckPassword(user.PasswordHash, password) {
		return nil, nil, ErrInvalidCredentials
	}
	token, err := m.Issue(user)
	if err != nil {
		return nil, nil, err
	}
	return user, token, nil
}
