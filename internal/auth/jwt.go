package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	ErrInvalidTokenType = errors.New("invalid token type")
	ErrMissingJTI       = errors.New("missing jti")
	ErrInvalidToken     = errors.New("invalid token")
)

type Claims struct {
	UserID    string   `json:"sub"`
	Email     string   `json:"email"`
	Username  string   `json:"username"`
	Role      string   `json:"role"`
	Roles     []string `json:"roles,omitempty"`
	TokenType string   `json:"typ"`
	JTI       string   `json:"jti"`
	jwt.RegisteredClaims
}

// Identity is what gets baked into a token.
type Identity struct {
	UserID   string
	Email    string
	Username string
	Role     string
	Roles    []string
}

type Manager struct {
	secret     []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	now        func() time.Time
}

func NewManager(secret string, accessTTL time.Duration, refreshTTL time.Duration) *Manager {
	return &Manager{
		secret:     []byte(secret),
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		now:        time.Now,
	}
}

func (m *Manager) AccessTTL() time.Duration  { return m.accessTTL }
func (m *Manager) RefreshTTL() time.Duration { return m.refreshTTL }

func (m *Manager) claims(id Identity, typ, jti string, now, exp time.Time) Claims {
	return Claims{
		UserID:    id.UserID,
		Email:     id.Email,
		Username:  id.Username,
		Role:      id.Role,
		Roles:     id.Roles,
		TokenType: typ,
		JTI:       jti,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Subject:   id.UserID,
			ID:        jti,
		},
	}
}

func (m *Manager) GenerateAccessToken(id Identity) (string, error) {
	now := m.now().UTC()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, m.claims(id, TokenTypeAccess, uuid.NewString(), now, now.Add(m.accessTTL)))
	return token.SignedString(m.secret)
}

func (m *Manager) GenerateRefreshToken(id Identity) (raw string, jti string, expiresAt time.Time, err error) {
	now := m.now().UTC()
	jti = uuid.NewString()
	expiresAt = now.Add(m.refreshTTL)

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, m.claims(id, TokenTypeRefresh, jti, now, expiresAt))

	raw, err = token.SignedString(m.secret)

	return
}

func (m *Manager) ParseAndValidate(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		// Enforce HS256
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return m.secret, nil
	}, jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m *Manager) VerifyAccessToken(tokenStr string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrInvalidTokenType
	}
	return claims, nil
}

func (m *Manager) VerifyRefreshToken(tokenStr string) (*Claims, error) {
	claims, err := m.ParseAndValidate(tokenStr)
	if err != nil {
		return nil, err
	}

	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrInvalidTokenType
	}

	if claims.JTI == "" {
		return nil, ErrMissingJTI
	}

	return claims, nil
}

// IsExpired reports whether a verify error was caused by the exp claim.
func IsExpired(err error) bool {
	return errors.Is(err, jwt.ErrTokenExpired)
}

// Deterministic HMAC hash (server-side pepper = JWT secret bytes).
// Store this in DB, never the raw refresh token.
func (m *Manager) HashRefreshToken(raw string) string {
	h := hmac.New(sha256.New, m.secret)
	h.Write([]byte(raw))
	return hex.EncodeToString(h.Sum(nil))
}
