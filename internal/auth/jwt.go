package auth

import (
	"errors"
	"fmt"
	"time"

	"insight-call-flow/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// clockSkew is tolerated on exp/iat checks.
const clockSkew = 30 * time.Second

var (
	ErrUnknownRole   = errors.New("auth: unknown role")
	ErrMissingClaims = errors.New("auth: user, org and role are required")
	ErrWrongToken    = errors.New("auth: unexpected token type")
)

// Manager signs and verifies the HS256 token pairs used by the API.
// Both tokens carry user, org and role so a refresh can mint a usable
// access token without a user store.
type Manager struct {
	secret    []byte
	issuer    string
	audience  string
	ttl       map[TokenType]time.Duration
	knownRole func(string) bool
}

// NewManager builds a Manager from cfg. knownRole gates the roles that may be
// put into a token; nil accepts any non-empty role.
func NewManager(cfg config.AuthConfig, knownRole func(string) bool) (*Manager, error) {
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if knownRole == nil {
		knownRole = func(r string) bool { return r != "" }
	}
	return &Manager{
		secret:   []byte(cfg.JWTSecret),
		issuer:   cfg.JWTIssuer,
		audience: cfg.JWTAudience,
		ttl: map[TokenType]time.Duration{
			TokenTypeAccess:  cfg.AccessTokenTTL,
			TokenTypeRefresh: cfg.RefreshTokenTTL,
		},
		knownRole: knownRole,
	}, nil
}

type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

func (m *Manager) IssuePair(now time.Time, userID, orgID, role string) (TokenPair, error) {
	if userID == "" || orgID == "" || role == "" {
		return TokenPair{}, ErrMissingClaims
	}
	if !m.knownRole(role) {
		return TokenPair{}, fmt.Errorf("%w: %q", ErrUnknownRole, role)
	}

	var pair TokenPair
	for _, tt := range []TokenType{TokenTypeAccess, TokenTypeRefresh} {
		signed, err := m.sign(now, tt, userID, orgID, role)
		if err != nil {
			return TokenPair{}, fmt.Errorf("sign %s token: %w", tt, err)
		}
		if tt == TokenTypeAccess {
			pair.AccessToken = signed
		} else {
			pair.RefreshToken = signed
		}
	}
	return pair, nil
}

// Verify parses raw, checks signature, registered claims and token type, and
// rejects tokens whose role is no longer known.
func (m *Manager) Verify(raw string, expected TokenType, now time.Time) (Claims, error) {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(clockSkew),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	}
	if m.issuer != "" {
		opts = append(opts, jwt.WithIssuer(m.issuer))
	}
	if m.audience != "" {
		opts = append(opts, jwt.WithAudience(m.audience))
	}

	var claims Claims
	if _, err := jwt.NewParser(opts...).ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return m.secret, nil
	}); err != nil {
		return Claims{}, err
	}

	switch {
	case claims.TokenType != expected:
		return Claims{}, ErrWrongToken
	case claims.UserID == "" || claims.OrgID == "" || claims.Role == "":
		return Claims{}, ErrMissingClaims
	case !m.knownRole(claims.Role):
		return Claims{}, fmt.Errorf("%w: %q", ErrUnknownRole, claims.Role)
	}
	return claims, nil
}

func (m *Manager) sign(now time.Time, tt TokenType, userID, orgID, role string) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl[tt])),
			ID:        uuid.NewString(),
		},
		UserID:    userID,
		OrgID:     orgID,
		Role:      role,
		TokenType: tt,
	}
	if m.audience != "" {
		claims.Audience = jwt.ClaimStrings{m.audience}
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
}
