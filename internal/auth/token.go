package auth

import (
	"errors"
	"time"

	jwt "github.com/golang-jwt/jwt/v5"

	"github.com/spec-kit/helpdesk/internal/domain"
)

// TokenManager handles issuing and validating JWT tokens.
type TokenManager struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewTokenManager builds a new manager.
func NewTokenManager(secret string, ttlMinutes int) *TokenManager {
	if ttlMinutes <= 0 {
		ttlMinutes = 60
	}
	return &TokenManager{secret: []byte(secret), ttl: time.Duration(ttlMinutes) * time.Minute, now: time.Now}
}

// Claims describes JWT payload. Service tokens carry no user and act with
// administrator rights.
type Claims struct {
	UserID  string      `json:"uid,omitempty"`
	Role    domain.Role `json:"role"`
	Service bool        `json:"svc,omitempty"`
	jwt.RegisteredClaims
}

// GenerateToken builds and signs a JWT for the user.
func (tm *TokenManager) GenerateToken(user domain.User) (string, time.Time, error) {
	return tm.sign(Claims{UserID: user.ID, Role: user.Role}, user.ID)
}

// GenerateServiceToken signs a token for a non-human caller such as the desk's
// background refresh.
func (tm *TokenManager) GenerateServiceToken(name string) (string, time.Time, error) {
	return tm.sign(Claims{Role: domain.RoleAdministrator, Service: true}, name)
}

func (tm *TokenManager) sign(claims Claims, subject string) (string, time.Time, error) {
	now := tm.now()
	expiresAt := now.Add(tm.ttl)
	claims.RegisteredClaims = jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(expiresAt),
		IssuedAt:  jwt.NewNumericDate(now),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, &claims)
	tokenString, err := token.SignedString(tm.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// ParseToken validates and returns claims.
func (tm *TokenManager) ParseToken(tokenStr string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, errors.New("invalid token claims")
	}
	if !claims.Service && claims.UserID == "" {
		return nil, errors.New("token has no subject")
	}
	return claims, nil
}
