package utils

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

const DefaultSessionTTL = time.Hour

// JWTManager signs and parses HS256 session tokens. Now is optional and
// defaults to time.Now; both issuing and expiry checks use it.
type JWTManager struct {
	Secret     []byte
	Issuer     string
	SessionTTL time.Duration
	Now        func() time.Time
}

type SessionClaims struct {
	Email    string `json:"email,omitempty"`
	Username string `json:"username,omitempty"`
	jwt.RegisteredClaims
}

func (m JWTManager) IssueSessionToken(userID string, email string, username string) (string, time.Duration, error) {
	if userID == "" {
		return "", 0, ErrInvalidToken
	}
	ttl := m.SessionTTL
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	now := m.now()
	claims := SessionClaims{
		Email:    email,
		Username: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.Issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.Secret)
	if err != nil {
		return "", 0, err
	}
	return signed, ttl, nil
}

func (m JWTManager) ParseSessionToken(tokenString string) (*SessionClaims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(m.now),
	}
	if m.Issuer != "" {
		options = append(options, jwt.WithIssuer(m.Issuer))
	}
	parsed, err := jwt.ParseWithClaims(tokenString, &SessionClaims{}, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return m.Secret, nil
	}, options...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*SessionClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (m JWTManager) now() time.Time {
	if m.Now == nil {
		return time.Now()
	}
	return m.Now()
}
