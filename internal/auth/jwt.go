package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrMissingSubject = errors.New("token has no subject")

type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

// Verifier turns a bearer credential into a stable user id.
type Verifier interface {
	Verify(token string) (userID string, err error)
}

type HMACVerifier struct {
	secret []byte
	parser *jwt.Parser
}

func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithExpirationRequired(),
	}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	return &HMACVerifier{secret: []byte(secret), parser: jwt.NewParser(opts...)}
}

func (v *HMACVerifier) Verify(token string) (string, error) {
	claims := &Claims{}
	tok, err := v.parser.ParseWithClaims(token, claims, func(tok *jwt.Token) (interface{}, error) {
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	if !tok.Valid {
		return "", jwt.ErrTokenInvalidClaims
	}
	// older tokens carry the id in sub only
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	if claims.UserID == "" {
		return "", ErrMissingSubject
	}
	return claims.UserID, nil
}

// NewToken signs an HS256 token for userID. Token issuance lives with the
// identity provider; this is used by tests and the watch command.
func NewToken(secret, issuer, userID string, ttl time.Duration) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("new token: %w", ErrMissingSubject)
	}
	now := time.Now().UTC()
	claims := Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
			Issuer:    issuer,
		},
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}
