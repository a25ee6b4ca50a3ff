package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken  = errors.New("invalid token")
	ErrExpiredToken  = errors.New("token expired")
	ErrNotConfigured = errors.New("token verification not configured")
)

// Identity is the authenticated user attached to a downstream connection.
type Identity struct {
	ID       string
	Username string
	Role     string
	Cooldown time.Duration
}

// Claims issued by the account service.
type Claims struct {
	UserID     subjectID `json:"id"`
	Username   string    `json:"username,omitempty"`
	Role       string    `json:"role"`
	CooldownMS int64     `json:"cooldown,omitempty"`
	jwt.RegisteredClaims
}

// subjectID accepts either a JSON string or number.
type subjectID string

func (s *subjectID) UnmarshalJSON(b []byte) error {
	var str string
	if err := json.Unmarshal(b, &str); err == nil {
		*s = subjectID(str)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id claim: %w", err)
	}
	*s = subjectID(n.String())
	return nil
}

// JWTVerifier checks HS256 tokens signed with a shared secret.
type JWTVerifier struct {
	secret []byte
}

// NewJWTVerifier creates a verifier. An empty secret rejects every token.
func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

// VerifyToken validates token and returns the identity it carries.
func (v *JWTVerifier) VerifyToken(_ context.Context, tokenString string) (*Identity, error) {
	if len(v.secret) == 0 {
		return nil, ErrNotConfigured
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpiredToken
		}
		return nil, ErrInvalidToken
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}

	id := string(claims.UserID)
	if id == "" {
		id = claims.Subject
	}
	if id == "" {
		return nil, ErrInvalidToken
	}

	return &Identity{
		ID:       id,
		Username: claims.Username,
		Role:     claims.Role,
		Cooldown: time.Duration(claims.CooldownMS) * time.Millisecond,
	}, nil
}

// SignToken issues a token for identity. Used by tooling and tests.
func SignToken(identity Identity, secret string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		UserID:     subjectID(identity.ID),
		Username:   identity.Username,
		Role:       identity.Role,
		CooldownMS: identity.Cooldown.Milliseconds(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}
