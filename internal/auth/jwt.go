// Package auth issues and verifies session tokens, hashes passwords and
// verifies identity tokens from federated providers.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/v2/bson"

	"github.com/BakhodirAbdullayev/orbital/internal/normalize"
)

// defaultKID names the key of a manager built from a single secret.
const defaultKID = "default"

// JWTManager signs and validates the session tokens used by the API.
type JWTManager struct {
	keys      map[string][]byte // kid -> HMAC secret
	activeKID string            // kid used to sign new tokens
	duration  time.Duration     // how long tokens are valid
}

// Claims is the session token payload. RegisteredClaims.ID carries the token
// id used for revocation.
type Claims struct {
	UserID string `json:"user_id"` // hex ObjectID of the profile
	Email  string `json:"email"`
	jwt.RegisteredClaims
}

// NewJWTManager returns a manager with a single signing secret.
func NewJWTManager(secretKey string, duration time.Duration) *JWTManager {
	return NewJWTManagerFromKeys(map[string]string{defaultKID: secretKey}, defaultKID, duration)
}

// NewJWTManagerFromKeys returns a manager that signs with activeKID and
// verifies tokens signed by any of keys. When activeKID is empty or unknown
// the lexically smallest kid signs, so the choice is stable across restarts.
func NewJWTManagerFromKeys(keys map[string]string, activeKID string, duration time.Duration) *JWTManager {
	m := &JWTManager{keys: make(map[string][]byte, len(keys)), duration: duration}
	for kid, secret := range keys {
		m.keys[kid] = []byte(secret)
		if m.activeKID == "" || kid < m.activeKID {
			m.activeKID = kid
		}
	}
	if _, ok := m.keys[activeKID]; ok {
		m.activeKID = activeKID
	}
	return m
}

// TTL returns the lifetime of newly issued tokens.
func (m *JWTManager) TTL() time.Duration {
	return m.duration
}

// GenerateToken issues a signed token for a user. The email claim is
// normalized.
func (m *JWTManager) GenerateToken(userID bson.ObjectID, email string) (string, time.Time, error) {
	secret, ok := m.keys[m.activeKID]
	if !ok {
		return "", time.Time{}, errors.New("no signing key configured")
	}

	now := time.Now()
	expiresAt := now.Add(m.duration)

	claims := &Claims{
		UserID: userID.Hex(),
		Email:  normalize.Email(email),
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   userID.Hex(),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token.Header["kid"] = m.activeKID

	tokenString, err := token.SignedString(secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return tokenString, expiresAt, nil
}

// VerifyToken parses and validates a token and returns its claims. Tokens
// without a kid header are checked against the active key.
func (m *JWTManager) VerifyToken(tokenString string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// only HMAC; never let the token pick an asymmetric algorithm
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, _ := token.Header["kid"].(string)
		if kid == "" {
			kid = m.activeKID
		}
		secret, ok := m.keys[kid]
		if !ok {
			return nil, fmt.Errorf("unknown key id %q", kid)
		}
		return secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !token.Valid {
		return nil, errors.New("invalid token")
	}
	if claims.UserID == "" {
		return nil, errors.New("token has no user id")
	}
	return claims, nil
}
