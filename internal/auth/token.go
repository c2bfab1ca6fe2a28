// Package auth issues and checks the short-lived tokens embedded in
// approve/reject links, so a leaked chat message cannot authorize a fix
// after the token expires.
package auth

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ActionClaims authorize exactly one verb on one pending fix.
type ActionClaims struct {
	FixID  string `json:"fix_id"`
	Action string `json:"action"`
	jwt.RegisteredClaims
}

func SignActionToken(secret []byte, fixID, action string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := ActionClaims{
		FixID:  fixID,
		Action: action,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign action token: %w", err)
	}
	return signed, nil
}

func ParseActionToken(secret []byte, tokenString string) (*ActionClaims, error) {
	claims := &ActionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	})
	if err != nil {
		return nil, fmt.Errorf("invalid action token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid action token")
	}
	return claims, nil
}
