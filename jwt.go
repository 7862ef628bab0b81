package main

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const sessionTokenTTL = 30 * 24 * time.Hour

// signJWT creates an HS256 session token.
func signJWT(secret, sessionID string) (string, error) {
	claims := jwt.MapClaims{
		"sub": sessionID,
		"exp": time.Now().Add(sessionTokenTTL).Unix(),
		"iat": time.Now().Unix(),
		"iss": "fieldscan",
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString([]byte(secret))
}

// parseJWT validates token and returns the session id it was issued for.
func parseJWT(secret, tokenStr string) (string, error) {
	tok, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return []byte(secret), nil
	})
	if err != nil || !tok.Valid {
		return "", errors.New("invalid token")
	}
	if claims, ok := tok.Claims.(jwt.MapClaims); ok {
		if sub, ok := claims["sub"].(string); ok {
			if _, err := uuid.Parse(sub); err != nil {
				return "", errors.New("bad subject")
			}
			return sub, nil
		}
	}
	return "", errors.New("no subject")
}
