package util

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// GenerateJWT creates a token for a given client ID.
func GenerateJWT(clientID int64, secret string) (string, error) {
	claims := jwt.MapClaims{
		"client_id": clientID,
		"exp":       time.Now().Add(24 * time.Hour).Unix(),
		"iat":       time.Now().Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(secret))
}

// ParseJWT validates token and extracts the client ID.
func ParseJWT(tokenStr, secret string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	})
	if err != nil {
		return 0, err
	}

	if !token.Valid {
		return 0, jwt.ErrTokenInvalidClaims
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, jwt.ErrTokenMalformed
	}

	clientIDFloat, ok := claims["client_id"].(float64)
	if !ok {
		return 0, jwt.ErrTokenMalformed
	}

	return int64(clientIDFloat), nil
}
