package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"gwi.com/localchat/internal/config"
	"gwi.com/localchat/internal/core"
	"gwi.com/localchat/internal/store"
)

const tokenTTL = 24 * time.Hour

var ErrInvalidToken = errors.New("invalid token")

type claims struct {
	Name string     `json:"name"`
	Role store.Role `json:"role"`
	jwt.RegisteredClaims
}

// GenerateJWT signs a token carrying the chat identity.
func GenerateJWT(id core.Identity) (string, error) {
	now := time.Now()
	c := claims{
		Name: id.Name,
		Role: id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)
	return token.SignedString([]byte(config.AppConfig.JWTSecret))
}

// ValidateJWT checks the signature and expiry of a token and returns the
// identity it carries. A missing name falls back to the subject.
func ValidateJWT(tokenString string) (core.Identity, error) {
	var c claims
	token, err := jwt.ParseWithClaims(tokenString, &c, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(config.AppConfig.JWTSecret), nil
	})
	if err != nil {
		return core.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid || c.Subject == "" {
		return core.Identity{}, ErrInvalidToken
	}

	name := c.Name
	if name == "" {
		name = c.Subject
	}
	return core.Identity{ID: c.Subject, Name: name, Role: c.Role}, nil
}
