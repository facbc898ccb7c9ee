package jwt

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

const RoleAdmin = "admin"

var (
	ErrMissingAuthHeader   = errors.New("missing Authorization header")
	ErrInvalidAuthHeader   = errors.New("invalid Authorization header")
	ErrInvalidToken        = errors.New("invalid token")
	ErrMissingSubjectClaim = errors.New("sub missing in token")
)

type Claims struct {
	Subject string
	Role    string
}

func (c Claims) IsAdmin() bool {
	return c.Role == RoleAdmin
}

type JWTParser struct {
	Secret string
}

func New(secret string) *JWTParser {
	return &JWTParser{
		Secret: secret,
	}
}

// * ParseToken проверяет подпись и достаёт sub и role из заголовка Authorization
func (p *JWTParser) ParseToken(authHeader string) (Claims, error) {
	if authHeader == "" {
		return Claims{}, ErrMissingAuthHeader
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || strings.ToLower(parts[0]) != "bearer" {
		return Claims{}, ErrInvalidAuthHeader
	}

	tokenString := parts[1]

	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(p.Secret), nil
	})
	if err != nil || !token.Valid {
		return Claims{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return Claims{}, ErrInvalidToken
	}

	sub, err := claims.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrMissingSubjectClaim
	}

	role, _ := claims["role"].(string)

	return Claims{Subject: sub, Role: role}, nil
}
