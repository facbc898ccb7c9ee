package authMiddlware

import (
	"context"
	"net/http"

	resp "glamstore/internal/lib/api/response"
	"glamstore/internal/lib/jwt"

	"github.com/go-chi/render"
)

type contextKey string

const SubjectKey contextKey = "subject"

type TokenParser interface {
	ParseToken(authHeader string) (jwt.Claims, error)
}

// * AdminOnly пропускает только запросы с валидным токеном и ролью admin
func AdminOnly(jwtParser TokenParser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Missing authorization"))
				return
			}

			claims, err := jwtParser.ParseToken(authHeader)
			if err != nil {
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, resp.Error("Invalid token"))
				return
			}

			if !claims.IsAdmin() {
				render.Status(r, http.StatusForbidden)
				render.JSON(w, r, resp.Error("Forbidden"))
				return
			}

			ctx := context.WithValue(r.Context(), SubjectKey, claims.Subject)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
