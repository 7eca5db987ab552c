// pkg/middleware/jwt.go
package middleware

import (
	"context"
	"net/http"
	"strings"

	"laddertrade/internal/logger"
	"laddertrade/pkg/jwt"
)

type contextKey string

const OperatorKey contextKey = "operator"

// JWTAuth требует Bearer-токен оператора, подписанный secret.
func JWTAuth(secret string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			auth := r.Header.Get("Authorization")
			tokenString, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || tokenString == "" {
				WriteError(w, http.StatusUnauthorized, "missing bearer token", "")
				return
			}
			operator, err := jwt.ParseToken(secret, tokenString)
			if err != nil {
				logger.Warn(r.Context(), "JWTAuth: rejected token", "remote", r.RemoteAddr, "error", err)
				WriteError(w, http.StatusUnauthorized, "invalid token", "")
				return
			}
			ctx := context.WithValue(r.Context(), OperatorKey, operator)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// Operator returns the authenticated operator name, empty when auth is off.
func Operator(ctx context.Context) string {
	op, _ := ctx.Value(OperatorKey).(string)
	return op
}
