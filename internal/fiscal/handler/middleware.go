package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	dErrors "fiskal/pkg/domain-errors"
	"fiskal/pkg/platform/httputil"
)

const operatorRole = "operator"

// RequireOperator guards the operator endpoints (credential registration,
// retry queue management) behind a bearer token signed with the configured
// key and carrying the operator role.
func RequireOperator(signingKey string, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			const bearerPrefix = "Bearer "
			authHeader := r.Header.Get("Authorization")
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "bearer token required"))
				return
			}

			token, err := jwt.Parse(strings.TrimPrefix(authHeader, bearerPrefix),
				func(t *jwt.Token) (any, error) {
					if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
						return nil, jwt.ErrSignatureInvalid
					}
					return []byte(signingKey), nil
				},
				jwt.WithValidMethods([]string{"HS256"}),
			)
			if err != nil || !token.Valid {
				logger.WarnContext(r.Context(), "operator token rejected", "error", err)
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "invalid token"))
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok || claims["role"] != operatorRole {
				httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "operator role required"))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
