package auth

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/xela07ax/assetdesk/internal/domain"
	"go.uber.org/zap"
)

// TokenValidator — проверка токена оператора.
type TokenValidator interface {
	VerifyToken(tokenStr string) (*domain.OperatorClaims, error)
}

type ctxKey struct{}

// WithOperator кладёт claims оператора в контекст.
func WithOperator(ctx context.Context, claims *domain.OperatorClaims) context.Context {
	return context.WithValue(ctx, ctxKey{}, claims)
}

// OperatorFromContext возвращает оператора текущего запроса, если он аутентифицирован.
func OperatorFromContext(ctx context.Context) (*domain.OperatorClaims, bool) {
	claims, ok := ctx.Value(ctxKey{}).(*domain.OperatorClaims)
	if !ok || claims == nil || claims.Identity() == "" {
		return nil, false
	}
	return claims, true
}

func NewMiddleware(v TokenValidator, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				unauthorized(w)
				return
			}

			claims, err := v.VerifyToken(authHeader)
			if err != nil {
				logger.Warn("auth failure", zap.String("path", r.URL.Path), zap.Error(err))
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), claims)))
		})
	}
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"success": false,
		"error":   domain.ErrUnauthorized.Error(),
	})
}
