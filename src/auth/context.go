package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"

	logger "github.com/sirupsen/logrus"
)

type contextKey string

const OperatorKey contextKey = "operator"

// Operator is the back-office user behind an API request.
type Operator struct {
	Name string
}

func GetOperatorFromContext(ctx context.Context) (*Operator, bool) {
	op, ok := ctx.Value(OperatorKey).(*Operator)
	return op, ok
}

func WithOperator(ctx context.Context, op *Operator) context.Context {
	return context.WithValue(ctx, OperatorKey, op)
}

// ParseAPIKeys reads "name:key,name:key" pairs. Malformed entries are skipped.
func ParseAPIKeys(raw string) map[string]string {
	keys := map[string]string{}
	for _, pair := range strings.Split(raw, ",") {
		name, key, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok || name == "" || key == "" {
			continue
		}
		keys[key] = name
	}
	return keys
}

// Middleware accepts requests carrying one of keys in X-API-Key or as a
// bearer token and stores the matching operator in the context.
// With no keys configured every request passes as operator "anonymous".
func Middleware(keys map[string]string) func(http.Handler) http.Handler {
	if len(keys) == 0 {
		logger.Warn("no API keys configured, back-office API is unauthenticated")
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if len(keys) == 0 {
				next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), &Operator{Name: "anonymous"})))
				return
			}

			presented := r.Header.Get("X-API-Key")
			if presented == "" {
				presented = strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
			}

			for key, name := range keys {
				if subtle.ConstantTimeCompare([]byte(presented), []byte(key)) == 1 {
					next.ServeHTTP(w, r.WithContext(WithOperator(r.Context(), &Operator{Name: name})))
					return
				}
			}

			http.Error(w, "Unauthorized", http.StatusUnauthorized)
		})
	}
}
