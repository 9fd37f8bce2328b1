package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Claims carried by the external auth provider's token. Sub is the opaque
// owner identity; Plan is the subscription tier slug (billing is external).
type Claims struct {
	Sub  string `json:"sub"`
	Plan string `json:"plan"`
	jwt.RegisteredClaims
}

type JWTMiddleware struct {
	secret []byte
}

func NewJWTMiddleware(secret string) *JWTMiddleware {
	return &JWTMiddleware{secret: []byte(secret)}
}

func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization token")
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		if claims.ExpiresAt != nil && claims.ExpiresAt.Time.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "token expired")
			return
		}

		if claims.Sub == "" {
			writeError(w, http.StatusUnauthorized, "missing subject in token")
			return
		}

		ctx := WithOwner(r.Context(), claims.Sub, claims.Plan)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type ctxKey string

const (
	ownerKey ctxKey = "owner"
	planKey  ctxKey = "plan"
)

func WithOwner(ctx context.Context, ownerID, plan string) context.Context {
	ctx = context.WithValue(ctx, ownerKey, ownerID)
	return context.WithValue(ctx, planKey, plan)
}

// OwnerFromContext returns the authenticated owner id, empty if absent.
func OwnerFromContext(ctx context.Context) string {
	id, _ := ctx.Value(ownerKey).(string)
	return id
}

// PlanFromContext returns the owner's plan slug, empty if absent.
func PlanFromContext(ctx context.Context) string {
	p, _ := ctx.Value(planKey).(string)
	return p
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimPrefix(auth, "Bearer ")
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
