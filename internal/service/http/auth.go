package http

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Роли пользователей. Покупать могут user и premium, каталогом управляет admin.
const (
	RoleUser    = "user"
	RolePremium = "premium"
	RoleAdmin   = "admin"
)

// Principal — аутентифицированный пользователь из JWT-клеймов.
type Principal struct {
	UserID string
	Email  string
	Role   string
}

type principalContextKey struct{}

// PrincipalFromContext достаёт пользователя, положенного Authenticate.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(Principal)
	return p, ok
}

// Authenticator проверяет HMAC-подписанные JWT и гейтит маршруты по ролям.
type Authenticator struct {
	secret []byte
}

// NewAuthenticator создаёт проверку токенов с общим HMAC-секретом.
func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret)}
}

// Authenticate требует валидный Bearer-токен и кладёт Principal в контекст.
func (a *Authenticator) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			respondError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}

		raw := strings.TrimPrefix(auth, "Bearer ")
		token, err := jwt.Parse(raw, func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return a.secret, nil
		}, jwt.WithLeeway(30*time.Second))
		if err != nil || !token.Valid {
			respondError(w, http.StatusUnauthorized, "invalid_token", "invalid jwt")
			return
		}

		claims, ok := token.Claims.(jwt.MapClaims)
		if !ok {
			respondError(w, http.StatusUnauthorized, "invalid_token", "claims parsing error")
			return
		}

		principal := Principal{
			UserID: stringClaim(claims, "sub"),
			Email:  stringClaim(claims, "email"),
			Role:   stringClaim(claims, "role"),
		}
		if principal.UserID == "" {
			respondError(w, http.StatusUnauthorized, "invalid_token", "missing subject claim")
			return
		}

		ctx := context.WithValue(r.Context(), principalContextKey{}, principal)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireRole пропускает только пользователей с одной из перечисленных ролей.
func (a *Authenticator) RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := PrincipalFromContext(r.Context())
			if !ok {
				respondError(w, http.StatusUnauthorized, "unauthorized", "missing authentication")
				return
			}
			for _, role := range roles {
				if principal.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			respondError(w, http.StatusForbidden, "insufficient_role", "role is not allowed to perform this action")
		})
	}
}

// IssueToken выпускает подписанный токен для пользователя. Используется
// вспомогательными инструментами; боевые токены выдаёт внешний auth-сервис.
func (a *Authenticator) IssueToken(p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.MapClaims{
		"sub":   p.UserID,
		"email": p.Email,
		"role":  p.Role,
		"iat":   now.Unix(),
		"exp":   now.Add(ttl).Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(a.secret)
}

func stringClaim(claims jwt.MapClaims, key string) string {
	if v, ok := claims[key].(string); ok {
		return v
	}
	return ""
}
