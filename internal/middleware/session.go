package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/NASA-0007/Rosaiq-Trial/internal/access"
	"github.com/NASA-0007/Rosaiq-Trial/internal/store"
	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/NASA-0007/Rosaiq-Trial/pkg/roles"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const SessionCookie = "rosaiq_session"

type Claims struct {
	Role string `json:"role"`
	Name string `json:"name"`
	jwt.RegisteredClaims
}

type principalKeyType struct{}

var principalKey principalKeyType

// UserSource resolves the account a session token was issued to.
type UserSource interface {
	GetUser(ctx context.Context, id uuid.UUID) (*store.User, error)
}

// Sessions issues and verifies dashboard session tokens (HS256). The token
// only identifies the user; role and existence are read from users on every
// request.
type Sessions struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
	users  UserSource
}

func NewSessions(secret string, ttl time.Duration, users UserSource) *Sessions {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Sessions{secret: []byte(secret), ttl: ttl, now: time.Now, users: users}
}

func (s *Sessions) TTL() time.Duration { return s.ttl }

func (s *Sessions) Issue(userID uuid.UUID, username, role string) (string, time.Time, error) {
	now := s.now()
	exp := now.Add(s.ttl)
	claims := Claims{
		Role: role,
		Name: username,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			Issuer:    "rosaiq",
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	return signed, exp, err
}

func (s *Sessions) Parse(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenStr, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(s.now))
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, errors.New("invalid claims")
	}
	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, errors.New("invalid subject")
	}
	return claims, nil
}

// RequireSession rejects requests without a valid session token, read from the
// Authorization header or the session cookie, and requests whose user no
// longer exists.
func (s *Sessions) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractToken(r)
		if tokenStr == "" {
			apperr.WriteError(w, apperr.Unauthorized("authentication required"))
			return
		}
		claims, err := s.Parse(tokenStr)
		if err != nil {
			apperr.WriteError(w, apperr.Unauthorized("invalid or expired session"))
			return
		}
		id, _ := uuid.Parse(claims.Subject)
		user, err := s.users.GetUser(r.Context(), id)
		if errors.Is(err, store.ErrUserNotFound) {
			apperr.WriteError(w, apperr.Unauthorized("session user no longer exists"))
			return
		}
		if err != nil {
			slog.Error("session user lookup failed", "user_id", id, "error", err)
			apperr.WriteError(w, apperr.InternalServerError("internal server error", err))
			return
		}
		p := access.Principal{UserID: user.ID, Username: user.Username, Role: user.Role}
		ctx := context.WithValue(r.Context(), principalKey, p)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireAdmin must run after RequireSession.
func RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r)
		if !ok {
			apperr.WriteError(w, apperr.Unauthorized("unauthorized"))
			return
		}
		if !roles.HasPermission(p.Role, roles.Admin) {
			apperr.WriteError(w, apperr.Forbidden("admin access required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

// PrincipalFrom returns the user RequireSession resolved for r.
func PrincipalFrom(r *http.Request) (access.Principal, bool) {
	p, ok := r.Context().Value(principalKey).(access.Principal)
	return p, ok
}

func extractToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if len(auth) > 7 && strings.HasPrefix(auth, "Bearer ") {
		return auth[7:]
	}
	// Cookie for websocket / browser flows
	if cookie, err := r.Cookie(SessionCookie); err == nil {
		return cookie.Value
	}
	return ""
}
