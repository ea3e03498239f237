package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	PermAppointmentsCreate = "appointments.create"
	PermScheduleBlock      = "schedule.block"
	PermScheduleOverride   = "schedule.override"
)

var (
	ErrUnauthenticated  = errors.New("caller is not authenticated")
	ErrPermissionDenied = errors.New("caller lacks the required permission")
	ErrInvalidToken     = errors.New("invalid token")
)

// Caller is the identity attached to a request.
type Caller struct {
	UID         string
	Anonymous   bool
	Permissions []string
}

func (c Caller) Has(perm string) bool {
	return slices.Contains(c.Permissions, perm)
}

type Claims struct {
	Anonymous   bool     `json:"anonymous,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	jwt.RegisteredClaims
}

type Authenticator struct {
	secret []byte
	now    func() time.Time
}

func NewAuthenticator(secret string) *Authenticator {
	return &Authenticator{secret: []byte(secret), now: time.Now}
}

// Issue signs an HS256 token for c.
func (a *Authenticator) Issue(c Caller, ttl time.Duration) (string, error) {
	now := a.now()
	claims := Claims{
		Anonymous:   c.Anonymous,
		Permissions: c.Permissions,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   c.UID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// IssueAnonymous mints a fresh anonymous identity for public booking.
func (a *Authenticator) IssueAnonymous(ttl time.Duration) (string, Caller, error) {
	c := Caller{UID: "anon-" + uuid.NewString(), Anonymous: true}
	token, err := a.Issue(c, ttl)
	return token, c, err
}

func (a *Authenticator) Verify(tokenString string) (Caller, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return a.secret, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return Caller{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid || claims.Subject == "" {
		return Caller{}, ErrInvalidToken
	}
	return Caller{
		UID:         claims.Subject,
		Anonymous:   claims.Anonymous,
		Permissions: claims.Permissions,
	}, nil
}

type ctxKey struct{}

func WithCaller(ctx context.Context, c Caller) context.Context {
	return context.WithValue(ctx, ctxKey{}, c)
}

// FromContext returns the caller set by Middleware, if any.
func FromContext(ctx context.Context) (Caller, bool) {
	c, ok := ctx.Value(ctxKey{}).(Caller)
	return c, ok
}

// Middleware attaches the bearer token's caller to the request context.
// Requests without a token pass through unauthenticated; a bad token is
// handed to onError.
func (a *Authenticator) Middleware(onError func(w http.ResponseWriter, r *http.Request, err error)) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			if header == "" {
				next.ServeHTTP(w, r)
				return
			}
			tokenString, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || strings.TrimSpace(tokenString) == "" {
				onError(w, r, ErrInvalidToken)
				return
			}
			c, err := a.Verify(strings.TrimSpace(tokenString))
			if err != nil {
				onError(w, r, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), c)))
		})
	}
}
