/*
auth.go - Bearer-token principal extraction

PURPOSE:
  Authentication itself is an external collaborator: something upstream
  mints HS256 tokens carrying {userId, userType}. This file only verifies
  the signature and tags the request context with the principal. Routes are
  grouped public / authenticated / teacher-only in server.go.

USAGE:
  r.Use(h.Authenticate)          // 401 without a valid token
  r.Use(RequireTeacher)          // 403 unless userType == teacher
  principal, _ := PrincipalFrom(ctx)
*/
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// UserType discriminates the two principals the classroom knows.
type UserType string

const (
	UserStudent UserType = "student"
	UserTeacher UserType = "teacher"
)

// Principal is the authenticated caller.
type Principal struct {
	UserID   string
	UserType UserType
}

// IsTeacher reports whether the principal may perform teacher-only actions.
func (p Principal) IsTeacher() bool { return p.UserType == UserTeacher }

// May reports whether the principal may act on the given student's data:
// teachers may touch anyone, students only themselves.
func (p Principal) May(studentID string) bool {
	return p.IsTeacher() || p.UserID == studentID
}

type claims struct {
	UserID   string `json:"userId"`
	UserType string `json:"userType"`
	jwt.RegisteredClaims
}

type principalKey struct{}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}

// MintToken signs a token for the given principal. Used by tests and by
// operator tooling; the service itself never mints.
func MintToken(secret []byte, p Principal, ttl time.Duration) (string, error) {
	now := time.Now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims{
		UserID:   p.UserID,
		UserType: string(p.UserType),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	})
	return token.SignedString(secret)
}

// parseBearer extracts and verifies the Authorization header.
func (h *Handler) parseBearer(r *http.Request) (Principal, bool) {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return Principal{}, false
	}
	var c claims
	token, err := jwt.ParseWithClaims(strings.TrimPrefix(header, prefix), &c,
		func(t *jwt.Token) (any, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return h.JWTSecret, nil
		})
	if err != nil || !token.Valid || c.UserID == "" {
		return Principal{}, false
	}
	ut := UserType(c.UserType)
	if ut != UserStudent && ut != UserTeacher {
		return Principal{}, false
	}
	return Principal{UserID: c.UserID, UserType: ut}, true
}

// Authenticate requires a valid bearer token and stores the principal on the
// request context.
func (h *Handler) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := h.parseBearer(r)
		if !ok {
			writeErrCode(w, http.StatusUnauthorized, "UNAUTHORIZED", "missing or invalid credential")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

// MaybeAuthenticate attaches a principal when a valid token is present but
// lets anonymous requests through. Used on routes with conditional rules.
func (h *Handler) MaybeAuthenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if p, ok := h.parseBearer(r); ok {
			r = r.WithContext(context.WithValue(r.Context(), principalKey{}, p))
		}
		next.ServeHTTP(w, r)
	})
}

// RequireTeacher rejects non-teacher principals. Must sit behind Authenticate.
func RequireTeacher(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, ok := PrincipalFrom(r.Context())
		if !ok || !p.IsTeacher() {
			writeErrCode(w, http.StatusForbidden, "FORBIDDEN", "teacher role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}
