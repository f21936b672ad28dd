package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/prudhvinik1/nebula/internal/models"
)

type HandlerFunc func(http.ResponseWriter, *http.Request) error

type APIError struct {
	Error  string `json:"error"`
	Reason string `json:"reason,omitempty"`
	Status int    `json:"status"`
}

// StatusError carries the HTTP status a handler error should be answered with.
type StatusError struct {
	Status int
	Reason string
	Err    error
}

func (e *StatusError) Error() string { return e.Err.Error() }
func (e *StatusError) Unwrap() error { return e.Err }

func BadRequest(err error, reason string) error {
	return &StatusError{Status: http.StatusBadRequest, Reason: reason, Err: err}
}

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	VerifyToken(token string) (*models.Principal, error)
}

type ctxKey struct{}

var ErrUnauthorized = errors.New("unauthorized")

func WriteJSON(w http.ResponseWriter, v any, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func WriteError(w http.ResponseWriter, status int, err error, reason string) {
	if err == nil {
		err = errors.New(http.StatusText(status))
	}
	WriteJSON(w, APIError{Error: err.Error(), Reason: reason, Status: status}, status)
}

// Wrap adapts an error-returning handler. Unclassified errors are answered
// with 500 and the detail stays in the log.
func Wrap(fn HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		err := fn(w, r)
		if err == nil {
			return
		}
		var se *StatusError
		switch {
		case errors.As(err, &se):
			WriteError(w, se.Status, se.Err, se.Reason)
		case errors.Is(err, ErrUnauthorized):
			WriteError(w, http.StatusUnauthorized, err, "")
		default:
			LoggerFrom(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
			WriteError(w, http.StatusInternalServerError, errors.New("internal error"), "")
		}
	})
}

// BearerToken returns the token from an "Authorization: Bearer" header.
func BearerToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// AuthMiddleware rejects requests without a valid bearer token and stores
// the principal on the request context.
func AuthMiddleware(verifier TokenVerifier) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tok := BearerToken(r)
			if tok == "" {
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "missing_bearer")
				return
			}
			principal, err := verifier.VerifyToken(tok)
			if err != nil {
				WriteError(w, http.StatusUnauthorized, ErrUnauthorized, "invalid_token")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, ctxKey{}, p)
}

func PrincipalFrom(ctx context.Context) (*models.Principal, error) {
	p, _ := ctx.Value(ctxKey{}).(*models.Principal)
	if p == nil || p.UserID == "" {
		return nil, ErrUnauthorized
	}
	return p, nil
}

// UserKey is a rate-limit key function for authenticated routes.
func UserKey(r *http.Request) (string, bool) {
	p, err := PrincipalFrom(r.Context())
	if err != nil {
		return "", false
	}
	return p.UserID, true
}

// QueryInt parses an optional integer query parameter. A missing value
// yields def; a malformed one is an error.
func QueryInt(r *http.Request, key string, def int) (int, error) {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, BadRequest(errors.New(key+" must be an integer"), "invalid_"+key)
	}
	return n, nil
}
