package api

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang-jwt/jwt/v5"
)

type ctxKey int

const principalKey ctxKey = iota

// Principal is the authenticated caller of a broadcast route.
type Principal struct {
	UserID   *int64
	Username string
}

// PrincipalFrom returns the caller attached by authenticate, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey).(Principal)
	return p, ok
}

type claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// authenticate verifies "Authorization: Bearer <jwt>" signed with HS256.
// With no secret configured every request passes anonymously.
func (s *Server) authenticate(next http.Handler) http.Handler {
	secret := []byte(s.opts.JWTSecret)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if len(secret) == 0 {
			next.ServeHTTP(w, r)
			return
		}

		raw, ok := bearerToken(r)
		if !ok {
			writeErrorMessage(w, http.StatusUnauthorized, "missing bearer token")
			return
		}
		var c claims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
			return secret, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			s.log.Debug("api: rejected token", "err", err)
			writeErrorMessage(w, http.StatusUnauthorized, "invalid token")
			return
		}

		p := Principal{Username: c.Username}
		if id, err := strconv.ParseInt(c.Subject, 10, 64); err == nil {
			p.UserID = &id
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey, p)))
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(h, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		// EventSource cannot set headers; accept ?token= as well.
		if t := r.URL.Query().Get("token"); t != "" {
			return t, true
		}
		return "", false
	}
	return strings.TrimSpace(token), true
}

// corsHandler allows the configured frontend origin. Nil when no origin is set.
func (s *Server) corsHandler() func(http.Handler) http.Handler {
	if s.opts.FrontendURL == "" {
		return nil
	}
	return cors.Handler(cors.Options{
		AllowedOrigins:   []string{s.opts.FrontendURL},
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:   []string{"Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		s.log.Info("api: request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
