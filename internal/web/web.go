// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

// Package web exposes the session core over HTTP: signup, login, logout and
// the gate middlewares the rest of the application mounts its routes behind.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
	"github.com/sheetkeeper/sheetkeeper/internal/gate"
)

// Accounts registers new users.
type Accounts interface {
	RegisterUser(ctx context.Context, username, password string) (*auth.User, error)
}

// Sessions issues and ends sessions.
type Sessions interface {
	CreateSession(ctx context.Context, userID ulid.ULID, validity time.Duration) (auth.Ticket, error)
	AuthenticateAndCreateSession(ctx context.Context, username, password string, validity time.Duration) (auth.Ticket, error)
	InvalidateSession(ctx context.Context, token string) error
}

// Recorder receives HTTP-level metrics. observability.Metrics implements it.
type Recorder interface {
	RecordLogin(result string)
	RecordSignup(result string)
	RecordRequest(method, route string, status int)
}

// Options configures a Handler.
type Options struct {
	Accounts Accounts
	Sessions Sessions
	Gate     *gate.Gate

	// Validity of sessions issued at login and signup. Zero means
	// auth.DefaultSessionValidity; negative values are passed through and
	// yield sessions that are already expired.
	Validity time.Duration
	// LoginRedirect, when set, answers gate 401s with 303 See Other to this path.
	LoginRedirect string
	// SecureCookies marks the session cookie Secure regardless of the request.
	SecureCookies bool

	Logger   *slog.Logger
	Recorder Recorder
}

// Handler serves the session endpoints.
type Handler struct {
	accounts      Accounts
	sessions      Sessions
	gate          *gate.Gate
	validity      time.Duration
	loginRedirect string
	secureCookies bool
	logger        *slog.Logger
	recorder      Recorder
}

// New creates a Handler.
func New(opts Options) (*Handler, error) {
	switch {
	case opts.Accounts == nil:
		return nil, oops.Errorf("accounts are required")
	case opts.Sessions == nil:
		return nil, oops.Errorf("sessions are required")
	case opts.Gate == nil:
		return nil, oops.Errorf("gate is required")
	}

	h := &Handler{
		accounts:      opts.Accounts,
		sessions:      opts.Sessions,
		gate:          opts.Gate,
		validity:      opts.Validity,
		loginRedirect: opts.LoginRedirect,
		secureCookies: opts.SecureCookies,
		logger:        opts.Logger,
		recorder:      opts.Recorder,
	}
	if h.validity == 0 {
		h.validity = auth.DefaultSessionValidity
	}
	if h.logger == nil {
		h.logger = slog.Default()
	}
	if h.recorder == nil {
		h.recorder = nopRecorder{}
	}
	return h, nil
}

// Router returns the public routes with the standard middleware stack.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)

	r.Post("/users", h.handleSignup)
	r.Post("/sessions", h.handleLogin)
	r.Delete("/sessions", h.handleLogout)
	r.Post("/logout", h.handleLogout)

	r.With(h.RequireSession).Get("/session", h.handleWhoAmI)
	r.Method(http.MethodGet, "/nav", h.PerLoginStatus(http.HandlerFunc(h.handleNavLoggedIn), http.HandlerFunc(h.handleNavLoggedOut)))
	return r
}

type nopRecorder struct{}

func (nopRecorder) RecordLogin(string)                {}
func (nopRecorder) RecordSignup(string)               {}
func (nopRecorder) RecordRequest(string, string, int) {}
