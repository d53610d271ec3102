// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/oklog/ulid/v2"
)

type contextKey struct{}

// WithUserID returns ctx carrying the signed-in user's ID.
func WithUserID(ctx context.Context, userID ulid.ULID) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// UserIDFromContext returns the user ID put there by RequireSession or
// PerLoginStatus.
func UserIDFromContext(ctx context.Context) (ulid.ULID, bool) {
	userID, ok := ctx.Value(contextKey{}).(ulid.ULID)
	return userID, ok
}

// RequireSession runs next only for requests carrying a live session. The
// token is rotated on the way through.
func (h *Handler) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := h.responder(w, r)
		h.gate.Access(r.Context(), sessionToken(r), rw, func(ctx context.Context, userID ulid.ULID) {
			next.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
		})
		rw.deny()
	})
}

// PerLoginStatus runs loggedIn for requests with a live session and
// loggedOut for everything else except a store outage, which gets 503.
func (h *Handler) PerLoginStatus(loggedIn, loggedOut http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := h.responder(w, r)
		h.gate.LoadPerLoginStatus(r.Context(), sessionToken(r), rw,
			func(ctx context.Context, userID ulid.ULID) {
				loggedIn.ServeHTTP(w, r.WithContext(WithUserID(ctx, userID)))
			},
			func(ctx context.Context) {
				loggedOut.ServeHTTP(w, r.WithContext(ctx))
			},
		)
		rw.deny()
	})
}

// logRequests logs one line per request and records it by route pattern.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			status := ww.Status()
			if status == 0 {
				status = http.StatusOK
			}
			route := "unmatched"
			if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
				route = rctx.RoutePattern()
			}
			h.recorder.RecordRequest(r.Method, route, status)
			h.logger.InfoContext(r.Context(), "http request",
				"method", r.Method,
				"route", route,
				"status", status,
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"remote_addr", r.RemoteAddr,
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
