// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package web

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookieName carries the session token.
const SessionCookieName = "sessionId"

// sessionToken returns the presented token, or "" when there is none.
func sessionToken(r *http.Request) string {
	cookie, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return cookie.Value
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	return strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

func (h *Handler) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		Expires:  expiresAt,
	})
}

func (h *Handler) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   h.secureCookies || requestIsSecure(r),
		SameSite: http.SameSiteLaxMode,
		MaxAge:   -1,
	})
}

// responder adapts a ResponseWriter to gate.Responder. Cookie changes go
// straight to the header; a denial status is held until deny writes it.
type responder struct {
	h      *Handler
	w      http.ResponseWriter
	r      *http.Request
	status int
}

func (h *Handler) responder(w http.ResponseWriter, r *http.Request) *responder {
	return &responder{h: h, w: w, r: r}
}

func (rw *responder) SetStatus(code int) { rw.status = code }

func (rw *responder) SetCookie(token string, expiresAt time.Time) {
	rw.h.writeSessionCookie(rw.w, rw.r, token, expiresAt)
}

func (rw *responder) ClearCookie() { rw.h.clearSessionCookie(rw.w, rw.r) }

// deny writes the held status, if any.
func (rw *responder) deny() {
	switch rw.status {
	case 0:
		return
	case http.StatusUnauthorized:
		if rw.h.loginRedirect != "" {
			http.Redirect(rw.w, rw.r, rw.h.loginRedirect, http.StatusSeeOther)
			return
		}
		writeError(rw.w, rw.status, "authentication required")
	case http.StatusServiceUnavailable:
		writeError(rw.w, rw.status, msgUnavailable)
	default:
		writeError(rw.w, rw.status, http.StatusText(rw.status))
	}
}
