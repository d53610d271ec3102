// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package web

import (
	"encoding/json"
	"net/http"
)

const maxBodyBytes = 16 << 10

// Login and signup outcomes, used as metric labels.
const (
	resultSuccess     = "success"
	resultRejected    = "rejected"
	resultUnavailable = "unavailable"
	resultError       = "error"
)

// CredentialsRequest is the body of POST /users and POST /sessions.
type CredentialsRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// UserResponse identifies the signed-in user.
type UserResponse struct {
	UserID string `json:"userId"`
}

// NavResponse tells a page how to render its navigation.
type NavResponse struct {
	LoggedIn bool   `json:"loggedIn"`
	UserID   string `json:"userId,omitempty"`
}

func decodeCredentials(w http.ResponseWriter, r *http.Request) (CredentialsRequest, bool) {
	var req CredentialsRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, msgBadRequest)
		return req, false
	}
	return req, true
}

func resultFor(status int) string {
	switch status {
	case http.StatusBadRequest, http.StatusUnauthorized:
		return resultRejected
	case http.StatusServiceUnavailable:
		return resultUnavailable
	default:
		return resultError
	}
}

func (h *Handler) handleSignup(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		h.recorder.RecordSignup(resultRejected)
		return
	}

	user, err := h.accounts.RegisterUser(r.Context(), req.Username, req.Password)
	if err != nil {
		h.recorder.RecordSignup(resultFor(h.writeAuthError(w, r, "signup failed", err)))
		return
	}

	// The account exists either way; a failure here only means signing in
	// separately.
	ticket, err := h.sessions.CreateSession(r.Context(), user.ID, h.validity)
	if err != nil {
		h.recorder.RecordSignup(resultFor(h.writeAuthError(w, r, "session after signup failed", err)))
		return
	}

	h.writeSessionCookie(w, r, ticket.Token, ticket.ExpiresAt)
	h.logger.InfoContext(r.Context(), "user registered", "user_id", user.ID.String())
	h.recorder.RecordSignup(resultSuccess)
	writeJSON(w, http.StatusCreated, UserResponse{UserID: user.ID.String()})
}

func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeCredentials(w, r)
	if !ok {
		h.recorder.RecordLogin(resultRejected)
		return
	}

	ticket, err := h.sessions.AuthenticateAndCreateSession(r.Context(), req.Username, req.Password, h.validity)
	if err != nil {
		h.recorder.RecordLogin(resultFor(h.writeAuthError(w, r, "login failed", err)))
		return
	}

	h.writeSessionCookie(w, r, ticket.Token, ticket.ExpiresAt)
	h.recorder.RecordLogin(resultSuccess)
	writeJSON(w, http.StatusOK, UserResponse{UserID: ticket.UserID.String()})
}

// handleLogout ends the presented session. A store outage leaves the cookie
// alone so the session is still usable once the store is back.
func (h *Handler) handleLogout(w http.ResponseWriter, r *http.Request) {
	if token := sessionToken(r); token != "" {
		if err := h.sessions.InvalidateSession(r.Context(), token); err != nil {
			h.writeAuthError(w, r, "logout failed", err)
			return
		}
	}
	h.clearSessionCookie(w, r)
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleWhoAmI(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, UserResponse{UserID: userID.String()})
}

func (h *Handler) handleNavLoggedIn(w http.ResponseWriter, r *http.Request) {
	userID, _ := UserIDFromContext(r.Context())
	writeJSON(w, http.StatusOK, NavResponse{LoggedIn: true, UserID: userID.String()})
}

func (h *Handler) handleNavLoggedOut(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, NavResponse{LoggedIn: false})
}
