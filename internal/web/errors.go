// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package web

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
	"github.com/sheetkeeper/sheetkeeper/pkg/errutil"
)

// Messages shown to clients. Login failures never say which half was wrong.
const (
	msgBadCredentials = "invalid username or password"
	msgUnavailable    = "service temporarily unavailable, try again shortly"
	msgInternal       = "internal error"
	msgBadRequest     = "request body must be JSON with username and password"
)

// ErrorResponse is the body of every non-2xx JSON answer.
type ErrorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}

// statusFor maps an auth error kind to a status code.
func statusFor(err error) int {
	switch {
	case auth.IsValidationFailure(err):
		return http.StatusBadRequest
	case auth.IsCredentialFailure(err):
		return http.StatusUnauthorized
	case errors.Is(err, auth.ErrStoreUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeAuthError answers err with its mapped status and a client-safe
// message. Server-side failures are logged with their full context.
func (h *Handler) writeAuthError(w http.ResponseWriter, r *http.Request, msg string, err error) int {
	status := statusFor(err)
	switch status {
	case http.StatusBadRequest:
		writeError(w, status, err.Error())
	case http.StatusUnauthorized:
		writeError(w, status, msgBadCredentials)
	case http.StatusServiceUnavailable:
		errutil.LogError(r.Context(), h.logger, msg, err, "status", status)
		writeError(w, status, msgUnavailable)
	default:
		errutil.LogError(r.Context(), h.logger, msg, err, "status", status)
		writeError(w, status, msgInternal)
	}
	return status
}
