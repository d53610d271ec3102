// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

// Package gate decides, per request, whether a presented session token lets a
// protected action run, and keeps the client's token in step with the session
// table (rotating it on success, clearing it when it is dead).
//
// An unreachable session store is never treated as a failed login: the
// request is refused with 503 and the client's token is left untouched so the
// user is still signed in once the store recovers.
package gate

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/samber/oops"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
)

// Responder is the slice of a response the gate is allowed to touch.
type Responder interface {
	// SetStatus records a denial status.
	SetStatus(code int)
	// SetCookie hands the client a session token expiring at expiresAt.
	SetCookie(token string, expiresAt time.Time)
	// ClearCookie tells the client to drop its session token.
	ClearCookie()
}

// Sessions is the part of auth.SessionService the gate depends on.
type Sessions interface {
	ValidateToken(ctx context.Context, token string) (ulid.ULID, bool, error)
	RotateSession(ctx context.Context, token string, validity time.Duration) (auth.Ticket, bool, error)
}

// Recorder receives one call per gate decision.
type Recorder interface {
	RecordGateDecision(mode, state string)
}

// State is what the gate found out about a presented token.
type State int

// Token states.
const (
	Valid       State = iota // live session; rotated unless rotation is off
	NoToken                  // nothing presented
	Invalid                  // unknown or expired
	Unavailable              // the session store could not answer
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case NoToken:
		return "no_token"
	case Invalid:
		return "invalid"
	case Unavailable:
		return "unavailable"
	default:
		return "unknown"
	}
}

// Gate modes, used as metric labels.
const (
	ModeRequired = "required"
	ModeOptional = "optional"
)

// Options configures a Gate.
type Options struct {
	// Validity of rotated sessions. Defaults to auth.DefaultSessionValidity.
	Validity time.Duration
	// DisableRotation validates tokens without replacing them.
	DisableRotation bool
	Logger          *slog.Logger
	Recorder        Recorder
}

// Gate applies the session state machine to requests.
type Gate struct {
	sessions Sessions
	validity time.Duration
	rotate   bool
	logger   *slog.Logger
	recorder Recorder
}

// New creates a Gate.
func New(sessions Sessions, opts Options) (*Gate, error) {
	if sessions == nil {
		return nil, oops.Errorf("sessions are required")
	}
	g := &Gate{
		sessions: sessions,
		validity: opts.Validity,
		rotate:   !opts.DisableRotation,
		logger:   opts.Logger,
		recorder: opts.Recorder,
	}
	if g.validity == 0 {
		g.validity = auth.DefaultSessionValidity
	}
	if g.logger == nil {
		g.logger = slog.Default()
	}
	return g, nil
}

// Access runs protected only when token belongs to a live session.
//
//	NoToken     -> 401, cookie untouched
//	Invalid     -> 401, cookie cleared
//	Unavailable -> 503, cookie untouched
//	Valid       -> cookie set to the rotated token, protected runs
func (g *Gate) Access(ctx context.Context, token string, rw Responder, protected func(ctx context.Context, userID ulid.ULID)) State {
	userID, state := g.resolve(ctx, token, rw)
	switch state {
	case Valid:
		protected(ctx, userID)
	case NoToken, Invalid:
		rw.SetStatus(http.StatusUnauthorized)
	case Unavailable:
		rw.SetStatus(http.StatusServiceUnavailable)
	}
	g.record(ctx, ModeRequired, state)
	return state
}

// LoadPerLoginStatus never denies for lack of a session: it runs onLoggedIn
// for a live session and onLoggedOut otherwise. A store outage runs neither
// and answers 503 with the cookie untouched.
func (g *Gate) LoadPerLoginStatus(ctx context.Context, token string, rw Responder,
	onLoggedIn func(ctx context.Context, userID ulid.ULID), onLoggedOut func(ctx context.Context),
) State {
	userID, state := g.resolve(ctx, token, rw)
	switch state {
	case Valid:
		onLoggedIn(ctx, userID)
	case NoToken, Invalid:
		onLoggedOut(ctx)
	case Unavailable:
		rw.SetStatus(http.StatusServiceUnavailable)
	}
	g.record(ctx, ModeOptional, state)
	return state
}

// resolve classifies token and applies the cookie side of the transition.
func (g *Gate) resolve(ctx context.Context, token string, rw Responder) (ulid.ULID, State) {
	if token == "" {
		return ulid.ULID{}, NoToken
	}

	if !g.rotate {
		userID, ok, err := g.sessions.ValidateToken(ctx, token)
		switch {
		case err != nil:
			g.logger.WarnContext(ctx, "session store unavailable, leaving cookie as is", "error", err)
			return ulid.ULID{}, Unavailable
		case !ok:
			rw.ClearCookie()
			return ulid.ULID{}, Invalid
		}
		return userID, Valid
	}

	ticket, ok, err := g.sessions.RotateSession(ctx, token, g.validity)
	switch {
	case err != nil:
		g.logger.WarnContext(ctx, "session store unavailable, leaving cookie as is", "error", err)
		return ulid.ULID{}, Unavailable
	case !ok:
		rw.ClearCookie()
		return ulid.ULID{}, Invalid
	}
	rw.SetCookie(ticket.Token, ticket.ExpiresAt)
	return ticket.UserID, Valid
}

func (g *Gate) record(ctx context.Context, mode string, state State) {
	g.logger.DebugContext(ctx, "gate decision", "mode", mode, "state", state.String())
	if g.recorder != nil {
		g.recorder.RecordGateDecision(mode, state.String())
	}
}
