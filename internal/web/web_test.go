// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Sheetkeeper Contributors

package web_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sheetkeeper/sheetkeeper/internal/auth"
	"github.com/sheetkeeper/sheetkeeper/internal/auth/memory"
	"github.com/sheetkeeper/sheetkeeper/internal/gate"
	"github.com/sheetkeeper/sheetkeeper/internal/web"
)

func quietLogger() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

// countingRecorder tallies metric calls by name and label.
type countingRecorder struct {
	mu     sync.Mutex
	counts map[string]int
}

func newCountingRecorder() *countingRecorder {
	return &countingRecorder{counts: make(map[string]int)}
}

func (c *countingRecorder) inc(key string) {
	c.mu.Lock()
	c.counts[key]++
	c.mu.Unlock()
}

func (c *countingRecorder) get(key string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts[key]
}

func (c *countingRecorder) RecordLogin(result string)  { c.inc("login/" + result) }
func (c *countingRecorder) RecordSignup(result string) { c.inc("signup/" + result) }
func (c *countingRecorder) RecordRequest(method, route string, _ int) {
	c.inc("request/" + method + " " + route)
}

// downStore fails every call the way an unreachable session table does.
type downStore struct{}

func (downStore) CreateSession(context.Context, ulid.ULID, time.Duration) (auth.Ticket, error) {
	return auth.Ticket{}, auth.ErrStoreUnavailable
}

func (downStore) AuthenticateAndCreateSession(context.Context, string, string, time.Duration) (auth.Ticket, error) {
	return auth.Ticket{}, auth.ErrStoreUnavailable
}

func (downStore) InvalidateSession(context.Context, string) error { return auth.ErrStoreUnavailable }

func (downStore) ValidateToken(context.Context, string) (ulid.ULID, bool, error) {
	return ulid.ULID{}, false, auth.ErrStoreUnavailable
}

func (downStore) RotateSession(context.Context, string, time.Duration) (auth.Ticket, bool, error) {
	return auth.Ticket{}, false, auth.ErrStoreUnavailable
}

type fixture struct {
	router   http.Handler
	recorder *countingRecorder
}

func newFixture(t *testing.T, mutate func(*web.Options)) *fixture {
	t.Helper()
	hasher := auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1})
	creds, err := auth.NewCredentialService(memory.NewUserRepository(), hasher,
		auth.WithCredentialLogger(quietLogger()))
	require.NoError(t, err)
	sessions, err := auth.NewSessionService(auth.NewMemorySessionTable(), creds,
		auth.WithSessionLogger(quietLogger()))
	require.NoError(t, err)
	g, err := gate.New(sessions, gate.Options{Logger: quietLogger()})
	require.NoError(t, err)

	rec := newCountingRecorder()
	opts := web.Options{
		Accounts: creds,
		Sessions: sessions,
		Gate:     g,
		Logger:   quietLogger(),
		Recorder: rec,
	}
	if mutate != nil {
		mutate(&opts)
	}
	h, err := web.New(opts)
	require.NoError(t, err)
	return &fixture{router: h.Router(), recorder: rec}
}

func (f *fixture) do(t *testing.T, method, path string, body any, cookie *http.Cookie) *http.Response {
	t.Helper()
	var reqBody io.Reader = http.NoBody
	if body != nil {
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
		reqBody = &buf
	}
	req := httptest.NewRequestWithContext(t.Context(), method, path, reqBody)
	if cookie != nil {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec.Result()
}

func credentials(username, password string) web.CredentialsRequest {
	return web.CredentialsRequest{Username: username, Password: password}
}

func sessionCookie(resp *http.Response) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == web.SessionCookieName {
			return c
		}
	}
	return nil
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestSignupLoginRotateLogout(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodPost, "/users", credentials("alice", "Password1"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := sessionCookie(resp)
	require.NotNil(t, first)
	assert.True(t, first.HttpOnly)
	assert.Equal(t, "/", first.Path)
	assert.Equal(t, http.SameSiteLaxMode, first.SameSite)
	assert.False(t, first.Secure)
	signedUp := decode[web.UserResponse](t, resp)
	require.NotEmpty(t, signedUp.UserID)

	resp = f.do(t, http.MethodGet, "/session", nil, first)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	second := sessionCookie(resp)
	require.NotNil(t, second, "a gated request rotates the token")
	assert.NotEqual(t, first.Value, second.Value)
	assert.Equal(t, signedUp.UserID, decode[web.UserResponse](t, resp).UserID)

	resp = f.do(t, http.MethodGet, "/session", nil, first)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode, "a rotated-away token is dead")
	cleared := sessionCookie(resp)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)

	resp = f.do(t, http.MethodPost, "/sessions", credentials("alice", "Password1"), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	loggedIn := sessionCookie(resp)
	require.NotNil(t, loggedIn)
	assert.Equal(t, signedUp.UserID, decode[web.UserResponse](t, resp).UserID)

	resp = f.do(t, http.MethodDelete, "/sessions", nil, loggedIn)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	require.NotNil(t, sessionCookie(resp))
	assert.Negative(t, sessionCookie(resp).MaxAge)

	resp = f.do(t, http.MethodGet, "/session", nil, loggedIn)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	assert.Equal(t, 1, f.recorder.get("signup/success"))
	assert.Equal(t, 1, f.recorder.get("login/success"))
	assert.Equal(t, 3, f.recorder.get("request/GET /session"))
}

func TestLoginFailuresShareOneMessage(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/users", credentials("alice", "Password1"), nil).StatusCode)

	wrongPassword := f.do(t, http.MethodPost, "/sessions", credentials("alice", "Password2"), nil)
	unknownUser := f.do(t, http.MethodPost, "/sessions", credentials("bob", "Password1"), nil)

	for _, resp := range []*http.Response{wrongPassword, unknownUser} {
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Nil(t, sessionCookie(resp))
		assert.Equal(t, "invalid username or password", decode[web.ErrorResponse](t, resp).Error)
	}
	assert.Equal(t, 2, f.recorder.get("login/rejected"))
}

func TestSignupRejections(t *testing.T) {
	f := newFixture(t, nil)
	require.Equal(t, http.StatusCreated,
		f.do(t, http.MethodPost, "/users", credentials("alice", "Password1"), nil).StatusCode)

	tests := []struct {
		name string
		body web.CredentialsRequest
	}{
		{"weak password", credentials("carol", "password")},
		{"blank username", credentials("", "Password1")},
		{"whitespace username", credentials("ca rol", "Password1")},
		{"duplicate, case-insensitive", credentials("ALICE", "Password1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, http.MethodPost, "/users", tt.body, nil)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Nil(t, sessionCookie(resp))
			assert.NotEmpty(t, decode[web.ErrorResponse](t, resp).Error)
		})
	}
}

func TestMalformedBody(t *testing.T) {
	f := newFixture(t, nil)

	for _, path := range []string{"/users", "/sessions"} {
		req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, path, strings.NewReader("{not json"))
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code, path)
	}
}

func TestNegativeValidityTakesLoggedOutBranch(t *testing.T) {
	f := newFixture(t, func(o *web.Options) { o.Validity = -10 * time.Minute })

	resp := f.do(t, http.MethodPost, "/users", credentials("alice", "Password1"), nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	cookie := sessionCookie(resp)
	require.NotNil(t, cookie)

	resp = f.do(t, http.MethodGet, "/nav", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	cleared := sessionCookie(resp)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
	assert.Equal(t, web.NavResponse{LoggedIn: false}, decode[web.NavResponse](t, resp))
}

func TestNav(t *testing.T) {
	f := newFixture(t, nil)

	resp := f.do(t, http.MethodGet, "/nav", nil, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, sessionCookie(resp), "no token, no cookie change")
	assert.False(t, decode[web.NavResponse](t, resp).LoggedIn)

	resp = f.do(t, http.MethodPost, "/users", credentials("alice", "Password1"), nil)
	cookie := sessionCookie(resp)
	user := decode[web.UserResponse](t, resp)

	resp = f.do(t, http.MethodGet, "/nav", nil, cookie)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotNil(t, sessionCookie(resp))
	assert.Equal(t, web.NavResponse{LoggedIn: true, UserID: user.UserID}, decode[web.NavResponse](t, resp))
}

func TestStoreOutageLeavesCookieAlone(t *testing.T) {
	g, err := gate.New(downStore{}, gate.Options{Logger: quietLogger()})
	require.NoError(t, err)
	f := newFixture(t, func(o *web.Options) {
		o.Sessions = downStore{}
		o.Gate = g
	})
	cookie := &http.Cookie{Name: web.SessionCookieName, Value: "still-mine"}

	tests := []struct {
		name   string
		method string
		path   string
		body   any
	}{
		{"gated", http.MethodGet, "/session", nil},
		{"optional", http.MethodGet, "/nav", nil},
		{"logout", http.MethodDelete, "/sessions", nil},
		{"login", http.MethodPost, "/sessions", credentials("alice", "Password1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := f.do(t, tt.method, tt.path, tt.body, cookie)
			assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
			assert.Nil(t, sessionCookie(resp))
		})
	}
	assert.Equal(t, 1, f.recorder.get("login/unavailable"))
}

func TestLoginRedirect(t *testing.T) {
	f := newFixture(t, func(o *web.Options) { o.LoginRedirect = "/login" })

	resp := f.do(t, http.MethodGet, "/session", nil, nil)
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = f.do(t, http.MethodGet, "/session", nil, &http.Cookie{Name: web.SessionCookieName, Value: "stale"})
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	require.NotNil(t, sessionCookie(resp), "stale cookie is cleared on the redirect")
}

func TestSecureCookie(t *testing.T) {
	t.Run("forwarded https", func(t *testing.T) {
		f := newFixture(t, nil)
		var buf bytes.Buffer
		require.NoError(t, json.NewEncoder(&buf).Encode(credentials("alice", "Password1")))
		req := httptest.NewRequestWithContext(t.Context(), http.MethodPost, "/users", &buf)
		req.Header.Set("X-Forwarded-Proto", "https")
		rec := httptest.NewRecorder()
		f.router.ServeHTTP(rec, req)

		cookie := sessionCookie(rec.Result())
		require.NotNil(t, cookie)
		assert.True(t, cookie.Secure)
	})

	t.Run("forced by config", func(t *testing.T) {
		f := newFixture(t, func(o *web.Options) { o.SecureCookies = true })
		cookie := sessionCookie(f.do(t, http.MethodPost, "/users", credentials("alice", "Password1"), nil))
		require.NotNil(t, cookie)
		assert.True(t, cookie.Secure)
	})
}

func TestRequireSessionSetsUserID(t *testing.T) {
	hasher := auth.NewArgon2idHasher(auth.Argon2Params{Time: 1, MemoryKiB: 64, Threads: 1})
	credentialService, err := auth.NewCredentialService(memory.NewUserRepository(), hasher)
	require.NoError(t, err)
	sessions, err := auth.NewSessionService(auth.NewMemorySessionTable(), credentialService)
	require.NoError(t, err)
	g, err := gate.New(sessions, gate.Options{Logger: quietLogger()})
	require.NoError(t, err)
	h, err := web.New(web.Options{Accounts: credentialService, Sessions: sessions, Gate: g, Logger: quietLogger()})
	require.NoError(t, err)

	user, err := credentialService.RegisterUser(t.Context(), "alice", "Password1")
	require.NoError(t, err)
	ticket, err := sessions.CreateSession(t.Context(), user.ID, time.Hour)
	require.NoError(t, err)

	var seen ulid.ULID
	protected := h.RequireSession(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := web.UserIDFromContext(r.Context())
		require.True(t, ok)
		seen = id
		w.WriteHeader(http.StatusTeapot)
	}))

	req := httptest.NewRequestWithContext(t.Context(), http.MethodGet, "/sheets", nil)
	req.AddCookie(&http.Cookie{Name: web.SessionCookieName, Value: ticket.Token})
	rec := httptest.NewRecorder()
	protected.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.Equal(t, user.ID, seen)
}

func TestNewRequiresCollaborators(t *testing.T) {
	_, err := web.New(web.Options{})
	assert.Error(t, err)
}
