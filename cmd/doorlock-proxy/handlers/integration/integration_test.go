package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-cmp/cmp"

	"github.com/wrale/doorlock-proxy/internal/actuator"
	"github.com/wrale/doorlock-proxy/internal/doorlock"
	"github.com/wrale/doorlock-proxy/internal/hub"
	"github.com/wrale/doorlock-proxy/internal/identity"
	"github.com/wrale/doorlock-proxy/internal/setup"
	"github.com/wrale/doorlock-proxy/internal/state"
)

type mockFlow struct {
	beginURL    string
	beginErr    error
	gotRequest  setup.Request
	redirect    string
	completeErr error
}

func (m *mockFlow) Begin(ctx context.Context, req setup.Request) (string, error) {
	m.gotRequest = req
	return m.beginURL, m.beginErr
}

func (m *mockFlow) Complete(ctx context.Context, stateValue, code string) (string, error) {
	return m.redirect, m.completeErr
}

type mockLister struct {
	locks     []actuator.LockSummary
	err       error
	gotID     string
	gotCaller string
}

func (m *mockLister) ListOpenable(ctx context.Context, integrationID, caller string) ([]actuator.LockSummary, error) {
	m.gotID, m.gotCaller = integrationID, caller
	return m.locks, m.err
}

func withUser(r *http.Request, id string) *http.Request {
	return r.WithContext(identity.NewContext(r.Context(), &identity.User{ID: id}))
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	return body
}

func TestSetupHandler(t *testing.T) {
	validBody := `{"baseURL":"https://hub.example.com","frontendCallback":"https://app.example.com/done","clientSecret":"cs"}`

	tests := []struct {
		name       string
		body       string
		user       string
		flow       *mockFlow
		wantStatus int
		wantBody   map[string]string
	}{
		{
			name:       "created",
			body:       validBody,
			user:       "alice",
			flow:       &mockFlow{beginURL: "https://hub.example.com/auth/authorize?state=x"},
			wantStatus: http.StatusCreated,
			wantBody:   map[string]string{"authUrl": "https://hub.example.com/auth/authorize?state=x"},
		},
		{
			name:       "already setup",
			body:       validBody,
			user:       "alice",
			flow:       &mockFlow{beginErr: setup.ErrAlreadyConfigured},
			wantStatus: http.StatusOK,
			wantBody:   map[string]string{"message": "Already setup"},
		},
		{
			name:       "pending for another owner",
			body:       validBody,
			user:       "mallory",
			flow:       &mockFlow{beginErr: doorlock.ErrForbidden},
			wantStatus: http.StatusForbidden,
			wantBody:   map[string]string{"message": "Forbidden"},
		},
		{
			name:       "malformed body",
			body:       `{"baseURL":`,
			user:       "alice",
			flow:       &mockFlow{},
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]string{"message": "Invalid request body"},
		},
		{
			name:       "invalid base url",
			body:       `{"baseURL":"ftp://hub","frontendCallback":"https://app.example.com"}`,
			user:       "alice",
			flow:       &mockFlow{},
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]string{"message": "invalid baseURL: must use http or https"},
		},
		{
			name:       "missing callback",
			body:       `{"baseURL":"https://hub.example.com"}`,
			user:       "alice",
			flow:       &mockFlow{},
			wantStatus: http.StatusBadRequest,
			wantBody:   map[string]string{"message": "invalid frontendCallback: is required"},
		},
		{
			name:       "store failure",
			body:       validBody,
			user:       "alice",
			flow:       &mockFlow{beginErr: errors.New("redis down")},
			wantStatus: http.StatusInternalServerError,
			wantBody:   map[string]string{"message": "Internal server error"},
		},
		{
			name:       "no user",
			body:       validBody,
			flow:       &mockFlow{},
			wantStatus: http.StatusUnauthorized,
			wantBody:   map[string]string{"message": "Unauthorized"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewSetup(SetupConfig{Flow: tt.flow})

			req := httptest.NewRequest(http.MethodPost, "/integration/setup", strings.NewReader(tt.body))
			if tt.user != "" {
				req = withUser(req, tt.user)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Cache-Control = %q, want no-store", got)
			}
			if diff := cmp.Diff(tt.wantBody, decodeBody(t, w)); diff != "" {
				t.Errorf("body mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestSetupHandlerPassesOwner(t *testing.T) {
	flow := &mockFlow{beginURL: "https://hub.example.com/auth/authorize"}
	handler := NewSetup(SetupConfig{Flow: flow})

	body := `{"baseURL":"https://hub.example.com","frontendCallback":"https://app.example.com/done","clientSecret":"cs"}`
	req := withUser(httptest.NewRequest(http.MethodPost, "/integration/setup", strings.NewReader(body)), "alice")
	handler.ServeHTTP(httptest.NewRecorder(), req)

	want := setup.Request{
		BaseURL:          "https://hub.example.com",
		FrontendCallback: "https://app.example.com/done",
		ClientSecret:     "cs",
		Owner:            "alice",
	}
	if diff := cmp.Diff(want, flow.gotRequest); diff != "" {
		t.Errorf("request mismatch (-want +got):\n%s", diff)
	}
}

func TestCallbackHandler(t *testing.T) {
	tests := []struct {
		name         string
		query        string
		flow         *mockFlow
		wantStatus   int
		wantLocation string
	}{
		{
			name:         "redirects",
			query:        "?state=s&code=c",
			flow:         &mockFlow{redirect: "https://app.example.com/done"},
			wantStatus:   http.StatusTemporaryRedirect,
			wantLocation: "https://app.example.com/done",
		},
		{
			name:       "missing code",
			query:      "?state=s",
			flow:       &mockFlow{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "missing state",
			query:      "?code=c",
			flow:       &mockFlow{},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "invalid state",
			query:      "?state=s&code=c",
			flow:       &mockFlow{completeErr: fmt.Errorf("decoding state: %w", state.ErrInvalidState)},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "unknown integration",
			query:      "?state=s&code=c",
			flow:       &mockFlow{completeErr: fmt.Errorf("integration: %w", doorlock.ErrNotFound)},
			wantStatus: http.StatusNotFound,
		},
		{
			name:       "upstream rejects code",
			query:      "?state=s&code=c",
			flow:       &mockFlow{completeErr: fmt.Errorf("exchanging code: %w", hub.ErrUpstreamAuth)},
			wantStatus: http.StatusBadGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewCallback(CallbackConfig{Flow: tt.flow})

			req := httptest.NewRequest(http.MethodGet, "/integration/callback"+tt.query, nil)
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := w.Header().Get("Location"); got != tt.wantLocation {
				t.Errorf("Location = %q, want %q", got, tt.wantLocation)
			}
		})
	}
}

func TestLocksHandler(t *testing.T) {
	tests := []struct {
		name       string
		lister     *mockLister
		wantStatus int
		wantBody   string
	}{
		{
			name: "lists locks",
			lister: &mockLister{locks: []actuator.LockSummary{
				{ID: "lock.front", Name: "Front door"},
			}},
			wantStatus: http.StatusOK,
			wantBody:   `[{"id":"lock.front","name":"Front door"}]`,
		},
		{
			name:       "empty",
			lister:     &mockLister{locks: []actuator.LockSummary{}},
			wantStatus: http.StatusOK,
			wantBody:   `[]`,
		},
		{
			name:       "not owner",
			lister:     &mockLister{err: doorlock.ErrForbidden},
			wantStatus: http.StatusForbidden,
			wantBody:   `{"message":"Forbidden"}`,
		},
		{
			name:       "unknown integration",
			lister:     &mockLister{err: fmt.Errorf("loading integration: %w", doorlock.ErrNotFound)},
			wantStatus: http.StatusNotFound,
			wantBody:   `{"message":"Integration not found"}`,
		},
		{
			name:       "setup pending",
			lister:     &mockLister{err: fmt.Errorf("obtaining access token: %w", doorlock.ErrSetupPending)},
			wantStatus: http.StatusConflict,
			wantBody:   `{"message":"Integration setup pending"}`,
		},
		{
			name:       "hub failure",
			lister:     &mockLister{err: fmt.Errorf("%w: states returned status 500", hub.ErrUpstream)},
			wantStatus: http.StatusBadGateway,
			wantBody:   `{"message":"Hub request failed"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			handler := NewLocks(LocksConfig{Lister: tt.lister})

			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("id", "integ-1")
			req := httptest.NewRequest(http.MethodGet, "/integration/integ-1/locks", nil)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			req = withUser(req, "alice")

			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if got := strings.TrimSpace(w.Body.String()); got != tt.wantBody {
				t.Errorf("body = %s, want %s", got, tt.wantBody)
			}
			if tt.lister.gotID != "integ-1" || tt.lister.gotCaller != "alice" {
				t.Errorf("lister called with id %q caller %q", tt.lister.gotID, tt.lister.gotCaller)
			}
		})
	}
}
