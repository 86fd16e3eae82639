package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/go-cmp/cmp"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type mockChecker struct {
	err error
}

func (m *mockChecker) CheckHealth(ctx context.Context) error {
	return m.err
}

func TestHealthHandler(t *testing.T) {
	version := "1.0.0"

	tests := []struct {
		name     string
		storeErr error
		wantCode int
		wantBody Response
	}{
		{
			name:     "healthy system",
			wantCode: http.StatusOK,
			wantBody: Response{
				Status:  "healthy",
				Version: version,
				Details: map[string]any{
					"store": map[string]any{
						"status": "healthy",
					},
				},
			},
		},
		{
			name:     "store unhealthy",
			storeErr: errors.New("dial tcp redis.internal:6379: connection refused"),
			wantCode: http.StatusServiceUnavailable,
			wantBody: Response{
				Status:  "unhealthy",
				Version: version,
				Details: map[string]any{
					"store": map[string]any{
						"status":  "unhealthy",
						"message": "dependency unavailable",
					},
				},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			core, logs := observer.New(zap.WarnLevel)
			handler := New(map[string]Checker{"store": &mockChecker{err: tt.storeErr}}).
				WithVersion(version).
				WithLogger(zap.New(core))

			req := httptest.NewRequest("GET", "/health", nil)
			w := httptest.NewRecorder()

			handler.ServeHTTP(w, req)

			if got := w.Code; got != tt.wantCode {
				t.Errorf("Health handler status = %v, want %v", got, tt.wantCode)
			}
			if got := w.Header().Get("Cache-Control"); got != "no-store" {
				t.Errorf("Health handler Cache-Control = %v, want no-store", got)
			}

			var got Response
			if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
				t.Fatalf("Failed to decode response: %v", err)
			}

			if diff := cmp.Diff(tt.wantBody, got); diff != "" {
				t.Errorf("Health handler response mismatch (-want +got):\n%s", diff)
			}

			// failure detail goes to the log only
			wantLogs := 0
			if tt.storeErr != nil {
				wantLogs = 1
			}
			if n := logs.Len(); n != wantLogs {
				t.Errorf("log entries = %d, want %d", n, wantLogs)
			}
		})
	}
}
