package auth_test

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"

	"github.com/Mindburn-Labs/datakeep/pkg/auth"
)

func TestRequestIDMiddleware(t *testing.T) {
	var seen string
	handler := auth.RequestIDMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = auth.GetRequestID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	t.Run("generates when absent", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/datasets", nil)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("expected a generated UUID, got %q: %v", got, err)
		}
		if seen != got {
			t.Errorf("context ID %q does not match response header %q", seen, got)
		}
	})

	t.Run("reuses a well-formed client ID", func(t *testing.T) {
		id := uuid.New().String()
		req := httptest.NewRequest("GET", "/api/datasets", nil)
		req.Header.Set("X-Request-ID", id)
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		if got := w.Header().Get("X-Request-ID"); got != id {
			t.Errorf("expected client ID %q to be reused, got %q", id, got)
		}
	})

	t.Run("replaces junk client IDs", func(t *testing.T) {
		req := httptest.NewRequest("GET", "/api/datasets", nil)
		req.Header.Set("X-Request-ID", "not-a-uuid\r\ninjected")
		w := httptest.NewRecorder()
		handler.ServeHTTP(w, req)

		got := w.Header().Get("X-Request-ID")
		if _, err := uuid.Parse(got); err != nil {
			t.Fatalf("expected a replacement UUID, got %q: %v", got, err)
		}
	})
}
