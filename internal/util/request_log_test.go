package util

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestWithRequestLogPassesThrough(t *testing.T) {
	h := WithRequestLog(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/calls/upload-chunk", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201", rec.Code)
	}
	if rec.Body.String() != `{"ok":true}` {
		t.Fatalf("body altered: %q", rec.Body.String())
	}
}
