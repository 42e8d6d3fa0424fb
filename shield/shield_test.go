package shield

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hazyhaar/kworkstat/kit"
)

func chain(h http.Handler) http.Handler {
	stack := DefaultStack(nil)
	for i := len(stack) - 1; i >= 0; i-- {
		h = stack[i](h)
	}
	return h
}

func TestDefaultStack_Headers(t *testing.T) {
	var reqID, transport string
	h := chain(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID = kit.GetRequestID(r.Context())
		transport = kit.GetTransport(r.Context())
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/metrics", nil))

	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("missing X-Content-Type-Options")
	}
	if rec.Header().Get("X-Frame-Options") != "DENY" {
		t.Error("missing X-Frame-Options")
	}
	if reqID == "" || rec.Header().Get("X-Request-ID") != reqID {
		t.Errorf("request id: ctx %q header %q", reqID, rec.Header().Get("X-Request-ID"))
	}
	if transport != "http" {
		t.Errorf("transport: got %q", transport)
	}
}

func TestHeadToGet(t *testing.T) {
	var method string
	h := HeadToGet(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodHead, "/health", nil))
	if method != http.MethodGet {
		t.Fatalf("method: got %s", method)
	}
}

func TestMaxBody(t *testing.T) {
	var readErr error
	h := MaxBody(8)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, readErr = io.ReadAll(r.Body)
	}))
	h.ServeHTTP(httptest.NewRecorder(),
		httptest.NewRequest(http.MethodPost, "/api/interval", strings.NewReader(`{"interval":15}`)))
	if readErr == nil {
		t.Fatal("expected body limit error")
	}
}

func TestRequestID_CallerHeader(t *testing.T) {
	var got string
	h := RequestID(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = kit.GetRequestID(r.Context())
	}))

	const valid = "req_0190b6e2-7c3a-7d41-9a2e-3f0c5b8d1e22"
	req := httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("X-Request-ID", valid)
	h.ServeHTTP(httptest.NewRecorder(), req)
	if got != valid {
		t.Errorf("well-formed caller id: got %q, want %q", got, valid)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/logs", nil)
	req.Header.Set("X-Request-ID", "forged\nline")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if !strings.HasPrefix(got, "req_") || got == "forged\nline" {
		t.Errorf("malformed caller id should be replaced, got %q", got)
	}
	if rec.Header().Get("X-Request-ID") != got {
		t.Errorf("header %q does not echo %q", rec.Header().Get("X-Request-ID"), got)
	}
}
