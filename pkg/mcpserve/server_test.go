package mcpserve

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeBackend struct {
	evalText    string
	genNumSents int
	genPrefix   string
}

func (f *fakeBackend) Eval(ctx context.Context, text string) (map[string]any, error) {
	f.evalText = text
	return map[string]any{"logProb": -12.3, "entropy": 4.5, "perplexity": 22.6}, nil
}

func (f *fakeBackend) Generate(ctx context.Context, numSents int, prefix string) (map[string]any, error) {
	f.genNumSents = numSents
	f.genPrefix = prefix
	return map[string]any{"sentences": []string{"the cat sat"}}, nil
}

func TestNewHandlerRejectsNilBackend(t *testing.T) {
	if _, err := NewHandler(Config{}, nil); err == nil {
		t.Fatalf("expected an error for a nil backend")
	}
}

func TestNewHandlerSucceedsWithBackend(t *testing.T) {
	h, err := NewHandler(Config{}, &fakeBackend{})
	if err != nil {
		t.Fatalf("NewHandler: %v", err)
	}
	if h == nil {
		t.Fatalf("expected a non-nil handler")
	}
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := apiKeyMiddleware("secret", inner)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusUnauthorized {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusUnauthorized)
	}
}

func TestAPIKeyMiddlewareAcceptsHeaderKey(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := apiKeyMiddleware("secret", inner)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("X-API-Key", "secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIKeyMiddlewareAcceptsBearerToken(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := apiKeyMiddleware("secret", inner)

	req := httptest.NewRequest(http.MethodPost, "/mcp", nil)
	req.Header.Set("Authorization", "Bearer secret")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestAPIKeyMiddlewareAllowsPreflightWithoutKey(t *testing.T) {
	inner := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatalf("inner handler should not run for an OPTIONS preflight")
	})
	h := apiKeyMiddleware("secret", inner)

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", rec.Code, http.StatusOK)
	}
}

func TestGetStringAndGetIntDefaults(t *testing.T) {
	if got := getString(nil, "x", "def"); got != "def" {
		t.Errorf("getString(nil) = %q, want def", got)
	}
	if got := getInt(nil, "x", 7); got != 7 {
		t.Errorf("getInt(nil) = %d, want 7", got)
	}
	args := map[string]any{"n": float64(3)}
	if got := getInt(args, "n", 0); got != 3 {
		t.Errorf("getInt = %d, want 3", got)
	}
}
