package generators

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"dramaforge/internal/services"
)

func completion(content string) map[string]any {
	return map[string]any{
		"choices": []any{
			map[string]any{"message": map[string]any{"content": content}},
		},
	}
}

func TestOpenAIGenerateText(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer test" {
			t.Fatalf("missing bearer token")
		}
		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Model != "demo" || len(req.Messages) != 2 || req.ResponseFormat["type"] != "json_object" {
			t.Fatalf("unexpected request %+v", req)
		}
		_ = json.NewEncoder(w).Encode(completion("```json\n{\"scenes\":[]}\n```"))
	}))
	defer server.Close()

	client := NewOpenAI(OpenAIConfig{APIKey: "test", BaseURL: server.URL, Model: "demo"})
	out, err := client.GenerateText(context.Background(), TextRequest{System: "sys", Prompt: "write", JSON: true})
	if err != nil {
		t.Fatalf("GenerateText: %v", err)
	}
	var parsed struct {
		Scenes []any `json:"scenes"`
	}
	if err := DecodeJSON(out, &parsed); err != nil {
		t.Fatalf("DecodeJSON: %v", err)
	}
	if ProviderOf(client) != "openai" || ModelOf(client) != "demo" {
		t.Fatal("unexpected provider metadata")
	}
}

func TestOpenAIClassifiesStatusCodes(t *testing.T) {
	cases := []struct {
		status     int
		retryAfter string
		marker     error
		wait       time.Duration
	}{
		{http.StatusTooManyRequests, "7", services.ErrTransient, 7 * time.Second},
		{http.StatusBadGateway, "", services.ErrTransient, 0},
		{http.StatusUnauthorized, "", services.ErrConfiguration, 0},
		{http.StatusBadRequest, "", services.ErrValidation, 0},
	}
	for _, tc := range cases {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tc.retryAfter != "" {
				w.Header().Set("Retry-After", tc.retryAfter)
			}
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		client := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL, Model: "m"})
		_, err := client.GenerateText(context.Background(), TextRequest{Prompt: "x"})
		server.Close()

		if !errors.Is(err, tc.marker) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.marker, err)
		}
		var statusErr *StatusError
		if !errors.As(err, &statusErr) || statusErr.RetryAfter() != tc.wait {
			t.Fatalf("status %d: expected wait %s, got %v", tc.status, tc.wait, err)
		}
		if services.IsRetryable(err) != (tc.marker == services.ErrTransient) {
			t.Fatalf("status %d: unexpected retryability", tc.status)
		}
	}
}

func TestOpenAIEmptyContentIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{"choices": []any{map[string]any{"finish_reason": "length", "message": map[string]any{"content": ""}}}})
	}))
	defer server.Close()
	client := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL})
	if _, err := client.GenerateText(context.Background(), TextRequest{Prompt: "x"}); !errors.Is(err, services.ErrTransient) {
		t.Fatalf("expected transient error, got %v", err)
	}
}

func TestOpenAIRequiresKey(t *testing.T) {
	client := NewOpenAI(OpenAIConfig{BaseURL: "http://127.0.0.1:1"})
	if _, err := client.GenerateText(context.Background(), TextRequest{Prompt: "x"}); !errors.Is(err, services.ErrConfiguration) {
		t.Fatalf("expected configuration error, got %v", err)
	}
}

func TestOpenAIHealthCheck(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(completion(`{"ok":true}`))
	}))
	defer server.Close()
	if err := NewOpenAI(OpenAIConfig{APIKey: "k", BaseURL: server.URL}).HealthCheck(context.Background()); err != nil {
		t.Fatalf("HealthCheck: %v", err)
	}
}

func TestDecodeJSONExtractsEmbeddedObject(t *testing.T) {
	var out struct{ A int }
	if err := DecodeJSON(`Sure! Here it is: {"A": 3} hope that helps`, &out); err != nil || out.A != 3 {
		t.Fatalf("DecodeJSON: %+v %v", out, err)
	}
	if err := DecodeJSON("[draft] final answer:\n```json\n{\"A\": 5}\n```", &out); err != nil || out.A != 5 {
		t.Fatalf("DecodeJSON after stray bracket: %+v %v", out, err)
	}
	if err := DecodeJSON("no json here", &out); !errors.Is(err, errNoJSON) {
		t.Fatalf("err = %v", err)
	}
}
