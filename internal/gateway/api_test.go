package gateway

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func postMessage(t *testing.T, h http.Handler, token, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/messages", strings.NewReader(body))
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestMessagesEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.consumer.cfg.Gateway.Token = "secret"
	h := NewMessagesHandler(env.consumer.cfg, env.consumer)

	w := postMessage(t, h, "secret", `{"input":"hello","user_id":"u1"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp messageResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatal(err)
	}
	if resp.Reply != "plain" {
		t.Errorf("reply = %q", resp.Reply)
	}
	if !strings.HasPrefix(resp.SessionID, "api:") {
		t.Errorf("session_id = %q, want api-prefixed", resp.SessionID)
	}
}

func TestMessagesSessionContinuity(t *testing.T) {
	env := newTestEnv(t)
	h := NewMessagesHandler(env.consumer.cfg, env.consumer)

	w := postMessage(t, h, "", `{"input":"first","user_id":"u1","session_id":"s1"}`)
	var first messageResponse
	json.NewDecoder(w.Body).Decode(&first)

	w = postMessage(t, h, "", `{"input":"second","user_id":"u1","session_id":"`+first.SessionID+`"}`)
	var second messageResponse
	json.NewDecoder(w.Body).Decode(&second)

	if first.SessionID != second.SessionID {
		t.Errorf("session ids differ: %q vs %q", first.SessionID, second.SessionID)
	}
}

func TestMessagesAuth(t *testing.T) {
	env := newTestEnv(t)
	env.consumer.cfg.Gateway.Token = "secret"
	h := NewMessagesHandler(env.consumer.cfg, env.consumer)

	if w := postMessage(t, h, "", `{"input":"x","user_id":"u1"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("missing token: status = %d", w.Code)
	}
	if w := postMessage(t, h, "wrong", `{"input":"x","user_id":"u1"}`); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token: status = %d", w.Code)
	}
}

func TestMessagesValidation(t *testing.T) {
	env := newTestEnv(t)
	h := NewMessagesHandler(env.consumer.cfg, env.consumer)

	tests := []struct {
		name string
		body string
	}{
		{"empty input", `{"input":"","user_id":"u1"}`},
		{"missing user", `{"input":"hello"}`},
		{"bad json", `{`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if w := postMessage(t, h, "", tc.body); w.Code != http.StatusBadRequest {
				t.Errorf("status = %d, want 400", w.Code)
			}
		})
	}
}

func TestMessagesMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t)
	h := NewMessagesHandler(env.consumer.cfg, env.consumer)

	req := httptest.NewRequest(http.MethodGet, "/v1/messages", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestMessagesRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.consumer.cfg.Gateway.RateLimitRPM = 1
	h := NewMessagesHandler(env.consumer.cfg, env.consumer)

	var limited bool
	for i := 0; i < 10; i++ {
		w := postMessage(t, h, "", `{"input":"hello","user_id":"u1"}`)
		if w.Code == http.StatusTooManyRequests {
			limited = true
			break
		}
		if w.Code != http.StatusOK {
			t.Fatalf("request %d: status = %d", i, w.Code)
		}
	}
	if !limited {
		t.Error("burst of 10 requests at 1 rpm never rate limited")
	}
}
