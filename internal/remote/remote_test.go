package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goodtune/lockedin/internal/auth"
	"github.com/goodtune/lockedin/internal/verdict"
)

func newServer(t *testing.T, status int, body string, calls *atomic.Int32) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.URL.Path != "/analyze" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("Authorization = %q", got)
		}

		var req analyzeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.UserGoal != "study for exam" || req.URL != "https://youtube.com" {
			t.Errorf("unexpected body %+v", req)
		}

		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestClassifyStatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   verdict.Kind
		reason string
	}{
		{name: "allowed", status: 200, body: `{"allow":true,"reason":"lecture"}`, want: verdict.Allowed, reason: "lecture"},
		{name: "blocked", status: 200, body: `{"allow":false,"reason":"entertainment"}`, want: verdict.Blocked, reason: "entertainment"},
		{name: "undecodable", status: 200, body: `<html>`, want: verdict.InfrastructureFailure},
		{name: "missing allow", status: 200, body: `{"reason":"x"}`, want: verdict.InfrastructureFailure},
		{name: "unauthorized", status: 401, body: `{"error":"x"}`, want: verdict.SessionExpired},
		{name: "forbidden", status: 403, body: `{"error":"x"}`, want: verdict.SessionExpired},
		{name: "rate limited", status: 429, body: `{"error":"x"}`, want: verdict.RateLimited},
		{name: "server error", status: 500, body: `{"error":"x"}`, want: verdict.InfrastructureFailure},
		{name: "bad gateway", status: 502, body: ``, want: verdict.InfrastructureFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			srv := newServer(t, tt.status, tt.body, &calls)

			c := New(srv.URL, auth.StaticToken("tok"))
			got := c.Classify(context.Background(), "https://youtube.com", "", "study for exam")

			if got.Kind != tt.want {
				t.Fatalf("kind = %v, want %v (err %v)", got.Kind, tt.want, got.Err)
			}
			if tt.reason != "" && got.Reason != tt.reason {
				t.Errorf("reason = %q, want %q", got.Reason, tt.reason)
			}
			if calls.Load() != 1 {
				t.Errorf("calls = %d, want 1", calls.Load())
			}
		})
	}
}

func TestClassifyWithoutTokenSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, 200, `{"allow":true,"reason":"x"}`, &calls)

	c := New(srv.URL, auth.StaticToken(""))
	got := c.Classify(context.Background(), "https://youtube.com", "", "study for exam")

	if got.Kind != verdict.SessionExpired {
		t.Fatalf("kind = %v, want SessionExpired", got.Kind)
	}
	if !errors.Is(got.Err, auth.ErrNoToken) {
		t.Errorf("err = %v, want ErrNoToken", got.Err)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestClassifyExpiredTokenSendsNothing(t *testing.T) {
	var calls atomic.Int32
	srv := newServer(t, 200, `{"allow":true,"reason":"x"}`, &calls)

	issuer := auth.NewService("secret", "lockedin", time.Hour)
	token, err := issuer.GenerateToken("alice", -time.Minute)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}

	c := New(srv.URL, auth.StaticToken(token))
	got := c.Classify(context.Background(), "https://youtube.com", "", "study for exam")

	if got.Kind != verdict.SessionExpired {
		t.Fatalf("kind = %v, want SessionExpired", got.Kind)
	}
	if calls.Load() != 0 {
		t.Errorf("calls = %d, want 0", calls.Load())
	}
}

func TestClassifyTransportError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := New(url, auth.StaticToken("tok"))
	got := c.Classify(context.Background(), "https://youtube.com", "", "study for exam")

	if got.Kind != verdict.InfrastructureFailure {
		t.Fatalf("kind = %v, want InfrastructureFailure", got.Kind)
	}
	if verdict.Resolve(got).Reason != verdict.FailOpenReason {
		t.Errorf("resolved reason = %q", verdict.Resolve(got).Reason)
	}
}

func TestClassifyContextDeadline(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	c := New(srv.URL, auth.StaticToken("tok"))
	got := c.Classify(ctx, "https://youtube.com", "", "study for exam")

	if got.Kind != verdict.InfrastructureFailure {
		t.Fatalf("kind = %v, want InfrastructureFailure", got.Kind)
	}
}

func TestClassifyHTTPClientTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	t.Cleanup(srv.Close)

	c := New(srv.URL, auth.StaticToken("tok"), WithHTTPClient(&http.Client{Timeout: 50 * time.Millisecond}))

	start := time.Now()
	got := c.Classify(context.Background(), "https://youtube.com", "", "study for exam")

	if got.Kind != verdict.InfrastructureFailure {
		t.Fatalf("kind = %v, want InfrastructureFailure", got.Kind)
	}
	if elapsed := time.Since(start); elapsed > 5*time.Second {
		t.Errorf("client timeout not applied, took %v", elapsed)
	}
}
