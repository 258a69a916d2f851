package pipeline

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/session"
	"github.com/goodtune/lockedin/internal/storage"
	"github.com/goodtune/lockedin/internal/verdict"
	"github.com/rs/zerolog"
	"pgregory.net/rapid"
)

type memSessionStore struct {
	mu    sync.Mutex
	state *storage.SessionState
}

func (m *memSessionStore) Load(context.Context) (*storage.SessionState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state == nil {
		return nil, storage.ErrNotFound
	}
	state := *m.state
	return &state, nil
}

func (m *memSessionStore) Save(_ context.Context, state storage.SessionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &state
	return nil
}

type fakeClassifier struct {
	mu     sync.Mutex
	calls  int
	result verdict.Result
	delay  time.Duration
}

func (f *fakeClassifier) Classify(ctx context.Context, url, title, goal string) verdict.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return verdict.Failure(ctx.Err())
		}
	}
	return f.result
}

func (f *fakeClassifier) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type notification struct{ title, message string }

type fakeNotifier struct {
	mu   sync.Mutex
	sent []notification
}

func (f *fakeNotifier) Notify(_ context.Context, title, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, notification{title, message})
	return nil
}

type redirect struct{ tabID, url string }

type fakeTabs struct {
	mu        sync.Mutex
	redirects []redirect
}

func (f *fakeTabs) Redirect(_ context.Context, tabID, url string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.redirects = append(f.redirects, redirect{tabID, url})
	return nil
}

type bypassFunc func(policy.BypassRequest) policy.BypassDecision

func (f bypassFunc) Bypass(_ context.Context, req policy.BypassRequest) policy.BypassDecision {
	return f(req)
}

const blockBase = "http://127.0.0.1:8089/blocked"

var testNow = time.Date(2026, 3, 14, 15, 4, 5, 0, time.UTC)

type harness struct {
	pipeline   *Pipeline
	manager    *session.Manager
	classifier *fakeClassifier
	notifier   *fakeNotifier
	tabs       *fakeTabs
}

func newHarness(t *testing.T, result verdict.Result) *harness {
	t.Helper()

	manager := session.NewManager(&memSessionStore{})
	manager.SetClock(&policy.TestClock{CurrentTime: testNow})

	h := &harness{
		manager:    manager,
		classifier: &fakeClassifier{result: result},
		notifier:   &fakeNotifier{},
		tabs:       &fakeTabs{},
	}
	h.pipeline = New(Config{BlockPageURL: blockBase}, manager, h.classifier, h.notifier, h.tabs, nil, zerolog.Nop())
	return h
}

func (h *harness) lockIn(t *testing.T, goal string) {
	t.Helper()
	if _, err := h.manager.Start(context.Background(), goal); err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func (h *harness) state(t *testing.T) session.State {
	t.Helper()
	state, err := h.manager.Snapshot(context.Background())
	if err != nil {
		t.Fatalf("Snapshot: %v", err)
	}
	return state
}

func TestNotLockedInMakesNoCall(t *testing.T) {
	h := newHarness(t, verdict.Block("nope"))

	d := h.pipeline.Evaluate(context.Background(), "1", "https://video.example.com", "Video")

	if d.Action != ActionNone {
		t.Errorf("action = %v, want none", d.Action)
	}
	if h.classifier.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", h.classifier.Calls())
	}
	if len(h.tabs.redirects) != 0 || len(h.notifier.sent) != 0 {
		t.Error("expected no side effects")
	}
}

func TestAllowedTakesNoAction(t *testing.T) {
	h := newHarness(t, verdict.Allow("relevant reference material"))
	h.lockIn(t, "study for exam")

	d := h.pipeline.Evaluate(context.Background(), "7", "https://docs.example.com/calculus", "Calculus notes")

	if d.Action != ActionAllow || d.Result.Kind != verdict.Allowed {
		t.Errorf("decision = %+v, want allow", d)
	}
	if len(h.tabs.redirects) != 0 {
		t.Errorf("redirects = %v, want none", h.tabs.redirects)
	}
}

func TestBlockedRedirects(t *testing.T) {
	h := newHarness(t, verdict.Block("entertainment, not calculus"))
	h.lockIn(t, "study for exam")

	d := h.pipeline.Evaluate(context.Background(), "7", "https://video.example.com/watch?v=funny", "Funny")

	want := blockBase + "?reason=entertainment%2C%20not%20calculus&goal=study%20for%20exam"
	if d.Action != ActionRedirect {
		t.Fatalf("action = %v, want redirect", d.Action)
	}
	if len(h.tabs.redirects) != 1 || h.tabs.redirects[0] != (redirect{"7", want}) {
		t.Errorf("redirects = %v, want tab 7 to %s", h.tabs.redirects, want)
	}
	if state := h.state(t); !state.IsLockedIn {
		t.Error("blocking must not end the session")
	}
}

func TestBlockedURLRelativeBase(t *testing.T) {
	got := BlockedURL("blocked", "entertainment, not calculus", "study for exam")
	want := "blocked?reason=entertainment%2C%20not%20calculus&goal=study%20for%20exam"
	if got != want {
		t.Errorf("BlockedURL = %q, want %q", got, want)
	}
}

func TestInfrastructureFailureFailsOpen(t *testing.T) {
	tests := []struct {
		name   string
		result verdict.Result
		delay  time.Duration
	}{
		{name: "transport error", result: verdict.Failure(errors.New("connection refused"))},
		{name: "malformed payload", result: verdict.Failure(errors.New("decode response: unexpected EOF"))},
		{name: "timeout", result: verdict.Block("too late"), delay: time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, tt.result)
			h.classifier.delay = tt.delay
			h.pipeline.config.ClassifyTimeout = 20 * time.Millisecond
			h.lockIn(t, "study for exam")
			before := h.state(t)

			d := h.pipeline.Evaluate(context.Background(), "1", "https://example.com", "")

			if d.Result.Kind != verdict.Allowed || d.Result.Reason != verdict.FailOpenReason {
				t.Errorf("result = %+v, want fail-open allow", d.Result)
			}
			if d.Result.Err == nil {
				t.Error("expected the failure to be kept for logging")
			}
			if len(h.tabs.redirects) != 0 || len(h.notifier.sent) != 0 {
				t.Error("expected no side effects")
			}
			if after := h.state(t); after != before {
				t.Errorf("state changed from %+v to %+v", before, after)
			}
		})
	}
}

func TestRateLimitedEndsSession(t *testing.T) {
	h := newHarness(t, verdict.Limited())
	h.lockIn(t, "study for exam")

	d := h.pipeline.Evaluate(context.Background(), "1", "https://example.com", "")

	if d.Action != ActionEndSession {
		t.Errorf("action = %v, want end_session", d.Action)
	}
	want := session.State{LastRateLimitedDate: "2026-03-14"}
	if state := h.state(t); state != want {
		t.Errorf("state = %+v, want %+v", state, want)
	}
	if len(h.tabs.redirects) != 0 {
		t.Error("rate limit must not redirect")
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0] != (notification{LimitTitle, LimitMessage}) {
		t.Errorf("notifications = %v", h.notifier.sent)
	}
}

func TestRateLimitedMarkerSkipsCall(t *testing.T) {
	h := newHarness(t, verdict.Allow("x"))
	h.lockIn(t, "study for exam")

	// Another process stamped the marker after this session started.
	store := &memSessionStore{}
	_ = store.Save(context.Background(), session.State{IsLockedIn: true, CurrentGoal: "study for exam", LastRateLimitedDate: "2026-03-14"})
	manager := session.NewManager(store)
	manager.SetClock(&policy.TestClock{CurrentTime: testNow})
	h.pipeline.sessions = manager

	d := h.pipeline.Evaluate(context.Background(), "1", "https://example.com", "")

	if d.Action != ActionEndSession {
		t.Errorf("action = %v, want end_session", d.Action)
	}
	if h.classifier.Calls() != 0 {
		t.Errorf("classifier calls = %d, want 0", h.classifier.Calls())
	}
	if state, _ := manager.Snapshot(context.Background()); state.IsLockedIn {
		t.Error("expected session ended")
	}
}

func TestSessionExpiredNotifies(t *testing.T) {
	h := newHarness(t, verdict.Expired(errors.New("401")))
	h.lockIn(t, "study for exam")
	before := h.state(t)

	d := h.pipeline.Evaluate(context.Background(), "1", "https://example.com", "")

	if d.Action != ActionNotifyExpired {
		t.Errorf("action = %v, want notify_expired", d.Action)
	}
	if len(h.notifier.sent) != 1 || h.notifier.sent[0] != (notification{ExpiredTitle, ExpiredMessage}) {
		t.Errorf("notifications = %v", h.notifier.sent)
	}
	if len(h.tabs.redirects) != 0 {
		t.Error("expired session must not redirect")
	}
	if after := h.state(t); after != before {
		t.Errorf("state changed from %+v to %+v", before, after)
	}
}

func TestBlockPageIsNeverEvaluated(t *testing.T) {
	h := newHarness(t, verdict.Block("x"))
	h.lockIn(t, "study for exam")

	d := h.pipeline.Evaluate(context.Background(), "1", BlockedURL(blockBase, "x", "y"), "Blocked")

	if d.Action != ActionNone || h.classifier.Calls() != 0 {
		t.Errorf("decision = %+v, calls = %d", d, h.classifier.Calls())
	}
}

func TestBypassSkipsClassifier(t *testing.T) {
	h := newHarness(t, verdict.Block("x"))
	h.lockIn(t, "study for exam")
	h.pipeline.bypass = bypassFunc(func(req policy.BypassRequest) policy.BypassDecision {
		if req.Goal != "study for exam" {
			t.Errorf("goal = %q", req.Goal)
		}
		return policy.BypassDecision{Allow: strings.Contains(req.URL, "localhost"), Reason: "local address"}
	})

	d := h.pipeline.Evaluate(context.Background(), "1", "http://localhost:3000/", "")
	if d.Action != ActionBypass || h.classifier.Calls() != 0 {
		t.Errorf("decision = %+v, calls = %d", d, h.classifier.Calls())
	}

	d = h.pipeline.Evaluate(context.Background(), "1", "https://video.example.com/", "")
	if d.Action != ActionRedirect || h.classifier.Calls() != 1 {
		t.Errorf("decision = %+v, calls = %d", d, h.classifier.Calls())
	}
}

func TestEncodeComponent(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"don't (really)!*", "don't%20(really)!*"},
		{"a+b & c%", "a%2Bb%20%26%20c%25"},
		{"-_.~", "-_.~"},
		{"café 🎧", "caf%C3%A9%20%F0%9F%8E%A7"},
		{"x=y/z?", "x%3Dy%2Fz%3F"},
	}

	for _, tt := range tests {
		if got := encodeComponent(tt.in); got != tt.want {
			t.Errorf("encodeComponent(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestBlockedURLRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		reason := rapid.OneOf(
			rapid.String(),
			rapid.SampledFrom([]string{"a & b", "100% off", "déjà vu 🎬", "x=y&z", "+plus+"}),
		).Draw(t, "reason")
		goal := rapid.String().Draw(t, "goal")

		raw := BlockedURL(blockBase, reason, goal)
		if strings.Contains(raw, " ") || strings.Contains(raw, "+") {
			t.Fatalf("unencoded space or plus in %q", raw)
		}

		u, err := url.Parse(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		q := u.Query()
		if len(q) != 2 {
			t.Fatalf("query has %d params, want 2", len(q))
		}
		if got := q.Get("reason"); got != reason {
			t.Fatalf("reason = %q, want %q", got, reason)
		}
		if got := q.Get("goal"); got != goal {
			t.Fatalf("goal = %q, want %q", got, goal)
		}
	})
}
