package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const weekendPolicy = `package lockedin.bypass

import rego.v1

allow contains "weekend" if {
	input.time.day_of_week in {0, 6}
}

allow contains "goal mentions host" if {
	indexof(lower(input.goal), input.host) >= 0
}
`

func newTestEngine(t *testing.T, policy string) *Engine {
	t.Helper()

	dir := ""
	if policy != "" {
		dir = t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, "test.rego"), []byte(policy), 0644); err != nil {
			t.Fatalf("write policy: %v", err)
		}
	}

	engine, err := NewEngine(dir, zerolog.Nop())
	if err != nil {
		t.Fatalf("NewEngine failed: %v", err)
	}
	return engine
}

func TestBypass_TimeFacts(t *testing.T) {
	engine := newTestEngine(t, weekendPolicy)

	tests := []struct {
		name string
		now  time.Time
		want bool
	}{
		{"saturday", time.Date(2024, 3, 2, 10, 0, 0, 0, time.UTC), true},
		{"monday", time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine.SetClock(&TestClock{CurrentTime: tt.now})
			decision := engine.Bypass(context.Background(), BypassRequest{
				URL:  "https://video.example.com/watch?v=funny",
				Goal: "study for exam",
			})
			if decision.Allow != tt.want {
				t.Errorf("Expected allow=%v, got %+v", tt.want, decision)
			}
		})
	}
}

func TestBypass_GoalAndHostFacts(t *testing.T) {
	engine := newTestEngine(t, weekendPolicy)
	engine.SetClock(&TestClock{CurrentTime: time.Date(2024, 3, 4, 10, 0, 0, 0, time.UTC)})

	decision := engine.Bypass(context.Background(), BypassRequest{
		URL:  "https://docs.example.com/calculus",
		Goal: "Read docs.example.com before the exam",
	})
	if !decision.Allow || decision.Reason != "goal mentions host" {
		t.Errorf("Expected goal bypass, got %+v", decision)
	}
}

func TestBypass_DefaultJudgesEveryPage(t *testing.T) {
	engine := newTestEngine(t, "")

	for _, url := range []string{"http://localhost:3000/", "https://news.example.com/"} {
		if decision := engine.Bypass(context.Background(), BypassRequest{URL: url, Goal: "ship feature"}); decision.Allow {
			t.Errorf("Expected no bypass for %s, got %+v", url, decision)
		}
	}
}

func TestBypass_ErrorsNeverBypass(t *testing.T) {
	undefinedInput := `package lockedin.bypass

import rego.v1

allow contains x if {
	x := 1 / input.zero
}
`
	engine := newTestEngine(t, undefinedInput)

	decision := engine.Bypass(context.Background(), BypassRequest{URL: "https://example.com/", Goal: "focus"})
	if decision.Allow {
		t.Errorf("Expected evaluation failure to fall back to classification, got %+v", decision)
	}

	decision = engine.Bypass(context.Background(), BypassRequest{URL: "://bad", Goal: "focus"})
	if decision.Allow {
		t.Errorf("Expected unparsable URL not to bypass, got %+v", decision)
	}
}
