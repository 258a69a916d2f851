package watcher

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/lockedin/internal/pipeline"
	"github.com/rs/zerolog"
)

func TestEligible(t *testing.T) {
	tests := []struct {
		name  string
		event Event
		want  bool
	}{
		{name: "complete https", event: Event{URL: "https://example.com/a", Status: StatusComplete}, want: true},
		{name: "complete http", event: Event{URL: "http://example.com", Status: StatusComplete}, want: true},
		{name: "loading", event: Event{URL: "https://example.com", Status: StatusLoading}, want: false},
		{name: "empty url", event: Event{Status: StatusComplete}, want: false},
		{name: "chrome scheme", event: Event{URL: "chrome://newtab", Status: StatusComplete}, want: false},
		{name: "extension page", event: Event{URL: "chrome-extension://abc/blocked.html", Status: StatusComplete}, want: false},
		{name: "about blank", event: Event{URL: "about:blank", Status: StatusComplete}, want: false},
		{name: "relative", event: Event{URL: "/path", Status: StatusComplete}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Eligible(tt.event); got != tt.want {
				t.Errorf("Eligible(%+v) = %v, want %v", tt.event, got, tt.want)
			}
		})
	}
}

type blockingEvaluator struct {
	mu      sync.Mutex
	seen    []string
	release chan struct{}
	started chan string
}

func (b *blockingEvaluator) Evaluate(ctx context.Context, tabID, url, title string) pipeline.Decision {
	b.started <- tabID
	<-b.release
	b.mu.Lock()
	b.seen = append(b.seen, tabID)
	b.mu.Unlock()
	return pipeline.Decision{}
}

func TestDispatcherRunsEvaluationsConcurrently(t *testing.T) {
	eval := &blockingEvaluator{release: make(chan struct{}), started: make(chan string, 4)}
	d := NewDispatcher(eval, zerolog.Nop())

	events := make(chan Event)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background(), events)
		close(done)
	}()

	events <- Event{TabID: "1", URL: "https://a.example", Status: StatusComplete}
	events <- Event{TabID: "skip", URL: "https://a.example", Status: StatusLoading}
	events <- Event{TabID: "2", URL: "https://b.example", Status: StatusComplete}

	// Both evaluations start while neither has finished.
	for i := 0; i < 2; i++ {
		select {
		case <-eval.started:
		case <-time.After(time.Second):
			t.Fatal("evaluation did not start")
		}
	}

	close(events)
	select {
	case <-done:
		t.Fatal("Run returned before in-flight evaluations finished")
	case <-time.After(20 * time.Millisecond):
	}

	close(eval.release)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}

	if len(eval.seen) != 2 {
		t.Errorf("evaluated %v, want tabs 1 and 2", eval.seen)
	}
}

func TestDispatcherStopsOnCancel(t *testing.T) {
	eval := &blockingEvaluator{release: make(chan struct{}), started: make(chan string, 1)}
	close(eval.release)
	d := NewDispatcher(eval, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx, make(chan Event))
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
