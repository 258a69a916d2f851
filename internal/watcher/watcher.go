// Package watcher dispatches browser navigation events to the decision
// pipeline.
package watcher

import (
	"context"
	"net/url"
	"sync"

	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/goodtune/lockedin/internal/pipeline"
	"github.com/rs/zerolog"
)

// Status is the load state reported with a navigation event.
type Status string

const (
	StatusLoading  Status = "loading"
	StatusComplete Status = "complete"
)

// Event is one tab navigation observed in the browser.
type Event struct {
	TabID  string
	URL    string
	Title  string
	Status Status
}

// Source produces navigation events until ctx is cancelled. The channel is
// closed when the source stops.
type Source interface {
	Events(ctx context.Context) (<-chan Event, error)
}

// Evaluator runs the decision pipeline for one navigation.
type Evaluator interface {
	Evaluate(ctx context.Context, tabID, url, title string) pipeline.Decision
}

// Eligible reports whether e is a finished load of an http(s) page.
func Eligible(e Event) bool {
	if e.Status != StatusComplete || e.URL == "" {
		return false
	}
	u, err := url.Parse(e.URL)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// Dispatcher runs one independent evaluation per eligible event.
type Dispatcher struct {
	evaluator Evaluator
	logger    zerolog.Logger
}

// NewDispatcher creates a dispatcher.
func NewDispatcher(evaluator Evaluator, logger zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		evaluator: evaluator,
		logger:    logger.With().Str("component", "watcher").Logger(),
	}
}

// Run consumes events until the channel closes or ctx is cancelled, then
// waits for in-flight evaluations. Evaluations never block the loop.
func (d *Dispatcher) Run(ctx context.Context, events <-chan Event) {
	var wg sync.WaitGroup
	defer wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if !Eligible(e) {
				continue
			}

			d.logger.Debug().Str("tab", e.TabID).Str("url", e.URL).Msg("Navigation completed")

			wg.Add(1)
			metrics.InFlightEvaluations.Inc()
			go func(e Event) {
				defer wg.Done()
				defer metrics.InFlightEvaluations.Dec()
				d.evaluator.Evaluate(ctx, e.TabID, e.URL, e.Title)
			}(e)
		}
	}
}
