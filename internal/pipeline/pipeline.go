// Package pipeline turns one finished navigation into at most one action:
// nothing, a redirect to the block page, a notification, or ending the
// session.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/goodtune/lockedin/internal/policy"
	"github.com/goodtune/lockedin/internal/session"
	"github.com/goodtune/lockedin/internal/verdict"
	"github.com/rs/zerolog"
)

// DefaultClassifyTimeout bounds one classifier call.
const DefaultClassifyTimeout = 10 * time.Second

// Notification texts.
const (
	ExpiredTitle   = "Session Expired"
	ExpiredMessage = "Session expired. Please log in again."
	LimitTitle     = "Daily Limit Reached"
	LimitMessage   = "Your session has ended. Blocking is paused until tomorrow."
)

// Sessions reads and ends the shared session record.
type Sessions interface {
	Snapshot(ctx context.Context) (session.State, error)
	End(ctx context.Context, rateLimited bool) (session.State, error)
	RateLimitedToday(state session.State) bool
}

// Classifier judges whether a page serves the goal.
type Classifier interface {
	Classify(ctx context.Context, url, title, goal string) verdict.Result
}

// Notifier shows a user-visible notification.
type Notifier interface {
	Notify(ctx context.Context, title, message string) error
}

// Tabs redirects browser tabs.
type Tabs interface {
	Redirect(ctx context.Context, tabID, url string) error
}

// Bypass decides locally whether a page may skip classification.
type Bypass interface {
	Bypass(ctx context.Context, req policy.BypassRequest) policy.BypassDecision
}

// Config holds pipeline settings.
type Config struct {
	BlockPageURL    string
	ClassifyTimeout time.Duration
}

// Pipeline evaluates navigations against the active session.
type Pipeline struct {
	config     Config
	sessions   Sessions
	classifier Classifier
	notifier   Notifier
	tabs       Tabs
	bypass     Bypass // optional
	logger     zerolog.Logger
}

// New creates a pipeline. bypass may be nil.
func New(cfg Config, sessions Sessions, classifier Classifier, notifier Notifier, tabs Tabs, bypass Bypass, logger zerolog.Logger) *Pipeline {
	if cfg.ClassifyTimeout <= 0 {
		cfg.ClassifyTimeout = DefaultClassifyTimeout
	}
	return &Pipeline{
		config:     cfg,
		sessions:   sessions,
		classifier: classifier,
		notifier:   notifier,
		tabs:       tabs,
		bypass:     bypass,
		logger:     logger.With().Str("component", "pipeline").Logger(),
	}
}

// Evaluate runs the decision pipeline for one finished navigation. It never
// fails; problems are logged and the page is allowed.
func (p *Pipeline) Evaluate(ctx context.Context, tabID, url, title string) Decision {
	d := p.evaluate(ctx, tabID, url, title)

	metrics.PipelineDecisions.WithLabelValues(d.Action.String(), d.Result.Kind.String()).Inc()

	event := p.logger.Debug()
	if d.Result.Err != nil {
		event = p.logger.Warn().Err(d.Result.Err)
	}
	event.
		Str("tab", tabID).
		Str("url", url).
		Str("action", d.Action.String()).
		Str("kind", d.Result.Kind.String()).
		Str("reason", d.Result.Reason).
		Msg("Navigation evaluated")

	return d
}

func (p *Pipeline) evaluate(ctx context.Context, tabID, url, title string) Decision {
	if p.config.BlockPageURL != "" && strings.HasPrefix(url, p.config.BlockPageURL) {
		return Decision{Action: ActionNone}
	}

	state, err := p.sessions.Snapshot(ctx)
	if err != nil {
		return Decision{Action: ActionNone, Result: verdict.Resolve(verdict.Failure(err))}
	}
	if !state.IsLockedIn {
		return Decision{Action: ActionNone}
	}

	if p.sessions.RateLimitedToday(state) {
		return p.rateLimited(ctx, verdict.Limited())
	}

	if p.bypass != nil {
		decision := p.bypass.Bypass(ctx, policy.BypassRequest{URL: url, Title: title, Goal: state.CurrentGoal})
		if decision.Allow {
			return Decision{Action: ActionBypass, Result: verdict.Allow(decision.Reason)}
		}
	}

	result := verdict.Resolve(p.classify(ctx, url, title, state.CurrentGoal))

	switch result.Kind {
	case verdict.SessionExpired:
		p.notify(ctx, ExpiredTitle, ExpiredMessage)
		return Decision{Action: ActionNotifyExpired, Result: result}

	case verdict.RateLimited:
		return p.rateLimited(ctx, result)

	case verdict.Blocked:
		target := BlockedURL(p.config.BlockPageURL, result.Reason, state.CurrentGoal)
		if err := p.tabs.Redirect(ctx, tabID, target); err != nil {
			result.Err = errors.Join(result.Err, fmt.Errorf("redirect tab %s: %w", tabID, err))
		}
		return Decision{Action: ActionRedirect, Result: result, RedirectURL: target}

	default:
		return Decision{Action: ActionAllow, Result: result}
	}
}

func (p *Pipeline) classify(ctx context.Context, url, title, goal string) verdict.Result {
	ctx, cancel := context.WithTimeout(ctx, p.config.ClassifyTimeout)
	defer cancel()

	start := time.Now()
	result := p.classifier.Classify(ctx, url, title, goal)
	metrics.ClassifyDuration.Observe(time.Since(start).Seconds())

	// A classifier that ignores the deadline still fails open.
	if ctx.Err() != nil && result.Kind != verdict.InfrastructureFailure {
		return verdict.Failure(fmt.Errorf("classify: %w", ctx.Err()))
	}
	return result
}

func (p *Pipeline) rateLimited(ctx context.Context, result verdict.Result) Decision {
	p.notify(ctx, LimitTitle, LimitMessage)
	if _, err := p.sessions.End(ctx, true); err != nil {
		result.Err = fmt.Errorf("end session: %w", err)
	}
	return Decision{Action: ActionEndSession, Result: result}
}

func (p *Pipeline) notify(ctx context.Context, title, message string) {
	if err := p.notifier.Notify(ctx, title, message); err != nil {
		p.logger.Warn().Err(err).Str("title", title).Msg("Notification failed")
	}
}
