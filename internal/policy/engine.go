package policy

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/goodtune/lockedin/internal/policy/opa"
	"github.com/rs/zerolog"
)

// Engine gathers navigation facts and asks OPA whether a page may skip the
// remote judge.
type Engine struct {
	opaEngine *opa.Engine
	clock     Clock
	logger    zerolog.Logger
}

// NewEngine creates a bypass engine over the built-in policies and any
// policies found in policyDir.
func NewEngine(policyDir string, logger zerolog.Logger) (*Engine, error) {
	opaEngine, err := opa.NewEngine(policyDir, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize OPA engine: %w", err)
	}

	return &Engine{
		opaEngine: opaEngine,
		clock:     RealClock{},
		logger:    logger.With().Str("component", "policy").Logger(),
	}, nil
}

// SetClock sets the clock for time-based policy evaluation (for testing)
func (e *Engine) SetClock(clock Clock) {
	e.clock = clock
}

// Bypass evaluates the bypass policy. Evaluation errors never bypass: the
// remote judge stays authoritative.
func (e *Engine) Bypass(ctx context.Context, req BypassRequest) BypassDecision {
	facts, err := e.buildFacts(req)
	if err != nil {
		e.logger.Debug().Err(err).Str("url", req.URL).Msg("Cannot build bypass facts")
		return BypassDecision{}
	}

	reasons, err := e.opaEngine.EvaluateBypass(ctx, facts)
	if err != nil {
		e.logger.Error().Err(err).Msg("OPA bypass evaluation failed, falling back to classification")
		return BypassDecision{}
	}
	if len(reasons) == 0 {
		return BypassDecision{}
	}

	return BypassDecision{Allow: true, Reason: strings.Join(reasons, "; ")}
}

// Reload reloads the OPA policies
func (e *Engine) Reload() error {
	return e.opaEngine.Reload()
}

// buildFacts gathers the policy input for one navigation
func (e *Engine) buildFacts(req BypassRequest) (map[string]interface{}, error) {
	u, err := url.Parse(req.URL)
	if err != nil {
		return nil, err
	}

	now := e.clock.Now()
	currentTime := map[string]interface{}{
		"day_of_week": int(now.Weekday()),
		"hour":        now.Hour(),
		"minute":      now.Minute(),
	}

	return map[string]interface{}{
		"url":    req.URL,
		"scheme": u.Scheme,
		"host":   u.Hostname(),
		"path":   u.Path,
		"title":  req.Title,
		"goal":   req.Goal,
		"time":   currentTime,
	}, nil
}
