// Package verdict defines the outcome of classifying one navigation.
package verdict

import "fmt"

// Kind distinguishes the outcomes the pipeline reacts to.
type Kind int

const (
	// Allowed means the page serves the goal.
	Allowed Kind = iota
	// Blocked means the page distracts from the goal.
	Blocked
	// SessionExpired means no valid identity token was available or the
	// remote side rejected it.
	SessionExpired
	// RateLimited means the daily quota was reached.
	RateLimited
	// InfrastructureFailure covers transport, backend and decoding errors.
	InfrastructureFailure
)

// FailOpenReason is shown when a page is allowed because no trustworthy
// verdict could be produced.
const FailOpenReason = "error in ai processing; defaulting to allow."

// DefaultBlockReason is used when a block verdict arrives without a reason.
const DefaultBlockReason = "This page does not look related to your goal."

func (k Kind) String() string {
	switch k {
	case Allowed:
		return "allowed"
	case Blocked:
		return "blocked"
	case SessionExpired:
		return "session_expired"
	case RateLimited:
		return "rate_limited"
	case InfrastructureFailure:
		return "infrastructure_failure"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Result is the outcome of one classification.
type Result struct {
	Kind   Kind
	Reason string
	Err    error // set for SessionExpired and InfrastructureFailure
}

// Allow returns an Allowed result.
func Allow(reason string) Result { return Result{Kind: Allowed, Reason: reason} }

// Block returns a Blocked result.
func Block(reason string) Result { return Result{Kind: Blocked, Reason: reason} }

// Expired returns a SessionExpired result.
func Expired(err error) Result { return Result{Kind: SessionExpired, Err: err} }

// Limited returns a RateLimited result.
func Limited() Result { return Result{Kind: RateLimited} }

// Failure returns an InfrastructureFailure result.
func Failure(err error) Result { return Result{Kind: InfrastructureFailure, Err: err} }

// FromAllow maps a plain allow/block verdict to a Result.
func FromAllow(allow bool, reason string) Result {
	if allow {
		return Allow(reason)
	}
	return Block(reason)
}

// Resolve is the fail-open boundary. An InfrastructureFailure becomes
// Allowed with a diagnostic reason and keeps its error for logging. Every
// other kind passes through.
func Resolve(r Result) Result {
	switch r.Kind {
	case InfrastructureFailure:
		return Result{Kind: Allowed, Reason: FailOpenReason, Err: r.Err}
	case Blocked:
		if r.Reason == "" {
			r.Reason = DefaultBlockReason
		}
		return r
	case Allowed, SessionExpired, RateLimited:
		return r
	default:
		return Result{Kind: Allowed, Reason: FailOpenReason, Err: fmt.Errorf("unknown verdict kind %v", r.Kind)}
	}
}
