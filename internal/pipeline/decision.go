package pipeline

import (
	"fmt"

	"github.com/goodtune/lockedin/internal/verdict"
)

// Action is what the pipeline did for a navigation.
type Action int

const (
	// ActionNone means the navigation was not evaluated.
	ActionNone Action = iota
	// ActionAllow means the page was classified (or failed open) as allowed.
	ActionAllow
	// ActionBypass means a local policy allowed the page without a call.
	ActionBypass
	// ActionRedirect means the tab was sent to the block page.
	ActionRedirect
	// ActionNotifyExpired means the user was told to log in again.
	ActionNotifyExpired
	// ActionEndSession means the daily quota ended the session.
	ActionEndSession
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionAllow:
		return "allow"
	case ActionBypass:
		return "bypass"
	case ActionRedirect:
		return "redirect"
	case ActionNotifyExpired:
		return "notify_expired"
	case ActionEndSession:
		return "end_session"
	default:
		return fmt.Sprintf("action(%d)", int(a))
	}
}

// Decision records the outcome of one evaluation.
type Decision struct {
	Action      Action
	Result      verdict.Result
	RedirectURL string
}
