package classify

import (
	"encoding/json"
	"fmt"
	"strings"
)

// SystemPrompt frames the model as the gatekeeper.
const SystemPrompt = "You are a productivity gatekeeper. Decide whether the page the user is " +
	"visiting helps with their current goal (ALLOW) or distracts from it (BLOCK). " +
	`Reply with a single JSON object: {"allow": boolean, "reason": string}. ` +
	"Keep the reason short and address the user directly."

// Prompt builds the user message for one request.
func Prompt(req Request) string {
	title := req.Title
	if title == "" {
		title = "no title"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "User goal: %q\n", req.Goal)
	fmt.Fprintf(&b, "Visiting: %s (%s)\n\n", req.URL, title)
	b.WriteString("Is this page a distraction from the goal?\n")
	b.WriteString(`Reply JSON: {"allow": boolean, "reason": "string"}`)
	return b.String()
}

// ParseVerdict reads the first JSON object from a model reply. Models often
// wrap JSON in a markdown fence or add a sentence around it.
func ParseVerdict(content string) (Verdict, error) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end < start {
		return Verdict{}, fmt.Errorf("%w: no JSON object in reply", ErrMalformedVerdict)
	}

	var raw struct {
		Allow  *bool  `json:"allow"`
		Reason string `json:"reason"`
	}
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return Verdict{}, fmt.Errorf("%w: %v", ErrMalformedVerdict, err)
	}
	if raw.Allow == nil {
		return Verdict{}, fmt.Errorf("%w: missing allow field", ErrMalformedVerdict)
	}

	reason := strings.TrimSpace(raw.Reason)
	if reason == "" {
		return Verdict{}, fmt.Errorf("%w: missing reason", ErrMalformedVerdict)
	}

	return Verdict{Allow: *raw.Allow, Reason: reason}, nil
}
