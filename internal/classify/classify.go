package classify

import (
	"context"
	"errors"
)

// ErrMalformedVerdict is returned when the model reply cannot be read as a
// verdict.
var ErrMalformedVerdict = errors.New("classify: malformed verdict")

// Request is one page to judge against the user's goal.
type Request struct {
	URL   string
	Title string
	Goal  string
}

// Verdict is the model's decision.
type Verdict struct {
	Allow  bool   `json:"allow"`
	Reason string `json:"reason"`
}

// Model judges whether a page helps or distracts from a goal.
type Model interface {
	Classify(ctx context.Context, req Request) (Verdict, error)
}

// ModelFunc adapts a function to the Model interface.
type ModelFunc func(ctx context.Context, req Request) (Verdict, error)

// Classify calls f.
func (f ModelFunc) Classify(ctx context.Context, req Request) (Verdict, error) {
	return f(ctx, req)
}

// Static allows every page. It stands in for a real model in local setups.
type Static struct{}

// Classify allows the page.
func (Static) Classify(context.Context, Request) (Verdict, error) {
	return Verdict{Allow: true, Reason: "static model allows every page"}, nil
}
