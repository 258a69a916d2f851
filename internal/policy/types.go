package policy

// BypassRequest describes a completed navigation during a focus session.
type BypassRequest struct {
	URL   string
	Title string
	Goal  string
}

// BypassDecision reports whether the page may skip remote classification.
type BypassDecision struct {
	Allow  bool
	Reason string
}
