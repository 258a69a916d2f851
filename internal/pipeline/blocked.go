package pipeline

import (
	"net/url"
	"strings"
)

// BlockedURL builds the block page address carrying reason and goal.
func BlockedURL(base, reason, goal string) string {
	return base + "?reason=" + encodeComponent(reason) + "&goal=" + encodeComponent(goal)
}

// componentUnescaper restores the characters a URI component leaves
// literal but QueryEscape encodes.
var componentUnescaper = strings.NewReplacer(
	"+", "%20",
	"%21", "!",
	"%27", "'",
	"%28", "(",
	"%29", ")",
	"%2A", "*",
)

// encodeComponent percent-encodes s as a URI component: spaces become %20
// and only the unreserved marks -_.!~*'() stay literal.
func encodeComponent(s string) string {
	return componentUnescaper.Replace(url.QueryEscape(s))
}
