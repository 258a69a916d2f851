package api

import (
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	maxURLLength   = 2048
	maxGoalLength  = 500
	maxTitleLength = 1000
)

// FieldError describes one invalid request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// validateAnalyze checks the request and trims the free-text fields.
func validateAnalyze(req *AnalyzeRequest) []FieldError {
	var details []FieldError

	req.URL = strings.TrimSpace(req.URL)
	req.UserGoal = strings.TrimSpace(req.UserGoal)
	req.Title = strings.TrimSpace(req.Title)

	switch {
	case req.URL == "":
		details = append(details, FieldError{Field: "url", Message: "is required"})
	case len(req.URL) > maxURLLength:
		details = append(details, FieldError{Field: "url", Message: "is too long"})
	default:
		u, err := url.Parse(req.URL)
		if err != nil || !u.IsAbs() || u.Host == "" {
			details = append(details, FieldError{Field: "url", Message: "must be an absolute URL"})
		} else if u.Scheme != "http" && u.Scheme != "https" {
			details = append(details, FieldError{Field: "url", Message: "must use http or https"})
		}
	}

	switch {
	case req.UserGoal == "":
		details = append(details, FieldError{Field: "userGoal", Message: "is required"})
	case utf8.RuneCountInString(req.UserGoal) > maxGoalLength:
		details = append(details, FieldError{Field: "userGoal", Message: "is too long"})
	}

	if utf8.RuneCountInString(req.Title) > maxTitleLength {
		details = append(details, FieldError{Field: "title", Message: "is too long"})
	}

	return details
}
