package interfaces

import "errors"

// Cross-component sentinel errors shared through interface boundaries.
var (
	ErrSessionNotFound    = errors.New("session not found")
	ErrAssessmentNotFound = errors.New("assessment not found")
)
