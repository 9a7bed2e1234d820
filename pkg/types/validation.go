package types

import (
	"regexp"
)

// Compiled once; user IDs arrive on every connection attempt.
var userIDRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

const maxInputBytes = 16384

// IsValidUserID checks the identity attribute handed down by the upstream
// auth layer. The format is enforced again here because it is used as a map
// key and in store queries.
func IsValidUserID(userID string) bool {
	if len(userID) < 1 || len(userID) > 50 {
		return false
	}
	return userIDRegex.MatchString(userID)
}

// IsValidKind checks the session kind discriminator.
func IsValidKind(kind string) bool {
	return kind == KindInterview || kind == KindLesson
}

// Validate ensures a session config is complete for its kind.
func (c *SessionConfig) Validate(kind string) error {
	switch kind {
	case KindInterview:
		if c.JobDescription == "" || c.InterviewerType == "" {
			return ErrInvalidConfig
		}
		if c.Voice != "" && c.Voice != "male" && c.Voice != "female" {
			return ErrInvalidVoice
		}
	case KindLesson:
		if c.Topic == "" {
			return ErrInvalidConfig
		}
	default:
		return ErrInvalidKind
	}
	return nil
}

// ValidateInput checks a user turn's content before it reaches the machine.
func ValidateInput(content string) error {
	if content == "" {
		return ErrEmptyInput
	}
	if len(content) > maxInputBytes {
		return ErrInputTooLarge
	}
	return nil
}

// Validate checks assessment score ranges before persistence.
func (a *Assessment) Validate() error {
	for _, score := range []int{
		a.DomainExpertise, a.Communication, a.CultureFit,
		a.ProblemSolving, a.SelfAwareness, a.OverallScore,
	} {
		if score < 0 || score > 100 {
			return ErrInvalidScore
		}
	}
	return nil
}
