package assessment

import "errors"

var (
	// ErrSessionNotCompleted is returned when assessing a session that has
	// not finished.
	ErrSessionNotCompleted = errors.New("session is not completed")

	// ErrNotInterview is returned when assessing a non-interview session.
	ErrNotInterview = errors.New("assessments apply to interview sessions only")

	// ErrEmptyTranscript is returned when the session has no completed turns
	// to assess.
	ErrEmptyTranscript = errors.New("session has no completed turns")
)
