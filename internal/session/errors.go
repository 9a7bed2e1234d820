package session

import "errors"

// Invalid-transition errors. Every one of these leaves session state
// untouched; the gateway surfaces them to the caller only.
var (
	ErrAlreadyStarted   = errors.New("session already started")
	ErrSessionNotActive = errors.New("session is not active")
	ErrSessionNotPaused = errors.New("session is not paused")
	ErrSessionTerminal  = errors.New("session already completed or aborted")
	ErrTurnInProgress   = errors.New("a turn is already in progress")
	ErrNoPendingTurn    = errors.New("no turn in progress")
	ErrTurnPending      = errors.New("a turn is in progress; interrupt first")
)

// IsInvalidTransition reports whether err is a state machine transition
// rejection rather than a pipeline or infrastructure failure.
func IsInvalidTransition(err error) bool {
	for _, e := range []error{
		ErrAlreadyStarted, ErrSessionNotActive, ErrSessionNotPaused,
		ErrSessionTerminal, ErrTurnInProgress, ErrNoPendingTurn, ErrTurnPending,
	} {
		if errors.Is(err, e) {
			return true
		}
	}
	return false
}
