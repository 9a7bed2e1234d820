package types

import "errors"

var (
	ErrInvalidUserID  = errors.New("user ID must be 1-50 characters, alphanumeric + underscore/hyphen only")
	ErrInvalidKind    = errors.New("session kind must be 'interview' or 'lesson'")
	ErrInvalidConfig  = errors.New("session configuration incomplete for its kind")
	ErrInvalidVoice   = errors.New("voice must be 'male' or 'female'")
	ErrInputTooLarge  = errors.New("turn input exceeds 16KB limit")
	ErrEmptyInput     = errors.New("turn input cannot be empty")
	ErrInvalidScore   = errors.New("score must be between 0 and 100")
)
