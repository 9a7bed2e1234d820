package registry

import "errors"

var (
	ErrNilSubscriber = errors.New("subscriber cannot be nil")
	ErrClosed        = errors.New("registry is closed")
)
