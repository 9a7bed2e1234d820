package store

import "errors"

var (
	// ErrClosed is returned for operations on a closed store.
	ErrClosed = errors.New("store is closed")

	// ErrDuplicateSession is returned when creating a session whose ID exists.
	ErrDuplicateSession = errors.New("session already exists")
)
