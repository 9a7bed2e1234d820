package protocol

import "errors"

var (
	ErrMalformedMessage   = errors.New("malformed message payload")
	ErrUnknownMessageType = errors.New("unknown message type")
)
