package pipeline

import "errors"

// Pipeline error taxonomy. UpstreamUnavailable is the only retryable kind;
// Rejected and Malformed distinguish "ask again" from "this will never work".
var (
	ErrUpstreamUnavailable = errors.New("upstream service unavailable")
	ErrUpstreamRejected    = errors.New("upstream rejected request")
	ErrResponseMalformed   = errors.New("upstream response malformed")
)

// Reason maps a pipeline error to the wire-level turn_failed reason.
func Reason(err error) string {
	switch {
	case errors.Is(err, ErrUpstreamRejected):
		return "UpstreamRejected"
	case errors.Is(err, ErrResponseMalformed):
		return "ResponseMalformed"
	default:
		return "UpstreamUnavailable"
	}
}
