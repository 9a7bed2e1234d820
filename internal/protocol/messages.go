package protocol

import (
	"encoding/json"

	"coachwire/pkg/types"
)

// Inbound message kinds.
const (
	TypeStartSession   = "start_session"
	TypeUserTurn       = "user_turn"
	TypeInterrupt      = "interrupt"
	TypeResume         = "resume"
	TypePause          = "pause"
	TypeClientQuestion = "client_question"
)

// Outbound message kinds.
const (
	TypeSessionStarted    = "session_started"
	TypeTurnText          = "turn_text"
	TypeTurnAudio         = "turn_audio"
	TypeTurnComplete      = "turn_complete"
	TypeTurnFailed        = "turn_failed"
	TypeInterrupted       = "interrupted"
	TypePaused            = "paused"
	TypeResumed           = "resumed"
	TypeQuestionAnswer    = "question_answer"
	TypeProtocolError     = "protocol_error"
	TypeInvalidTransition = "invalid_transition"
	TypeSessionEnded      = "session_ended"
)

// Inbound is the closed set of client messages. One constructor per kind
// keeps the gateway dispatch exhaustively checked instead of switching on
// untyped maps.
type Inbound interface {
	inbound()
}

type StartSession struct {
	Config types.SessionConfig `json:"configuration"`
	Kind   string              `json:"kind"`
}

type UserTurn struct {
	Content string `json:"content"`
	Audio   []byte `json:"audio,omitempty"`
}

type Interrupt struct{}

type Resume struct{}

type Pause struct{}

type ClientQuestion struct {
	Question string `json:"question"`
}

func (*StartSession) inbound()   {}
func (*UserTurn) inbound()       {}
func (*Interrupt) inbound()      {}
func (*Resume) inbound()         {}
func (*Pause) inbound()          {}
func (*ClientQuestion) inbound() {}

// Outbound is the closed set of server events. Kind supplies the wire tag.
type Outbound interface {
	Kind() string
}

type SessionStarted struct {
	SessionID string `json:"session_id"`
}

type TurnText struct {
	Sequence int    `json:"sequence"`
	Content  string `json:"content"`
}

type TurnAudio struct {
	Sequence int    `json:"sequence"`
	Audio    []byte `json:"audio"`
}

type TurnComplete struct {
	Sequence int             `json:"sequence"`
	Analysis *types.Analysis `json:"analysis,omitempty"`
}

type TurnFailed struct {
	Sequence int    `json:"sequence"`
	Reason   string `json:"reason"`
}

type Interrupted struct {
	Sequence int `json:"sequence"`
}

type Paused struct{}

type Resumed struct{}

type QuestionAnswer struct {
	Answer string `json:"answer"`
}

type ProtocolError struct {
	Message string `json:"message"`
}

// InvalidTransition is the targeted rejection of an operation the session's
// current state does not allow. Session state is untouched.
type InvalidTransition struct {
	Message string `json:"message"`
}

type SessionEnded struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

func (SessionStarted) Kind() string    { return TypeSessionStarted }
func (TurnText) Kind() string          { return TypeTurnText }
func (TurnAudio) Kind() string         { return TypeTurnAudio }
func (TurnComplete) Kind() string      { return TypeTurnComplete }
func (TurnFailed) Kind() string        { return TypeTurnFailed }
func (Interrupted) Kind() string       { return TypeInterrupted }
func (Paused) Kind() string            { return TypePaused }
func (Resumed) Kind() string           { return TypeResumed }
func (QuestionAnswer) Kind() string    { return TypeQuestionAnswer }
func (ProtocolError) Kind() string     { return TypeProtocolError }
func (InvalidTransition) Kind() string { return TypeInvalidTransition }
func (SessionEnded) Kind() string      { return TypeSessionEnded }

// Decode parses a flat client envelope {"type": ..., ...payload} into its
// typed variant. Unknown or unparseable input never reaches the machine.
func Decode(data []byte) (Inbound, error) {
	var env struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, ErrMalformedMessage
	}
	if env.Type == "" {
		return nil, ErrMalformedMessage
	}

	switch env.Type {
	case TypeStartSession:
		var msg StartSession
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrMalformedMessage
		}
		return &msg, nil
	case TypeUserTurn:
		var msg UserTurn
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrMalformedMessage
		}
		return &msg, nil
	case TypeInterrupt:
		return &Interrupt{}, nil
	case TypeResume:
		return &Resume{}, nil
	case TypePause:
		return &Pause{}, nil
	case TypeClientQuestion:
		var msg ClientQuestion
		if err := json.Unmarshal(data, &msg); err != nil {
			return nil, ErrMalformedMessage
		}
		return &msg, nil
	default:
		return nil, ErrUnknownMessageType
	}
}

// Encode renders an outbound event as a flat envelope with the kind tag at
// the top level, matching the client protocol.
func Encode(ev Outbound) ([]byte, error) {
	raw, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	var flat map[string]interface{}
	if err := json.Unmarshal(raw, &flat); err != nil {
		return nil, err
	}
	flat["type"] = ev.Kind()
	return json.Marshal(flat)
}
