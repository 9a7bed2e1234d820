package protocol

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeStartSession(t *testing.T) {
	data := []byte(`{"type":"start_session","kind":"interview","configuration":{"job_description":"Go engineer","interviewer_type":"technical","voice":"female"}}`)

	msg, err := Decode(data)
	require.NoError(t, err)

	start, ok := msg.(*StartSession)
	require.True(t, ok)
	assert.Equal(t, "interview", start.Kind)
	assert.Equal(t, "Go engineer", start.Config.JobDescription)
	assert.Equal(t, "female", start.Config.Voice)
}

func TestDecodeUserTurn(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"user_turn","content":"I led the migration to Go"}`))
	require.NoError(t, err)

	turn, ok := msg.(*UserTurn)
	require.True(t, ok)
	assert.Equal(t, "I led the migration to Go", turn.Content)
}

func TestDecodeControlMessages(t *testing.T) {
	tests := []struct {
		raw  string
		want Inbound
	}{
		{`{"type":"interrupt"}`, &Interrupt{}},
		{`{"type":"pause"}`, &Pause{}},
		{`{"type":"resume"}`, &Resume{}},
	}
	for _, tt := range tests {
		msg, err := Decode([]byte(tt.raw))
		require.NoError(t, err)
		assert.IsType(t, tt.want, msg)
	}
}

func TestDecodeClientQuestion(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"client_question","question":"Can you rephrase that?"}`))
	require.NoError(t, err)

	q, ok := msg.(*ClientQuestion)
	require.True(t, ok)
	assert.Equal(t, "Can you rephrase that?", q.Question)
}

func TestDecodeMalformed(t *testing.T) {
	_, err := Decode([]byte(`not json`))
	assert.ErrorIs(t, err, ErrMalformedMessage)

	_, err = Decode([]byte(`{"content":"missing type"}`))
	assert.ErrorIs(t, err, ErrMalformedMessage)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":"teleport"}`))
	assert.ErrorIs(t, err, ErrUnknownMessageType)
}

func TestEncodeFlattensType(t *testing.T) {
	data, err := Encode(TurnText{Sequence: 3, Content: "Tell me more."})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "turn_text", env["type"])
	assert.Equal(t, float64(3), env["sequence"])
	assert.Equal(t, "Tell me more.", env["content"])
}

func TestEncodeEmptyPayload(t *testing.T) {
	data, err := Encode(Paused{})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, map[string]any{"type": "paused"}, env)
}

func TestEncodeAudioAsBase64(t *testing.T) {
	audio := make([]byte, 200)
	for i := range audio {
		audio[i] = byte(i)
	}

	data, err := Encode(TurnAudio{Sequence: 1, Audio: audio})
	require.NoError(t, err)

	var decoded TurnAudio
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, audio, decoded.Audio)
}

func TestEncodeSessionEndedOmitsEmptyReason(t *testing.T) {
	data, err := Encode(SessionEnded{Status: "completed"})
	require.NoError(t, err)

	var env map[string]any
	require.NoError(t, json.Unmarshal(data, &env))
	assert.NotContains(t, env, "reason")

	data, err = Encode(SessionEnded{Status: "aborted", Reason: "idle timeout"})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(data, &env))
	assert.Equal(t, "idle timeout", env["reason"])
}
