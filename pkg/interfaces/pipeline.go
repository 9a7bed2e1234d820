package interfaces

import "context"

// ChatMessage is one entry of the prompt context sent to the text service.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TextGenerator produces a model completion for an assembled context.
// Implementations must honor ctx cancellation: once ctx is done no result
// may be returned.
type TextGenerator interface {
	Generate(ctx context.Context, messages []ChatMessage) (string, error)
}

// SpeechSynthesizer renders text to audio for a configured voice.
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}
