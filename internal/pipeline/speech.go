package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// SpeechClient talks to an ElevenLabs-style text-to-speech endpoint and
// returns raw audio bytes.
type SpeechClient struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *logrus.Entry
}

// Voice selection mirrors the product's two interviewer voices.
var voiceIDs = map[string]string{
	"male":   "21m00Tcm4TlvDq8ikWAM",
	"female": "EXAVITQu4vr4xnSDxMaL",
}

const defaultVoice = "male"

func NewSpeechClient(baseURL, apiKey string) *SpeechClient {
	return &SpeechClient{
		httpClient: &http.Client{
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout:   10 * time.Second,
					KeepAlive: 30 * time.Second,
				}).DialContext,
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 100,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		log:     logrus.WithField("component", "pipeline.speech"),
	}
}

type synthesisRequest struct {
	Text    string `json:"text"`
	VoiceID string `json:"voice_id"`
	ModelID string `json:"model_id"`
}

// Synthesize implements interfaces.SpeechSynthesizer.
func (c *SpeechClient) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	voiceID, ok := voiceIDs[voice]
	if !ok {
		voiceID = voiceIDs[defaultVoice]
	}

	body, err := json.Marshal(synthesisRequest{
		Text:    text,
		VoiceID: voiceID,
		ModelID: "eleven_monolingual_v1",
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal synthesis request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/text-to-speech", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create synthesis request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("xi-api-key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, classifyContextError(ctxErr)
		}
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode, resp.Body); err != nil {
		return nil, err
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	if len(audio) == 0 {
		return nil, fmt.Errorf("%w: empty audio payload", ErrResponseMalformed)
	}

	c.log.WithField("bytes", len(audio)).Debug("audio synthesized")
	return audio, nil
}
