package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"coachwire/pkg/interfaces"
)

// TextClient talks to an OpenAI-compatible chat completions endpoint.
type TextClient struct {
	httpClient  *http.Client
	baseURL     string
	apiKey      string
	model       string
	temperature float64
	log         *logrus.Entry
}

// NewTextClient creates the text generation client. The http.Client carries
// no overall timeout; callers bound each attempt through ctx so cancellation
// and the per-attempt ceiling stay in one place.
func NewTextClient(baseURL, apiKey, model string, temperature float64) *TextClient {
	return &TextClient{
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
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiKey:      apiKey,
		model:       model,
		temperature: temperature,
		log:         logrus.WithField("component", "pipeline.text"),
	}
}

type chatCompletionRequest struct {
	Model       string                   `json:"model"`
	Messages    []interfaces.ChatMessage `json:"messages"`
	Temperature float64                  `json:"temperature"`
	MaxTokens   int                      `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

// Generate implements interfaces.TextGenerator. Errors are classified into
// the pipeline taxonomy; a done ctx surfaces as ctx.Err so callers can tell
// cancellation from upstream failure.
func (c *TextClient) Generate(ctx context.Context, messages []interfaces.ChatMessage) (string, error) {
	body, err := json.Marshal(chatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: c.temperature,
	})
	if err != nil {
		return "", fmt.Errorf("failed to marshal completion request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		c.baseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create completion request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", classifyContextError(ctxErr)
		}
		return "", fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if err := classifyStatus(resp.StatusCode, resp.Body); err != nil {
		return "", err
	}

	var completion chatCompletionResponse
	if err := json.NewDecoder(resp.Body).Decode(&completion); err != nil {
		return "", fmt.Errorf("%w: %v", ErrResponseMalformed, err)
	}
	if len(completion.Choices) == 0 || completion.Choices[0].Message.Content == "" {
		return "", fmt.Errorf("%w: no completion choices", ErrResponseMalformed)
	}

	c.log.WithField("model", c.model).Debug("completion received")
	return completion.Choices[0].Message.Content, nil
}

// classifyStatus maps HTTP status codes onto the pipeline taxonomy.
// 5xx is retryable, 4xx is not.
func classifyStatus(status int, body io.Reader) error {
	if status >= 200 && status < 300 {
		return nil
	}
	detail, _ := io.ReadAll(io.LimitReader(body, 512))
	if status >= 400 && status < 500 {
		return fmt.Errorf("%w: status %d - %s", ErrUpstreamRejected, status, string(detail))
	}
	return fmt.Errorf("%w: status %d - %s", ErrUpstreamUnavailable, status, string(detail))
}

// classifyContextError keeps caller-initiated cancellation distinct from a
// per-attempt deadline, which counts as the upstream being unavailable.
func classifyContextError(ctxErr error) error {
	if errors.Is(ctxErr, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, ctxErr)
	}
	return ctxErr
}
