package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
	"github.com/sirupsen/logrus"

	"coachwire/internal/config"
	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

// Pipeline fronts the external text and speech services for one deployment.
// Every call is bounded by the per-attempt ceiling and retried exactly once,
// after a short fixed delay, when the upstream is unavailable. Rejected and
// malformed responses surface immediately.
type Pipeline struct {
	text        interfaces.TextGenerator
	speech      interfaces.SpeechSynthesizer
	callTimeout time.Duration
	retryDelay  time.Duration
	window      int
	maxTurns    int
	log         *logrus.Entry
}

// TurnResult is the text phase of a turn. Analysis is set for lesson turns.
type TurnResult struct {
	Text     string
	Analysis *types.Analysis
}

func New(text interfaces.TextGenerator, speech interfaces.SpeechSynthesizer, cfg config.Pipeline) *Pipeline {
	return &Pipeline{
		text:        text,
		speech:      speech,
		callTimeout: cfg.CallTimeout,
		retryDelay:  cfg.RetryDelay,
		window:      cfg.HistoryWindow,
		maxTurns:    cfg.HistoryMax,
		log:         logrus.WithField("component", "pipeline"),
	}
}

// FromConfig wires the HTTP clients from configuration.
func FromConfig(cfg config.Pipeline) *Pipeline {
	return New(
		NewTextClient(cfg.TextBaseURL, cfg.TextAPIKey, cfg.Model, cfg.Temperature),
		NewSpeechClient(cfg.SpeechBaseURL, cfg.SpeechAPIKey),
		cfg,
	)
}

// Respond produces the text phase of a turn. Interview turns return the
// interviewer's reply; lesson turns return the coach's follow-up plus the
// structured analysis parsed from the model's JSON output.
func (p *Pipeline) Respond(ctx context.Context, sess *types.Session, prior []*types.Turn, input string) (*TurnResult, error) {
	if sess.Kind == types.KindLesson {
		return p.respondLesson(ctx, sess, prior, input)
	}

	text, err := p.generate(ctx, buildContext(sess, prior, input, p.window, p.maxTurns))
	if err != nil {
		return nil, err
	}
	return &TurnResult{Text: text}, nil
}

type lessonAnalysisOutput struct {
	Correctness     int      `json:"correctness"`
	KeyPointsMissed []string `json:"key_points_missed"`
	Suggestions     []string `json:"suggestions"`
	Confidence      int      `json:"confidence_score"`
	Reply           string   `json:"reply"`
}

func (p *Pipeline) respondLesson(ctx context.Context, sess *types.Session, prior []*types.Turn, input string) (*TurnResult, error) {
	question := currentQuestion(sess, prior)
	raw, err := p.generate(ctx, analysisPrompt(sess, question, input))
	if err != nil {
		return nil, err
	}

	var out lessonAnalysisOutput
	if err := json.Unmarshal([]byte(StripCodeFence(raw)), &out); err != nil {
		return nil, fmt.Errorf("%w: analysis is not valid JSON: %v", ErrResponseMalformed, err)
	}
	if out.Reply == "" {
		return nil, fmt.Errorf("%w: analysis missing reply", ErrResponseMalformed)
	}

	return &TurnResult{
		Text: out.Reply,
		Analysis: &types.Analysis{
			Correctness:     out.Correctness,
			KeyPointsMissed: out.KeyPointsMissed,
			Suggestions:     out.Suggestions,
			Confidence:      out.Confidence,
		},
	}, nil
}

// Synthesize renders turn text to audio under the same timeout/retry policy.
func (p *Pipeline) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	var audio []byte
	err := p.withRetry(ctx, func(attemptCtx context.Context) error {
		var synthErr error
		audio, synthErr = p.speech.Synthesize(attemptCtx, text, voice)
		return synthErr
	})
	if err != nil {
		return nil, err
	}
	return audio, nil
}

// AnswerQuestion answers a clarifying question outside the turn log.
func (p *Pipeline) AnswerQuestion(ctx context.Context, sess *types.Session, question string) (string, error) {
	return p.generate(ctx, questionPrompt(sess, question))
}

// GenerateRaw exposes the retrying text path for callers that assemble their
// own prompt, such as assessment generation.
func (p *Pipeline) GenerateRaw(ctx context.Context, messages []interfaces.ChatMessage) (string, error) {
	return p.generate(ctx, messages)
}

func (p *Pipeline) generate(ctx context.Context, messages []interfaces.ChatMessage) (string, error) {
	var text string
	err := p.withRetry(ctx, func(attemptCtx context.Context) error {
		var genErr error
		text, genErr = p.text.Generate(attemptCtx, messages)
		return genErr
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

// withRetry runs one attempt with the per-attempt ceiling, retrying once on
// UpstreamUnavailable. Caller cancellation passes through unchanged so a
// cancelled turn is never retried.
func (p *Pipeline) withRetry(ctx context.Context, attempt func(context.Context) error) error {
	backoff := retry.WithMaxRetries(1, retry.NewConstant(p.retryDelay))

	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, p.callTimeout)
		defer cancel()

		err := attempt(attemptCtx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Caller cancelled; do not retry, do not reclassify.
			return ctx.Err()
		}
		if errors.Is(err, ErrUpstreamUnavailable) {
			p.log.WithError(err).Warn("upstream unavailable, retrying once")
			return retry.RetryableError(err)
		}
		return err
	})
}

// StripCodeFence unwraps ```json fenced blocks some models insist on.
func StripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
