package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/lockedin/internal/metrics"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/rs/zerolog"
)

// DefaultModel is used when no model name is configured.
const DefaultModel = "gpt-4o-mini"

// OpenAI classifies pages with an OpenAI-compatible chat completion API.
type OpenAI struct {
	client  openai.Client
	model   string
	baseURL string
	timeout time.Duration
	logger  zerolog.Logger
}

// Option configures the OpenAI model.
type Option func(*OpenAI)

// WithModel sets the model name.
func WithModel(model string) Option {
	return func(o *OpenAI) {
		if model != "" {
			o.model = model
		}
	}
}

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(baseURL string) Option {
	return func(o *OpenAI) {
		o.baseURL = baseURL
	}
}

// WithTimeout bounds each completion call.
func WithTimeout(timeout time.Duration) Option {
	return func(o *OpenAI) {
		o.timeout = timeout
	}
}

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *OpenAI) {
		o.logger = logger
	}
}

// NewOpenAI creates the model backend.
func NewOpenAI(apiKey string, opts ...Option) (*OpenAI, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("openai: api key is required")
	}

	o := &OpenAI{
		model:   DefaultModel,
		timeout: 20 * time.Second,
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With().Str("component", "openai").Str("model", o.model).Logger()

	clientOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(1),
	}
	if o.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(o.baseURL))
	}
	o.client = openai.NewClient(clientOpts...)

	return o, nil
}

// Classify asks the model for a verdict.
func (o *OpenAI) Classify(ctx context.Context, req Request) (Verdict, error) {
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := o.client.Chat.Completions.New(ctx, openai.ChatCompletionNewParams{
		Model: openai.ChatModel(o.model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(SystemPrompt),
			openai.UserMessage(Prompt(req)),
		},
	})
	if err != nil {
		metrics.ModelRequestsTotal.WithLabelValues("error").Inc()
		return Verdict{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		metrics.ModelRequestsTotal.WithLabelValues("malformed").Inc()
		return Verdict{}, fmt.Errorf("%w: no choices in response", ErrMalformedVerdict)
	}

	verdict, err := ParseVerdict(resp.Choices[0].Message.Content)
	if err != nil {
		metrics.ModelRequestsTotal.WithLabelValues("malformed").Inc()
		o.logger.Warn().Err(err).Str("content", resp.Choices[0].Message.Content).Msg("Unreadable model reply")
		return Verdict{}, err
	}

	metrics.ModelRequestsTotal.WithLabelValues("ok").Inc()
	o.logger.Debug().
		Str("url", req.URL).
		Bool("allow", verdict.Allow).
		Dur("duration", time.Since(start)).
		Msg("Model verdict")

	return verdict, nil
}
