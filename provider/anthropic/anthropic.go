// Package anthropic implements the Anthropic Messages chat adapter on the
// official anthropic-sdk-go client.
package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/internal/rest"
)

// Placeholder translations for the cross-provider chat models.
const (
	DefaultChatModel      = "claude-3-haiku-20240307"
	DefaultLargeChatModel = "claude-3-5-sonnet-20241022"
)

// Anthropic implements pgagent.ChatProvider. It has no embedding endpoint.
type Anthropic struct {
	client anthropic.Client
}

var _ pgagent.ChatProvider = (*Anthropic)(nil)

type config struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures an Anthropic adapter.
type Option func(*config)

func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithTimeout bounds each request (default 120s).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New creates an adapter with SDK retries disabled.
func New(apiKey string, opts ...Option) *Anthropic {
	cfg := config{timeout: 120 * time.Second}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
		option.WithRequestTimeout(cfg.timeout),
	}
	if cfg.baseURL != "" {
		reqOpts = append(reqOpts, option.WithBaseURL(cfg.baseURL))
	}
	if cfg.httpClient != nil {
		reqOpts = append(reqOpts, option.WithHTTPClient(cfg.httpClient))
	}
	return &Anthropic{client: anthropic.NewClient(reqOpts...)}
}

// Name returns "anthropic".
func (a *Anthropic) Name() string { return "anthropic" }

// Chat sends the system prompt in the dedicated system field and history as
// alternating user/assistant messages.
func (a *Anthropic) Chat(ctx context.Context, req pgagent.ChatRequest) (pgagent.ChatResponse, error) {
	msgs := make([]anthropic.MessageParam, 0, len(req.Messages))
	for _, m := range req.Messages {
		if m.Role == pgagent.RoleAssistant {
			msgs = append(msgs, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		} else {
			msgs = append(msgs, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = pgagent.DefaultMaxTokens
	}
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(chatModel(req.Model)),
		MaxTokens: int64(maxTokens),
		Messages:  msgs,
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}

	resp, err := a.client.Messages.New(ctx, params)
	if err != nil {
		var apierr *anthropic.Error
		if errors.As(err, &apierr) {
			return pgagent.ChatResponse{}, rest.StatusError(a.Name(), apierr.StatusCode, apierr.RawJSON(), err)
		}
		return pgagent.ChatResponse{}, rest.CallError(a.Name(), err)
	}

	var content strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			content.WriteString(block.Text)
		}
	}
	if content.Len() == 0 {
		return pgagent.ChatResponse{}, rest.Errorf(a.Name(), "no text content in response")
	}
	return pgagent.ChatResponse{
		Content: content.String(),
		Usage: pgagent.Usage{
			InputTokens:  int(resp.Usage.InputTokens),
			OutputTokens: int(resp.Usage.OutputTokens),
		},
	}, nil
}

func chatModel(model string) string {
	switch model {
	case "", pgagent.DefaultChatModel:
		return DefaultChatModel
	case pgagent.DefaultLargeChatModel:
		return DefaultLargeChatModel
	}
	return model
}
