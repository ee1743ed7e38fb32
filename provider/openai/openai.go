// Package openai implements the OpenAI embedding and chat adapters on the
// official openai-go SDK.
package openai

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/internal/rest"
)

// OpenAI implements pgagent.BatchEmbedder and pgagent.ChatProvider. The
// cross-provider placeholder models are OpenAI's own, so models pass through.
type OpenAI struct {
	client openai.Client
}

var (
	_ pgagent.BatchEmbedder = (*OpenAI)(nil)
	_ pgagent.ChatProvider  = (*OpenAI)(nil)
)

type config struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
}

// Option configures an OpenAI adapter.
type Option func(*config)

// WithBaseURL points the client at an OpenAI-compatible endpoint.
func WithBaseURL(u string) Option {
	return func(c *config) { c.baseURL = u }
}

// WithHTTPClient sets the HTTP client used by the SDK.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.httpClient = hc }
}

// WithTimeout bounds each request (default 120s).
func WithTimeout(d time.Duration) Option {
	return func(c *config) { c.timeout = d }
}

// New creates an adapter. SDK retries are disabled; a failed call is
// reported to the caller as is.
func New(apiKey string, opts ...Option) *OpenAI {
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
	return &OpenAI{client: openai.NewClient(reqOpts...)}
}

// Name returns "openai".
func (o *OpenAI) Name() string { return "openai" }

func (o *OpenAI) Embed(ctx context.Context, model, text string) ([]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(embeddingModel(model)),
	})
	if err != nil {
		return nil, o.wrapErr(err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, rest.Errorf(o.Name(), "no embedding in response")
	}
	return rest.ToFloat32(resp.Data[0].Embedding), nil
}

// EmbedBatch sends all texts in one request and restores input order from
// each item's index.
func (o *OpenAI) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	resp, err := o.client.Embeddings.New(ctx, openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
		Model: openai.EmbeddingModel(embeddingModel(model)),
	})
	if err != nil {
		return nil, o.wrapErr(err)
	}
	if len(resp.Data) != len(texts) {
		return nil, rest.Errorf(o.Name(), "got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	data := resp.Data
	sort.Slice(data, func(i, j int) bool { return data[i].Index < data[j].Index })
	out := make([][]float32, len(data))
	for i, d := range data {
		out[i] = rest.ToFloat32(d.Embedding)
	}
	return out, nil
}

func (o *OpenAI) Chat(ctx context.Context, req pgagent.ChatRequest) (pgagent.ChatResponse, error) {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, openai.SystemMessage(req.System))
	}
	for _, m := range req.Messages {
		if m.Role == pgagent.RoleAssistant {
			msgs = append(msgs, openai.AssistantMessage(m.Content))
		} else {
			msgs = append(msgs, openai.UserMessage(m.Content))
		}
	}

	model := req.Model
	if model == "" {
		model = pgagent.DefaultChatModel
	}
	params := openai.ChatCompletionNewParams{
		Model:    openai.ChatModel(model),
		Messages: msgs,
	}
	if req.MaxTokens > 0 {
		params.MaxTokens = openai.Int(int64(req.MaxTokens))
	}

	resp, err := o.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return pgagent.ChatResponse{}, o.wrapErr(err)
	}
	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return pgagent.ChatResponse{}, rest.Errorf(o.Name(), "no content in response choices")
	}
	return pgagent.ChatResponse{
		Content: resp.Choices[0].Message.Content,
		Usage: pgagent.Usage{
			InputTokens:  int(resp.Usage.PromptTokens),
			OutputTokens: int(resp.Usage.CompletionTokens),
		},
	}, nil
}

func (o *OpenAI) wrapErr(err error) error {
	var apierr *openai.Error
	if errors.As(err, &apierr) {
		return rest.StatusError(o.Name(), apierr.StatusCode, apierr.RawJSON(), err)
	}
	return rest.CallError(o.Name(), err)
}

func embeddingModel(model string) string {
	if model == "" {
		return pgagent.DefaultEmbeddingModel
	}
	return model
}
