// Package ollama implements the chat and embedding adapters for a local
// Ollama server using its native /api endpoints.
package ollama

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/internal/rest"
)

const (
	DefaultHost           = "http://127.0.0.1:11434"
	DefaultEmbeddingModel = "nomic-embed-text"
	DefaultChatModel      = "llama3.1:8b"
)

// Ollama implements pgagent.Embedder and pgagent.ChatProvider.
type Ollama struct {
	host           string
	embeddingModel string
	chatModel      string
	httpClient     *http.Client
}

var (
	_ pgagent.Embedder     = (*Ollama)(nil)
	_ pgagent.ChatProvider = (*Ollama)(nil)
)

// Option configures an Ollama adapter.
type Option func(*Ollama)

// WithHost sets the server root (default http://127.0.0.1:11434).
func WithHost(host string) Option {
	return func(o *Ollama) {
		if host != "" {
			o.host = strings.TrimRight(host, "/")
		}
	}
}

// WithEmbeddingModel sets the model used in place of the embedding placeholder.
func WithEmbeddingModel(m string) Option {
	return func(o *Ollama) {
		if m != "" {
			o.embeddingModel = m
		}
	}
}

// WithChatModel sets the model used in place of the chat placeholders.
func WithChatModel(m string) Option {
	return func(o *Ollama) {
		if m != "" {
			o.chatModel = m
		}
	}
}

// WithHTTPClient sets the HTTP client. Its Timeout bounds each call.
func WithHTTPClient(c *http.Client) Option {
	return func(o *Ollama) { o.httpClient = c }
}

func New(opts ...Option) *Ollama {
	o := &Ollama{
		host:           DefaultHost,
		embeddingModel: DefaultEmbeddingModel,
		chatModel:      DefaultChatModel,
		httpClient:     &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// FromEnv reads OLLAMA_HOST, OLLAMA_EMBEDDING_MODEL and OLLAMA_CHAT_MODEL.
// Unset variables keep the defaults; opts are applied afterwards.
func FromEnv(getenv func(string) string, opts ...Option) *Ollama {
	envOpts := []Option{
		WithHost(getenv("OLLAMA_HOST")),
		WithEmbeddingModel(getenv("OLLAMA_EMBEDDING_MODEL")),
		WithChatModel(getenv("OLLAMA_CHAT_MODEL")),
	}
	return New(append(envOpts, opts...)...)
}

// Name returns "ollama".
func (o *Ollama) Name() string { return "ollama" }

// Embed calls /api/embeddings. There is no batch endpoint; the Gateway
// embeds batches one text at a time.
func (o *Ollama) Embed(ctx context.Context, model, text string) ([]float32, error) {
	if model == "" || model == pgagent.DefaultEmbeddingModel {
		model = o.embeddingModel
	}
	body := map[string]any{"model": model, "prompt": text}

	var parsed struct {
		Embedding []float64 `json:"embedding"`
	}
	if err := rest.PostJSON(ctx, o.httpClient, o.Name(), o.host+"/api/embeddings", nil, body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Embedding) == 0 {
		return nil, rest.Errorf(o.Name(), "invalid embedding response: missing embedding")
	}
	return rest.ToFloat32(parsed.Embedding), nil
}

// Chat calls /api/chat without streaming. The system prompt is sent as the
// first message.
func (o *Ollama) Chat(ctx context.Context, req pgagent.ChatRequest) (pgagent.ChatResponse, error) {
	model := req.Model
	switch model {
	case "", pgagent.DefaultChatModel, pgagent.DefaultLargeChatModel:
		model = o.chatModel
	}

	msgs := make([]map[string]string, 0, len(req.Messages)+1)
	if req.System != "" {
		msgs = append(msgs, map[string]string{"role": "system", "content": req.System})
	}
	for _, m := range req.Messages {
		msgs = append(msgs, map[string]string{"role": m.Role, "content": m.Content})
	}
	body := map[string]any{"model": model, "messages": msgs, "stream": false}
	if req.MaxTokens > 0 {
		body["options"] = map[string]any{"num_predict": req.MaxTokens}
	}

	var parsed chatResponse
	if err := rest.PostJSON(ctx, o.httpClient, o.Name(), o.host+"/api/chat", nil, body, &parsed); err != nil {
		return pgagent.ChatResponse{}, err
	}
	if parsed.Message.Content == "" {
		return pgagent.ChatResponse{}, rest.Errorf(o.Name(), "invalid chat response: empty message content")
	}
	return pgagent.ChatResponse{
		Content: parsed.Message.Content,
		Usage: pgagent.Usage{
			InputTokens:  parsed.PromptEvalCount,
			OutputTokens: parsed.EvalCount,
		},
	}, nil
}

type chatResponse struct {
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	PromptEvalCount int `json:"prompt_eval_count"`
	EvalCount       int `json:"eval_count"`
}
