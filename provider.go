package pgagent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

// Embedder abstracts a text embedding backend. Implementations translate the
// cross-provider placeholder model DefaultEmbeddingModel into their own
// default.
type Embedder interface {
	// Embed returns the embedding vector for a single text.
	Embed(ctx context.Context, model, text string) ([]float32, error)
	// Name returns the provider name (e.g. "openai", "ollama").
	Name() string
}

// BatchEmbedder is implemented by embedders with a native batch endpoint.
// The returned vectors are in input order.
type BatchEmbedder interface {
	Embedder
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// ChatProvider abstracts a chat completion backend.
type ChatProvider interface {
	// Chat sends a request and returns the complete reply.
	Chat(ctx context.Context, req ChatRequest) (ChatResponse, error)
	// Name returns the provider name.
	Name() string
}

// Gateway routes embed and chat calls to registered adapters by provider
// name. Safe for concurrent use.
type Gateway struct {
	mu        sync.RWMutex
	embedders map[string]Embedder
	chats     map[string]ChatProvider
	maxTokens int
	logger    *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*Gateway)

// WithMaxTokens sets the default reply token ceiling. Default 1024.
func WithMaxTokens(n int) GatewayOption {
	return func(g *Gateway) {
		if n > 0 {
			g.maxTokens = n
		}
	}
}

// WithGatewayLogger sets the logger for provider dispatch.
func WithGatewayLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

func NewGateway(opts ...GatewayOption) *Gateway {
	g := &Gateway{
		embedders: make(map[string]Embedder),
		chats:     make(map[string]ChatProvider),
		maxTokens: DefaultMaxTokens,
	}
	for _, o := range opts {
		o(g)
	}
	if g.logger == nil {
		g.logger = nopLogger
	}
	return g
}

// RegisterEmbedder adds e under e.Name(), replacing any previous adapter.
func (g *Gateway) RegisterEmbedder(e Embedder) {
	g.mu.Lock()
	g.embedders[e.Name()] = e
	g.mu.Unlock()
}

// RegisterChat adds p under p.Name(), replacing any previous adapter.
func (g *Gateway) RegisterChat(p ChatProvider) {
	g.mu.Lock()
	g.chats[p.Name()] = p
	g.mu.Unlock()
}

func (g *Gateway) Embedder(name string) (Embedder, error) {
	g.mu.RLock()
	e, ok := g.embedders[name]
	g.mu.RUnlock()
	if !ok {
		return nil, &ErrUnsupportedProvider{Kind: "embedding", Provider: name}
	}
	return e, nil
}

func (g *Gateway) ChatProvider(name string) (ChatProvider, error) {
	g.mu.RLock()
	p, ok := g.chats[name]
	g.mu.RUnlock()
	if !ok {
		return nil, &ErrUnsupportedProvider{Kind: "chat", Provider: name}
	}
	return p, nil
}

// EmbeddingProviders returns the registered embedding provider names, sorted.
func (g *Gateway) EmbeddingProviders() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.embedders)
}

// ChatProviders returns the registered chat provider names, sorted.
func (g *Gateway) ChatProviders() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return sortedKeys(g.chats)
}

// Embed returns the embedding of text using the adapter named by cfg.Provider.
func (g *Gateway) Embed(ctx context.Context, text string, cfg EmbeddingConfig) ([]float32, error) {
	e, err := g.Embedder(cfg.Provider)
	if err != nil {
		return nil, err
	}
	vec, err := e.Embed(ctx, modelOr(cfg.Model, DefaultEmbeddingModel), text)
	if err != nil {
		return nil, asProviderCall(cfg.Provider, err)
	}
	if len(vec) == 0 {
		return nil, &ErrProviderCall{Provider: cfg.Provider, Message: "empty embedding in response"}
	}
	return vec, nil
}

// EmbedBatch embeds texts in order. Adapters with a native batch endpoint
// get one call; the rest are called once per text.
func (g *Gateway) EmbedBatch(ctx context.Context, texts []string, cfg EmbeddingConfig) ([][]float32, error) {
	e, err := g.Embedder(cfg.Provider)
	if err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	model := modelOr(cfg.Model, DefaultEmbeddingModel)

	if be, ok := e.(BatchEmbedder); ok {
		vecs, err := be.EmbedBatch(ctx, model, texts)
		if err != nil {
			return nil, asProviderCall(cfg.Provider, err)
		}
		if len(vecs) != len(texts) {
			return nil, &ErrProviderCall{
				Provider: cfg.Provider,
				Message:  fmt.Sprintf("batch returned %d embeddings for %d inputs", len(vecs), len(texts)),
			}
		}
		return vecs, nil
	}

	out := make([][]float32, len(texts))
	for i, t := range texts {
		vec, err := e.Embed(ctx, model, t)
		if err != nil {
			return nil, asProviderCall(cfg.Provider, err)
		}
		out[i] = vec
	}
	return out, nil
}

// Chat sends history plus message to the adapter named by cfg.Provider. The
// system message is cfg.SystemPrompt followed by contextBlock.
func (g *Gateway) Chat(ctx context.Context, message string, history []Turn, contextBlock string, cfg ChatConfig) (string, error) {
	p, err := g.ChatProvider(cfg.Provider)
	if err != nil {
		return "", err
	}

	msgs := make([]Turn, 0, len(history)+1)
	msgs = append(msgs, history...)
	msgs = append(msgs, Turn{Role: RoleUser, Content: message})

	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = g.maxTokens
	}

	resp, err := p.Chat(ctx, ChatRequest{
		Model:     modelOr(cfg.Model, DefaultChatModel),
		System:    cfg.SystemPrompt + contextBlock,
		Messages:  msgs,
		MaxTokens: maxTokens,
	})
	if err != nil {
		return "", asProviderCall(cfg.Provider, err)
	}
	if resp.Content == "" {
		return "", &ErrProviderCall{Provider: cfg.Provider, Message: "empty reply in response"}
	}
	g.logger.Debug("chat complete", "provider", cfg.Provider,
		"input_tokens", resp.Usage.InputTokens, "output_tokens", resp.Usage.OutputTokens)
	return resp.Content, nil
}

// asProviderCall keeps typed provider errors and wraps anything else, such
// as context cancellation from a custom adapter, as ErrProviderCall.
func asProviderCall(provider string, err error) error {
	var pc *ErrProviderCall
	if errors.As(err, &pc) {
		return err
	}
	return &ErrProviderCall{Provider: provider, Message: err.Error(), Err: err}
}

func modelOr(model, def string) string {
	if model == "" {
		return def
	}
	return model
}

func sortedKeys[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// nopLogger is used when no logger option is set.
var nopLogger = slog.New(slog.DiscardHandler)
