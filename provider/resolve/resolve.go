// Package resolve builds the built-in provider adapters from the environment
// and registers them on a pgagent.Gateway.
package resolve

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/anthropic"
	"github.com/nevindra/pgagent/provider/cache"
	"github.com/nevindra/pgagent/provider/gemini"
	"github.com/nevindra/pgagent/provider/ollama"
	"github.com/nevindra/pgagent/provider/openai"
	"github.com/nevindra/pgagent/provider/voyage"
)

// Built-in provider names.
var (
	EmbeddingProviders = []string{"openai", "gemini", "voyage", "ollama"}
	ChatProviders      = []string{"openai", "anthropic", "gemini", "ollama"}
)

// Options controls how adapters are built.
type Options struct {
	// Getenv reads credentials and endpoints. Defaults to os.Getenv.
	Getenv func(string) string
	// Timeout bounds each provider HTTP call. Defaults to 120s.
	Timeout time.Duration
	// CacheSize enables an embedding cache of that many vectors when > 0.
	CacheSize int64
	// WrapEmbedder and WrapChat decorate adapters before registration,
	// e.g. with observer instrumentation.
	WrapEmbedder func(pgagent.Embedder) pgagent.Embedder
	WrapChat     func(pgagent.ChatProvider) pgagent.ChatProvider
	Logger       *slog.Logger
}

func (o Options) getenv(k string) string {
	if o.Getenv == nil {
		return os.Getenv(k)
	}
	return o.Getenv(k)
}

func (o Options) httpClient() *http.Client {
	t := o.Timeout
	if t <= 0 {
		t = 120 * time.Second
	}
	return &http.Client{Timeout: t}
}

// Embedder creates the embedding adapter for provider.
func Embedder(provider string, opts Options) (pgagent.Embedder, error) {
	hc := opts.httpClient()
	switch provider {
	case "openai":
		return openai.New(opts.getenv("OPENAI_API_KEY"),
			openai.WithBaseURL(baseURL(provider, opts.getenv)),
			openai.WithHTTPClient(hc), openai.WithTimeout(hc.Timeout)), nil
	case "gemini":
		return gemini.New(opts.getenv("GEMINI_API_KEY"),
			gemini.WithBaseURL(baseURL(provider, opts.getenv)), gemini.WithHTTPClient(hc)), nil
	case "voyage":
		return voyage.New(opts.getenv("VOYAGE_API_KEY"),
			voyage.WithBaseURL(baseURL(provider, opts.getenv)), voyage.WithHTTPClient(hc)), nil
	case "ollama":
		return ollama.FromEnv(opts.getenv, ollama.WithHTTPClient(hc)), nil
	default:
		return nil, &pgagent.ErrUnsupportedProvider{Kind: "embedding", Provider: provider}
	}
}

// ChatProvider creates the chat adapter for provider.
func ChatProvider(provider string, opts Options) (pgagent.ChatProvider, error) {
	hc := opts.httpClient()
	switch provider {
	case "openai":
		return openai.New(opts.getenv("OPENAI_API_KEY"),
			openai.WithBaseURL(baseURL(provider, opts.getenv)),
			openai.WithHTTPClient(hc), openai.WithTimeout(hc.Timeout)), nil
	case "anthropic":
		return anthropic.New(opts.getenv("ANTHROPIC_API_KEY"),
			anthropic.WithBaseURL(baseURL(provider, opts.getenv)),
			anthropic.WithHTTPClient(hc), anthropic.WithTimeout(hc.Timeout)), nil
	case "gemini":
		return gemini.New(opts.getenv("GEMINI_API_KEY"),
			gemini.WithBaseURL(baseURL(provider, opts.getenv)), gemini.WithHTTPClient(hc)), nil
	case "ollama":
		return ollama.FromEnv(opts.getenv, ollama.WithHTTPClient(hc)), nil
	default:
		return nil, &pgagent.ErrUnsupportedProvider{Kind: "chat", Provider: provider}
	}
}

// Gateway returns a Gateway with every built-in adapter registered. Adapters
// are created eagerly but make no network calls until used, so missing
// credentials only surface as ErrProviderCall on the first call.
func Gateway(opts Options, gwOpts ...pgagent.GatewayOption) (*pgagent.Gateway, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	g := pgagent.NewGateway(append([]pgagent.GatewayOption{pgagent.WithGatewayLogger(logger)}, gwOpts...)...)

	for _, name := range EmbeddingProviders {
		e, err := Embedder(name, opts)
		if err != nil {
			return nil, err
		}
		if opts.WrapEmbedder != nil {
			e = opts.WrapEmbedder(e)
		}
		if opts.CacheSize > 0 {
			ce, err := cache.Wrap(e, opts.CacheSize)
			if err != nil {
				return nil, fmt.Errorf("resolve: %s embedding cache: %w", name, err)
			}
			e = ce
		}
		g.RegisterEmbedder(e)
	}

	for _, name := range ChatProviders {
		p, err := ChatProvider(name, opts)
		if err != nil {
			return nil, err
		}
		if opts.WrapChat != nil {
			p = opts.WrapChat(p)
		}
		g.RegisterChat(p)
	}

	logger.Debug("providers registered",
		"embedding", g.EmbeddingProviders(), "chat", g.ChatProviders(), "cache_size", opts.CacheSize)
	return g, nil
}

// baseURL returns the provider's endpoint, honoring <PROVIDER>_BASE_URL.
func baseURL(provider string, getenv func(string) string) string {
	if env := envBaseURL(provider); env != "" {
		if v := getenv(env); v != "" {
			return v
		}
	}
	return defaultBaseURL(provider)
}

func envBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "OPENAI_BASE_URL"
	case "anthropic":
		return "ANTHROPIC_BASE_URL"
	case "gemini":
		return "GEMINI_BASE_URL"
	case "voyage":
		return "VOYAGE_BASE_URL"
	default:
		return ""
	}
}

func defaultBaseURL(provider string) string {
	switch provider {
	case "openai":
		return "https://api.openai.com/v1/"
	case "anthropic":
		return "https://api.anthropic.com/"
	case "gemini":
		return "https://generativelanguage.googleapis.com/v1beta"
	case "voyage":
		return "https://api.voyageai.com/v1"
	case "ollama":
		return ollama.DefaultHost
	default:
		return ""
	}
}
