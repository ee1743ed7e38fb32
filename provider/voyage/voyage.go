// Package voyage implements the Voyage AI embedding adapter.
package voyage

import (
	"context"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/internal/rest"
)

const (
	defaultBaseURL = "https://api.voyageai.com/v1"

	// DefaultModel replaces the cross-provider embedding placeholder.
	DefaultModel = "voyage-2"
)

// Voyage implements pgagent.BatchEmbedder.
type Voyage struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var _ pgagent.BatchEmbedder = (*Voyage)(nil)

// Option configures a Voyage adapter.
type Option func(*Voyage)

// WithBaseURL overrides the API root.
func WithBaseURL(u string) Option {
	return func(v *Voyage) { v.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the HTTP client. Its Timeout bounds each call.
func WithHTTPClient(c *http.Client) Option {
	return func(v *Voyage) { v.httpClient = c }
}

func New(apiKey string, opts ...Option) *Voyage {
	v := &Voyage{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Name returns "voyage".
func (v *Voyage) Name() string { return "voyage" }

func (v *Voyage) Embed(ctx context.Context, model, text string) ([]float32, error) {
	vecs, err := v.EmbedBatch(ctx, model, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedBatch embeds all texts in one request. Results are ordered by the
// index the API returns.
func (v *Voyage) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	if model == "" || model == pgagent.DefaultEmbeddingModel {
		model = DefaultModel
	}
	body := map[string]any{"input": texts, "model": model}
	header := http.Header{"Authorization": []string{"Bearer " + v.apiKey}}

	var parsed embedResponse
	if err := rest.PostJSON(ctx, v.httpClient, v.Name(), v.baseURL+"/embeddings", header, body, &parsed); err != nil {
		return nil, err
	}
	if len(parsed.Data) != len(texts) {
		return nil, rest.Errorf(v.Name(), "got %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	sort.Slice(parsed.Data, func(i, j int) bool { return parsed.Data[i].Index < parsed.Data[j].Index })
	out := make([][]float32, len(parsed.Data))
	for i, d := range parsed.Data {
		if len(d.Embedding) == 0 {
			return nil, rest.Errorf(v.Name(), "empty embedding at index %d", d.Index)
		}
		out[i] = rest.ToFloat32(d.Embedding)
	}
	return out, nil
}

type embedResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}
