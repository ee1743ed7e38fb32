// Package gemini implements the Google Gemini chat and embedding adapters
// over the generativelanguage REST API.
package gemini

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/provider/internal/rest"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

	// DefaultEmbeddingModel replaces the cross-provider embedding placeholder.
	DefaultEmbeddingModel = "embedding-001"
	// DefaultChatModel replaces the gpt-4o chat placeholders.
	DefaultChatModel = "gemini-1.5-flash"
)

// Gemini implements pgagent.Embedder and pgagent.ChatProvider.
type Gemini struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
}

var (
	_ pgagent.Embedder     = (*Gemini)(nil)
	_ pgagent.ChatProvider = (*Gemini)(nil)
)

// New creates a Gemini adapter with functional options.
func New(apiKey string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:     apiKey,
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: 120 * time.Second},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Embed calls models/{model}:embedContent. Batch embedding falls back to
// one call per text in the Gateway.
func (g *Gemini) Embed(ctx context.Context, model, text string) ([]float32, error) {
	model = embeddingModel(model)
	body := map[string]any{
		"model": "models/" + model,
		"content": map[string]any{
			"parts": []map[string]any{{"text": text}},
		},
	}

	var parsed embedResponse
	if err := rest.PostJSON(ctx, g.httpClient, g.Name(), g.endpoint(model, "embedContent"), g.authHeader(), body, &parsed); err != nil {
		return nil, err
	}
	if parsed.Embedding == nil || len(parsed.Embedding.Values) == 0 {
		return nil, rest.Errorf(g.Name(), "missing embedding.values in response")
	}
	return rest.ToFloat32(parsed.Embedding.Values), nil
}

// Chat calls models/{model}:generateContent. The system prompt goes in
// systemInstruction and assistant turns are sent with the "model" role.
func (g *Gemini) Chat(ctx context.Context, req pgagent.ChatRequest) (pgagent.ChatResponse, error) {
	model := chatModel(req.Model)

	contents := make([]map[string]any, 0, len(req.Messages))
	for _, m := range req.Messages {
		contents = append(contents, map[string]any{
			"role":  mapRole(m.Role),
			"parts": []map[string]any{{"text": m.Content}},
		})
	}
	body := map[string]any{"contents": contents}
	if req.System != "" {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.System}},
		}
	}
	if req.MaxTokens > 0 {
		body["generationConfig"] = map[string]any{"maxOutputTokens": req.MaxTokens}
	}

	var parsed geminiResponse
	if err := rest.PostJSON(ctx, g.httpClient, g.Name(), g.endpoint(model, "generateContent"), g.authHeader(), body, &parsed); err != nil {
		return pgagent.ChatResponse{}, err
	}

	var content strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			// thinking parts are not part of the reply
			if part.Thought || part.Text == nil {
				continue
			}
			content.WriteString(*part.Text)
		}
	}
	if content.Len() == 0 {
		return pgagent.ChatResponse{}, rest.Errorf(g.Name(), "no text in response candidates")
	}

	var usage pgagent.Usage
	if parsed.UsageMetadata != nil {
		usage.InputTokens = parsed.UsageMetadata.PromptTokenCount
		usage.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}
	return pgagent.ChatResponse{Content: content.String(), Usage: usage}, nil
}

func (g *Gemini) endpoint(model, method string) string {
	return fmt.Sprintf("%s/models/%s:%s", g.baseURL, model, method)
}

// authHeader carries the API key. It never goes in the URL, which would
// surface in transport error messages.
func (g *Gemini) authHeader() http.Header {
	return http.Header{"X-Goog-Api-Key": []string{g.apiKey}}
}

// embeddingModel strips a "models/" prefix and substitutes the placeholder.
func embeddingModel(model string) string {
	model = strings.TrimPrefix(model, "models/")
	if model == "" || model == pgagent.DefaultEmbeddingModel {
		return DefaultEmbeddingModel
	}
	return model
}

func chatModel(model string) string {
	model = strings.TrimPrefix(model, "models/")
	switch model {
	case "", pgagent.DefaultChatModel, pgagent.DefaultLargeChatModel:
		return DefaultChatModel
	}
	return model
}

func mapRole(role string) string {
	if role == pgagent.RoleAssistant {
		return "model"
	}
	return pgagent.RoleUser
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text    *string `json:"text,omitempty"`
	Thought bool    `json:"thought,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type embedResponse struct {
	Embedding *embedValues `json:"embedding"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}
