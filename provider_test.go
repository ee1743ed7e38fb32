package pgagent

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func TestGatewayRoutesByProviderName(t *testing.T) {
	openai := &fakeEmbedder{name: "openai", vec: []float32{1}}
	ollama := &fakeEmbedder{name: "ollama", vec: []float32{2}}
	g := NewGateway()
	g.RegisterEmbedder(openai)
	g.RegisterEmbedder(ollama)

	vec, err := g.Embed(context.Background(), "hi", EmbeddingConfig{Provider: "ollama", Model: "nomic-embed-text"})
	if err != nil {
		t.Fatal(err)
	}
	if vec[0] != 2 {
		t.Errorf("vec = %v, want ollama's vector", vec)
	}
	if openai.calls() != 0 {
		t.Errorf("openai called %d times, want 0", openai.calls())
	}
	if ollama.models[0] != "nomic-embed-text" {
		t.Errorf("model = %q", ollama.models[0])
	}
}

func TestGatewayUnknownProvider(t *testing.T) {
	g := NewGateway()
	ctx := context.Background()

	_, err := g.Embed(ctx, "hi", EmbeddingConfig{Provider: "cohere"})
	var up *ErrUnsupportedProvider
	if !errors.As(err, &up) {
		t.Fatalf("Embed err = %v, want ErrUnsupportedProvider", err)
	}
	if up.Provider != "cohere" || up.Kind != "embedding" {
		t.Errorf("got %+v", up)
	}

	_, err = g.Chat(ctx, "hi", nil, "", ChatConfig{Provider: "mistral"})
	if !errors.As(err, &up) || up.Provider != "mistral" || up.Kind != "chat" {
		t.Errorf("Chat err = %v, want ErrUnsupportedProvider(chat, mistral)", err)
	}
}

func TestGatewayEmbedDefaultsModel(t *testing.T) {
	e := &fakeEmbedder{name: "openai", vec: []float32{1}}
	g := NewGateway()
	g.RegisterEmbedder(e)
	if _, err := g.Embed(context.Background(), "x", EmbeddingConfig{Provider: "openai"}); err != nil {
		t.Fatal(err)
	}
	if e.models[0] != DefaultEmbeddingModel {
		t.Errorf("model = %q, want placeholder %q", e.models[0], DefaultEmbeddingModel)
	}
}

func TestGatewayEmbedEmptyVector(t *testing.T) {
	g := NewGateway()
	g.RegisterEmbedder(&fakeEmbedder{name: "openai"})
	_, err := g.Embed(context.Background(), "x", EmbeddingConfig{Provider: "openai"})
	var pc *ErrProviderCall
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want ErrProviderCall", err)
	}
}

func TestGatewayWrapsUntypedAdapterErrors(t *testing.T) {
	g := NewGateway()
	g.RegisterEmbedder(&fakeEmbedder{name: "openai", err: errBoom})
	_, err := g.Embed(context.Background(), "x", EmbeddingConfig{Provider: "openai"})
	var pc *ErrProviderCall
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want ErrProviderCall", err)
	}
	if pc.Provider != "openai" || !errors.Is(err, errBoom) {
		t.Errorf("got %+v", pc)
	}
}

func TestGatewayEmbedBatchSequential(t *testing.T) {
	e := &fakeEmbedder{name: "gemini", vec: []float32{1, 2}}
	g := NewGateway()
	g.RegisterEmbedder(e)

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "b", "c"}, EmbeddingConfig{Provider: "gemini"})
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != 3 {
		t.Fatalf("len = %d, want 3", len(vecs))
	}
	if !reflect.DeepEqual(e.texts, []string{"a", "b", "c"}) {
		t.Errorf("calls out of order: %v", e.texts)
	}
}

func TestGatewayEmbedBatchNative(t *testing.T) {
	e := &fakeBatchEmbedder{fakeEmbedder: fakeEmbedder{name: "voyage"}}
	g := NewGateway()
	g.RegisterEmbedder(e)

	vecs, err := g.EmbedBatch(context.Background(), []string{"a", "bbb"}, EmbeddingConfig{Provider: "voyage"})
	if err != nil {
		t.Fatal(err)
	}
	if e.batches != 1 || e.calls() != 0 {
		t.Errorf("batches = %d, single calls = %d; want one native batch", e.batches, e.calls())
	}
	if vecs[0][0] != 1 || vecs[1][0] != 3 {
		t.Errorf("vecs = %v, want input order", vecs)
	}
}

func TestGatewayChatComposesPrompt(t *testing.T) {
	c := &fakeChat{name: "anthropic", reply: "hello"}
	g := NewGateway(WithMaxTokens(512))
	g.RegisterChat(c)

	history := []Turn{{Role: RoleUser, Content: "q1"}, {Role: RoleAssistant, Content: "a1"}}
	reply, err := g.Chat(context.Background(), "q2", history, "\n<relevant-memories>\n</relevant-memories>\n",
		ChatConfig{Provider: "anthropic", Model: "gpt-4o-mini", SystemPrompt: "sys"})
	if err != nil {
		t.Fatal(err)
	}
	if reply != "hello" {
		t.Errorf("reply = %q", reply)
	}

	req := c.last()
	if req.System != "sys\n<relevant-memories>\n</relevant-memories>\n" {
		t.Errorf("system = %q", req.System)
	}
	want := append(history, Turn{Role: RoleUser, Content: "q2"})
	if !reflect.DeepEqual(req.Messages, want) {
		t.Errorf("messages = %+v", req.Messages)
	}
	if req.MaxTokens != 512 {
		t.Errorf("max tokens = %d, want 512", req.MaxTokens)
	}
	if req.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", req.Model)
	}
}

func TestGatewayChatEmptyReplyIsError(t *testing.T) {
	g := NewGateway()
	g.RegisterChat(&fakeChat{name: "openai"})
	reply, err := g.Chat(context.Background(), "hi", nil, "", ChatConfig{Provider: "openai"})
	var pc *ErrProviderCall
	if !errors.As(err, &pc) {
		t.Fatalf("err = %v, want ErrProviderCall", err)
	}
	if reply != "" {
		t.Errorf("reply = %q, want empty on error", reply)
	}
}

func TestGatewayProviderNames(t *testing.T) {
	g := NewGateway()
	g.RegisterEmbedder(&fakeEmbedder{name: "voyage"})
	g.RegisterEmbedder(&fakeEmbedder{name: "gemini"})
	g.RegisterChat(&fakeChat{name: "ollama"})
	if got := g.EmbeddingProviders(); !reflect.DeepEqual(got, []string{"gemini", "voyage"}) {
		t.Errorf("EmbeddingProviders = %v", got)
	}
	if got := g.ChatProviders(); !reflect.DeepEqual(got, []string{"ollama"}) {
		t.Errorf("ChatProviders = %v", got)
	}
}
