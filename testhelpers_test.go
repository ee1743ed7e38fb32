package pgagent

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// --- Provider fakes ---

// fakeEmbedder returns a fixed vector, or err when set.
type fakeEmbedder struct {
	name   string
	vec    []float32
	err    error
	mu     sync.Mutex
	models []string
	texts  []string
}

func (f *fakeEmbedder) Name() string { return f.name }

func (f *fakeEmbedder) Embed(_ context.Context, model, text string) ([]float32, error) {
	f.mu.Lock()
	f.models = append(f.models, model)
	f.texts = append(f.texts, text)
	f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.vec, nil
}

func (f *fakeEmbedder) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.texts)
}

// fakeBatchEmbedder embeds each text as {len(text)} in one batch call.
type fakeBatchEmbedder struct {
	fakeEmbedder
	batches int
}

func (f *fakeBatchEmbedder) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	f.batches++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = []float32{float32(len(t))}
	}
	return out, nil
}

// fakeChat records every request and answers with reply, or with the
// system prompt when echoSystem is set.
type fakeChat struct {
	name       string
	reply      string
	echoSystem bool
	err        error
	mu         sync.Mutex
	reqs       []ChatRequest
}

func (f *fakeChat) Name() string { return f.name }

func (f *fakeChat) Chat(_ context.Context, req ChatRequest) (ChatResponse, error) {
	f.mu.Lock()
	f.reqs = append(f.reqs, req)
	f.mu.Unlock()
	if f.err != nil {
		return ChatResponse{}, f.err
	}
	if f.echoSystem {
		return ChatResponse{Content: req.System}, nil
	}
	return ChatResponse{Content: f.reply}, nil
}

func (f *fakeChat) last() ChatRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.reqs[len(f.reqs)-1]
}

// --- Memory fake ---

// fakeMemory is an in-memory MemoryGateway. Searches return hits verbatim
// and record which path was taken.
type fakeMemory struct {
	mu       sync.Mutex
	settings Settings
	hits     []RetrievedMemory
	capture  bool
	stored   []NewMemory

	settingsErr error
	searchErr   error
	captureErr  error
	storeErr    error

	hybridCalls int
	ftsCalls    int
	lastLimit   int
}

func newFakeMemory() *fakeMemory {
	return &fakeMemory{settings: Settings{}}
}

func (m *fakeMemory) GetSetting(_ context.Context, key string) (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.settings[key], nil
}

func (m *fakeMemory) GetAllSettings(_ context.Context) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.settingsErr != nil {
		return nil, m.settingsErr
	}
	out := make(Settings, len(m.settings))
	for k, v := range m.settings {
		out[k] = v
	}
	return out, nil
}

func (m *fakeMemory) SetSetting(_ context.Context, key string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings[key] = value
	return nil
}

func (m *fakeMemory) Store(_ context.Context, nm NewMemory) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.storeErr != nil {
		return "", m.storeErr
	}
	m.stored = append(m.stored, nm)
	return NewID(), nil
}

func (m *fakeMemory) HybridSearch(_ context.Context, _ string, _ []float32, limit int, _ float64) ([]RetrievedMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.hybridCalls++
	m.lastLimit = limit
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	return m.hits, nil
}

func (m *fakeMemory) FullTextSearch(_ context.Context, query string, limit int) ([]RetrievedMemory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ftsCalls++
	m.lastLimit = limit
	if m.searchErr != nil {
		return nil, m.searchErr
	}
	var out []RetrievedMemory
	for _, h := range m.hits {
		for _, w := range strings.Fields(strings.ToLower(query)) {
			if strings.Contains(strings.ToLower(h.Content), w) {
				out = append(out, h)
				break
			}
		}
	}
	return out, nil
}

func (m *fakeMemory) ShouldCapture(_ context.Context, _ string) (bool, error) {
	if m.captureErr != nil {
		return false, m.captureErr
	}
	return m.capture, nil
}

func (m *fakeMemory) ListRecent(_ context.Context, _, _ int) ([]Memory, error) {
	return nil, nil
}

func (m *fakeMemory) DeleteByID(_ context.Context, _ string) (bool, error) {
	return false, nil
}

func (m *fakeMemory) Stats(_ context.Context) (Stats, error) { return Stats{}, nil }

func (m *fakeMemory) Close() error { return nil }

var _ MemoryGateway = (*fakeMemory)(nil)

var errBoom = errors.New("boom")
