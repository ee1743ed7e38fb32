package pgagent

import "context"

// MemoryGateway is the storage and retrieval engine behind the orchestrator.
// Implementations verify their connection before each call and reconnect at
// most once; calls on one gateway are serialized.
type MemoryGateway interface {
	// --- Settings ---
	GetSetting(ctx context.Context, key string) (any, error)
	GetAllSettings(ctx context.Context) (Settings, error)
	SetSetting(ctx context.Context, key string, value any) error

	// --- Memories ---
	// Store persists a memory and returns its id. Importance is clamped to [0,1].
	Store(ctx context.Context, m NewMemory) (string, error)
	// HybridSearch ranks by vector similarity and full-text relevance.
	// Results are ordered by descending relevance.
	HybridSearch(ctx context.Context, query string, embedding []float32, limit int, minSimilarity float64) ([]RetrievedMemory, error)
	// FullTextSearch is the retrieval path when no embedding is available.
	FullTextSearch(ctx context.Context, query string, limit int) ([]RetrievedMemory, error)
	// ShouldCapture is the capture oracle for auto-capture.
	ShouldCapture(ctx context.Context, text string) (bool, error)
	ListRecent(ctx context.Context, limit, offset int) ([]Memory, error)
	// DeleteByID reports whether a memory was removed.
	DeleteByID(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context) (Stats, error)

	// --- Lifecycle ---
	Close() error
}
