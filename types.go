package pgagent

import "time"

// --- Domain types ---

// Turn is one role-tagged message in a session history.
type Turn struct {
	Role    string `json:"role"` // "user" or "assistant"
	Content string `json:"content"`
}

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Memory is a stored long-term memory record.
type Memory struct {
	ID         string         `json:"id"`
	Content    string         `json:"content"`
	Category   string         `json:"category"`
	Source     string         `json:"source"`
	Importance float64        `json:"importance"`
	Embedding  []float32      `json:"-"`
	Metadata   map[string]any `json:"metadata,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// NewMemory is the input to MemoryGateway.Store. Embedding may be nil, in
// which case the memory is only reachable through full-text search.
type NewMemory struct {
	Content    string
	Embedding  []float32
	Source     string
	Importance float64
	Metadata   map[string]any
}

// RetrievedMemory is the projection of a memory returned by a search.
type RetrievedMemory struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Content  string  `json:"content"`
	Score    float64 `json:"score"`
}

// Stats summarizes the memory store.
type Stats struct {
	TotalMemories int64            `json:"total_memories"`
	TotalChunks   int64            `json:"total_chunks"`
	TotalSessions int64            `json:"total_sessions"`
	Categories    map[string]int64 `json:"categories"`
}

// --- Provider protocol types ---

// ChatRequest is what the Gateway hands to a ChatProvider. System carries the
// system prompt plus the context block; Messages holds history followed by
// the new user message.
type ChatRequest struct {
	Model     string
	System    string
	Messages  []Turn
	MaxTokens int
}

type ChatResponse struct {
	Content string
	Usage   Usage
}

type Usage struct {
	InputTokens  int
	OutputTokens int
}

// EmbeddingConfig selects the embedding adapter and model for one call.
type EmbeddingConfig struct {
	Provider string
	Model    string
}

// ChatConfig selects the chat adapter, model and system prompt for one call.
// MaxTokens of 0 uses the Gateway default.
type ChatConfig struct {
	Provider     string
	Model        string
	SystemPrompt string
	MaxTokens    int
}

// TurnResult is the outcome of one orchestrated turn.
type TurnResult struct {
	Reply        string            `json:"response"`
	MemoriesUsed []RetrievedMemory `json:"memories_used"`
	MemorySaved  bool              `json:"memory_saved"`
}
