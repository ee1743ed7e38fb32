package pgagent

import (
	"context"
	"log/slog"
	"strings"
)

// DefaultMemoriesReturned caps TurnResult.MemoriesUsed.
const DefaultMemoriesReturned = 3

// Orchestrator runs the turn control loop: embed the query, retrieve
// memories, assemble context, generate a reply, update the session and
// maybe capture the utterance. Safe for concurrent use; turns on the same
// session never interleave their history updates.
type Orchestrator struct {
	gateway   *Gateway
	memory    MemoryGateway
	sessions  *SessionStore
	assembler Assembler
	returned  int
	logger    *slog.Logger
	tracer    Tracer
}

// OrchestratorOption configures an Orchestrator.
type OrchestratorOption func(*Orchestrator)

// WithLogger sets the structured logger. Degraded stages log at warn level.
func WithLogger(l *slog.Logger) OrchestratorOption {
	return func(o *Orchestrator) { o.logger = l }
}

// WithTracer sets the tracer used for per-turn spans.
func WithTracer(t Tracer) OrchestratorOption {
	return func(o *Orchestrator) { o.tracer = t }
}

// WithAssembler replaces the default context assembler.
func WithAssembler(a Assembler) OrchestratorOption {
	return func(o *Orchestrator) { o.assembler = a }
}

// WithMemoriesReturned sets how many retrieved memories a TurnResult reports.
func WithMemoriesReturned(n int) OrchestratorOption {
	return func(o *Orchestrator) {
		if n >= 0 {
			o.returned = n
		}
	}
}

func NewOrchestrator(gw *Gateway, mem MemoryGateway, sessions *SessionStore, opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		gateway:   gw,
		memory:    mem,
		sessions:  sessions,
		assembler: NewAssembler(),
		returned:  DefaultMemoriesReturned,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = nopLogger
	}
	if o.tracer == nil {
		o.tracer = nopTracer{}
	}
	return o
}

// Sessions returns the session store the orchestrator appends to.
func (o *Orchestrator) Sessions() *SessionStore { return o.sessions }

// Memory returns the memory gateway.
func (o *Orchestrator) Memory() MemoryGateway { return o.memory }

// Gateway returns the provider gateway.
func (o *Orchestrator) Gateway() *Gateway { return o.gateway }

// Turn processes one user message on sessionID. Only a settings read
// failure, an unknown chat provider or a chat failure fail the turn; every
// other stage degrades. On failure the session history is unchanged.
func (o *Orchestrator) Turn(ctx context.Context, sessionID, message string) (TurnResult, error) {
	if strings.TrimSpace(message) == "" {
		return TurnResult{}, ErrEmptyMessage
	}
	ctx, span := o.tracer.Start(ctx, "pgagent.turn", StringAttr("session_id", sessionID))
	defer span.End()
	log := o.logger.With("session_id", sessionID)

	settings, err := o.memory.GetAllSettings(ctx)
	if err != nil {
		err = &ErrSettingsRead{Err: err}
		span.Error(err)
		return TurnResult{}, err
	}
	chatCfg := settings.Chat()
	if _, err := o.gateway.ChatProvider(chatCfg.Provider); err != nil {
		span.Error(err)
		return TurnResult{}, err
	}
	embCfg := settings.Embedding()
	span.SetAttr(
		StringAttr("chat.provider", chatCfg.Provider),
		StringAttr("embedding.provider", embCfg.Provider),
	)

	// Embed: failure drops to full-text retrieval.
	embedding, err := o.gateway.Embed(ctx, message, embCfg)
	if err != nil {
		log.Warn("embed query failed", "stage", "embed", "provider", embCfg.Provider,
			"err", err, "recoverable", true)
		span.Event("embed_failed", StringAttr("error", err.Error()))
		embedding = nil
	}

	memories := o.retrieve(ctx, log, message, embedding, settings)
	contextBlock := o.assembler.Build(memories)
	span.Event("context_built", IntAttr("memories", len(memories)), BoolAttr("hybrid", embedding != nil))

	history := o.sessions.GetOrCreate(sessionID)
	reply, err := o.gateway.Chat(ctx, message, history, contextBlock, chatCfg)
	if err != nil {
		span.Error(err)
		return TurnResult{}, err
	}
	o.sessions.AppendExchange(sessionID, message, reply)

	saved := false
	if settings.AutoCapture() {
		saved = o.capture(ctx, log, message, embedding, embCfg)
	}
	span.SetAttr(BoolAttr("memory_saved", saved), IntAttr("reply_length", len(reply)))

	used := memories
	if len(used) > o.returned {
		used = used[:o.returned]
	}
	if used == nil {
		used = []RetrievedMemory{}
	}
	return TurnResult{Reply: reply, MemoriesUsed: used, MemorySaved: saved}, nil
}

func (o *Orchestrator) retrieve(ctx context.Context, log *slog.Logger, query string, embedding []float32, settings Settings) []RetrievedMemory {
	limit := settings.SearchLimit()
	var (
		memories []RetrievedMemory
		err      error
	)
	if embedding != nil {
		memories, err = o.memory.HybridSearch(ctx, query, embedding, limit, settings.MinSimilarity())
		if err != nil {
			err = &ErrRetrieval{Op: "hybrid_search", Err: err}
		}
	} else {
		memories, err = o.memory.FullTextSearch(ctx, query, limit)
		if err != nil {
			err = &ErrRetrieval{Op: "full_text_search", Err: err}
		}
	}
	if err != nil {
		log.Warn("retrieval failed", "stage", "retrieve", "err", err, "recoverable", IsRecoverable(err))
		return nil
	}
	return memories
}

// capture asks the store's oracle and persists the message. All failures
// are logged as ErrCapture and reported as not saved.
func (o *Orchestrator) capture(ctx context.Context, log *slog.Logger, message string, embedding []float32, cfg EmbeddingConfig) bool {
	warn := func(err error) {
		log.Warn("auto-capture failed", "stage", "capture", "err", err, "recoverable", IsRecoverable(err))
	}

	ok, err := o.memory.ShouldCapture(ctx, message)
	if err != nil {
		warn(&ErrCapture{Stage: "should_capture", Err: err})
		return false
	}
	if !ok {
		return false
	}

	if embedding == nil {
		embedding, err = o.gateway.Embed(ctx, message, cfg)
		if err != nil {
			// stored without a vector; still reachable by full-text search
			warn(&ErrCapture{Stage: "embed", Err: err})
			embedding = nil
		}
	}

	id, err := o.memory.Store(ctx, NewMemory{
		Content:    message,
		Embedding:  embedding,
		Source:     RoleUser,
		Importance: CaptureImportance,
	})
	if err != nil {
		warn(&ErrCapture{Stage: "store", Err: err})
		return false
	}
	log.Debug("memory captured", "memory_id", id)
	return true
}

// StoreMemory stores content explicitly. The embedding is best-effort: if
// the configured provider fails, the memory is stored without one.
func (o *Orchestrator) StoreMemory(ctx context.Context, content, source string) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", ErrEmptyMessage
	}
	if source == "" {
		source = RoleUser
	}
	settings, err := o.memory.GetAllSettings(ctx)
	if err != nil {
		return "", &ErrSettingsRead{Err: err}
	}
	cfg := settings.Embedding()
	embedding, err := o.gateway.Embed(ctx, content, cfg)
	if err != nil {
		o.logger.Warn("embed memory failed", "stage", "embed", "provider", cfg.Provider,
			"err", err, "recoverable", true)
		embedding = nil
	}
	return o.memory.Store(ctx, NewMemory{
		Content:    content,
		Embedding:  embedding,
		Source:     source,
		Importance: CaptureImportance,
	})
}
