// Package pgagent is a retrieval-augmented conversation layer over a
// persistent long-term memory store.
//
// Each user turn is embedded, used to search the memory store, folded into
// the system prompt as a context block, and answered by a chat model. The
// utterance is then captured back into memory when the store's capture
// oracle says it is worth keeping.
//
// # Quick Start
//
//	gw, _ := resolve.Gateway(resolve.Options{Getenv: os.Getenv})
//	mem, _ := postgres.Open(ctx, os.Getenv("DATABASE_URL"))
//	defer mem.Close()
//
//	orch := pgagent.NewOrchestrator(gw, mem, pgagent.NewSessionStore())
//	res, err := orch.Turn(ctx, "default", "We use PostgreSQL 16 in production")
//
// # Core Types
//
//   - [Gateway] routes embed and chat calls to registered [Embedder] and [ChatProvider] adapters
//   - [MemoryGateway] is the storage and retrieval contract
//   - [Assembler] renders retrieved memories into a prompt block
//   - [SessionStore] keeps bounded per-session turn history
//   - [Orchestrator] runs the turn control loop
//
// # Included Implementations
//
// Providers: provider/openai, provider/anthropic, provider/gemini,
// provider/voyage, provider/ollama. Storage: store/postgres (the pgagent
// extension), store/sqlite (local development).
package pgagent
