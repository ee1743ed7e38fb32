package repl

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nevindra/pgagent"
	"github.com/nevindra/pgagent/store/sqlite"
)

type stubEmbedder struct{}

func (stubEmbedder) Name() string { return "openai" }
func (stubEmbedder) Embed(context.Context, string, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubChat struct{ err error }

func (stubChat) Name() string { return "openai" }
func (c stubChat) Chat(_ context.Context, req pgagent.ChatRequest) (pgagent.ChatResponse, error) {
	if c.err != nil {
		return pgagent.ChatResponse{}, c.err
	}
	return pgagent.ChatResponse{Content: "reply to " + req.Messages[len(req.Messages)-1].Content}, nil
}

func run(t *testing.T, chat stubChat, input string) (string, *pgagent.Orchestrator) {
	t.Helper()
	mem, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "repl.db"))
	require.NoError(t, err)
	t.Cleanup(func() { mem.Close() })

	gw := pgagent.NewGateway()
	gw.RegisterEmbedder(stubEmbedder{})
	gw.RegisterChat(chat)
	orch := pgagent.NewOrchestrator(gw, mem, pgagent.NewSessionStore())

	var out bytes.Buffer
	require.NoError(t, New(orch, strings.NewReader(input), &out).Run(context.Background()))
	return out.String(), orch
}

func TestBannerShowsProviders(t *testing.T) {
	out, _ := run(t, stubChat{}, "quit\n")
	assert.Contains(t, out, "pgagent CLI")
	assert.Contains(t, out, "Chat: openai / gpt-4o-mini")
	assert.Contains(t, out, "Embedding: openai / text-embedding-3-small")
	assert.Contains(t, out, "Goodbye!")
}

func TestTurnAndCapture(t *testing.T) {
	out, orch := run(t, stubChat{}, "hello\nI prefer vim over emacs\n")
	assert.Contains(t, out, "Assistant: reply to hello")
	assert.Contains(t, out, "Assistant: reply to I prefer vim over emacs")
	assert.Equal(t, 1, strings.Count(out, "(memory saved)"))
	assert.Len(t, orch.Sessions().History(SessionID), 4)
}

func TestQuitStopsReading(t *testing.T) {
	out, orch := run(t, stubChat{}, "EXIT\nhello\n")
	assert.NotContains(t, out, "Assistant:")
	assert.Empty(t, orch.Sessions().History(SessionID))
}

func TestClearAndStats(t *testing.T) {
	out, orch := run(t, stubChat{}, "hello\nclear\nstats\n")
	assert.Contains(t, out, "Conversation cleared")
	assert.Contains(t, out, "Stats: 0 memories, 0 chunks, 0 sessions")
	assert.Empty(t, orch.Sessions().History(SessionID))
}

func TestSettingCommand(t *testing.T) {
	out, orch := run(t, stubChat{}, "setting search_limit=8\nsetting nope\nsetting chat_model=gpt-4o\n")
	assert.Contains(t, out, "Set search_limit = 8")
	assert.Contains(t, out, "Usage: setting key=value")

	settings, err := orch.Memory().GetAllSettings(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 8, settings.SearchLimit())
	assert.Equal(t, "gpt-4o", settings.Chat().Model)
}

func TestTurnErrorKeepsLooping(t *testing.T) {
	out, _ := run(t, stubChat{err: errors.New("rate limited")}, "hello\nstats\n")
	assert.Contains(t, out, "Error:")
	assert.Contains(t, out, "rate limited")
	assert.Contains(t, out, "Stats:")
}

func TestCancelledContextEndsLoop(t *testing.T) {
	mem, err := sqlite.Open(context.Background(), filepath.Join(t.TempDir(), "repl.db"))
	require.NoError(t, err)
	defer mem.Close()
	orch := pgagent.NewOrchestrator(pgagent.NewGateway(), mem, pgagent.NewSessionStore())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var out bytes.Buffer
	// the pipe never yields a line, so only cancellation ends the loop
	r, w := io.Pipe()
	defer w.Close()
	assert.NoError(t, New(orch, r, &out).Run(ctx))
	assert.Contains(t, out.String(), "Goodbye!")
}
