// Package repl is the interactive terminal chat loop.
package repl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/nevindra/pgagent"
)

// SessionID is the session every REPL turn runs on.
const SessionID = "cli"

const rule = "----------------------------------------"

// REPL reads lines from in and writes replies to out.
type REPL struct {
	orch   *pgagent.Orchestrator
	in     io.Reader
	out    io.Writer
	logger *slog.Logger
}

type Option func(*REPL)

func WithLogger(l *slog.Logger) Option {
	return func(r *REPL) { r.logger = l }
}

func New(orch *pgagent.Orchestrator, in io.Reader, out io.Writer, opts ...Option) *REPL {
	r := &REPL{orch: orch, in: in, out: out, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Run loops until quit, EOF or ctx cancellation. Turn errors are printed
// and the loop continues.
func (r *REPL) Run(ctx context.Context) error {
	r.banner(ctx)

	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(r.in)
		sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- sc.Err()
	}()

	for {
		fmt.Fprint(r.out, "\nYou: ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		case line, ok = <-lines:
		}
		if !ok {
			fmt.Fprintln(r.out, "\nGoodbye!")
			select {
			case err := <-scanErr:
				return err
			default:
				return nil
			}
		}
		if done := r.handle(ctx, strings.TrimSpace(line)); done {
			fmt.Fprintln(r.out, "\nGoodbye!")
			return nil
		}
	}
}

func (r *REPL) banner(ctx context.Context) {
	fmt.Fprintln(r.out, "pgagent CLI")
	fmt.Fprintln(r.out, "Type 'quit' or 'exit' to end, 'stats' for memory stats")
	fmt.Fprintln(r.out, rule)
	settings, err := r.orch.Memory().GetAllSettings(ctx)
	if err != nil {
		r.logger.Warn("read settings for banner", "err", err)
		settings = pgagent.Settings{}
	}
	chat, emb := settings.Chat(), settings.Embedding()
	fmt.Fprintf(r.out, "Chat: %s / %s\n", chat.Provider, chat.Model)
	fmt.Fprintf(r.out, "Embedding: %s / %s\n", emb.Provider, emb.Model)
	fmt.Fprintln(r.out, rule)
}

// handle processes one input line and reports whether the loop should end.
func (r *REPL) handle(ctx context.Context, line string) bool {
	if line == "" {
		return false
	}
	lower := strings.ToLower(line)
	switch {
	case lower == "quit" || lower == "exit" || lower == "q":
		return true
	case lower == "stats":
		st, err := r.orch.Memory().Stats(ctx)
		if err != nil {
			fmt.Fprintf(r.out, "\nError: %v\n", err)
			return false
		}
		fmt.Fprintf(r.out, "\nStats: %d memories, %d chunks, %d sessions\n",
			st.TotalMemories, st.TotalChunks, st.TotalSessions)
	case lower == "clear":
		r.orch.Sessions().Clear(SessionID)
		fmt.Fprintln(r.out, "\nConversation cleared")
	case strings.HasPrefix(lower, "setting "):
		r.setting(ctx, line[len("setting "):])
	default:
		r.turn(ctx, line)
	}
	return false
}

func (r *REPL) setting(ctx context.Context, arg string) {
	key, raw, ok := strings.Cut(arg, "=")
	key, raw = strings.TrimSpace(key), strings.TrimSpace(raw)
	if !ok || key == "" {
		fmt.Fprintln(r.out, "\nUsage: setting key=value")
		return
	}
	if err := r.orch.Memory().SetSetting(ctx, key, pgagent.ParseSettingValue(raw)); err != nil {
		fmt.Fprintf(r.out, "\nError: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "\nSet %s = %s\n", key, raw)
}

func (r *REPL) turn(ctx context.Context, message string) {
	res, err := r.orch.Turn(ctx, SessionID, message)
	if err != nil {
		r.logger.Debug("turn failed", "err", err)
		fmt.Fprintf(r.out, "\nError: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "\nAssistant: %s\n", res.Reply)
	if res.MemorySaved {
		fmt.Fprintln(r.out, "   (memory saved)")
	}
}
