// Package postgres implements pgagent.MemoryGateway on top of the pgagent
// PostgreSQL extension. Ranking, categorization and the capture oracle live
// in the extension's SQL functions; this package only calls them.
//
// A Gateway owns one connection. Calls are serialized by a mutex, and the
// connection is checked before every call and re-established at most once.
package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/nevindra/pgagent"
)

// Hybrid ranking weights passed to pgagent.search.
const (
	vectorWeight = 0.7
	textWeight   = 0.3
)

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets a structured logger. Reconnects log at warn level and
// every call logs at debug level.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// conn is the part of *pgx.Conn the gateway uses.
type conn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Close(ctx context.Context) error
	IsClosed() bool
}

type connectFunc func(ctx context.Context, url string) (conn, error)

func pgxConnect(ctx context.Context, url string) (conn, error) {
	c, err := pgx.Connect(ctx, url)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// Gateway implements pgagent.MemoryGateway over a single pgx connection.
type Gateway struct {
	url     string
	mu      sync.Mutex
	conn    conn
	connect connectFunc
	logger  *slog.Logger
}

var _ pgagent.MemoryGateway = (*Gateway)(nil)

// Open connects to url. The pgagent extension must already be installed.
func Open(ctx context.Context, url string, opts ...Option) (*Gateway, error) {
	return open(ctx, url, pgxConnect, opts...)
}

func open(ctx context.Context, url string, connect connectFunc, opts ...Option) (*Gateway, error) {
	g := &Gateway{url: url, connect: connect, logger: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(g)
	}
	c, err := connect(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	g.conn = c
	g.logger.Debug("postgres: gateway opened")
	return g, nil
}

// ensureConn verifies the connection with SELECT 1 and reconnects once.
// A failed reconnect is returned and leaves no connection behind, so the
// next call tries again. Callers must hold g.mu.
func (g *Gateway) ensureConn(ctx context.Context) error {
	if g.conn != nil && !g.conn.IsClosed() {
		var one int
		if err := g.conn.QueryRow(ctx, `SELECT 1`).Scan(&one); err == nil {
			return nil
		}
		_ = g.conn.Close(ctx)
	}
	g.logger.Warn("postgres: reconnecting")
	c, err := g.connect(ctx, g.url)
	if err != nil {
		g.conn = nil
		return fmt.Errorf("postgres: reconnect: %w", err)
	}
	g.conn = c
	return nil
}

// do runs fn with a verified connection under the gateway lock.
func (g *Gateway) do(ctx context.Context, op string, fn func(conn) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	start := time.Now()
	if err := g.ensureConn(ctx); err != nil {
		return err
	}
	if err := fn(g.conn); err != nil {
		g.logger.Debug("postgres: call failed", "op", op, "error", err, "duration", time.Since(start))
		return fmt.Errorf("postgres: %s: %w", op, err)
	}
	g.logger.Debug("postgres: call ok", "op", op, "duration", time.Since(start))
	return nil
}

// --- Settings ---

func (g *Gateway) GetSetting(ctx context.Context, key string) (any, error) {
	var v any
	err := g.do(ctx, "get_setting", func(c conn) error {
		return c.QueryRow(ctx, `SELECT pgagent.get_setting($1)`, key).Scan(&v)
	})
	if err != nil {
		return nil, err
	}
	return decodeSetting(v), nil
}

func (g *Gateway) GetAllSettings(ctx context.Context) (pgagent.Settings, error) {
	var raw map[string]any
	err := g.do(ctx, "get_all_settings", func(c conn) error {
		return c.QueryRow(ctx, `SELECT pgagent.get_all_settings()`).Scan(&raw)
	})
	if err != nil {
		return nil, err
	}
	out := make(pgagent.Settings, len(raw))
	for k, v := range raw {
		out[k] = decodeSetting(v)
	}
	return out, nil
}

// SetSetting writes value as JSON. Strings become JSON strings.
func (g *Gateway) SetSetting(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("postgres: encode setting %q: %w", key, err)
	}
	return g.do(ctx, "set_setting", func(c conn) error {
		_, err := c.Exec(ctx, `SELECT pgagent.set_setting($1, $2::jsonb)`, key, string(data))
		return err
	})
}

// decodeSetting unwraps values stored as JSON-encoded strings.
func decodeSetting(v any) any {
	s, ok := v.(string)
	if !ok || !strings.HasPrefix(s, `"`) {
		return v
	}
	var out any
	if err := json.Unmarshal([]byte(s), &out); err != nil {
		return v
	}
	return out
}

// --- Memories ---

func (g *Gateway) Store(ctx context.Context, m pgagent.NewMemory) (string, error) {
	meta := m.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return "", fmt.Errorf("postgres: encode metadata: %w", err)
	}
	source := m.Source
	if source == "" {
		source = pgagent.RoleUser
	}
	importance := min(max(m.Importance, 0), 1)

	var id string
	err = g.do(ctx, "store", func(c conn) error {
		return c.QueryRow(ctx,
			`SELECT pgagent.store($1, $2::vector, $3, $4, $5::jsonb)::text`,
			m.Content, vectorLiteral(m.Embedding), source, importance, string(metaJSON),
		).Scan(&id)
	})
	return id, err
}

func (g *Gateway) HybridSearch(ctx context.Context, query string, embedding []float32, limit int, minSimilarity float64) ([]pgagent.RetrievedMemory, error) {
	var out []pgagent.RetrievedMemory
	err := g.do(ctx, "search", func(c conn) error {
		var err error
		out, err = queryRetrieved(ctx, c,
			`SELECT to_jsonb(s) FROM pgagent.search($1, $2::vector, $3, $4, $5, $6) s`,
			query, vectorLiteral(embedding), limit, vectorWeight, textWeight, minSimilarity)
		return err
	})
	return out, err
}

func (g *Gateway) FullTextSearch(ctx context.Context, query string, limit int) ([]pgagent.RetrievedMemory, error) {
	var out []pgagent.RetrievedMemory
	err := g.do(ctx, "search_fts", func(c conn) error {
		var err error
		out, err = queryRetrieved(ctx, c,
			`SELECT to_jsonb(s) FROM pgagent.search_fts($1, $2) s`, query, limit)
		return err
	})
	return out, err
}

func (g *Gateway) ShouldCapture(ctx context.Context, text string) (bool, error) {
	var ok *bool
	err := g.do(ctx, "should_capture", func(c conn) error {
		return c.QueryRow(ctx, `SELECT pgagent.should_capture($1)`, text).Scan(&ok)
	})
	return ok != nil && *ok, err
}

func (g *Gateway) ListRecent(ctx context.Context, limit, offset int) ([]pgagent.Memory, error) {
	out := []pgagent.Memory{}
	err := g.do(ctx, "list_memories", func(c conn) error {
		rows, err := c.Query(ctx,
			`SELECT memory_id::text, content, COALESCE(category, ''), COALESCE(source, ''),
			        COALESCE(importance, 0)::float8, created_at
			 FROM pgagent.memory
			 ORDER BY created_at DESC
			 LIMIT $1 OFFSET $2`, limit, offset)
		if err != nil {
			return err
		}
		defer rows.Close()
		for rows.Next() {
			var m pgagent.Memory
			if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &m.Importance, &m.CreatedAt); err != nil {
				return err
			}
			out = append(out, m)
		}
		return rows.Err()
	})
	return out, err
}

// DeleteByID reports false for ids that are not UUIDs without querying.
func (g *Gateway) DeleteByID(ctx context.Context, id string) (bool, error) {
	if _, err := uuid.Parse(id); err != nil {
		return false, nil
	}
	var deleted *bool
	err := g.do(ctx, "delete_memory", func(c conn) error {
		return c.QueryRow(ctx, `SELECT pgagent.delete_memory($1::uuid)`, id).Scan(&deleted)
	})
	return deleted != nil && *deleted, err
}

func (g *Gateway) Stats(ctx context.Context) (pgagent.Stats, error) {
	var row map[string]any
	err := g.do(ctx, "stats", func(c conn) error {
		return c.QueryRow(ctx, `SELECT to_jsonb(s) FROM pgagent.stats() s`).Scan(&row)
	})
	if err != nil {
		return pgagent.Stats{}, err
	}
	return statsFromRow(row), nil
}

func (g *Gateway) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close(context.Background())
	g.conn = nil
	return err
}

// --- Row decoding ---

func queryRetrieved(ctx context.Context, c conn, sql string, args ...any) ([]pgagent.RetrievedMemory, error) {
	rows, err := c.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	maps, err := pgx.CollectRows(rows, pgx.RowTo[map[string]any])
	if err != nil {
		return nil, err
	}
	out := make([]pgagent.RetrievedMemory, 0, len(maps))
	for _, m := range maps {
		out = append(out, retrievedFromRow(m))
	}
	return out, nil
}

// retrievedFromRow reads a search row by column name. The extension's
// score column has been named differently across versions.
func retrievedFromRow(row map[string]any) pgagent.RetrievedMemory {
	return pgagent.RetrievedMemory{
		ID:       firstString(row, "memory_id", "id"),
		Category: firstString(row, "category"),
		Content:  firstString(row, "content"),
		Score:    firstFloat(row, "score", "combined_score", "similarity", "rank"),
	}
}

func statsFromRow(row map[string]any) pgagent.Stats {
	st := pgagent.Stats{
		TotalMemories: int64(firstFloat(row, "total_memories")),
		TotalChunks:   int64(firstFloat(row, "total_chunks")),
		TotalSessions: int64(firstFloat(row, "total_sessions")),
		Categories:    map[string]int64{},
	}
	if cats, ok := row["categories"].(map[string]any); ok {
		for k, v := range cats {
			st.Categories[k] = int64(toFloat(v))
		}
	}
	return st
}

func firstString(row map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return fmt.Sprint(v)
		}
	}
	return ""
}

func firstFloat(row map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := row[k]; ok && v != nil {
			return toFloat(v)
		}
	}
	return 0
}

func toFloat(v any) float64 {
	switch t := v.(type) {
	case float64:
		return t
	case float32:
		return float64(t)
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case json.Number:
		f, _ := t.Float64()
		return f
	case string:
		f, _ := strconv.ParseFloat(t, 64)
		return f
	}
	return 0
}

// vectorLiteral renders an embedding in pgvector's text input format, or
// nil (SQL NULL) when there is none.
func vectorLiteral(embedding []float32) *string {
	if len(embedding) == 0 {
		return nil
	}
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	s := "[" + strings.Join(parts, ",") + "]"
	return &s
}
