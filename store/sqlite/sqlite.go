// Package sqlite implements pgagent.MemoryGateway using pure-Go SQLite with
// in-process brute-force vector search and an FTS5 keyword index. Zero CGO
// required. It stands in for the PostgreSQL extension in development and tests.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/nevindra/pgagent"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// GatewayOption configures a SQLite Gateway.
type GatewayOption func(*Gateway)

// WithLogger sets a structured logger for the gateway.
// When set, the gateway emits debug logs for every operation including
// timing and row counts. If not set, no logs are emitted.
func WithLogger(l *slog.Logger) GatewayOption {
	return func(g *Gateway) { g.logger = l }
}

// Gateway implements pgagent.MemoryGateway backed by a local SQLite file.
// Embeddings are stored as JSON text.
type Gateway struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ pgagent.MemoryGateway = (*Gateway)(nil)

// nopLogger is used when no logger option is set.
var nopLogger = slog.New(slog.DiscardHandler)

// New creates a Gateway using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...GatewayOption) *Gateway {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	g := &Gateway{db: db, logger: nopLogger}
	for _, o := range opts {
		o(g)
	}
	g.logger.Debug("sqlite: gateway opened", "path", dbPath)
	return g
}

// Open is New followed by Init.
func Open(ctx context.Context, dbPath string, opts ...GatewayOption) (*Gateway, error) {
	g := New(dbPath, opts...)
	if err := g.Init(ctx); err != nil {
		_ = g.Close()
		return nil, err
	}
	return g, nil
}

// defaultSettings seeds a fresh database so the settings endpoints show
// the effective configuration.
var defaultSettings = map[string]any{
	pgagent.SettingEmbeddingProvider: pgagent.DefaultProvider,
	pgagent.SettingEmbeddingModel:    pgagent.DefaultEmbeddingModel,
	pgagent.SettingChatProvider:      pgagent.DefaultProvider,
	pgagent.SettingChatModel:         pgagent.DefaultChatModel,
	pgagent.SettingSystemPrompt:      pgagent.DefaultSystemPrompt,
	pgagent.SettingSearchLimit:       pgagent.DefaultSearchLimit,
	pgagent.SettingAutoCapture:       true,
}

// Init creates all required tables and seeds default settings. It is
// idempotent.
func (g *Gateway) Init(ctx context.Context) error {
	start := time.Now()
	g.logger.Debug("sqlite: init started")
	tables := []string{
		`CREATE TABLE IF NOT EXISTS settings (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			category TEXT NOT NULL,
			source TEXT NOT NULL,
			importance REAL NOT NULL DEFAULT 0.5,
			embedding TEXT,
			metadata TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_memories_created ON memories(created_at)`,
		// FTS5 full-text index for keyword search over memories.
		`CREATE VIRTUAL TABLE IF NOT EXISTS memories_fts USING fts5(memory_id UNINDEXED, content)`,
	}
	for _, ddl := range tables {
		if _, err := g.db.ExecContext(ctx, ddl); err != nil {
			g.logger.Error("sqlite: init failed", "error", err, "duration", time.Since(start))
			return fmt.Errorf("sqlite: create schema: %w", err)
		}
	}

	for k, v := range defaultSettings {
		data, _ := json.Marshal(v)
		if _, err := g.db.ExecContext(ctx,
			`INSERT OR IGNORE INTO settings (key, value) VALUES (?, ?)`, k, string(data)); err != nil {
			return fmt.Errorf("sqlite: seed settings: %w", err)
		}
	}
	g.logger.Info("sqlite: init completed", "duration", time.Since(start))
	return nil
}

// --- Settings ---

// GetSetting returns the decoded value for key, or nil when it is unset.
func (g *Gateway) GetSetting(ctx context.Context, key string) (any, error) {
	start := time.Now()
	var raw string
	err := g.db.QueryRowContext(ctx, `SELECT value FROM settings WHERE key = ?`, key).Scan(&raw)
	if err == sql.ErrNoRows {
		g.logger.Debug("sqlite: get setting not found", "key", key, "duration", time.Since(start))
		return nil, nil
	}
	if err != nil {
		g.logger.Error("sqlite: get setting failed", "key", key, "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: get setting: %w", err)
	}
	g.logger.Debug("sqlite: get setting ok", "key", key, "duration", time.Since(start))
	return decodeSetting(raw), nil
}

func (g *Gateway) GetAllSettings(ctx context.Context) (pgagent.Settings, error) {
	start := time.Now()
	rows, err := g.db.QueryContext(ctx, `SELECT key, value FROM settings`)
	if err != nil {
		g.logger.Error("sqlite: get all settings failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: get all settings: %w", err)
	}
	defer rows.Close()

	out := pgagent.Settings{}
	for rows.Next() {
		var k, raw string
		if err := rows.Scan(&k, &raw); err != nil {
			return nil, fmt.Errorf("sqlite: scan setting: %w", err)
		}
		out[k] = decodeSetting(raw)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: get all settings: %w", err)
	}
	g.logger.Debug("sqlite: get all settings ok", "count", len(out), "duration", time.Since(start))
	return out, nil
}

// SetSetting stores value as JSON. Strings are stored as JSON strings.
func (g *Gateway) SetSetting(ctx context.Context, key string, value any) error {
	start := time.Now()
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("sqlite: encode setting %q: %w", key, err)
	}
	if _, err := g.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO settings (key, value) VALUES (?, ?)`, key, string(data)); err != nil {
		g.logger.Error("sqlite: set setting failed", "key", key, "error", err, "duration", time.Since(start))
		return fmt.Errorf("sqlite: set setting: %w", err)
	}
	g.logger.Debug("sqlite: set setting ok", "key", key, "duration", time.Since(start))
	return nil
}

// decodeSetting decodes a stored JSON value, falling back to the raw text
// for rows written by hand.
func decodeSetting(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}

// DB exposes the underlying connection pool.
func (g *Gateway) DB() *sql.DB {
	return g.db
}

func (g *Gateway) Close() error {
	g.logger.Debug("sqlite: closing gateway")
	return g.db.Close()
}

// --- Vector math ---

// cosineSimilarity computes the cosine similarity between two vectors.
func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return float32(dot / denom)
}

// serializeEmbedding converts []float32 to a JSON array string.
func serializeEmbedding(embedding []float32) string {
	data, _ := json.Marshal(embedding)
	return string(data)
}

// deserializeEmbedding parses a JSON array string back to []float32.
func deserializeEmbedding(s string) ([]float32, error) {
	var v []float32
	err := json.Unmarshal([]byte(s), &v)
	return v, err
}
