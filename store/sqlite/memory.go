package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/nevindra/pgagent"
)

// Hybrid ranking weights, matching the PostgreSQL extension's defaults.
const (
	vectorWeight = 0.7
	textWeight   = 0.3
)

// Store inserts a memory and indexes it for keyword search. Content is
// stored trimmed, the form ShouldCapture compares against. The category is
// derived from the content.
func (g *Gateway) Store(ctx context.Context, m pgagent.NewMemory) (string, error) {
	start := time.Now()
	id := pgagent.NewID()
	content := strings.TrimSpace(m.Content)
	category := Categorize(content)
	importance := min(max(m.Importance, 0), 1)
	source := m.Source
	if source == "" {
		source = pgagent.RoleUser
	}

	var embJSON, metaJSON *string
	if len(m.Embedding) > 0 {
		v := serializeEmbedding(m.Embedding)
		embJSON = &v
	}
	if len(m.Metadata) > 0 {
		data, err := json.Marshal(m.Metadata)
		if err != nil {
			return "", fmt.Errorf("sqlite: encode metadata: %w", err)
		}
		v := string(data)
		metaJSON = &v
	}

	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories (id, content, category, source, importance, embedding, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		id, content, category, source, importance, embJSON, metaJSON, pgagent.NowUnix(),
	); err != nil {
		g.logger.Error("sqlite: store memory failed", "error", err, "duration", time.Since(start))
		return "", fmt.Errorf("sqlite: store memory: %w", err)
	}
	// Keep FTS index in sync.
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO memories_fts (memory_id, content) VALUES (?, ?)`, id, content); err != nil {
		return "", fmt.Errorf("sqlite: index memory: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("sqlite: commit: %w", err)
	}
	g.logger.Debug("sqlite: store memory ok", "id", id, "category", category,
		"embedding_dim", len(m.Embedding), "duration", time.Since(start))
	return id, nil
}

// HybridSearch scores every memory as 0.7*cosine + 0.3*normalized FTS rank.
// A memory qualifies when its cosine similarity reaches minSimilarity or it
// matched the keyword query.
func (g *Gateway) HybridSearch(ctx context.Context, query string, embedding []float32, limit int, minSimilarity float64) ([]pgagent.RetrievedMemory, error) {
	start := time.Now()
	g.logger.Debug("sqlite: hybrid search", "limit", limit, "min_similarity", minSimilarity)
	if limit <= 0 {
		return nil, nil
	}

	textScores, err := g.textScores(ctx, query)
	if err != nil {
		return nil, err
	}

	rows, err := g.db.QueryContext(ctx, `SELECT id, category, content, embedding FROM memories`)
	if err != nil {
		g.logger.Error("sqlite: hybrid search failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: hybrid search: %w", err)
	}
	defer rows.Close()

	var results []pgagent.RetrievedMemory
	scanned := 0
	for rows.Next() {
		var r pgagent.RetrievedMemory
		var embText sql.NullString
		if err := rows.Scan(&r.ID, &r.Category, &r.Content, &embText); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
		}
		scanned++

		var sim float64
		if embText.Valid {
			if vec, err := deserializeEmbedding(embText.String); err == nil {
				sim = float64(cosineSimilarity(embedding, vec))
			}
		}
		text, matched := textScores[r.ID]
		if sim < minSimilarity && !matched {
			continue
		}
		if sim < minSimilarity {
			sim = 0
		}
		r.Score = vectorWeight*sim + textWeight*text
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: hybrid search: %w", err)
	}

	sort.SliceStable(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	g.logger.Debug("sqlite: hybrid search ok", "scanned", scanned, "returned", len(results), "duration", time.Since(start))
	return results, nil
}

// FullTextSearch ranks memories by FTS5 relevance alone.
func (g *Gateway) FullTextSearch(ctx context.Context, query string, limit int) ([]pgagent.RetrievedMemory, error) {
	start := time.Now()
	g.logger.Debug("sqlite: full text search", "limit", limit)
	match := ftsQuery(query)
	if match == "" || limit <= 0 {
		return nil, nil
	}

	rows, err := g.db.QueryContext(ctx,
		`SELECT m.id, m.category, m.content, f.rank
		 FROM memories_fts f
		 JOIN memories m ON m.id = f.memory_id
		 WHERE memories_fts MATCH ?
		 ORDER BY f.rank LIMIT ?`,
		match, limit,
	)
	if err != nil {
		g.logger.Error("sqlite: full text search failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: full text search: %w", err)
	}
	defer rows.Close()

	var results []pgagent.RetrievedMemory
	for rows.Next() {
		var r pgagent.RetrievedMemory
		var rank float64
		if err := rows.Scan(&r.ID, &r.Category, &r.Content, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
		}
		// FTS5 rank is negative; lower is better. Use -rank as score.
		r.Score = max(-rank, 0)
		results = append(results, r)
	}
	g.logger.Debug("sqlite: full text search ok", "returned", len(results), "duration", time.Since(start))
	return results, rows.Err()
}

// textScores returns FTS5 relevance per matching memory id, normalized to
// [0,1] by the best match.
func (g *Gateway) textScores(ctx context.Context, query string) (map[string]float64, error) {
	match := ftsQuery(query)
	if match == "" {
		return nil, nil
	}
	rows, err := g.db.QueryContext(ctx,
		`SELECT memory_id, rank FROM memories_fts WHERE memories_fts MATCH ?`, match)
	if err != nil {
		return nil, fmt.Errorf("sqlite: keyword rank: %w", err)
	}
	defer rows.Close()

	scores := map[string]float64{}
	best := 0.0
	for rows.Next() {
		var id string
		var rank float64
		if err := rows.Scan(&id, &rank); err != nil {
			return nil, fmt.Errorf("sqlite: scan rank: %w", err)
		}
		s := max(-rank, 0)
		scores[id] = s
		best = max(best, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlite: keyword rank: %w", err)
	}
	if best > 0 {
		for id, s := range scores {
			scores[id] = s / best
		}
	}
	return scores, nil
}

// ftsQuery turns free text into an FTS5 OR-query of quoted terms so that
// punctuation in user input never reaches the FTS5 parser.
func ftsQuery(text string) string {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]bool, len(words))
	terms := make([]string, 0, len(words))
	for _, w := range words {
		if len([]rune(w)) < 2 || stopwords[w] || seen[w] {
			continue
		}
		seen[w] = true
		terms = append(terms, `"`+w+`"`)
	}
	return strings.Join(terms, " OR ")
}

var stopwords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"do": true, "does": true, "did": true, "we": true, "you": true, "it": true,
	"of": true, "to": true, "in": true, "on": true, "and": true, "or": true,
	"what": true, "which": true, "how": true, "me": true, "my": true, "for": true,
}

// ListRecent returns memories newest first.
func (g *Gateway) ListRecent(ctx context.Context, limit, offset int) ([]pgagent.Memory, error) {
	start := time.Now()
	rows, err := g.db.QueryContext(ctx,
		`SELECT id, content, category, source, importance, metadata, created_at
		 FROM memories ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		g.logger.Error("sqlite: list memories failed", "error", err, "duration", time.Since(start))
		return nil, fmt.Errorf("sqlite: list memories: %w", err)
	}
	defer rows.Close()

	out := []pgagent.Memory{}
	for rows.Next() {
		var m pgagent.Memory
		var metaJSON sql.NullString
		var created int64
		if err := rows.Scan(&m.ID, &m.Content, &m.Category, &m.Source, &m.Importance, &metaJSON, &created); err != nil {
			return nil, fmt.Errorf("sqlite: scan memory: %w", err)
		}
		if metaJSON.Valid {
			_ = json.Unmarshal([]byte(metaJSON.String), &m.Metadata)
		}
		m.CreatedAt = time.Unix(created, 0).UTC()
		out = append(out, m)
	}
	g.logger.Debug("sqlite: list memories ok", "returned", len(out), "duration", time.Since(start))
	return out, rows.Err()
}

// DeleteByID removes a memory and its FTS entry.
func (g *Gateway) DeleteByID(ctx context.Context, id string) (bool, error) {
	start := time.Now()
	tx, err := g.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("sqlite: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		g.logger.Error("sqlite: delete memory failed", "id", id, "error", err)
		return false, fmt.Errorf("sqlite: delete memory: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM memories_fts WHERE memory_id = ?`, id); err != nil {
		return false, fmt.Errorf("sqlite: delete memory index: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("sqlite: commit: %w", err)
	}
	n, _ := res.RowsAffected()
	g.logger.Debug("sqlite: delete memory ok", "id", id, "deleted", n, "duration", time.Since(start))
	return n > 0, nil
}

// Stats counts memories per category. Chunks and sessions are not tracked
// by this engine and report 0.
func (g *Gateway) Stats(ctx context.Context) (pgagent.Stats, error) {
	rows, err := g.db.QueryContext(ctx, `SELECT category, COUNT(*) FROM memories GROUP BY category`)
	if err != nil {
		return pgagent.Stats{}, fmt.Errorf("sqlite: stats: %w", err)
	}
	defer rows.Close()

	st := pgagent.Stats{Categories: map[string]int64{}}
	for rows.Next() {
		var cat string
		var n int64
		if err := rows.Scan(&cat, &n); err != nil {
			return pgagent.Stats{}, fmt.Errorf("sqlite: scan stats: %w", err)
		}
		st.Categories[cat] = n
		st.TotalMemories += n
	}
	return st, rows.Err()
}
