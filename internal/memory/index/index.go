// Package index implements the content-addressed memory index: a per-agent
// SQLite database of markdown files and the line-aligned chunks extracted
// from them, searchable by full text and (when an embedder is configured)
// by cosine similarity fused with the lexical rank.
package index

import (
	"crypto/sha256"
	"database/sql"
	"embed"
	"fmt"
	"os"
	"sort"
	"strings"

	_ "modernc.org/sqlite"

	"github.com/ehrlich-b/localgpt/internal/embedding"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	targetChunkChars  = 1600
	overlapChunkChars = 320
)

// Index is a per-agent memory index backed by SQLite + FTS5.
type Index struct {
	db       *sql.DB
	embedder embedding.Embedder // nil disables the embedding/hybrid path
}

// Open creates or opens the index database at dsn, applying any pending
// migrations. embedder may be nil; Search then falls back to FTS-only.
func Open(dsn string, embedder embedding.Embedder) (*Index, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open memory index: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	idx := &Index{db: db, embedder: embedder}
	if err := idx.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate memory index: %w", err)
	}
	return idx, nil
}

func (idx *Index) Close() error { return idx.db.Close() }

func (idx *Index) migrate() error {
	if _, err := idx.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := idx.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := idx.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// Chunk is a line-aligned slice of an indexed file.
type Chunk struct {
	LineStart int
	LineEnd   int
	Content   string
}

// chunkText splits body into line-aligned, overlapping chunks. Lines are
// accumulated by estimated character count until the target is reached or
// the file ends, then the next chunk rewinds by overlapChars worth of
// lines so context carries across the boundary.
func chunkText(body string, targetChars, overlapChars int) []Chunk {
	lines := strings.Split(body, "\n")
	if len(lines) == 1 && lines[0] == "" {
		return nil
	}

	var chunks []Chunk
	start := 0
	for start < len(lines) {
		size := 0
		end := start
		for end < len(lines) {
			size += len(lines[end]) + 1
			end++
			if size >= targetChars {
				break
			}
		}
		chunks = append(chunks, Chunk{
			LineStart: start + 1,
			LineEnd:   end,
			Content:   strings.Join(lines[start:end], "\n"),
		})
		if end >= len(lines) {
			break
		}

		rewind := 0
		back := end
		for back > start {
			rewind += len(lines[back-1]) + 1
			back--
			if rewind >= overlapChars {
				break
			}
		}
		next := back
		if next <= start {
			next = end // overlap window covered less than one line: don't loop forever
		}
		start = next
	}
	return chunks
}

func contentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return fmt.Sprintf("%x", sum)
}

// IndexFile re-indexes path if its content hash has changed (or force is
// set): the file row is upserted, its existing chunks dropped, and fresh
// chunks (with embeddings, if an embedder is configured) inserted.
func (idx *Index) IndexFile(path string, force bool) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	hash := contentHash(data)

	var fileID int64
	var existingHash string
	err = idx.db.QueryRow("SELECT id, content_hash FROM files WHERE path = ?", path).Scan(&fileID, &existingHash)
	switch {
	case err == sql.ErrNoRows:
		// new file, fall through to insert
	case err != nil:
		return fmt.Errorf("lookup file %s: %w", path, err)
	default:
		if existingHash == hash && !force {
			return nil
		}
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return fmt.Errorf("begin index tx: %w", err)
	}
	defer tx.Rollback()

	if fileID == 0 {
		res, err := tx.Exec("INSERT INTO files (path, content_hash) VALUES (?, ?)", path, hash)
		if err != nil {
			return fmt.Errorf("insert file %s: %w", path, err)
		}
		fileID, _ = res.LastInsertId()
	} else {
		if _, err := tx.Exec("UPDATE files SET content_hash = ?, indexed_at = CURRENT_TIMESTAMP WHERE id = ?", hash, fileID); err != nil {
			return fmt.Errorf("update file %s: %w", path, err)
		}
		if _, err := tx.Exec("DELETE FROM chunks WHERE file_id = ?", fileID); err != nil {
			return fmt.Errorf("clear chunks for %s: %w", path, err)
		}
	}

	chunks := chunkText(string(data), targetChunkChars, overlapChunkChars)
	var embeddings [][]float32
	if idx.embedder != nil && len(chunks) > 0 {
		texts := make([]string, len(chunks))
		for i, c := range chunks {
			texts[i] = c.Content
		}
		if vecs, err := idx.embedder.Embed(texts); err == nil {
			embeddings = vecs
		}
	}

	for i, c := range chunks {
		var blob []byte
		if i < len(embeddings) {
			blob = embedding.VecAsBytes(embeddings[i])
		}
		if _, err := tx.Exec(
			"INSERT INTO chunks (file_id, line_start, line_end, content, embedding) VALUES (?, ?, ?, ?, ?)",
			fileID, c.LineStart, c.LineEnd, c.Content, blob,
		); err != nil {
			return fmt.Errorf("insert chunk for %s: %w", path, err)
		}
	}

	return tx.Commit()
}

// RemoveFile deletes a file row and, via ON DELETE CASCADE, all of its
// chunks.
func (idx *Index) RemoveFile(path string) error {
	_, err := idx.db.Exec("DELETE FROM files WHERE path = ?", path)
	if err != nil {
		return fmt.Errorf("remove file %s: %w", path, err)
	}
	return nil
}

// Result is a ranked chunk returned from Search.
type Result struct {
	File      string
	LineStart int
	LineEnd   int
	Content   string
	Score     float64
}

// escapeFTSQuery phrase-escapes a raw query so user punctuation can't break
// FTS5's MATCH syntax.
func escapeFTSQuery(q string) string {
	return `"` + strings.ReplaceAll(q, `"`, `""`) + `"`
}

// Search returns the top `limit` chunks ranked by FTS, fused with cosine
// similarity over every embedded chunk when an embedder is configured.
// Fusion is reciprocal-rank across the two orderings, so a chunk only one
// side surfaces still competes; the result is deterministic for identical
// inputs.
func (idx *Index) Search(query string, limit int) ([]Result, error) {
	if limit <= 0 {
		limit = 10
	}
	topK := limit * 4
	if topK < 20 {
		topK = 20
	}

	lexOrder, err := idx.searchLexical(query, topK)
	if err != nil {
		return nil, err
	}

	semOrder := idx.searchSemantic(query, topK)
	if semOrder == nil {
		out := make([]Result, 0, min(limit, len(lexOrder)))
		for i := 0; i < len(lexOrder) && i < limit; i++ {
			out = append(out, lexOrder[i])
		}
		return out, nil
	}

	// Reciprocal-rank fusion over the union of the two candidate lists,
	// keyed by chunk identity.
	const rrfK = 60.0
	type fused struct {
		result Result
		score  float64
	}
	key := func(r Result) string {
		return fmt.Sprintf("%s:%d:%d", r.File, r.LineStart, r.LineEnd)
	}
	merged := make(map[string]*fused)
	var order []string
	for pos, r := range lexOrder {
		k := key(r)
		merged[k] = &fused{result: r, score: 1.0 / (rrfK + float64(pos))}
		order = append(order, k)
	}
	for pos, r := range semOrder {
		k := key(r)
		if f, ok := merged[k]; ok {
			f.score += 1.0 / (rrfK + float64(pos))
			continue
		}
		merged[k] = &fused{result: r, score: 1.0 / (rrfK + float64(pos))}
		order = append(order, k)
	}

	sort.SliceStable(order, func(i, j int) bool {
		return merged[order[i]].score > merged[order[j]].score
	})

	out := make([]Result, 0, min(limit, len(order)))
	for i := 0; i < len(order) && i < limit; i++ {
		f := merged[order[i]]
		r := f.result
		r.Score = f.score
		out = append(out, r)
	}
	return out, nil
}

// searchLexical pulls the top K chunks by FTS5 bm25 rank.
func (idx *Index) searchLexical(query string, k int) ([]Result, error) {
	rows, err := idx.db.Query(`
		SELECT f.path, c.line_start, c.line_end, c.content, bm25(chunks_fts) AS rank
		FROM chunks_fts
		JOIN chunks c ON c.id = chunks_fts.rowid
		JOIN files f ON f.id = c.file_id
		WHERE chunks_fts MATCH ?
		ORDER BY rank
		LIMIT ?`, escapeFTSQuery(query), k)
	if err != nil {
		return nil, fmt.Errorf("fts search: %w", err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var rank float64
		if err := rows.Scan(&r.File, &r.LineStart, &r.LineEnd, &r.Content, &rank); err != nil {
			return nil, fmt.Errorf("scan search row: %w", err)
		}
		// bm25() is negative and smaller-is-better; expose a positive score.
		r.Score = -rank
		out = append(out, r)
	}
	return out, rows.Err()
}

// searchSemantic ranks every embedded chunk by cosine similarity to the
// query, returning nil when no embedder is configured or embedding fails —
// the caller then serves lexical results alone.
func (idx *Index) searchSemantic(query string, k int) []Result {
	if idx.embedder == nil {
		return nil
	}
	queryVecs, err := idx.embedder.Embed([]string{query})
	if err != nil || len(queryVecs) == 0 {
		return nil
	}
	qvec := embedding.Normalize(queryVecs[0])

	rows, err := idx.db.Query(`
		SELECT f.path, c.line_start, c.line_end, c.content, c.embedding
		FROM chunks c
		JOIN files f ON f.id = c.file_id
		WHERE c.embedding IS NOT NULL`)
	if err != nil {
		return nil
	}
	defer rows.Close()

	var candidates []Result
	var vecs [][]float32
	for rows.Next() {
		var r Result
		var blob []byte
		if err := rows.Scan(&r.File, &r.LineStart, &r.LineEnd, &r.Content, &blob); err != nil {
			return nil
		}
		if len(blob) == 0 {
			continue
		}
		candidates = append(candidates, r)
		vecs = append(vecs, embedding.BytesAsVec(blob))
	}
	if rows.Err() != nil || len(candidates) == 0 {
		return nil
	}

	matches := embedding.TopN(qvec, vecs, min(k, len(vecs)))
	out := make([]Result, 0, len(matches))
	for _, m := range matches {
		r := candidates[m.Index]
		r.Score = float64(m.Similarity)
		out = append(out, r)
	}
	return out
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Stats summarizes the index's current contents.
type Stats struct {
	FileCount  int
	ChunkCount int
	DBSizeBytes int64
}

func (idx *Index) Stats(dsn string) (Stats, error) {
	var s Stats
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&s.FileCount); err != nil {
		return s, fmt.Errorf("count files: %w", err)
	}
	if err := idx.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&s.ChunkCount); err != nil {
		return s, fmt.Errorf("count chunks: %w", err)
	}
	if info, err := os.Stat(dsn); err == nil {
		s.DBSizeBytes = info.Size()
	}
	return s, nil
}

// PerFileChunkCounts returns the chunk count for every indexed file, keyed
// by path.
func (idx *Index) PerFileChunkCounts() (map[string]int, error) {
	rows, err := idx.db.Query(`
		SELECT f.path, COUNT(c.id)
		FROM files f
		LEFT JOIN chunks c ON c.file_id = f.id
		GROUP BY f.id`)
	if err != nil {
		return nil, fmt.Errorf("per-file chunk counts: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var path string
		var n int
		if err := rows.Scan(&path, &n); err != nil {
			return nil, err
		}
		counts[path] = n
	}
	return counts, rows.Err()
}
