package knowledge

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	sqlite_vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/sundesk/sundesk/internal/observability"
)

func init() {
	// Auto-register sqlite-vec extension
	sqlite_vec.Auto()
}

// Result is one retrieved passage with its relevance score
type Result struct {
	PassageID string  `json:"passage_id"`
	Article   string  `json:"article"`
	Content   string  `json:"content"`
	Score     float64 `json:"score"`
}

// SearchOptions configures retrieval behavior
type SearchOptions struct {
	Limit         int     `json:"limit"`
	VectorWeight  float64 `json:"vector_weight"`
	KeywordWeight float64 `json:"keyword_weight"`
	MinScore      float64 `json:"min_score"`
}

// Status reports the current state of the index
type Status struct {
	TotalArticles int        `json:"total_articles"`
	TotalPassages int        `json:"total_passages"`
	IsDirty       bool       `json:"is_dirty"`
	LastSyncTime  *time.Time `json:"last_sync_time,omitempty"`
}

// Index maintains the searchable article store
type Index struct {
	db       *sql.DB
	docsPath string
	logger   zerolog.Logger
	embedder Embedder
	watcher  *docWatcher

	mu           sync.RWMutex
	isDirty      bool
	isSyncing    bool
	lastSyncTime *time.Time
}

// Config holds knowledge index configuration
type Config struct {
	DocsPath string
	DBPath   string
	Logger   zerolog.Logger
	Embedder Embedder // optional, keyword-only search when nil
}

// NewIndex opens the article index and starts watching the docs directory
func NewIndex(cfg Config) (*Index, error) {
	observability.EnsureRegistered()

	if cfg.DocsPath == "" {
		return nil, errors.New("docs path is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_fts5=1")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// WAL for concurrent readers during sync
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	idx := &Index{
		db:       db,
		docsPath: cfg.DocsPath,
		logger:   cfg.Logger,
		embedder: cfg.Embedder,
		isDirty:  true, // trigger initial sync on first search
	}

	if err := idx.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	watcher, err := newDocWatcher(cfg.Logger, idx.MarkDirty)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create doc watcher: %w", err)
	}
	if err := watcher.watch(cfg.DocsPath); err != nil {
		watcher.stop()
		db.Close()
		return nil, fmt.Errorf("failed to watch docs directory: %w", err)
	}
	idx.watcher = watcher

	idx.logger.Info().Str("docs", cfg.DocsPath).Msg("Knowledge index initialized")
	return idx, nil
}

func (idx *Index) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS articles (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_articles_path ON articles(path);

		CREATE TABLE IF NOT EXISTS passages (
			id TEXT PRIMARY KEY,
			article_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			position INTEGER NOT NULL,
			FOREIGN KEY (article_id) REFERENCES articles(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_passages_article ON passages(article_id);

		CREATE VIRTUAL TABLE IF NOT EXISTS passages_fts USING fts5(
			passage_id UNINDEXED,
			content,
			tokenize='porter unicode61'
		);
	`

	if _, err := idx.db.Exec(schema); err != nil {
		return err
	}

	if idx.embedder != nil {
		vectorSchema := fmt.Sprintf(`
			CREATE VIRTUAL TABLE IF NOT EXISTS passage_vec USING vec0(
				passage_id TEXT PRIMARY KEY,
				embedding float[%d] distance_metric=cosine
			);
		`, idx.embedder.Dimension())
		if _, err := idx.db.Exec(vectorSchema); err != nil {
			return fmt.Errorf("failed to create vector table: %w", err)
		}
	}

	return nil
}

// Search retrieves the passages most relevant to the query. Keyword and
// vector searches run in parallel and their normalized scores merge by
// weight; either leg failing degrades to the other.
func (idx *Index) Search(ctx context.Context, query string, opts *SearchOptions) ([]Result, error) {
	if query == "" {
		return []Result{}, nil
	}

	if opts == nil {
		opts = &SearchOptions{
			Limit:         10,
			VectorWeight:  0.6,
			KeywordWeight: 0.4,
		}
	}

	idx.mu.RLock()
	dirty := idx.isDirty
	idx.mu.RUnlock()
	if dirty {
		if err := idx.Sync(ctx); err != nil {
			idx.logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	var vecHits []vectorHit
	var kwHits []keywordHit
	var vecErr, kwErr error

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if idx.embedder != nil {
			vecHits, vecErr = idx.vectorSearch(ctx, query, 100)
		}
	}()
	go func() {
		defer wg.Done()
		kwHits, kwErr = idx.keywordSearch(query, 100)
	}()
	wg.Wait()

	if vecErr != nil {
		idx.logger.Warn().Err(vecErr).Msg("Vector search failed, using keyword only")
	}
	if kwErr != nil {
		idx.logger.Warn().Err(kwErr).Msg("Keyword search failed, using vector only")
	}
	if vecErr != nil && kwErr != nil {
		return nil, errors.New("both search methods failed")
	}

	results := idx.mergeHits(vecHits, kwHits, opts)
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}

	idx.logger.Debug().Str("query", query).Int("results", len(results)).Msg("Knowledge search completed")
	return results, nil
}

type vectorHit struct {
	passageID  string
	similarity float64
}

type keywordHit struct {
	passageID string
	bm25Score float64
}

func (idx *Index) vectorSearch(ctx context.Context, query string, limit int) ([]vectorHit, error) {
	embedding, err := idx.embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal embedding: %w", err)
	}

	rows, err := idx.db.QueryContext(ctx, `
		SELECT passage_id, vec_distance_cosine(embedding, ?) AS distance
		FROM passage_vec
		ORDER BY distance ASC
		LIMIT ?
	`, string(embeddingJSON), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []vectorHit
	for rows.Next() {
		var passageID string
		var distance float64
		if err := rows.Scan(&passageID, &distance); err != nil {
			return nil, err
		}
		hits = append(hits, vectorHit{passageID: passageID, similarity: 1.0 - distance})
	}
	return hits, rows.Err()
}

func (idx *Index) keywordSearch(query string, limit int) ([]keywordHit, error) {
	rows, err := idx.db.Query(`
		SELECT passage_id, bm25(passages_fts) AS score
		FROM passages_fts
		WHERE passages_fts MATCH ?
		ORDER BY score
		LIMIT ?
	`, query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var hits []keywordHit
	for rows.Next() {
		var passageID string
		var score float64
		if err := rows.Scan(&passageID, &score); err != nil {
			return nil, err
		}
		// bm25 reports negative scores, lower is better
		hits = append(hits, keywordHit{passageID: passageID, bm25Score: -score})
	}
	return hits, rows.Err()
}

func (idx *Index) mergeHits(vecHits []vectorHit, kwHits []keywordHit, opts *SearchOptions) []Result {
	vecScores := make(map[string]float64, len(vecHits))
	kwScores := make(map[string]float64, len(kwHits))

	var maxKeyword float64
	for _, h := range vecHits {
		vecScores[h.passageID] = h.similarity
	}
	for _, h := range kwHits {
		kwScores[h.passageID] = h.bm25Score
		if h.bm25Score > maxKeyword {
			maxKeyword = h.bm25Score
		}
	}

	seen := make(map[string]bool)
	type scored struct {
		passageID string
		score     float64
	}
	var merged []scored

	addScore := func(passageID string) {
		if seen[passageID] {
			return
		}
		seen[passageID] = true

		var vec, kw float64
		if s, ok := vecScores[passageID]; ok {
			// similarity [-1, 1] mapped to [0, 1]
			vec = (s + 1) / 2
		}
		if s, ok := kwScores[passageID]; ok && maxKeyword > 0 {
			kw = s / maxKeyword
		}

		combined := vec*opts.VectorWeight + kw*opts.KeywordWeight
		if opts.MinScore > 0 && combined < opts.MinScore {
			return
		}
		merged = append(merged, scored{passageID: passageID, score: combined})
	}
	for id := range vecScores {
		addScore(id)
	}
	for id := range kwScores {
		addScore(id)
	}

	sort.Slice(merged, func(i, j int) bool {
		return merged[i].score > merged[j].score
	})

	results := make([]Result, 0, len(merged))
	for _, s := range merged {
		var content, article string
		err := idx.db.QueryRow(`
			SELECT p.content, a.path
			FROM passages p
			JOIN articles a ON p.article_id = a.id
			WHERE p.id = ?
		`, s.passageID).Scan(&content, &article)
		if err != nil {
			idx.logger.Warn().Err(err).Str("passage", s.passageID).Msg("Failed to fetch passage")
			continue
		}
		results = append(results, Result{
			PassageID: s.passageID,
			Article:   article,
			Content:   content,
			Score:     s.score,
		})
	}
	return results
}

// Sync reindexes changed articles under the docs directory
func (idx *Index) Sync(ctx context.Context) error {
	idx.mu.Lock()
	if idx.isSyncing {
		idx.mu.Unlock()
		return errors.New("sync already in progress")
	}
	idx.isSyncing = true
	idx.mu.Unlock()

	defer func() {
		idx.mu.Lock()
		idx.isSyncing = false
		idx.isDirty = false
		now := time.Now()
		idx.lastSyncTime = &now
		idx.mu.Unlock()
	}()

	start := time.Now()

	var articles []string
	err := filepath.WalkDir(idx.docsPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && strings.HasSuffix(strings.ToLower(d.Name()), ".md") {
			relPath, _ := filepath.Rel(idx.docsPath, path)
			articles = append(articles, relPath)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to walk docs directory: %w", err)
	}

	indexed := 0
	for _, relPath := range articles {
		changed, err := idx.indexArticle(ctx, filepath.Join(idx.docsPath, relPath), relPath)
		if err != nil {
			idx.logger.Warn().Err(err).Str("article", relPath).Msg("Failed to index article")
			continue
		}
		if changed {
			indexed++
		}
	}

	pruned, err := idx.pruneDeleted(articles)
	if err != nil {
		idx.logger.Warn().Err(err).Msg("Failed to prune deleted articles")
	}

	idx.logger.Info().
		Int("indexed", indexed).
		Int("pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Knowledge sync completed")

	return nil
}

func (idx *Index) indexArticle(ctx context.Context, fullPath, relPath string) (bool, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return false, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	var existingHash string
	err = idx.db.QueryRow("SELECT content_hash FROM articles WHERE path = ?", relPath).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, nil
	}

	tx, err := idx.db.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM articles WHERE path = ?", relPath); err != nil {
		return false, err
	}

	res, err := tx.Exec(
		"INSERT INTO articles (path, content_hash, indexed_at) VALUES (?, ?, ?)",
		relPath, contentHash, time.Now().Unix(),
	)
	if err != nil {
		return false, err
	}
	articleID, _ := res.LastInsertId()

	for i, passage := range splitPassages(string(content)) {
		passageID := fmt.Sprintf("%s#%d", relPath, i)

		if _, err := tx.Exec(
			"INSERT INTO passages (id, article_id, content, position) VALUES (?, ?, ?, ?)",
			passageID, articleID, passage, i,
		); err != nil {
			return false, err
		}
		if _, err := tx.Exec(
			"INSERT INTO passages_fts (passage_id, content) VALUES (?, ?)",
			passageID, passage,
		); err != nil {
			return false, err
		}

		if idx.embedder != nil {
			if err := idx.storeEmbedding(ctx, tx, passageID, passage); err != nil {
				idx.logger.Warn().Err(err).Str("passage", passageID).Msg("Failed to store embedding")
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return false, err
	}
	return true, nil
}

func (idx *Index) storeEmbedding(ctx context.Context, tx *sql.Tx, passageID, content string) error {
	embedding, err := idx.embedder.Embed(ctx, content)
	if err != nil {
		return fmt.Errorf("failed to embed passage: %w", err)
	}

	embeddingJSON, err := json.Marshal(embedding)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding: %w", err)
	}

	if _, err := tx.Exec(
		"INSERT OR REPLACE INTO passage_vec (passage_id, embedding) VALUES (?, ?)",
		passageID, string(embeddingJSON),
	); err != nil {
		return fmt.Errorf("failed to store embedding: %w", err)
	}
	return nil
}

// splitPassages breaks an article into paragraph groups of bounded size
func splitPassages(content string) []string {
	const maxSize = 1000

	paragraphs := strings.Split(content, "\n\n")

	var passages []string
	var current strings.Builder
	for _, p := range paragraphs {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if current.Len() > 0 && current.Len()+len(p) > maxSize {
			passages = append(passages, current.String())
			current.Reset()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(p)
	}
	if current.Len() > 0 {
		passages = append(passages, current.String())
	}
	return passages
}

func (idx *Index) pruneDeleted(existing []string) (int, error) {
	rows, err := idx.db.Query("SELECT path FROM articles")
	if err != nil {
		return 0, err
	}
	defer rows.Close()

	existingSet := make(map[string]bool, len(existing))
	for _, p := range existing {
		existingSet[p] = true
	}

	var stale []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return 0, err
		}
		if !existingSet[path] {
			stale = append(stale, path)
		}
	}
	if err := rows.Err(); err != nil {
		return 0, err
	}

	for _, path := range stale {
		if _, err := idx.db.Exec("DELETE FROM articles WHERE path = ?", path); err != nil {
			return 0, err
		}
	}
	return len(stale), nil
}

// Status returns the current index status
func (idx *Index) Status() Status {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	var status Status
	status.IsDirty = idx.isDirty
	status.LastSyncTime = idx.lastSyncTime
	idx.db.QueryRow("SELECT COUNT(*) FROM articles").Scan(&status.TotalArticles)
	idx.db.QueryRow("SELECT COUNT(*) FROM passages").Scan(&status.TotalPassages)
	return status
}

// MarkDirty flags the index for resync before the next search
func (idx *Index) MarkDirty() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.isDirty = true
}

// Close stops the watcher and closes the database
func (idx *Index) Close() error {
	if idx.watcher != nil {
		idx.watcher.stop()
	}
	return idx.db.Close()
}
