package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"regexp"
	"strconv"
	"time"
	"unicode/utf8"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
	"github.com/xhad/lumina/pkg/retry"
)

const (
	DefaultTableName     = "documents"
	DefaultVectorDim     = 1536
	DefaultCandidatePool = 50
)

var tableNameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]{0,62}$`)

type VectorStoreConfig struct {
	ConnString    string
	TableName     string
	VectorDim     int
	CandidatePool int  // ANN candidates examined per search, never fewer than topK
	AutoMigrate   bool // create the extension, table and indexes when missing
	Retry         retry.Policy
	Logger        *slog.Logger
}

// VectorStore keeps chunk embeddings in a Postgres table indexed by pgvector's hnsw.
type VectorStore struct {
	config VectorStoreConfig
	pool   *pgxpool.Pool
	table  string // quoted identifier
	logger *slog.Logger
}

func NewWithConfig(ctx context.Context, config VectorStoreConfig) (*VectorStore, error) {
	if config.TableName == "" {
		config.TableName = DefaultTableName
	}
	if !tableNameRe.MatchString(config.TableName) {
		return nil, errs.Validationf("invalid table name %q", config.TableName)
	}
	if config.VectorDim <= 0 {
		config.VectorDim = DefaultVectorDim
	}
	if config.CandidatePool <= 0 {
		config.CandidatePool = DefaultCandidatePool
	}
	if config.Retry.MaxAttempts == 0 {
		config.Retry = retry.DefaultPolicy()
	}

	pool, err := pgxpool.New(ctx, config.ConnString)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	vs := newVectorStore(config, pool)
	if err := vs.do(ctx, "connect", pool.Ping); err != nil {
		pool.Close()
		return nil, err
	}
	if config.AutoMigrate {
		if err := vs.initialize(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	if err := vs.checkDimension(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	vs.logger.Info("vector_store_ready", "dimension", config.VectorDim, "candidate_pool", config.CandidatePool)
	return vs, nil
}

func newVectorStore(config VectorStoreConfig, pool *pgxpool.Pool) *VectorStore {
	vs := &VectorStore{
		config: config,
		pool:   pool,
		table:  pgx.Identifier{config.TableName}.Sanitize(),
		logger: logging.OrDiscard(config.Logger).With("component", "store", "table", config.TableName),
	}
	if vs.config.Retry.OnRetry == nil {
		vs.config.Retry.OnRetry = func(attempt int, delay time.Duration, err error) {
			vs.logger.Warn("store_retry", "attempt", attempt, "delay_ms", delay.Milliseconds(), "error", err)
		}
	}
	return vs
}

// do runs fn under the retry policy, classifying each failure so only transient ones repeat.
func (vs *VectorStore) do(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	return vs.config.Retry.Do(ctx, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			return classify(op, err)
		}
		return nil
	})
}

func (vs *VectorStore) initialize(ctx context.Context) error {
	if _, err := vs.pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}

	createTable := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			embedding vector(%d) NOT NULL,
			metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`, vs.table, vs.config.VectorDim)
	if _, err := vs.pool.Exec(ctx, createTable); err != nil {
		return fmt.Errorf("failed to create table: %w", err)
	}

	createIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING hnsw (embedding vector_cosine_ops)`,
		pgx.Identifier{vs.config.TableName + "_embedding_idx"}.Sanitize(), vs.table)
	if _, err := vs.pool.Exec(ctx, createIndex); err != nil {
		return fmt.Errorf("failed to create vector index: %w", err)
	}

	createMetaIndex := fmt.Sprintf(`
		CREATE INDEX IF NOT EXISTS %s
		ON %s
		USING gin (metadata jsonb_path_ops)`,
		pgx.Identifier{vs.config.TableName + "_metadata_idx"}.Sanitize(), vs.table)
	if _, err := vs.pool.Exec(ctx, createMetaIndex); err != nil {
		return fmt.Errorf("failed to create metadata index: %w", err)
	}

	vs.logger.Info("vector_index_initialized")
	return nil
}

// checkDimension compares the embedding column type with the configured dimension.
// A missing table is left for the first operation to report.
func (vs *VectorStore) checkDimension(ctx context.Context) error {
	var typmod int
	err := vs.pool.QueryRow(ctx, `
		SELECT atttypmod FROM pg_attribute
		WHERE attrelid = to_regclass($1) AND attname = 'embedding' AND NOT attisdropped`,
		vs.table).Scan(&typmod)
	if errors.Is(err, pgx.ErrNoRows) {
		vs.logger.Warn("vector_index_missing")
		return nil
	}
	if err != nil {
		return classify("check dimension", err)
	}
	if typmod > 0 && typmod != vs.config.VectorDim {
		return errs.DimensionMismatch(vs.config.VectorDim, typmod)
	}
	return nil
}

// Upsert writes the record under id, replacing text, vector and metadata of any previous version.
func (vs *VectorStore) Upsert(ctx context.Context, id, text string, vector []float32, metadata map[string]interface{}) (string, error) {
	if id == "" {
		return "", errs.Validationf("document id cannot be empty")
	}
	if len(vector) != vs.config.VectorDim {
		err := errs.DimensionMismatch(vs.config.VectorDim, len(vector))
		vs.logger.Error("document_upsert_rejected", "id", id, "error", err)
		return "", err
	}
	meta, err := encodeJSON(metadata)
	if err != nil {
		return "", errs.Validationf("metadata is not JSON serializable: %v", err)
	}

	stmt := fmt.Sprintf(`
		INSERT INTO %s (id, content, embedding, metadata, created_at)
		VALUES ($1, $2, $3::vector, $4::jsonb, now())
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding,
			metadata = EXCLUDED.metadata,
			created_at = EXCLUDED.created_at`,
		vs.table)

	err = vs.do(ctx, "upsert", func(ctx context.Context) error {
		_, err := vs.pool.Exec(ctx, stmt, id, sanitizeUTF8(text), pgvector.NewVector(vector), *meta)
		return err
	})
	if err != nil {
		vs.logger.Error("document_upsert_failed", "id", id, "error", err)
		return "", err
	}

	vs.logger.Debug("document_upserted", "id", id, "text_length", len(text))
	return id, nil
}

// Search returns at most topK records ordered by descending cosine similarity.
// The hnsw scan examines max(CandidatePool, topK) candidates, and a non-empty filter
// is applied inside the scan as jsonb containment.
func (vs *VectorStore) Search(ctx context.Context, vector []float32, topK int, filter map[string]interface{}) ([]models.RetrievedDocument, error) {
	if topK <= 0 {
		return nil, errs.Validationf("top_k must be positive, got %d", topK)
	}
	if len(vector) != vs.config.VectorDim {
		return nil, errs.DimensionMismatch(vs.config.VectorDim, len(vector))
	}
	filterArg, err := encodeJSON(filter)
	if err != nil {
		return nil, errs.Validationf("filter is not JSON serializable: %v", err)
	}
	if len(filter) == 0 {
		filterArg = nil
	}
	candidates := max(vs.config.CandidatePool, topK)

	query := fmt.Sprintf(`
		SELECT id, content, metadata, score FROM (
			SELECT id, content, metadata, 1 - (embedding <=> $1::vector) AS score
			FROM %s
			WHERE ($2::jsonb IS NULL OR metadata @> $2::jsonb)
			ORDER BY embedding <=> $1::vector
			LIMIT $3
		) candidates
		ORDER BY score DESC
		LIMIT $4`,
		vs.table)

	start := time.Now()
	var results []models.RetrievedDocument
	err = vs.do(ctx, "search", func(ctx context.Context) error {
		results = results[:0]
		return pgx.BeginFunc(ctx, vs.pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, "SELECT set_config('hnsw.ef_search', $1, true)", strconv.Itoa(candidates)); err != nil {
				return err
			}

			rows, err := tx.Query(ctx, query, pgvector.NewVector(vector), filterArg, candidates, topK)
			if err != nil {
				return err
			}
			defer rows.Close()

			for rows.Next() {
				var doc models.RetrievedDocument
				var meta []byte
				if err := rows.Scan(&doc.ID, &doc.Text, &meta, &doc.Score); err != nil {
					return err
				}
				if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
					return fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
				}
				results = append(results, doc)
			}
			return rows.Err()
		})
	})
	if err != nil {
		vs.logger.Error("vector_search_failed", "error", err, "top_k", topK)
		return nil, err
	}

	vs.logger.Info("vector_search_completed",
		"top_k", topK,
		"candidates", candidates,
		"filtered", len(filter) > 0,
		"results", len(results),
		"latency_ms", float64(time.Since(start).Microseconds())/1000,
	)
	return results, nil
}

// Get fetches one record. Any failure, including a missing table, reads as absent.
func (vs *VectorStore) Get(ctx context.Context, id string) (*models.IndexedDocument, bool) {
	query := fmt.Sprintf(`SELECT id, content, embedding::text, metadata, created_at FROM %s WHERE id = $1`, vs.table)

	var doc models.IndexedDocument
	var embedding string
	var meta []byte
	err := vs.do(ctx, "get", func(ctx context.Context) error {
		return vs.pool.QueryRow(ctx, query, id).Scan(&doc.ID, &doc.Text, &embedding, &meta, &doc.CreatedAt)
	})
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false
	}
	if err != nil {
		vs.logger.Error("document_get_failed", "id", id, "error", err)
		return nil, false
	}

	var vec pgvector.Vector
	if err := vec.Scan(embedding); err != nil {
		vs.logger.Error("document_get_failed", "id", id, "error", err)
		return nil, false
	}
	doc.Embedding = vec.Slice()
	if err := json.Unmarshal(meta, &doc.Metadata); err != nil {
		vs.logger.Error("document_get_failed", "id", id, "error", err)
		return nil, false
	}
	return &doc, true
}

// Count returns the number of records matching filter, or zero on any failure.
func (vs *VectorStore) Count(ctx context.Context, filter map[string]interface{}) int {
	var filterArg *string
	if len(filter) > 0 {
		var err error
		if filterArg, err = encodeJSON(filter); err != nil {
			vs.logger.Error("document_count_failed", "error", err)
			return 0
		}
	}

	query := fmt.Sprintf(`SELECT count(*) FROM %s WHERE ($1::jsonb IS NULL OR metadata @> $1::jsonb)`, vs.table)
	var n int64
	err := vs.do(ctx, "count", func(ctx context.Context) error {
		return vs.pool.QueryRow(ctx, query, filterArg).Scan(&n)
	})
	if err != nil {
		vs.logger.Error("document_count_failed", "error", err)
		return 0
	}
	return int(n)
}

// Ping verifies the connection and that the table exists.
func (vs *VectorStore) Ping(ctx context.Context) error {
	var exists bool
	err := vs.do(ctx, "ping", func(ctx context.Context) error {
		return vs.pool.QueryRow(ctx, `SELECT to_regclass($1) IS NOT NULL`, vs.table).Scan(&exists)
	})
	if err != nil {
		return err
	}
	if !exists {
		return errs.Permanent("ping", fmt.Errorf("%w: table %s", errs.ErrIndexMissing, vs.config.TableName))
	}
	return nil
}

func (vs *VectorStore) Close() {
	if vs.pool != nil {
		vs.pool.Close()
	}
}

// classify maps database failures onto the shared error kinds.
func classify(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "42P01", "42704": // undefined_table, undefined_object
			return errs.Permanent(op, fmt.Errorf("%w: %w", errs.ErrIndexMissing, err))
		case "40001", "40P01", "53300", "57P01", "57P03": // serialization, deadlock, too many connections, shutdown
			return errs.Transient(op, err)
		}
		return errs.Permanent(op, err)
	}

	var netErr net.Error
	switch {
	case errors.Is(err, context.Canceled):
		return errs.Permanent(op, err)
	case errors.Is(err, context.DeadlineExceeded), pgconn.Timeout(err), pgconn.SafeToRetry(err):
		return errs.Transient(op, err)
	case errors.As(err, &netErr):
		return errs.Transient(op, err)
	}
	return errs.Permanent(op, err)
}

func encodeJSON(v map[string]interface{}) (*string, error) {
	if v == nil {
		v = map[string]interface{}{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	s := string(b)
	return &s, nil
}

// sanitizeUTF8 drops invalid bytes, which Postgres rejects in TEXT columns.
func sanitizeUTF8(s string) string {
	if utf8.ValidString(s) {
		return s
	}
	v := make([]rune, 0, len(s))
	for i, r := range s {
		if r == utf8.RuneError {
			if _, size := utf8.DecodeRuneInString(s[i:]); size == 1 {
				continue
			}
		}
		v = append(v, r)
	}
	return string(v)
}
