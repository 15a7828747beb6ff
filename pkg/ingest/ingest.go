// Package ingest turns raw sources into embedded, indexed chunks.
package ingest

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
	"github.com/xhad/lumina/internal/types"
	"github.com/xhad/lumina/pkg/chunker"
)

type PipelineConfig struct {
	Chunker   chunker.Chunker
	Embedder  types.Embedder
	Store     types.VectorStore
	Extractor types.Extractor
	Logger    *slog.Logger

	// OnSource is called after each source of a batch finishes, successfully or not.
	OnSource func(sourceRef string, chunkIDs []string, err error)
}

// Pipeline chunks, embeds and upserts sources one chunk at a time.
type Pipeline struct {
	config PipelineConfig
	logger *slog.Logger
}

// BatchResult maps every attempted source to the ids it produced. Failed sources map to no ids
// and are listed in Failures.
type BatchResult struct {
	ChunkIDs map[string][]string
	Failures []errs.PartialBatchFailure
}

// Succeeded counts the sources that were stored without error.
func (r BatchResult) Succeeded() int {
	return len(r.ChunkIDs) - len(r.Failures)
}

// TotalChunks sums the chunk ids over all sources.
func (r BatchResult) TotalChunks() int {
	n := 0
	for _, ids := range r.ChunkIDs {
		n += len(ids)
	}
	return n
}

func New(config PipelineConfig) (*Pipeline, error) {
	if config.Embedder == nil {
		return nil, fmt.Errorf("embedder is required")
	}
	if config.Store == nil {
		return nil, fmt.Errorf("vector store is required")
	}
	if config.Chunker == (chunker.Chunker{}) {
		config.Chunker = chunker.New()
	}
	return &Pipeline{
		config: config,
		logger: logging.OrDiscard(config.Logger).With("component", "ingest"),
	}, nil
}

// IngestText chunks text and indexes each chunk in order under a deterministic id.
// Chunk metadata carries source_ref, chunk_index and total_chunks; caller metadata wins on conflict.
// The first failing chunk aborts the source. Chunks written before it stay indexed, and
// re-running the same source overwrites them in place.
func (p *Pipeline) IngestText(ctx context.Context, text, sourceRef string, metadata map[string]interface{}) ([]string, error) {
	if strings.TrimSpace(text) == "" {
		p.logger.Warn("empty_source_skipped", "source_ref", sourceRef)
		return nil, nil
	}

	start := time.Now()
	chunks := p.config.Chunker.Chunk(text, sourceRef)
	p.logger.Info("text_chunked",
		"source_ref", sourceRef,
		"text_length", len(text),
		"num_chunks", len(chunks),
		"max_chunk_size", p.config.Chunker.Config().ChunkSize,
		"overlap", p.config.Chunker.Config().ChunkOverlap,
	)

	ids := make([]string, 0, len(chunks))
	for _, chunk := range chunks {
		vector, err := p.config.Embedder.Embed(ctx, chunk.Text)
		if err != nil {
			p.logger.Error("ingestion_failed", "source_ref", sourceRef, "chunk_index", chunk.Index, "error", err)
			return ids, fmt.Errorf("embed chunk %d of %s: %w", chunk.Index, sourceRef, err)
		}

		if _, err := p.config.Store.Upsert(ctx, chunk.ID, chunk.Text, vector, chunkMetadata(chunk, metadata)); err != nil {
			p.logger.Error("ingestion_failed", "source_ref", sourceRef, "chunk_index", chunk.Index, "error", err)
			return ids, fmt.Errorf("index chunk %d of %s: %w", chunk.Index, sourceRef, err)
		}
		ids = append(ids, chunk.ID)
	}

	p.logger.Info("ingestion_completed",
		"source_ref", sourceRef,
		"num_chunks", len(ids),
		"latency_ms", float64(time.Since(start).Microseconds())/1000,
	)
	return ids, nil
}

func chunkMetadata(chunk models.Chunk, extra map[string]interface{}) map[string]interface{} {
	meta := map[string]interface{}{
		"source_ref":   chunk.SourceRef,
		"chunk_index":  chunk.Index,
		"total_chunks": chunk.Total,
	}
	for k, v := range extra {
		meta[k] = v
	}
	return meta
}

// IngestFile extracts path and ingests its text with the path as source reference.
func (p *Pipeline) IngestFile(ctx context.Context, path string, metadata map[string]interface{}) ([]string, error) {
	if p.config.Extractor == nil {
		return nil, fmt.Errorf("no extractor configured")
	}
	if _, err := os.Stat(path); err != nil {
		p.logger.Error("ingestion_failed", "source_ref", path, "error", err)
		return nil, fmt.Errorf("file not found: %w", err)
	}

	p.logger.Info("ingestion_started", "source_ref", path)
	text, err := p.config.Extractor.Extract(path)
	if err != nil {
		p.logger.Error("ingestion_failed", "source_ref", path, "error", err)
		return nil, err
	}
	return p.IngestText(ctx, text, path, withFileMetadata(path, metadata))
}

func withFileMetadata(path string, metadata map[string]interface{}) map[string]interface{} {
	meta := map[string]interface{}{
		"file_name": filepath.Base(path),
		"file_type": strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), "."),
	}
	for k, v := range metadata {
		meta[k] = v
	}
	return meta
}

// IngestSources ingests independent sources one at a time. A failing source is logged and
// recorded, and the batch moves on.
func (p *Pipeline) IngestSources(ctx context.Context, sources []models.Source, metadata map[string]interface{}) BatchResult {
	result := BatchResult{ChunkIDs: make(map[string][]string, len(sources))}

	for _, src := range sources {
		if ctx.Err() != nil {
			p.recordFailure(&result, src.Ref, ctx.Err())
			continue
		}

		meta := make(map[string]interface{}, len(src.Metadata)+len(metadata))
		for k, v := range src.Metadata {
			meta[k] = v
		}
		for k, v := range metadata {
			meta[k] = v
		}

		ids, err := p.IngestText(ctx, src.Text, src.Ref, meta)
		if err != nil {
			p.recordFailure(&result, src.Ref, err)
			continue
		}
		result.ChunkIDs[src.Ref] = ids
		p.notify(src.Ref, ids, nil)
	}
	return result
}

// IngestDirectory ingests every supported file under dir, descending into subdirectories
// when recursive is set. Files are visited in lexical order.
func (p *Pipeline) IngestDirectory(ctx context.Context, dir string, metadata map[string]interface{}, recursive bool) (BatchResult, error) {
	files, err := p.ListFiles(dir, recursive)
	if err != nil {
		p.logger.Error("directory_ingestion_failed", "directory", dir, "error", err)
		return BatchResult{}, err
	}

	p.logger.Info("directory_ingestion_started", "directory", dir, "num_files", len(files), "recursive", recursive)

	result := BatchResult{ChunkIDs: make(map[string][]string, len(files))}
	for _, path := range files {
		if ctx.Err() != nil {
			p.recordFailure(&result, path, ctx.Err())
			continue
		}
		ids, err := p.IngestFile(ctx, path, metadata)
		if err != nil {
			p.recordFailure(&result, path, err)
			continue
		}
		result.ChunkIDs[path] = ids
		p.notify(path, ids, nil)
	}

	p.logger.Info("directory_ingestion_completed",
		"directory", dir,
		"files_processed", result.Succeeded(),
		"files_failed", len(result.Failures),
		"total_chunks", result.TotalChunks(),
	)
	return result, nil
}

// ListFiles returns the supported files under dir in lexical order.
func (p *Pipeline) ListFiles(dir string, recursive bool) ([]string, error) {
	if p.config.Extractor == nil {
		return nil, fmt.Errorf("no extractor configured")
	}
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("directory not found: %w", err)
	}
	if !info.IsDir() {
		return nil, errs.Validationf("%s is not a directory", dir)
	}

	var files []string
	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if path != dir && !recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if p.config.Extractor.Supports(path) {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func (p *Pipeline) recordFailure(result *BatchResult, sourceRef string, err error) {
	p.logger.Error("source_ingestion_failed_in_batch", "source_ref", sourceRef, "error", err)
	result.ChunkIDs[sourceRef] = nil
	result.Failures = append(result.Failures, errs.PartialBatchFailure{Source: sourceRef, Err: err})
	p.notify(sourceRef, nil, err)
}

func (p *Pipeline) notify(sourceRef string, ids []string, err error) {
	if p.config.OnSource != nil {
		p.config.OnSource(sourceRef, ids, err)
	}
}
