package store

import (
	"context"
	"encoding/json"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/models"
)

// MemoryStore is an in-process vector store using brute-force cosine similarity.
// It backs tests and a database URL of memory://, which keeps the index for the
// life of one process (a serve or chat session). Filters follow jsonb containment.
type MemoryStore struct {
	mu        sync.RWMutex
	dimension int
	docs      map[string]models.IndexedDocument
}

func NewMemoryStore(dimension int) *MemoryStore {
	if dimension <= 0 {
		dimension = DefaultVectorDim
	}
	return &MemoryStore{
		dimension: dimension,
		docs:      make(map[string]models.IndexedDocument),
	}
}

func (s *MemoryStore) Upsert(_ context.Context, id, text string, vector []float32, metadata map[string]interface{}) (string, error) {
	if id == "" {
		return "", errs.Validationf("document id cannot be empty")
	}
	if len(vector) != s.dimension {
		return "", errs.DimensionMismatch(s.dimension, len(vector))
	}
	meta, err := normalize(metadata)
	if err != nil {
		return "", errs.Validationf("metadata is not JSON serializable: %v", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.docs[id] = models.IndexedDocument{
		ID:        id,
		Text:      text,
		Embedding: append([]float32(nil), vector...),
		Metadata:  meta,
		CreatedAt: time.Now().UTC(),
	}
	return id, nil
}

func (s *MemoryStore) Search(_ context.Context, vector []float32, topK int, filter map[string]interface{}) ([]models.RetrievedDocument, error) {
	if topK <= 0 {
		return nil, errs.Validationf("top_k must be positive, got %d", topK)
	}
	if len(vector) != s.dimension {
		return nil, errs.DimensionMismatch(s.dimension, len(vector))
	}
	want, err := normalize(filter)
	if err != nil {
		return nil, errs.Validationf("filter is not JSON serializable: %v", err)
	}

	s.mu.RLock()
	results := make([]models.RetrievedDocument, 0, len(s.docs))
	for _, doc := range s.docs {
		if len(want) > 0 && !contains(doc.Metadata, want) {
			continue
		}
		results = append(results, models.RetrievedDocument{
			ID:       doc.ID,
			Text:     doc.Text,
			Score:    cosine(vector, doc.Embedding),
			Metadata: doc.Metadata,
		})
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ID < results[j].ID
	})
	if len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*models.IndexedDocument, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[id]
	if !ok {
		return nil, false
	}
	doc.Embedding = append([]float32(nil), doc.Embedding...)
	return &doc, true
}

func (s *MemoryStore) Count(_ context.Context, filter map[string]interface{}) int {
	want, err := normalize(filter)
	if err != nil {
		return 0
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(want) == 0 {
		return len(s.docs)
	}
	n := 0
	for _, doc := range s.docs {
		if contains(doc.Metadata, want) {
			n++
		}
	}
	return n
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

// normalize round-trips through JSON so numbers compare the way Postgres sees them.
func normalize(m map[string]interface{}) (map[string]interface{}, error) {
	if m == nil {
		return map[string]interface{}{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	var out map[string]interface{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// contains reports whether have contains want in the jsonb @> sense.
func contains(have, want interface{}) bool {
	switch w := want.(type) {
	case map[string]interface{}:
		h, ok := have.(map[string]interface{})
		if !ok {
			return false
		}
		for k, wv := range w {
			hv, ok := h[k]
			if !ok || !contains(hv, wv) {
				return false
			}
		}
		return true
	case []interface{}:
		h, ok := have.([]interface{})
		if !ok {
			return false
		}
		for _, wv := range w {
			found := false
			for _, hv := range h {
				if contains(hv, wv) {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
		return true
	default:
		return have == want
	}
}

func cosine(a, b []float32) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
