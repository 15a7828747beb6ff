package models

import "time"

// Chunk is one bounded segment of a source document.
type Chunk struct {
	ID        string
	Text      string
	SourceRef string
	Index     int
	Total     int
}

// IndexedDocument is a record held by the vector store.
type IndexedDocument struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]interface{}
	CreatedAt time.Time
}

// RetrievedDocument is a similarity search hit.
type RetrievedDocument struct {
	ID       string                 `json:"id"`
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

// QueryResult is the answer to a question and the passages that supported it.
type QueryResult struct {
	Answer    string              `json:"answer"`
	Sources   []RetrievedDocument `json:"sources"`
	LatencyMS float64             `json:"latency_ms"`
}

// Source is an extracted text unit waiting to be ingested, such as a file or a scraped page.
type Source struct {
	Ref      string
	Title    string
	Text     string
	Metadata map[string]interface{}
}
