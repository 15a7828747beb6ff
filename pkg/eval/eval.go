// Package eval measures retrieval quality against a labelled question set.
package eval

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
)

// DefaultKs are the cut-offs reported when none are given.
var DefaultKs = []int{1, 3, 5}

// Retriever is the retrieval half of the query engine.
type Retriever interface {
	Retrieve(ctx context.Context, question string, topK int, filter map[string]interface{}) ([]models.RetrievedDocument, error)
}

// Example is one labelled question. ExpectedIDs hold chunk ids or source refs.
type Example struct {
	Question    string
	ExpectedIDs []string
}

type Result struct {
	Question     string          `json:"question"`
	RetrievedIDs []string        `json:"retrieved_ids,omitempty"`
	ExpectedIDs  []string        `json:"expected_ids"`
	LatencyMS    float64         `json:"latency_ms"`
	Precision    map[int]float64 `json:"precision_at_k"`
	Error        string          `json:"error,omitempty"`
}

type Metrics struct {
	Precision         map[int]float64 `json:"precision_at_k"`
	AvgLatencyMS      float64         `json:"avg_retrieval_latency_ms"`
	TotalQuestions    int             `json:"total_questions"`
	SuccessfulQueries int             `json:"successful_queries"`
	FailedQueries     int             `json:"failed_queries"`
	Timestamp         time.Time       `json:"timestamp"`
}

type Report struct {
	Metrics Metrics  `json:"metrics"`
	Results []Result `json:"detailed_results"`
}

// LoadDataset reads a CSV with a header naming question and expected_doc_ids columns.
// Expected ids are separated by '|'. Rows missing either value are skipped.
func LoadDataset(r io.Reader) ([]Example, error) {
	reader := csv.NewReader(r)
	reader.TrimLeadingSpace = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset header: %w", err)
	}

	qCol, idCol := -1, -1
	for i, name := range header {
		switch strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")) {
		case "question":
			qCol = i
		case "expected_doc_ids":
			idCol = i
		}
	}
	if qCol < 0 || idCol < 0 {
		return nil, fmt.Errorf("dataset needs question and expected_doc_ids columns, got %v", header)
	}

	var examples []Example
	for {
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read dataset: %w", err)
		}
		if qCol >= len(row) || idCol >= len(row) {
			continue
		}

		question := strings.TrimSpace(row[qCol])
		var ids []string
		for _, id := range strings.Split(row[idCol], "|") {
			if id = strings.TrimSpace(id); id != "" && !slices.Contains(ids, id) {
				ids = append(ids, id)
			}
		}
		if question == "" || len(ids) == 0 {
			continue
		}
		examples = append(examples, Example{Question: question, ExpectedIDs: ids})
	}
	return examples, nil
}

// PrecisionAtK is the share of the first k retrieved ids that are expected. A short
// result list still divides by k.
func PrecisionAtK(retrieved []string, expected []string, k int) float64 {
	if k <= 0 || len(retrieved) == 0 || len(expected) == 0 {
		return 0
	}
	relevant := 0
	for _, id := range retrieved[:min(k, len(retrieved))] {
		if slices.Contains(expected, id) {
			relevant++
		}
	}
	return float64(relevant) / float64(k)
}

// matchID names a retrieved document by whichever of its chunk id or source ref was expected.
func matchID(doc models.RetrievedDocument, expected []string) string {
	if slices.Contains(expected, doc.ID) {
		return doc.ID
	}
	if ref, ok := doc.Metadata["source_ref"].(string); ok && slices.Contains(expected, ref) {
		return ref
	}
	return doc.ID
}

type Evaluator struct {
	retriever Retriever
	ks        []int
	logger    *slog.Logger
	now       func() time.Time
}

// New returns an evaluator reporting precision at each k. Non-positive ks are dropped.
func New(retriever Retriever, ks []int, logger *slog.Logger) *Evaluator {
	var clean []int
	for _, k := range ks {
		if k > 0 && !slices.Contains(clean, k) {
			clean = append(clean, k)
		}
	}
	if len(clean) == 0 {
		clean = slices.Clone(DefaultKs)
	}
	slices.Sort(clean)

	return &Evaluator{
		retriever: retriever,
		ks:        clean,
		logger:    logging.OrDiscard(logger).With("component", "eval"),
		now:       time.Now,
	}
}

// Ks returns the cut-offs in ascending order.
func (e *Evaluator) Ks() []int {
	return e.ks
}

// Run retrieves max(ks) documents per question. A failed question scores zero and is left
// out of the averages.
func (e *Evaluator) Run(ctx context.Context, examples []Example) Report {
	maxK := e.ks[len(e.ks)-1]
	e.logger.Info("evaluation_started", "examples", len(examples), "max_k", maxK)

	report := Report{Results: make([]Result, 0, len(examples))}
	sums := make(map[int]float64, len(e.ks))
	var latencies []float64

	for i, ex := range examples {
		result := Result{
			Question:    ex.Question,
			ExpectedIDs: ex.ExpectedIDs,
			Precision:   make(map[int]float64, len(e.ks)),
		}

		start := e.now()
		docs, err := e.retriever.Retrieve(ctx, ex.Question, maxK, nil)
		latency := float64(e.now().Sub(start).Microseconds()) / 1000
		if err != nil {
			e.logger.Error("evaluation_example_failed", "index", i+1, "error", err)
			result.Error = err.Error()
			for _, k := range e.ks {
				result.Precision[k] = 0
			}
			report.Results = append(report.Results, result)
			continue
		}

		for _, doc := range docs {
			result.RetrievedIDs = append(result.RetrievedIDs, matchID(doc, ex.ExpectedIDs))
		}
		for _, k := range e.ks {
			p := PrecisionAtK(result.RetrievedIDs, ex.ExpectedIDs, k)
			result.Precision[k] = p
			sums[k] += p
		}
		result.LatencyMS = latency
		latencies = append(latencies, latency)
		report.Results = append(report.Results, result)

		e.logger.Debug("evaluation_example_processed", "index", i+1, "retrieved", len(docs), "latency_ms", latency)
	}

	metrics := Metrics{
		Precision:         make(map[int]float64, len(e.ks)),
		TotalQuestions:    len(examples),
		SuccessfulQueries: len(latencies),
		FailedQueries:     len(examples) - len(latencies),
		Timestamp:         e.now().UTC(),
	}
	for _, k := range e.ks {
		if len(latencies) > 0 {
			metrics.Precision[k] = sums[k] / float64(len(latencies))
		} else {
			metrics.Precision[k] = 0
		}
	}
	if len(latencies) > 0 {
		total := 0.0
		for _, l := range latencies {
			total += l
		}
		metrics.AvgLatencyMS = total / float64(len(latencies))
	}
	report.Metrics = metrics

	e.logger.Info("evaluation_completed",
		"total", metrics.TotalQuestions,
		"failed", metrics.FailedQueries,
		"avg_latency_ms", metrics.AvgLatencyMS,
	)
	return report
}
