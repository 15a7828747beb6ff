// Package server exposes the question answering engine over HTTP and websockets.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/xhad/lumina/internal/errs"
	"github.com/xhad/lumina/internal/logging"
	"github.com/xhad/lumina/internal/models"
	"github.com/xhad/lumina/internal/types"
	"github.com/xhad/lumina/pkg/ingest"
	"github.com/xhad/lumina/pkg/rag"
	"github.com/xhad/lumina/pkg/scraper"
)

const (
	Name    = "lumina"
	Version = "0.1.0"

	MaxTopK = 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

var urlRegex = regexp.MustCompile(`https?://[^\s]+`)

// Asker answers one question. *rag.Engine satisfies it.
type Asker interface {
	Query(ctx context.Context, question string, opts rag.QueryOptions) (*models.QueryResult, error)
}

// Message is the websocket envelope in both directions.
type Message struct {
	Type    string      `json:"type"`
	Content string      `json:"content"`
	Data    interface{} `json:"data,omitempty"`
}

type AskRequest struct {
	Question       string                 `json:"question"`
	TopK           *int                   `json:"top_k,omitempty"`
	Temperature    *float64               `json:"temperature,omitempty"`
	FilterCriteria map[string]interface{} `json:"filter_criteria,omitempty"`
}

type SourceResponse struct {
	Text     string                 `json:"text"`
	Score    float64                `json:"score"`
	Metadata map[string]interface{} `json:"metadata"`
}

type AskResponse struct {
	Answer    string           `json:"answer"`
	Sources   []SourceResponse `json:"sources"`
	LatencyMS float64          `json:"latency_ms"`
}

type HealthResponse struct {
	Status    string  `json:"status"`
	Database  string  `json:"database"`
	Timestamp float64 `json:"timestamp"`
}

type errorResponse struct {
	Detail interface{} `json:"detail"`
}

type Config struct {
	Engine Asker
	Store  types.VectorStore

	// Pipeline, when set, lets websocket clients ingest a site by sending its URL.
	Pipeline *ingest.Pipeline
	Scraper  scraper.ScraperConfig

	Logger *slog.Logger
}

type Server struct {
	config Config
	logger *slog.Logger
}

func New(config Config) (*Server, error) {
	if config.Engine == nil || config.Store == nil {
		return nil, fmt.Errorf("engine and store are required")
	}
	return &Server{
		config: config,
		logger: logging.OrDiscard(config.Logger).With("component", "server"),
	}, nil
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleRoot)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("POST /ask", s.handleAsk)
	mux.HandleFunc("GET /ws", s.handleWebSocket)
	return withCORS(mux)
}

// ListenAndServe serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("application_startup", "version", Version, "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	s.logger.Info("application_shutdown")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"name":        Name,
		"version":     Version,
		"description": "Retrieval-augmented question answering over pgvector",
		"endpoints": map[string]string{
			"health":    "/healthz",
			"ask":       "/ask",
			"websocket": "/ws",
		},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	start := time.Now()

	database := "healthy"
	if err := s.config.Store.Ping(r.Context()); err != nil {
		if errors.Is(err, errs.ErrIndexMissing) {
			database = "unhealthy"
		} else {
			database = "error: " + err.Error()
		}
		s.logger.Error("healthz_database_error", "error", err)
	}

	status := "healthy"
	if database != "healthy" {
		status = "unhealthy"
	}

	s.logger.Info("health_check",
		"status", status,
		"database", database,
		"latency_ms", float64(time.Since(start).Microseconds())/1000,
	)

	resp := HealthResponse{
		Status:    status,
		Database:  database,
		Timestamp: float64(time.Now().UnixMicro()) / 1e6,
	}
	if status != "healthy" {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Detail: resp})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// validate checks the request bounds the engine does not know about.
func (req AskRequest) validate() error {
	if strings.TrimSpace(req.Question) == "" {
		return errs.Validationf("question cannot be empty")
	}
	if req.TopK != nil && (*req.TopK < 1 || *req.TopK > MaxTopK) {
		return errs.Validationf("top_k must be between 1 and %d", MaxTopK)
	}
	if req.Temperature != nil && (*req.Temperature < 0 || *req.Temperature > 2) {
		return errs.Validationf("temperature must be between 0 and 2")
	}
	return nil
}

func (req AskRequest) options() rag.QueryOptions {
	opts := rag.QueryOptions{
		Filter:      req.FilterCriteria,
		Temperature: req.Temperature,
	}
	if req.TopK != nil {
		opts.TopK = *req.TopK
	}
	return opts
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	var req AskRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(&req); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: fmt.Sprintf("invalid request body: %v", err)})
		return
	}
	if err := req.validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, errorResponse{Detail: err.Error()})
		return
	}

	s.logger.Info("ask_request_received", "question_length", len(req.Question), "top_k", req.TopK, "temperature", req.Temperature)

	result, err := s.config.Engine.Query(r.Context(), req.Question, req.options())
	if err != nil {
		s.logger.Error("ask_request_failed", "question", preview(req.Question), "error", err)
		writeJSON(w, statusFor(err), errorResponse{Detail: fmt.Sprintf("Failed to process question: %v", err)})
		return
	}

	resp := toResponse(result)
	s.logger.Info("ask_request_completed",
		"question_length", len(req.Question),
		"answer_length", len(resp.Answer),
		"num_sources", len(resp.Sources),
		"latency_ms", resp.LatencyMS,
	)
	writeJSON(w, http.StatusOK, resp)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, errs.ErrValidation):
		return http.StatusUnprocessableEntity
	case errors.Is(err, errs.ErrIndexMissing), errs.IsTransient(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func toResponse(result *models.QueryResult) AskResponse {
	sources := make([]SourceResponse, 0, len(result.Sources))
	for _, doc := range result.Sources {
		metadata := doc.Metadata
		if metadata == nil {
			metadata = map[string]interface{}{}
		}
		sources = append(sources, SourceResponse{Text: doc.Text, Score: doc.Score, Metadata: metadata})
	}
	return AskResponse{Answer: result.Answer, Sources: sources, LatencyMS: result.LatencyMS}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket_upgrade_failed", "error", err)
		return
	}
	defer conn.Close()

	// Messages are handled in order on the read loop; gorilla connections allow one writer.
	for {
		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Warn("websocket_read_failed", "error", err)
			}
			return
		}
		s.handleMessage(r.Context(), conn, msg)
	}
}

func (s *Server) handleMessage(ctx context.Context, conn *websocket.Conn, msg Message) {
	query := strings.TrimSpace(msg.Content)

	if url := urlRegex.FindString(query); url != "" && s.config.Pipeline != nil {
		s.ingestURL(ctx, conn, url)
		query = strings.TrimSpace(strings.Replace(query, url, "", 1))
		if query == "" {
			return
		}
	}

	req := AskRequest{Question: query}
	if msg.Data != nil {
		if err := decodeData(msg.Data, &req); err != nil {
			s.sendMessage(conn, "error", fmt.Sprintf("Invalid request data: %v", err), nil)
			return
		}
		req.Question = query
	}
	if err := req.validate(); err != nil {
		s.sendMessage(conn, "error", err.Error(), nil)
		return
	}

	s.sendMessage(conn, "status", "Searching documents...", nil)
	result, err := s.config.Engine.Query(ctx, req.Question, req.options())
	if err != nil {
		s.logger.Error("ask_request_failed", "question", preview(query), "error", err)
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to process question: %v", err), nil)
		return
	}

	resp := toResponse(result)
	s.sendMessage(conn, "response", resp.Answer, resp)
}

// decodeData reads the options a websocket client sent alongside its question.
func decodeData(data interface{}, req *AskRequest) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return json.Unmarshal(raw, req)
}

func (s *Server) ingestURL(ctx context.Context, conn *websocket.Conn, url string) {
	s.sendMessage(conn, "status", fmt.Sprintf("Processing URL: %s", url), nil)

	cfg := s.config.Scraper
	cfg.BaseURL = url
	cfg.Logger = s.logger
	pages := 0
	cfg.OnProgress = func(page string) {
		pages++
		s.sendMessage(conn, "progress", fmt.Sprintf("Scraped %d pages", pages), nil)
	}

	sc, err := scraper.NewWithConfig(cfg)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to initialize scraper: %v", err), nil)
		return
	}

	sources, err := sc.Scrape(ctx, url)
	if err != nil {
		s.sendMessage(conn, "error", fmt.Sprintf("Failed to scrape URL: %v", err), nil)
		return
	}
	s.sendMessage(conn, "status", fmt.Sprintf("Scraped %d documents", len(sources)), nil)

	result := s.config.Pipeline.IngestSources(ctx, sources, nil)
	s.sendMessage(conn, "status",
		fmt.Sprintf("Stored %d chunks from %d pages (%d failed)", result.TotalChunks(), result.Succeeded(), len(result.Failures)),
		nil)
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType, content string, data interface{}) {
	msg := Message{
		Type:    msgType,
		Content: content,
		Data:    data,
	}
	if err := conn.WriteJSON(msg); err != nil {
		s.logger.Warn("websocket_write_failed", "error", err)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func preview(s string) string {
	r := []rune(s)
	if len(r) > 100 {
		return string(r[:100])
	}
	return s
}
