package proxy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/pario-ai/promptgate/pkg/config"
	"github.com/pario-ai/promptgate/pkg/gateway"
	"github.com/pario-ai/promptgate/pkg/journal"
	"github.com/pario-ai/promptgate/pkg/metrics"
	"github.com/pario-ai/promptgate/pkg/models"
	"github.com/pario-ai/promptgate/pkg/provider"
	"github.com/pario-ai/promptgate/pkg/router"
	"github.com/pario-ai/promptgate/pkg/stream"
)

// maxBodySize bounds request bodies, documents included.
const maxBodySize = 8 << 20

// Server is the promptgate HTTP front end.
type Server struct {
	cfg     *config.Config
	gateway *gateway.Gateway
	journal *journal.Journal
	mux     *http.ServeMux
	handler http.Handler
}

// New creates a Server. j may be nil, in which case the feedback and
// document endpoints answer 503.
func New(cfg *config.Config, gw *gateway.Gateway, j *journal.Journal) *Server {
	s := &Server{
		cfg:     cfg,
		gateway: gw,
		journal: j,
		mux:     http.NewServeMux(),
	}
	s.mux.HandleFunc("/chat", s.handleChat)
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.Handle("/metrics", metrics.Handler())
	s.mux.HandleFunc("/cache/stats", s.handleCacheStats)
	s.mux.HandleFunc("/feedback", s.handleFeedback)
	s.mux.HandleFunc("/documents", s.handleDocuments)
	s.handler = requestID(recoverer(s.mux))
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// ListenAndServe starts the server with graceful shutdown support.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logutil.GetLogger(ctx).Info("promptgate listening", zap.String("addr", s.cfg.Listen))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "OK"})
}

// handleCacheStats reports the counters of the serving process's cache.
func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}
	writeJSON(w, http.StatusOK, s.gateway.Stats(r.Context()))
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
		return
	}

	var req models.CompletionRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
		return
	}

	reply, err := s.gateway.Handle(r.Context(), req)
	if err != nil {
		writeGatewayError(r.Context(), w, err)
		return
	}

	cacheHeader := "miss"
	if reply.CacheHit {
		cacheHeader = "hit"
	}
	w.Header().Set("X-Promptgate-Cache", cacheHeader)
	w.Header().Set("X-Promptgate-Provider", reply.Provider)

	if req.Stream || strings.Contains(r.Header.Get("Accept"), "text/event-stream") {
		s.streamReply(w, r, reply)
		return
	}

	text, err := stream.Collect(reply.Chunks)
	if err != nil {
		logutil.GetLogger(r.Context()).Warn("completion aborted", zap.String("provider", reply.Provider), zap.Error(err))
		writeJSONError(w, http.StatusBadGateway, "stream_aborted", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, models.CompletionResponse{Response: text})
}

// streamReply relays chunks as server-sent events. An aborted stream ends
// with an "error" event.
func (s *Server) streamReply(w http.ResponseWriter, r *http.Request, reply *gateway.Reply) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		for range reply.Chunks {
		}
		writeJSONError(w, http.StatusInternalServerError, "server_error", "response writer does not support flushing")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for c := range reply.Chunks {
		if c.Err != nil {
			writeSSE(w, "error", c.Err.Error())
			flusher.Flush()
			continue
		}
		if c.Text != "" {
			writeSSE(w, "", c.Text)
			flusher.Flush()
		}
	}
}

// writeSSE writes one event. Multi-line data is split across data lines.
func writeSSE(w io.Writer, event, data string) {
	var sb strings.Builder
	if event != "" {
		fmt.Fprintf(&sb, "event: %s\n", event)
	}
	for _, line := range strings.Split(data, "\n") {
		fmt.Fprintf(&sb, "data: %s\n", line)
	}
	sb.WriteString("\n")
	_, _ = io.WriteString(w, sb.String())
}

func (s *Server) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "journal disabled")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var rec models.FeedbackRecord
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&rec); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if strings.TrimSpace(rec.Prompt) == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "prompt is required")
			return
		}
		rec.ID = 0
		rec.CreatedAt = time.Now().UTC()
		s.submit(w, r, s.journal.SubmitFeedback(r.Context(), rec), "Feedback logged")
	case http.MethodGet:
		recs, err := s.journal.Feedback(r.Context(), models.JournalQueryOpts{Limit: queryLimit(r)})
		if err != nil {
			logutil.GetLogger(r.Context()).Error("list feedback failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to list feedback")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(recs))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

func (s *Server) handleDocuments(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "journal disabled")
		return
	}
	switch r.Method {
	case http.MethodPost:
		var rec models.DocumentRecord
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize)).Decode(&rec); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid request body")
			return
		}
		if rec.Filename == "" || rec.Content == "" {
			writeJSONError(w, http.StatusBadRequest, "invalid_request", "filename and content are required")
			return
		}
		rec.ID = 0
		rec.CreatedAt = time.Now().UTC()
		s.submit(w, r, s.journal.SubmitDocument(r.Context(), rec), "Document logged")
	case http.MethodGet:
		recs, err := s.journal.Documents(r.Context(), models.JournalQueryOpts{
			Domain: r.URL.Query().Get("domain"),
			Limit:  queryLimit(r),
		})
		if err != nil {
			logutil.GetLogger(r.Context()).Error("list documents failed", zap.Error(err))
			writeJSONError(w, http.StatusInternalServerError, "server_error", "failed to list documents")
			return
		}
		writeJSON(w, http.StatusOK, nonNil(recs))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	}
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, err error, status string) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
	case errors.Is(err, journal.ErrQueueFull):
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", "journal busy, try again")
	default:
		logutil.GetLogger(r.Context()).Error("journal submit failed", zap.Error(err))
		writeJSONError(w, http.StatusServiceUnavailable, "unavailable", err.Error())
	}
}

func queryLimit(r *http.Request) int {
	n, err := strconv.Atoi(r.URL.Query().Get("limit"))
	if err != nil || n <= 0 {
		return journal.DefaultLimit
	}
	return n
}

func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}

// writeGatewayError maps gateway failures to HTTP statuses.
func writeGatewayError(ctx context.Context, w http.ResponseWriter, err error) {
	var exhausted *router.ExhaustedError
	switch {
	case errors.Is(err, gateway.ErrInvalidRequest):
		writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
	case errors.As(err, &exhausted):
		switch exhausted.Kind() {
		case provider.KindInvalidRequest:
			writeJSONError(w, http.StatusBadRequest, "invalid_request", err.Error())
		case provider.KindBusy:
			w.Header().Set("Retry-After", "1")
			writeJSONError(w, http.StatusServiceUnavailable, "busy", err.Error())
		case provider.KindTimeout:
			writeJSONError(w, http.StatusGatewayTimeout, "timeout", err.Error())
		default:
			writeJSONError(w, http.StatusBadGateway, "upstream_error", err.Error())
		}
	case errors.Is(err, context.Canceled):
		logutil.GetLogger(ctx).Info("client went away before a provider answered")
	default:
		logutil.GetLogger(ctx).Error("request failed", zap.Error(err))
		writeJSONError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeJSONError(w http.ResponseWriter, code int, typ, message string) {
	writeJSON(w, code, models.ErrorResponse{Error: models.ErrorBody{Message: message, Type: typ, Code: code}})
}
