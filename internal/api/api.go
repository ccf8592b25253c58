// Package api provides the HTTP hosting surface for IngestPipe.
//
// It exposes a single ingestion endpoint plus a health probe. The handler is
// deliberately thin: it validates request shape, applies a per-request
// deadline, and hands off to the ingestion pipeline. Webhook signature
// verification belongs to an upstream gateway and is not performed here.
package api

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/OmniRelay/IngestPipe/internal/ingest"
	"github.com/OmniRelay/IngestPipe/internal/models"
)

// DefaultRequestTimeout is the default per-request ingestion deadline.
const DefaultRequestTimeout = 15 * time.Second

// Server hosts the ingestion HTTP endpoints.
type Server struct {
	pipeline       *ingest.Pipeline
	authToken      string
	requestTimeout time.Duration
}

// NewServer creates a Server over the given pipeline. An empty authToken
// disables bearer-token checking. A non-positive requestTimeout means
// DefaultRequestTimeout.
func NewServer(pipeline *ingest.Pipeline, authToken string, requestTimeout time.Duration) *Server {
	if requestTimeout <= 0 {
		requestTimeout = DefaultRequestTimeout
	}
	return &Server{
		pipeline:       pipeline,
		authToken:      authToken,
		requestTimeout: requestTimeout,
	}
}

// Handler returns the HTTP handler for the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/ingest", s.requireAuth(s.handleIngest))
	mux.HandleFunc("/health", s.handleHealth)
	return mux
}

// requireAuth enforces the bearer token when one is configured.
func (s *Server) requireAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.authToken != "" {
			const prefix = "Bearer "
			auth := r.Header.Get("Authorization")
			if len(auth) <= len(prefix) || auth[:len(prefix)] != prefix ||
				subtle.ConstantTimeCompare([]byte(auth[len(prefix):]), []byte(s.authToken)) != 1 {
				writeJSONResponse(w, http.StatusUnauthorized, models.Error("unauthorized"))
				return
			}
		}
		next(w, r)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Success(nil))
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONResponse(w, http.StatusMethodNotAllowed, models.Error("method not allowed"))
		return
	}

	var msg models.InboundMessage
	if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
		slog.Debug("Server.handleIngest: malformed JSON body", "error", err)
		writeJSONResponse(w, http.StatusBadRequest, models.Error("malformed JSON body"))
		return
	}
	if msg.ReceivedAt.IsZero() {
		msg.ReceivedAt = time.Now().UTC()
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.requestTimeout)
	defer cancel()

	result, err := s.pipeline.Ingest(ctx, msg)
	if err != nil {
		s.writeIngestError(w, err)
		return
	}

	if result.WasNewlyCreated {
		writeJSONResponse(w, http.StatusCreated, models.Created(result))
		return
	}
	writeJSONResponse(w, http.StatusOK, models.Duplicate(result))
}

// writeIngestError maps the pipeline error taxonomy onto HTTP statuses.
// Transient failures return 503 so the upstream delivery mechanism redelivers.
func (s *Server) writeIngestError(w http.ResponseWriter, err error) {
	var validationErr *ingest.ValidationError
	var timeoutErr *ingest.TimeoutError
	var triggerErr *ingest.TriggerError

	switch {
	case errors.As(err, &validationErr):
		writeJSONResponse(w, http.StatusBadRequest, models.Error(validationErr.Error()))
	case errors.As(err, &triggerErr):
		// Partial success: the record is committed; only the categorization
		// trigger needs a retry.
		result := ingest.IngestResult{Message: triggerErr.Record, WasNewlyCreated: true}
		writeJSONResponse(w, http.StatusAccepted, models.Partial("message stored; categorization trigger failed", result))
	case errors.As(err, &timeoutErr):
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("ingestion deadline exceeded; retry delivery"))
	default:
		slog.Error("Server.handleIngest: ingestion failed", "error", err)
		writeJSONResponse(w, http.StatusServiceUnavailable, models.Error("storage unavailable; retry delivery"))
	}
}
