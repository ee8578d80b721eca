package main

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/CTAG07/anomark/pkg/store"
	"github.com/google/uuid"
)

// requestIDHeader is read from incoming requests and echoed on responses.
const requestIDHeader = "X-Request-Id"

type Server struct {
	config    *Config
	logger    *slog.Logger
	store     *store.Store
	cache     *ScorerCache
	metrics   *Metrics
	authAPI   *AuthAPI
	modelsAPI *ModelsAPI
	scoreAPI  *ScoreAPI
	serverAPI *ServerAPI
	mux       *http.ServeMux
}

// NewServer builds the API server over an opened store. db must hold the
// auth schema.
func NewServer(config *Config, logger *slog.Logger, db *sql.DB, s *store.Store, actionChan chan string) *Server {
	cache := NewScorerCache(s, logger)
	metrics := NewMetrics(s, cache, logger)

	server := &Server{
		config:    config,
		logger:    logger,
		store:     s,
		cache:     cache,
		metrics:   metrics,
		authAPI:   NewAuthAPI(db, logger),
		modelsAPI: NewModelsAPI(config, s, cache, logger),
		scoreAPI:  NewScoreAPI(config, cache, metrics, logger),
		serverAPI: NewServerAPI(actionChan, logger),
		mux:       http.NewServeMux(),
	}

	apiMux := http.NewServeMux()
	server.authAPI.RegisterRoutes(apiMux)
	server.modelsAPI.RegisterRoutes(apiMux)
	server.scoreAPI.RegisterRoutes(apiMux)
	server.serverAPI.RegisterRoutes(apiMux)

	// Every api function must pass through authentication first
	server.mux.Handle("/api/", server.authAPI.Authenticate(apiMux))
	server.mux.Handle("/metrics", metrics.Handler())
	return server
}

// Handler returns the root handler with request logging applied.
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

// logRequests tags every request with an id and logs it once served.
func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(requestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(requestIDHeader, id)
		ctx := context.WithValue(r.Context(), contextKeyRequestID, id)

		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r.WithContext(ctx))

		s.logger.Debug("Request served",
			slog.String("request_id", id),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("remote_addr", r.RemoteAddr),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
		)
	})
}

// requestID returns the id logRequests attached to r, if any.
func requestID(r *http.Request) string {
	id, _ := r.Context().Value(contextKeyRequestID).(string)
	return id
}

// statusRecorder remembers the status code written through it.
type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (r *statusRecorder) WriteHeader(code int) {
	if !r.wroteHeader {
		r.status, r.wroteHeader = code, true
	}
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	r.wroteHeader = true
	return r.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}
