// Package service exposes the coordinator over HTTP.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/log"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/sharding-experiment/facilitator/internal/coordinator"
	"github.com/sharding-experiment/facilitator/internal/journal"
	"github.com/sharding-experiment/facilitator/internal/metrics"
	"github.com/sharding-experiment/facilitator/internal/protocol"
)

const (
	RequestIDHeader = "X-Request-ID"

	// MaxBodyBytes bounds request bodies.
	MaxBodyBytes = 1 << 20

	DefaultRequestTimeout = 2 * time.Minute
)

// Service serves coordinator operations.
type Service struct {
	router  *mux.Router
	coord   *coordinator.Coordinator
	journal *journal.Journal
	metrics *metrics.Metrics
	timeout time.Duration
	logger  log.Logger

	mu     sync.Mutex
	server *http.Server
}

// NewService wires the routes. journal and metrics may be nil; a zero
// timeout uses DefaultRequestTimeout.
func NewService(coord *coordinator.Coordinator, j *journal.Journal, m *metrics.Metrics, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = DefaultRequestTimeout
	}
	s := &Service{
		router:  mux.NewRouter(),
		coord:   coord,
		journal: j,
		metrics: m,
		timeout: timeout,
		logger:  log.New("component", "service"),
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP router for testing
func (s *Service) Router() *mux.Router {
	return s.router
}

func (s *Service) setupRoutes() {
	s.router.Use(s.requestID)
	s.router.Use(func(next http.Handler) http.Handler {
		return s.metrics.InstrumentHandler(routeTemplate, next)
	})

	s.router.HandleFunc("/stake", s.handle(s.stake)).Methods("POST")
	s.router.HandleFunc("/stake/confirm", s.handle(s.confirmStake)).Methods("POST")
	s.router.HandleFunc("/stake/progress", s.handle(s.progressStakeComposite)).Methods("POST")
	s.router.HandleFunc("/stake/progress/origin", s.handle(s.progressStake)).Methods("POST")
	s.router.HandleFunc("/stake/progress/auxiliary", s.handle(s.progressMint)).Methods("POST")

	s.router.HandleFunc("/redeem", s.handle(s.redeem)).Methods("POST")
	s.router.HandleFunc("/redeem/confirm", s.handle(s.confirmRedeem)).Methods("POST")
	s.router.HandleFunc("/redeem/progress", s.handle(s.progressRedeemComposite)).Methods("POST")
	s.router.HandleFunc("/redeem/progress/auxiliary", s.handle(s.progressRedeem)).Methods("POST")
	s.router.HandleFunc("/redeem/progress/origin", s.handle(s.progressUnstake)).Methods("POST")

	s.router.HandleFunc("/messages/{hash}/status", s.handle(s.status)).Methods("GET")
	s.router.HandleFunc("/messages/{hash}/journal", s.handle(s.steps)).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if s.metrics != nil {
		s.router.Handle("/metrics", s.metrics.Handler()).Methods("GET")
	}
}

// Start serves on port until Shutdown.
func (s *Service) Start(port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.mu.Lock()
	s.server = srv
	s.mu.Unlock()

	s.logger.Info("Facilitator starting", "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops a started server, waiting for in-flight requests.
func (s *Service) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	srv := s.server
	s.mu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// requestID propagates or assigns X-Request-ID.
func (s *Service) requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if _, err := uuid.Parse(id); err != nil {
			id = uuid.New().String()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r)
	})
}

// operation runs one coordinator call. A non-nil result returned together
// with an error is a partial result and is included in the error body.
type operation func(ctx context.Context, r *http.Request) (interface{}, error)

func (s *Service) handle(op operation) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
		defer cancel()

		result, err := op(ctx, r)
		if err != nil {
			s.logger.Debug("Request failed", "path", r.URL.Path, "id", w.Header().Get(RequestIDHeader), "err", err)
			writeError(w, err, result)
			return
		}
		writeJSON(w, http.StatusOK, result)
	}
}

func (s *Service) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	ledgers, err := s.coord.Health(ctx)
	resp := map[string]interface{}{"status": "ok", "ledgers": ledgers}
	if err != nil {
		resp["status"] = "degraded"
		resp["error"] = err.Error()
		writeJSON(w, http.StatusServiceUnavailable, resp)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func decode(r *http.Request, into interface{}) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, MaxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		return &protocol.ValidationError{Field: "body", Reason: err.Error()}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
