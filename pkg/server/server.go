package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/Layr-Labs/payout-snapshots-go/pkg/snapshot"
)

/*
Server exposes snapshots over HTTP.

Snapshot lifecycle:
  POST /v1/snapshots
    - Request: { name, chain_id, asset_address, block_number, ignored_holder_addresses, hash_function }
    - Stores a PENDING snapshot and returns its id (202)
    - The background processor scans Transfer logs, reads balances at the
      snapshot block and completes it as SUCCESS or FAILED

  POST /v1/snapshots/balances
    - Request: { name, chain_id, asset_address, block_number, hash_function, balances: [{address, balance}] }
    - Builds the tree synchronously and returns the completed snapshot (201)

Queries:
  GET    /v1/snapshots               - all snapshot summaries, oldest first
  GET    /v1/snapshots/{id}          - one summary
  GET    /v1/snapshots/{id}/tree     - full tree JSON, audit with merkle.AuditTreeView
  GET    /v1/snapshots/{id}/proof    - ?address=0x.. proof for a single holder
  DELETE /v1/snapshots/{id}          - remove a snapshot
  POST   /v1/verify                  - recompute a root from a leaf and its path
  GET    /health                     - persistence health

Reads and writes are throttled by separate token buckets. A request over its
budget gets 429.
*/

const (
	// maxRequestBodyBytes bounds request bodies, explicit balance lists included
	maxRequestBodyBytes = 32 << 20

	shutdownTimeout = 5 * time.Second
)

// Config configures the HTTP server
type Config struct {
	Port int
	// ReadRPS and WriteRPS are sustained request rates. Zero disables the limit.
	ReadRPS  float64
	WriteRPS float64
}

// Server handles HTTP requests for the snapshot service
type Server struct {
	service    *snapshot.Service
	httpServer *http.Server
	logger     *zap.Logger

	readLimiter  *rate.Limiter
	writeLimiter *rate.Limiter
}

// NewServer creates a new server instance
func NewServer(cfg *Config, service *snapshot.Service, logger *zap.Logger) *Server {
	s := &Server{
		service:      service,
		logger:       logger,
		readLimiter:  newLimiter(cfg.ReadRPS),
		writeLimiter: newLimiter(cfg.WriteRPS),
	}

	mux := http.NewServeMux()

	// Snapshot endpoints
	mux.HandleFunc("GET /v1/snapshots", s.read(s.handleListSnapshots))
	mux.HandleFunc("POST /v1/snapshots", s.write(s.handleCreateSnapshot))
	mux.HandleFunc("POST /v1/snapshots/balances", s.write(s.handleCreateSnapshotFromBalances))
	mux.HandleFunc("GET /v1/snapshots/{id}", s.read(s.handleGetSnapshot))
	mux.HandleFunc("DELETE /v1/snapshots/{id}", s.write(s.handleDeleteSnapshot))

	// Tree and proof endpoints
	mux.HandleFunc("GET /v1/snapshots/{id}/tree", s.read(s.handleGetTree))
	mux.HandleFunc("GET /v1/snapshots/{id}/proof", s.read(s.handleGetProof))
	mux.HandleFunc("POST /v1/verify", s.read(s.handleVerify))

	mux.HandleFunc("GET /health", s.handleHealth)

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.logRequests(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}

	return s
}

func newLimiter(rps float64) *rate.Limiter {
	if rps <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := int(rps)
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(rps), burst)
}

// Start starts the HTTP server
func (s *Server) Start() error {
	go func() {
		s.logger.Sugar().Infow("Starting HTTP server", "port", s.httpServer.Addr)
		if err := s.httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			s.logger.Sugar().Errorw("HTTP server error", "error", err)
		}
	}()
	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop() error {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return s.httpServer.Shutdown(ctx)
}

// GetHandler returns the HTTP handler (for testing)
func (s *Server) GetHandler() http.Handler {
	return s.httpServer.Handler
}
