// Package api serves the swap HTTP surface: executeSwap, checkSwapStatus,
// the journal listing, a WebSocket event feed, metrics and health.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/klingon-exchange/klingon-fusion/internal/config"
	"github.com/klingon-exchange/klingon-fusion/internal/metrics"
	"github.com/klingon-exchange/klingon-fusion/internal/storage"
	"github.com/klingon-exchange/klingon-fusion/internal/swap"
	"github.com/klingon-exchange/klingon-fusion/pkg/logging"
)

// Swapper runs a swap with a bounded poll budget.
type Swapper interface {
	InitiateSwapSession(ctx context.Context, req swap.Request, maxPolls int) (*swap.Result, *swap.Session, error)
	OnEvent(handler swap.EventHandler)
}

// Adopter continues polling sessions the handler gave up on.
type Adopter interface {
	Adopt(sess *swap.Session) bool
}

// SwapLister lists journaled swaps.
type SwapLister interface {
	ListSwaps(limit int) ([]*storage.SwapRecord, error)
}

// Config wires the server to the orchestrator and its collaborators.
// Worker and Journal are optional.
type Config struct {
	Swapper  Swapper
	Status   swap.StatusReader
	Worker   Adopter
	Journal  SwapLister
	Route    config.RouteConfig
	MaxPolls int
}

// Server is the HTTP API server.
type Server struct {
	swapper  Swapper
	status   swap.StatusReader
	worker   Adopter
	journal  SwapLister
	route    config.RouteConfig
	maxPolls int

	log   *logging.Logger
	wsHub *WSHub

	server   *http.Server
	listener net.Listener
}

// NewServer creates the server and subscribes its WebSocket hub to swap events.
func NewServer(cfg *Config) (*Server, error) {
	if cfg.Swapper == nil || cfg.Status == nil {
		return nil, errors.New("api: swapper and status reader are required")
	}

	s := &Server{
		swapper:  cfg.Swapper,
		status:   cfg.Status,
		worker:   cfg.Worker,
		journal:  cfg.Journal,
		route:    cfg.Route,
		maxPolls: cfg.MaxPolls,
		log:      logging.GetDefault().Component("api"),
		wsHub:    NewWSHub(),
	}

	s.swapper.OnEvent(func(e swap.SwapEvent) {
		s.wsHub.Broadcast(e.EventType, e)
	})
	return s, nil
}

// Handler returns the routed handler wrapped in CORS.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/executeSwap", s.handleExecuteSwap)
	mux.HandleFunc("/api/checkSwapStatus", s.handleCheckSwapStatus)
	mux.HandleFunc("/api/swaps", s.handleListSwaps)
	mux.HandleFunc("GET /ws", s.handleWS)
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", s.handleHealth)
	return corsMiddleware(mux)
}

// Start starts the API server.
func (s *Server) Start(addr string) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	s.listener = listener

	go s.wsHub.Run()

	// executeSwap holds the connection for the whole bounded poll loop
	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      5 * time.Minute,
	}

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server error", "error", err)
		}
	}()

	s.log.Info("API server started", "addr", listener.Addr().String(), "ws", "ws://"+listener.Addr().String()+"/ws")
	return nil
}

// Addr returns the bound address once started.
func (s *Server) Addr() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// Stop stops the API server.
func (s *Server) Stop() error {
	s.wsHub.Close()
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.server.Shutdown(ctx)
	}
	return nil
}

// corsMiddleware adds CORS headers to all responses.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin == "" {
			origin = "*"
		}

		w.Header().Set("Access-Control-Allow-Origin", origin)
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Allow-Credentials", "true")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}
