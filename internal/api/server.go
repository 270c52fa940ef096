// Package api provides the HTTP and gRPC servers for evalgate, exposing
// promotion records, evaluation history and pre-trade risk checks.
package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"

	"evalgate/internal/engine"
	"evalgate/internal/metrics"
	"evalgate/internal/promotion"
	"evalgate/internal/store"
)

const shutdownTimeout = 5 * time.Second

// Server is the main API server that hosts HTTP and gRPC endpoints.
type Server struct {
	promoter    *promotion.Promoter
	gate        *engine.RiskGate
	sectors     map[string]string
	evaluations store.EvaluationStore
	metrics     *metrics.Metrics
	log         *slog.Logger
}

// NewServer creates a Server over the given components. sectors is the
// default symbol-to-sector map for risk checks that do not carry one. m and
// log may be nil.
func NewServer(
	promoter *promotion.Promoter,
	gate *engine.RiskGate,
	sectors map[string]string,
	evaluations store.EvaluationStore,
	m *metrics.Metrics,
	log *slog.Logger,
) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		promoter:    promoter,
		gate:        gate,
		sectors:     sectors,
		evaluations: evaluations,
		metrics:     m,
		log:         log.With("component", "api"),
	}
}

// GRPCServer returns a gRPC server with the Promotion service registered.
func (s *Server) GRPCServer() *grpc.Server {
	g := grpc.NewServer()
	RegisterPromotionServer(g, &promotionService{srv: s})
	return g
}

// ListenAndServe starts the HTTP listener on httpAddr and the gRPC
// listener on grpcAddr, and blocks until ctx is cancelled or either server
// fails. An empty grpcAddr disables gRPC. Both servers are stopped
// gracefully before it returns.
func (s *Server) ListenAndServe(ctx context.Context, httpAddr, grpcAddr string) error {
	httpServer := &http.Server{
		Addr:              httpAddr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	grpcServer := s.GRPCServer()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.log.Info("HTTP server listening", "addr", httpAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if grpcAddr != "" {
		lis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return fmt.Errorf("grpc listen %s: %w", grpcAddr, err)
		}
		g.Go(func() error {
			s.log.Info("gRPC server listening", "addr", grpcAddr)
			return grpcServer.Serve(lis)
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		s.log.Info("shutting down API servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		grpcServer.GracefulStop()
		return httpServer.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
