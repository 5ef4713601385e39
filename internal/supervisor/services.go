package supervisor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/thejerf/suture/v4"

	"github.com/PratikDhanave/ato-scoring-service/internal/logging"
)

// HTTPServer matches the lifecycle methods of *http.Server.
type HTTPServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// HTTPServerService runs an HTTP server as a supervised service.
type HTTPServerService struct {
	server          HTTPServer
	shutdownTimeout time.Duration
}

func NewHTTPServerService(server HTTPServer, shutdownTimeout time.Duration) *HTTPServerService {
	if shutdownTimeout <= 0 {
		shutdownTimeout = 10 * time.Second
	}
	return &HTTPServerService{server: server, shutdownTimeout: shutdownTimeout}
}

// Serve returns ctx.Err() after a graceful shutdown. A listen failure is
// returned as an error, which makes suture restart the service.
func (h *HTTPServerService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := h.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), h.shutdownTimeout)
		defer cancel()
		if err := h.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http server shutdown failed: %w", err)
		}
		<-errCh
		return ctx.Err()
	}
}

func (h *HTTPServerService) String() string { return "http-server" }

// Runner is implemented by *stream.Router.
type Runner interface {
	Run(ctx context.Context) error
	Close() error
}

// RouterService runs the stream router. A Watermill router cannot be
// restarted once closed, so an unexpected exit terminates the tree and the
// process; the orchestrator restarts the worker.
type RouterService struct {
	router Runner
}

func NewRouterService(r Runner) *RouterService {
	return &RouterService{router: r}
}

func (s *RouterService) Serve(ctx context.Context) error {
	err := s.router.Run(ctx)
	if ctx.Err() != nil {
		_ = s.router.Close()
		return ctx.Err()
	}
	logging.Error().Err(err).Msg("stream router stopped unexpectedly")
	return suture.ErrTerminateSupervisorTree
}

func (s *RouterService) String() string { return "stream-router" }
