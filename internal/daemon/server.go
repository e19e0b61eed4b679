package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/gfreires/feira/internal/api"
	"github.com/gfreires/feira/internal/session"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// Server manages the control API lifecycle for a session daemon. It
// serves HTTP over the session's Unix domain socket.
type Server struct {
	httpServer *http.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a control server bound to the session's Unix domain
// socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	sessionSvc *api.SessionService,
	chatSvc *api.ChatService,
	messageSvc *api.MessageService,
	listingSvc *api.ListingService,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	sessionSvc.RegisterRoutes(r)
	chatSvc.RegisterRoutes(r)
	messageSvc.RegisterRoutes(r)
	listingSvc.RegisterRoutes(r)

	return &Server{
		httpServer: &http.Server{Handler: r},
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving control requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("control server starting", zap.String("socket", s.socketPath))
	err := s.httpServer.Serve(s.listener)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("control server stopping")
	_ = s.httpServer.Shutdown(ctx)
	_ = os.Remove(s.socketPath)
}
