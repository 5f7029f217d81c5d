package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/creativecareer/ccai/internal/api"
	"github.com/creativecareer/ccai/internal/session"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpcstatus "google.golang.org/grpc/status"
)

// ErrSocketInUse is returned when another process is serving on the socket.
var ErrSocketInUse = errors.New("socket already in use")

// Server serves the control API on the session's Unix socket.
type Server struct {
	grpc       *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer listens on the session socket, replacing a stale socket file
// left by a crashed daemon. The socket is readable only by its owner.
func NewServer(p Params, logger *zap.Logger, svc *api.Service) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = session.SocketPath(p.SessionName)
	}
	if err := clearStaleSocket(socketPath); err != nil {
		return nil, err
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", socketPath, err)
	}
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(logUnary(logger)),
		grpc.ChainStreamInterceptor(logStream(logger)),
	)
	api.RegisterMessengerServer(srv, svc)

	return &Server{
		grpc:       srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// clearStaleSocket removes path unless something still accepts on it.
func clearStaleSocket(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if c, err := net.DialTimeout("unix", path, 200*time.Millisecond); err == nil {
		_ = c.Close()
		return fmt.Errorf("%s: %w", path, ErrSocketInUse)
	}
	if err := os.Remove(path); err != nil {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	return nil
}

func logUnary(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logCall(logger, info.FullMethod, start, err)
		return resp, err
	}
}

func logStream(logger *zap.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		logger.Debug("stream opened", zap.String("method", info.FullMethod))
		start := time.Now()
		err := handler(srv, ss)
		logCall(logger, info.FullMethod, start, err)
		return err
	}
}

func logCall(logger *zap.Logger, method string, start time.Time, err error) {
	fields := []zap.Field{
		zap.String("method", method),
		zap.Duration("elapsed", time.Since(start)),
		zap.Stringer("code", grpcstatus.Code(err)),
	}
	if err != nil {
		logger.Info("rpc failed", append(fields, zap.Error(err))...)
		return
	}
	logger.Debug("rpc", fields...)
}

// Start serves until Stop. It blocks.
func (s *Server) Start() error {
	s.logger.Info("api listening", zap.String("socket", s.socketPath))
	return s.grpc.Serve(s.listener)
}

// Stop shuts down and removes the socket file. Open WatchEvents streams only
// end when their clients go away, so a graceful stop is bounded by ctx.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("api stopping")
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
		<-done
	}
	_ = os.Remove(s.socketPath)
}
