package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"modelrelay/internal/config"
	"modelrelay/internal/logging"
	"modelrelay/internal/proxy"
	"modelrelay/internal/types"
)

// ErrBind marks a failure to bind the listen address, so the caller can map
// it to its own exit code.
var ErrBind = errors.New("bind failure")

// Server owns the inbound HTTP surface and the compiled routing state.
type Server struct {
	cfg    *config.Config
	router *proxy.Router
	audit  *logging.Auditor
	log    *zap.Logger
	server *http.Server
}

// New compiles the config into a ready-to-serve instance.
func New(cfg *config.Config, log *zap.Logger) (*Server, error) {
	router, err := proxy.NewRouter(cfg, log)
	if err != nil {
		return nil, err
	}
	return &Server{
		cfg:    cfg,
		router: router,
		audit:  logging.NewAuditor(log, cfg.Logging),
		log:    log,
	}, nil
}

// Handler builds the route table. Unknown paths fall through to the mux 404;
// wrong methods get a 405 whose error body has the OpenAI shape on every
// path, /v1/messages included.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			methodNotAllowed(w, http.MethodGet)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	mux.HandleFunc("/models", s.handleModels)

	mux.HandleFunc("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		s.handleProxy(w, r, types.DialectOpenAI)
	})
	mux.HandleFunc("/v1/messages", func(w http.ResponseWriter, r *http.Request) {
		s.handleProxy(w, r, types.DialectAnthropic)
	})

	return cors.AllowAll().Handler(mux)
}

// Start binds the configured address and serves until SIGINT or SIGTERM,
// then shuts down gracefully.
func (s *Server) Start() error {
	addr := s.cfg.Server.Addr()

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("%w: %s: %v", ErrBind, addr, err)
	}

	s.server = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("Starting modelrelay", zap.String("addr", addr), zap.Strings("models", s.router.Models()))
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-stop:
	}

	s.log.Info("Shutting down")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.server.Shutdown(ctx)
}

func methodNotAllowed(w http.ResponseWriter, allow string) {
	w.Header().Set("Allow", allow)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusMethodNotAllowed)
	w.Write([]byte(`{"error":{"message":"method not allowed","type":"invalid_request_error","code":405}}`))
}
