package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/amaumene/nzbrelay/internal/api/handlers"
	"github.com/amaumene/nzbrelay/internal/api/middleware"
	"github.com/amaumene/nzbrelay/internal/config"
	"github.com/amaumene/nzbrelay/internal/controllers"
	"github.com/amaumene/nzbrelay/internal/dialog"
	"github.com/amaumene/nzbrelay/internal/models"
	"github.com/amaumene/nzbrelay/internal/services/targets"
)

// Server represents the HTTP server
type Server struct {
	server *http.Server
	ws     *handlers.WSHandler
	logger *logrus.Logger
}

// NewServer creates a new HTTP server
func NewServer(
	cfg *config.Config,
	pipeline *controllers.Pipeline,
	adapters []targets.Target,
	broker *dialog.Broker,
	db *models.Database,
	logger *logrus.Logger,
) *Server {
	s := &Server{logger: logger}

	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(logger)
	mux.HandleFunc("/health", healthHandler.ServeHTTP)

	submitHandler := handlers.NewSubmitHandler(pipeline, logger)
	mux.HandleFunc("/api/nzblnk", submitHandler.ServeHTTP)

	uploadHandler := handlers.NewUploadHandler(pipeline, cfg.Interception, logger)
	mux.HandleFunc("/api/upload", uploadHandler.ServeHTTP)

	acquisitionsHandler := handlers.NewAcquisitionsHandler(db, logger)
	mux.HandleFunc("/api/acquisitions", acquisitionsHandler.ServeHTTP)
	mux.HandleFunc("/api/acquisitions/", acquisitionsHandler.ServeHTTP)

	targetsHandler := handlers.NewTargetsHandler(adapters, logger)
	mux.HandleFunc("/api/targets/test", targetsHandler.ServeHTTP)

	s.ws = handlers.NewWSHandler(broker, logger)
	mux.HandleFunc("/ws", s.ws.ServeHTTP)

	s.server = &http.Server{
		Addr:        ":" + cfg.ServerPort,
		Handler:     middleware.Logging(mux, logger),
		ReadTimeout: 15 * time.Second,
		// No write timeout: dispatch of a large archive batch can
		// legitimately take longer than any fixed request deadline, and
		// websocket sessions are long-lived.
		IdleTimeout: 60 * time.Second,
	}

	return s
}

// NotificationSink returns the websocket broadcast sink for the notifier.
func (s *Server) NotificationSink() *handlers.WSHandler {
	return s.ws
}

// Start starts the HTTP server
func (s *Server) Start(ctx context.Context) error {
	s.logger.WithField("addr", s.server.Addr).Info("Starting HTTP server")

	errChan := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		return s.Shutdown(context.Background())
	}
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("Shutting down HTTP server")
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}
