package main

import (
	"fmt"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/ClareAI/astra-comms-core/internal/config"
	"github.com/ClareAI/astra-comms-core/internal/handler"
	"github.com/ClareAI/astra-comms-core/pkg/logger"
	"github.com/gorilla/mux"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

// Server is the comms orchestration core process: telephony gateway,
// escalation engine, and the admin surface on one HTTP listener.
type Server struct {
	config         *config.Config
	router         *mux.Router
	handlerManager *handler.HandlerManager
}

// NewServer wires the full service graph. A nil return means boot
// configuration is incomplete; the process must not serve partially.
func NewServer(cfg *config.Config) *Server {
	// Initialize zap logger and redirect stdlib log to it
	if _, err := logger.Init(os.Getenv("LOG_ENV")); err != nil {
		logger.Base().Error("Failed to initialize zap logger, falling back to std log")
	}

	router := mux.NewRouter()

	// per-host connection limits for every outbound HTTP client in the
	// process (providers, Core Backend, recording fetches)
	if transport, ok := http.DefaultTransport.(*http.Transport); ok {
		transport.MaxConnsPerHost = cfg.HTTPPoolLimit
		transport.MaxIdleConnsPerHost = cfg.HTTPPoolLimit / 4
	}

	handlerManager, err := handler.NewHandlerManager(cfg)
	if err != nil {
		logger.Base().Error("Failed to initialize handler manager", zap.Error(err))
		return nil
	}

	handlerManager.SetupAllRoutes(router)

	return &Server{
		config:         cfg,
		router:         router,
		handlerManager: handlerManager,
	}
}

// Start runs the HTTP listener until it fails.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%s", s.config.Port)

	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	logger.Base().Info("Starting server", zap.String("addr", addr))
	return server.ListenAndServe()
}

func main() {
	// Load .env file for local development if it exists. This will not
	// override environment variables set by Helm/Docker.
	if err := godotenv.Load(); err != nil {
		log.Printf("Info: .env file not found or skipped (expected in production): %v", err)
	}

	cfg := config.Load()

	server := NewServer(cfg)
	if server == nil {
		log.Fatal("Failed to create server: missing or invalid configuration")
	}
	defer logger.Sync()
	logger.Base().Info("Server initialized successfully",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env))

	if err := server.Start(); err != nil {
		log.Fatalf("Server failed to start: %v", err)
	}
}
