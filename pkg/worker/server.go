// Package worker is the in-container HTTP agent in front of the interpreter
// kernel. The gateway is its only client; the service is never exposed
// publicly.
package worker

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"k8s.io/klog/v2"

	"github.com/openinterp/code-interpreter/pkg/logs"
	"github.com/openinterp/code-interpreter/pkg/worker/kernel"
)

type ServerConfig struct {
	Port             int
	JupyterHost      string
	ExecutionTimeout time.Duration
}

type Server struct {
	engine    *gin.Engine
	config    ServerConfig
	kernel    *kernel.Manager
	startTime time.Time
}

func NewServer(config ServerConfig) *Server {
	if config.Port <= 0 {
		config.Port = 8000
	}
	if config.JupyterHost == "" {
		config.JupyterHost = "127.0.0.1:8888"
	}
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = 10 * time.Second
	}

	gin.SetMode(gin.ReleaseMode)
	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(setupCORS())

	s := &Server{
		engine:    engine,
		config:    config,
		kernel:    kernel.NewManager(config.JupyterHost, config.ExecutionTimeout),
		startTime: time.Now(),
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.engine.GET("/health", s.Health)
	s.engine.POST("/execute", s.Execute)
	s.engine.POST("/reset", s.Reset)
	s.engine.GET("/api/v1/metrics", s.Metrics)
}

// Run starts the kernel, serves until SIGINT/SIGTERM, then shuts the kernel
// down with the server.
func (s *Server) Run() error {
	ctx := logs.NewContext()
	log := klog.FromContext(ctx)

	if err := s.kernel.Start(ctx); err != nil {
		return fmt.Errorf("failed to start kernel: %w", err)
	}

	addr := fmt.Sprintf("0.0.0.0:%d", s.config.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Info("worker agent is starting", "addr", addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error(err, "worker agent listen error", "addr", addr)
		}
	}()

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	<-ch
	log.Info("shutting down worker agent")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "worker agent forced to shut down")
		return err
	}
	s.kernel.Close(ctx)
	return nil
}

func setupCORS() gin.HandlerFunc {
	config := cors.Config{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{
			http.MethodHead,
			http.MethodGet,
			http.MethodPost,
		},
		AllowHeaders:     []string{"*"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}
	return cors.New(config)
}
