package server

import (
	"context"
	"log"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/ytmeta/ytmeta/internal/core/extractor"
)

// Options configures a Server
type Options struct {
	// Addr is the listen address, e.g. ":8000"
	Addr string

	// OutputDir receives finished downloads before they are sent.
	// Empty means the process working directory at request time.
	OutputDir string

	// TempDir is the parent for per-request work directories (default: os.TempDir())
	TempDir string
}

// Server is the HTTP server for ytmeta
type Server struct {
	opts      Options
	extractor extractor.Extractor
	metrics   *Metrics
	server    *http.Server
	engine    *gin.Engine

	stopOnce sync.Once
	stopped  chan struct{} // closed once Shutdown has returned
}

// NewServer creates a server that delegates all extraction to ext
func NewServer(ext extractor.Extractor, opts Options) *Server {
	s := &Server{
		opts:      opts,
		extractor: ext,
		metrics:   NewMetrics(),
		stopped:   make(chan struct{}),
	}
	s.engine = s.routes()
	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.engine,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0, // No timeout for downloads
		IdleTimeout:  120 * time.Second,
	}
	return s
}

func (s *Server) routes() *gin.Engine {
	engine := gin.New()

	engine.Use(gin.Recovery())
	engine.Use(requestIDMiddleware())
	engine.Use(s.loggingMiddleware())
	engine.Use(corsMiddleware())

	engine.POST("/metadata", s.handleMetadata)
	engine.POST("/download", s.handleDownload)
	engine.GET("/health", s.handleHealth)
	engine.GET("/metrics", gin.WrapH(s.metrics.Handler()))

	return engine
}

// Handler returns the HTTP handler, mainly for tests
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Metrics returns the server's metrics collectors
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Start starts the HTTP server and blocks until it stops. After Stop it
// returns only once in-flight requests have drained.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.opts.Addr)
	if err != nil {
		return err
	}
	return s.Serve(ln)
}

// Serve is Start on an existing listener
func (s *Server) Serve(ln net.Listener) error {
	log.Printf("[server] listening on %s", ln.Addr())
	if s.opts.OutputDir != "" {
		log.Printf("[server] output directory: %s", s.opts.OutputDir)
	}

	err := s.server.Serve(ln)
	if err == http.ErrServerClosed {
		<-s.stopped
		return nil
	}
	return err
}

// Stop gracefully shuts down the server, waiting for in-flight requests
// until ctx is done.
func (s *Server) Stop(ctx context.Context) error {
	err := s.server.Shutdown(ctx)
	s.stopOnce.Do(func() { close(s.stopped) })
	if err != nil {
		log.Printf("[server] shutdown: %v", err)
	}
	return err
}

func (s *Server) outputDir() (string, error) {
	if s.opts.OutputDir != "" {
		return s.opts.OutputDir, nil
	}
	return os.Getwd()
}
