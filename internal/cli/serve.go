package cli

import (
	"context"
	"log"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"github.com/ytmeta/ytmeta/internal/core/config"
	"github.com/ytmeta/ytmeta/internal/server"
)

var (
	servePort      int
	serveHost      string
	serveOutputDir string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start an HTTP server that exposes yt-dlp metadata and downloads.

Examples:
  ytmeta serve              # Start server on port 8000
  ytmeta serve -p 9000      # Start server on port 9000
  ytmeta serve -o /srv/dl   # Stage finished downloads in /srv/dl

API Endpoints:
  GET  /health            # Liveness check
  POST /metadata          # {"url": "..."} -> video metadata
  POST /download          # {"url": "...", "quality": "720p"} -> video file
  GET  /metrics           # Prometheus metrics`,
	Args: cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		exitOnError(runServe())
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP listen port (default: 8000)")
	serveCmd.Flags().StringVar(&serveHost, "host", "", "address to bind (default: all interfaces)")
	serveCmd.Flags().StringVarP(&serveOutputDir, "output", "o", "", "directory for finished downloads (default: working directory)")

	rootCmd.AddCommand(serveCmd)
}

func runServe() error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	// flag > env > config file > default
	if servePort > 0 {
		cfg.Server.Port = servePort
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if serveOutputDir != "" {
		cfg.OutputDir = serveOutputDir
	}

	return runServer(cfg)
}

func runServer(cfg *config.Config) error {
	warnMissingYtDlp(cfg.YtDlp.Path)

	if dir, err := cfg.ResolveOutputDir(); err == nil {
		log.Printf("[server] downloads are staged in %s", dir)
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			return err
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.NewServer(newExtractor(cfg), server.Options{
		Addr:      cfg.Server.Addr(),
		OutputDir: cfg.OutputDir,
	})

	// Handle graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Shutting down server...")
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Stop(ctx)
	}()

	return srv.Start()
}

// warnMissingYtDlp only logs: /health must keep answering even without yt-dlp.
func warnMissingYtDlp(path string) {
	if path == "" {
		path = "yt-dlp"
	}
	if _, err := exec.LookPath(path); err != nil {
		log.Printf("[server] warning: %s not found, /metadata and /download will fail: %v", path, err)
	}
}
