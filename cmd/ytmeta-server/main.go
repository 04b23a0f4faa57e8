package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/ytmeta/ytmeta/internal/core/config"
	"github.com/ytmeta/ytmeta/internal/core/extractor"
	"github.com/ytmeta/ytmeta/internal/core/version"
	"github.com/ytmeta/ytmeta/internal/server"
)

func main() {
	// Command-line flags
	port := flag.Int("port", 0, "HTTP listen port (default: 8000)")
	output := flag.String("output", "", "directory for finished downloads (default: working directory)")
	showVersion := flag.Bool("version", false, "show version")
	flag.Parse()

	if *showVersion {
		fmt.Printf("ytmeta-server %s\n", version.Version)
		return
	}

	_ = godotenv.Load()

	cfg, err := config.LoadOrDefault()
	if err != nil {
		log.Fatalf("Config error: %v", err)
	}

	// flag > env > config > default
	if *port > 0 {
		cfg.Server.Port = *port
	}
	if *output != "" {
		cfg.OutputDir = *output
	}
	if cfg.OutputDir != "" {
		if err := os.MkdirAll(cfg.OutputDir, 0755); err != nil {
			log.Fatalf("Output directory: %v", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)
	srv := server.NewServer(extractor.NewYtDlp(cfg.YtDlp.Path, cfg.Proxy), server.Options{
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

	if err := srv.Start(); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}
