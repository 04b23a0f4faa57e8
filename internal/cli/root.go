package cli

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/ytmeta/ytmeta/internal/core/config"
	"github.com/ytmeta/ytmeta/internal/core/extractor"
	"github.com/ytmeta/ytmeta/internal/core/version"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:          "ytmeta",
	Short:        "Video metadata and download service backed by yt-dlp",
	Version:      version.Version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "config file (default: ~/.config/ytmeta/config.yml)")
}

func Execute() error {
	return rootCmd.Execute()
}

// loadConfig resolves configuration: .env, then config file, then environment
func loadConfig() (*config.Config, error) {
	// .env is optional; variables may be set directly
	_ = godotenv.Load()

	if configFile == "" {
		return config.LoadOrDefault()
	}

	cfg, err := config.LoadFile(configFile)
	if err != nil {
		return nil, err
	}
	if err := config.ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newExtractor(cfg *config.Config) *extractor.YtDlp {
	return extractor.NewYtDlp(cfg.YtDlp.Path, cfg.Proxy)
}

func exitOnError(err error) {
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
