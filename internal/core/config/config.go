package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	ConfigFileName = "config.yml"
	AppDirName     = "ytmeta"

	// DefaultPort matches the port the service has always been reached on.
	DefaultPort = 8000
)

// Environment variables that override values from config.yml
const (
	EnvPort      = "YTMETA_PORT"
	EnvHost      = "YTMETA_HOST"
	EnvOutputDir = "YTMETA_OUTPUT_DIR"
	EnvYtDlpPath = "YTMETA_YTDLP_PATH"
)

// proxyEnvKeys are checked in order; the first non-empty value wins.
var proxyEnvKeys = []string{
	"HTTPS_PROXY", "https_proxy",
	"HTTP_PROXY", "http_proxy",
	"ALL_PROXY", "all_proxy",
}

// ConfigDir returns the standard config directory for ytmeta.
// Windows: %APPDATA%\ytmeta\
// macOS/Linux: ~/.config/ytmeta/
func ConfigDir() (string, error) {
	if runtime.GOOS == "windows" {
		appData := os.Getenv("APPDATA")
		if appData != "" {
			return filepath.Join(appData, AppDirName), nil
		}
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", AppDirName), nil
}

// ConfigPath returns the path to the config file.
// e.g., ~/.config/ytmeta/config.yml
func ConfigPath() (string, error) {
	dir, err := ConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, ConfigFileName), nil
}

type Config struct {
	// Directory that finished downloads are moved into before being sent.
	// Empty means the process working directory.
	OutputDir string `yaml:"output_dir,omitempty"`

	// Proxy passed to yt-dlp (e.g., "socks5://127.0.0.1:1080")
	Proxy string `yaml:"proxy,omitempty"`

	// Server configuration for `ytmeta serve`
	Server ServerConfig `yaml:"server,omitempty"`

	// YtDlp configures the extraction program
	YtDlp YtDlpConfig `yaml:"ytdlp,omitempty"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	// Host to bind (default: all interfaces)
	Host string `yaml:"host,omitempty"`

	// Port is the HTTP listen port (default: 8000)
	Port int `yaml:"port,omitempty"`
}

// YtDlpConfig holds settings for the yt-dlp executable
type YtDlpConfig struct {
	// Path to the yt-dlp binary; empty means look it up in PATH
	Path string `yaml:"path,omitempty"`
}

// Addr returns the listen address for the HTTP server.
func (s ServerConfig) Addr() string {
	port := s.Port
	if port <= 0 {
		port = DefaultPort
	}
	return net.JoinHostPort(s.Host, strconv.Itoa(port))
}

// ResolveOutputDir returns the configured output directory, or the
// current working directory when none is set.
func (c *Config) ResolveOutputDir() (string, error) {
	if c.OutputDir != "" {
		return c.OutputDir, nil
	}
	return os.Getwd()
}

// DefaultConfig returns a config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Port: DefaultPort,
		},
	}
}

// Exists checks if config file exists
func Exists() bool {
	path, err := ConfigPath()
	if err != nil {
		return false
	}
	_, err = os.Stat(path)
	return err == nil
}

// Load reads the config from ~/.config/ytmeta/config.yml
func Load() (*Config, error) {
	path, err := ConfigPath()
	if err != nil {
		return nil, err
	}
	return LoadFile(path)
}

// LoadFile reads the config from an explicit path.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config file not found: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.OutputDir = expandPath(cfg.OutputDir)
	cfg.YtDlp.Path = expandPath(cfg.YtDlp.Path)

	return cfg, nil
}

// expandPath expands the tilde (~) in the path to the user's home directory.
// Both "~/" and "~\" are accepted so config files stay portable.
func expandPath(path string) string {
	if path == "" {
		return ""
	}

	if strings.HasPrefix(path, "~") {
		if len(path) == 1 || path[1] == '/' || path[1] == '\\' {
			home, err := os.UserHomeDir()
			if err == nil {
				subPath := path[1:]
				if len(subPath) > 0 && (subPath[0] == '/' || subPath[0] == '\\') {
					subPath = subPath[1:]
				}
				return filepath.Join(home, subPath)
			}
		}
	}

	return path
}

// ApplyEnv applies YTMETA_* and proxy overrides on top of cfg.
func ApplyEnv(cfg *Config) error {
	if v := os.Getenv(EnvPort); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil || port <= 0 || port > 65535 {
			return fmt.Errorf("invalid %s %q", EnvPort, v)
		}
		cfg.Server.Port = port
	}
	if v := os.Getenv(EnvHost); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv(EnvOutputDir); v != "" {
		cfg.OutputDir = expandPath(v)
	}
	if v := os.Getenv(EnvYtDlpPath); v != "" {
		cfg.YtDlp.Path = expandPath(v)
	}
	loadEnvProxy(cfg)
	return nil
}

// loadEnvProxy fills cfg.Proxy from the standard proxy variables when the
// config file does not set one.
func loadEnvProxy(cfg *Config) {
	if cfg.Proxy != "" {
		return
	}
	for _, key := range proxyEnvKeys {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			cfg.Proxy = v
			return
		}
	}
}

// Save writes the config to ~/.config/ytmeta/config.yml
func Save(cfg *Config) error {
	configPath, err := ConfigPath()
	if err != nil {
		return fmt.Errorf("failed to get config path: %w", err)
	}
	return SaveFile(cfg, configPath)
}

// SaveFile writes the config to path, creating parent directories.
func SaveFile(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	header := "# ytmeta configuration file\n# Run 'ytmeta init' to regenerate with defaults\n\n"
	content := header + string(data)

	return os.WriteFile(path, []byte(content), 0644)
}

// SavePath returns the path where config will be saved
func SavePath() string {
	if path, err := ConfigPath(); err == nil {
		return path
	}
	return ConfigFileName
}

// Init creates a new config.yml with default values
func Init() error {
	if Exists() {
		path, _ := ConfigPath()
		return fmt.Errorf("%s already exists", path)
	}
	return Save(DefaultConfig())
}

// LoadOrDefault loads config if it exists, otherwise returns defaults.
// A config file that exists but cannot be parsed is an error.
// Environment overrides are applied in both cases.
func LoadOrDefault() (*Config, error) {
	cfg, err := Load()
	if errors.Is(err, fs.ErrNotExist) {
		cfg = DefaultConfig()
	} else if err != nil {
		return nil, err
	}
	if err := ApplyEnv(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
