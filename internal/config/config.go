package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const (
	// Mode constants
	ModeStdio  = "stdio"
	ModeServer = "server"

	// Default values
	DefaultPort           = 8080
	DefaultHost           = "127.0.0.1"
	DefaultLogLevel       = "info"
	DefaultMaxFileSize    = 100 * 1024 * 1024 // 100MB
	DefaultDashboardURL   = "http://localhost:3000/ead"
	DefaultCaptureTimeout = 12 * time.Second

	// CacheDisabled as the cache URL turns the cache collaborator off
	CacheDisabled = "none"

	// Directory permissions
	DefaultDirPerm = 0o750
)

// Config holds all configuration for the report service
type Config struct {
	// Server configuration
	Mode string // "server" or "stdio"
	Host string
	Port int

	// Report sources
	DashboardURL  string
	DataDirectory string
	LayoutFile    string

	// Cache collaborator: empty uses the local store in CacheDirectory, an
	// http(s) URL a remote collaborator, CacheDisabled none at all
	CacheURL       string
	CacheDirectory string

	// Output of the report_generate tool
	OutputDirectory string

	// Render source
	BrowserBin     string
	Headless       bool
	CaptureTimeout time.Duration

	// Application configuration
	ConfigFile  string
	Version     string
	ServerName  string
	LogLevel    string
	MaxFileSize int64 // Maximum appendix and cached document size in bytes
}

// DefaultConfig returns a configuration with sensible defaults
func DefaultConfig() *Config {
	currentDir, err := os.Getwd()
	if err != nil {
		// Fallback to current directory if working directory cannot be determined
		currentDir = "."
	}

	return &Config{
		Mode:            ModeStdio, // Default to stdio mode for MCP compatibility
		Host:            DefaultHost,
		Port:            DefaultPort,
		DashboardURL:    DefaultDashboardURL,
		DataDirectory:   currentDir,
		CacheDirectory:  filepath.Join(currentDir, ".avalia-cache"),
		OutputDirectory: filepath.Join(currentDir, "relatorios"),
		Headless:        true,
		CaptureTimeout:  DefaultCaptureTimeout,
		Version:         "1.0.0",
		ServerName:      "avalia-report",
		LogLevel:        DefaultLogLevel,
		MaxFileSize:     DefaultMaxFileSize,
	}
}

// LoadFromFlags parses command line flags and returns a configuration
func LoadFromFlags() (*Config, error) {
	cfg := DefaultConfig()

	setupViperEnvironment(cfg)
	defineCommandLineFlags(cfg)
	bindFlagsToViper()
	setupUsageMessage()

	// Check for version flag before parsing
	if err := checkVersionFlag(); err != nil {
		return nil, err
	}

	pflag.Parse()

	if file := viper.GetString("config"); file != "" {
		viper.SetConfigFile(file)
		if err := viper.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", file, err)
		}
	}

	populateConfigFromViper(cfg)
	cfg.expandPaths()

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// setupViperEnvironment configures viper with environment variables and defaults
func setupViperEnvironment(cfg *Config) {
	// Set environment variable prefix
	viper.SetEnvPrefix("AVALIA")
	viper.AutomaticEnv()

	viper.SetDefault("mode", cfg.Mode)
	viper.SetDefault("host", cfg.Host)
	viper.SetDefault("port", cfg.Port)
	viper.SetDefault("dashboard", cfg.DashboardURL)
	viper.SetDefault("datadir", cfg.DataDirectory)
	viper.SetDefault("layout", cfg.LayoutFile)
	viper.SetDefault("cache", cfg.CacheURL)
	viper.SetDefault("cachedir", cfg.CacheDirectory)
	viper.SetDefault("outdir", cfg.OutputDirectory)
	viper.SetDefault("browser", cfg.BrowserBin)
	viper.SetDefault("headless", cfg.Headless)
	viper.SetDefault("capturetimeout", cfg.CaptureTimeout)
	viper.SetDefault("loglevel", cfg.LogLevel)
	viper.SetDefault("maxfilesize", cfg.MaxFileSize)
	viper.SetDefault("config", "")
}

// defineCommandLineFlags sets up all command line flags
func defineCommandLineFlags(cfg *Config) {
	pflag.String("mode", cfg.Mode, "Server mode: 'stdio' for MCP standard I/O, 'server' for HTTP server")
	pflag.String("host", cfg.Host, "Server host address (server mode only)")
	pflag.Int("port", cfg.Port, "Server port (server mode only)")
	pflag.String("dashboard", cfg.DashboardURL, "Address of the AVALIA dashboard rendered into reports")
	pflag.String("datadir", cfg.DataDirectory, "Directory with the survey response files and report assets")
	pflag.String("layout", cfg.LayoutFile, "Report layout file (embedded layout when empty)")
	pflag.String("cache", cfg.CacheURL, "Cache collaborator URL; empty uses the local store, 'none' disables caching")
	pflag.String("cachedir", cfg.CacheDirectory, "Directory of the local report cache")
	pflag.String("outdir", cfg.OutputDirectory, "Directory generated reports are written to")
	pflag.String("browser", cfg.BrowserBin, "Chromium binary (downloaded when empty)")
	pflag.Bool("headless", cfg.Headless, "Run the browser without a window")
	pflag.Duration("capturetimeout", cfg.CaptureTimeout, "How long to wait for each chart to become visible")
	pflag.String("loglevel", cfg.LogLevel, "Log level (debug, info, warn, error)")
	pflag.Int64("maxfilesize", cfg.MaxFileSize, "Maximum appendix and cached report size in bytes")
	pflag.String("config", "", "Optional configuration file (yaml, json or toml)")
}

// bindFlagsToViper binds command line flags to viper configuration
func bindFlagsToViper() {
	for _, name := range []string{
		"mode", "host", "port", "dashboard", "datadir", "layout", "cache", "cachedir",
		"outdir", "browser", "headless", "capturetimeout", "loglevel", "maxfilesize", "config",
	} {
		_ = viper.BindPFlag(name, pflag.Lookup(name))
	}
}

// setupUsageMessage configures the custom usage message
func setupUsageMessage() {
	pflag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage of %s:\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nAVALIA Report - PDF reports of the AVALIA dashboard\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		pflag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s                                            "+
			"# MCP over stdio (default)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --mode=server --datadir=/srv/avalia        # HTTP API and cache\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --dashboard=https://avalia.example/ead     # another dashboard\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_MODE            Server mode\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_HOST            Server host\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_PORT            Server port\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_DASHBOARD       Dashboard address\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_DATADIR         Data directory\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_CACHE           Cache collaborator URL\n")
		fmt.Fprintf(os.Stderr, "  AVALIA_LOGLEVEL        Log level\n")
	}
}

// checkVersionFlag checks if version flag was requested
func checkVersionFlag() error {
	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" || arg == "-v" {
			return fmt.Errorf("version requested")
		}
	}
	return nil
}

// populateConfigFromViper fills the config struct with values from viper
func populateConfigFromViper(cfg *Config) {
	cfg.Mode = viper.GetString("mode")
	cfg.Host = viper.GetString("host")
	cfg.Port = viper.GetInt("port")
	cfg.DashboardURL = viper.GetString("dashboard")
	cfg.DataDirectory = viper.GetString("datadir")
	cfg.LayoutFile = viper.GetString("layout")
	cfg.CacheURL = viper.GetString("cache")
	cfg.CacheDirectory = viper.GetString("cachedir")
	cfg.OutputDirectory = viper.GetString("outdir")
	cfg.BrowserBin = viper.GetString("browser")
	cfg.Headless = viper.GetBool("headless")
	cfg.CaptureTimeout = viper.GetDuration("capturetimeout")
	cfg.LogLevel = viper.GetString("loglevel")
	cfg.MaxFileSize = viper.GetInt64("maxfilesize")
	cfg.ConfigFile = viper.GetString("config")
}

func (c *Config) expandPaths() {
	for _, p := range []*string{&c.DataDirectory, &c.CacheDirectory, &c.OutputDirectory, &c.LayoutFile} {
		if *p == "" {
			continue
		}
		if abs, err := filepath.Abs(*p); err == nil {
			*p = abs
		}
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate mode
	if c.Mode != ModeStdio && c.Mode != ModeServer {
		return errors.New("mode must be either 'stdio' or 'server'")
	}

	// Validate port range (only for server mode)
	if c.Mode == ModeServer && (c.Port < 1 || c.Port > 65535) {
		return errors.New("port must be between 1 and 65535")
	}

	if err := validateHTTPURL("dashboard", c.DashboardURL); err != nil {
		return err
	}
	if c.CacheURL != "" && c.CacheURL != CacheDisabled {
		if err := validateHTTPURL("cache", c.CacheURL); err != nil {
			return err
		}
	}

	// The data directory holds the survey responses and must already exist
	if c.DataDirectory == "" {
		return errors.New("data directory cannot be empty")
	}
	if info, err := os.Stat(c.DataDirectory); err != nil {
		return fmt.Errorf("cannot access data directory %s: %w", c.DataDirectory, err)
	} else if !info.IsDir() {
		return fmt.Errorf("data directory %s is not a directory", c.DataDirectory)
	}

	if c.OutputDirectory == "" {
		return errors.New("output directory cannot be empty")
	}
	if err := ensureDir(c.OutputDirectory); err != nil {
		return err
	}
	if c.UsesLocalCache() {
		if c.CacheDirectory == "" {
			return errors.New("cache directory cannot be empty")
		}
		if err := ensureDir(c.CacheDirectory); err != nil {
			return err
		}
	}

	if c.CaptureTimeout <= 0 {
		return errors.New("capture timeout must be positive")
	}

	// Validate max file size
	if c.MaxFileSize <= 0 {
		return errors.New("maximum file size must be positive")
	}

	// Validate log level
	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", c.LogLevel)
	}

	return nil
}

func validateHTTPURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid %s url %q: %w", name, raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%s url must be an absolute http(s) address, got %q", name, raw)
	}
	return nil
}

// ensureDir creates dir when it does not exist yet
func ensureDir(dir string) error {
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, DefaultDirPerm); err != nil {
			return fmt.Errorf("cannot create directory %s: %w", dir, err)
		}
	} else if err != nil {
		return fmt.Errorf("cannot access directory %s: %w", dir, err)
	}
	return nil
}

// Address returns the server address as host:port
func (c *Config) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// PublicURL is the base address clients reach this server at
func (c *Config) PublicURL() string {
	host := c.Host
	if host == "" || host == "0.0.0.0" {
		host = "localhost"
	}
	return fmt.Sprintf("http://%s:%d", host, c.Port)
}

// UsesLocalCache reports whether reports are cached in CacheDirectory
func (c *Config) UsesLocalCache() bool {
	return c.CacheURL == ""
}

// CacheEnabled reports whether any cache collaborator is configured
func (c *Config) CacheEnabled() bool {
	return c.CacheURL != CacheDisabled
}

// IsDebug returns true if debug logging is enabled
func (c *Config) IsDebug() bool {
	return c.LogLevel == "debug"
}

// String returns a string representation of the configuration
func (c *Config) String() string {
	return fmt.Sprintf("Config{Mode: %s, Host: %s, Port: %d, Dashboard: %s, DataDirectory: %s, Cache: %q, "+
		"OutputDirectory: %s, LogLevel: %s, MaxFileSize: %d}",
		c.Mode, c.Host, c.Port, c.DashboardURL, c.DataDirectory, c.CacheURL,
		c.OutputDirectory, c.LogLevel, c.MaxFileSize)
}

// IsServerMode returns true if the server is running in HTTP server mode
func (c *Config) IsServerMode() bool {
	return c.Mode == ModeServer
}

// IsStdioMode returns true if the server is running in stdio mode
func (c *Config) IsStdioMode() bool {
	return c.Mode == ModeStdio
}
