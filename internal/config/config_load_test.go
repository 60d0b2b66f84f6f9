package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Helper function to reset pflag.CommandLine for testing
func resetFlags() {
	pflag.CommandLine = pflag.NewFlagSet(os.Args[0], pflag.ExitOnError)
	viper.Reset()
}

// withArgs runs LoadFromFlags with args after the program name. Directories
// default to a temp dir so nothing is created in the package directory.
func withArgs(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	originalArgs := os.Args
	t.Cleanup(func() {
		os.Args = originalArgs
		resetFlags()
	})

	dir := t.TempDir()
	base := []string{
		"avalia-report",
		"--datadir=" + dir,
		"--outdir=" + filepath.Join(dir, "out"),
		"--cachedir=" + filepath.Join(dir, "cache"),
	}
	os.Args = append(base, args...)
	resetFlags()
	return LoadFromFlags()
}

func TestLoadFromFlags_Defaults(t *testing.T) {
	cfg, err := withArgs(t)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.Mode != ModeStdio {
		t.Errorf("Mode = %v, want stdio", cfg.Mode)
	}
	if cfg.Port != DefaultPort {
		t.Errorf("Port = %v, want %v", cfg.Port, DefaultPort)
	}
	if cfg.CaptureTimeout != DefaultCaptureTimeout {
		t.Errorf("CaptureTimeout = %v, want %v", cfg.CaptureTimeout, DefaultCaptureTimeout)
	}
	if !filepath.IsAbs(cfg.OutputDirectory) {
		t.Errorf("OutputDirectory = %v, want an absolute path", cfg.OutputDirectory)
	}
}

func TestLoadFromFlags_ValidFlags(t *testing.T) {
	tests := []struct {
		name  string
		args  []string
		check func(t *testing.T, cfg *Config)
	}{
		{
			name: "server mode with custom host and port",
			args: []string{"--mode=server", "--host=0.0.0.0", "--port=9090"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.IsServerMode() || cfg.Address() != "0.0.0.0:9090" {
					t.Errorf("got mode %s at %s", cfg.Mode, cfg.Address())
				}
			},
		},
		{
			name: "dashboard and remote cache",
			args: []string{"--dashboard=https://avalia.example/ead", "--cache=https://cache.example"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.DashboardURL != "https://avalia.example/ead" {
					t.Errorf("DashboardURL = %s", cfg.DashboardURL)
				}
				if cfg.UsesLocalCache() {
					t.Error("expected the remote cache")
				}
			},
		},
		{
			name: "browser settings",
			args: []string{"--headless=false", "--browser=/usr/bin/chromium", "--capturetimeout=30s"},
			check: func(t *testing.T, cfg *Config) {
				if cfg.Headless || cfg.BrowserBin != "/usr/bin/chromium" || cfg.CaptureTimeout != 30*time.Second {
					t.Errorf("got headless=%v browser=%s timeout=%s", cfg.Headless, cfg.BrowserBin, cfg.CaptureTimeout)
				}
			},
		},
		{
			name: "debug logging",
			args: []string{"--loglevel=debug"},
			check: func(t *testing.T, cfg *Config) {
				if !cfg.IsDebug() {
					t.Errorf("LogLevel = %s", cfg.LogLevel)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := withArgs(t, tt.args...)
			if err != nil {
				t.Fatalf("LoadFromFlags() unexpected error: %v", err)
			}
			tt.check(t, cfg)
		})
	}
}

func TestLoadFromFlags_EnvironmentVariables(t *testing.T) {
	t.Setenv("AVALIA_MODE", "server")
	t.Setenv("AVALIA_PORT", "3000")
	t.Setenv("AVALIA_DASHBOARD", "http://dash.local/ead")
	t.Setenv("AVALIA_LOGLEVEL", "warn")

	cfg, err := withArgs(t)
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.Mode != "server" || cfg.Port != 3000 {
		t.Errorf("got mode %s port %d", cfg.Mode, cfg.Port)
	}
	if cfg.DashboardURL != "http://dash.local/ead" {
		t.Errorf("DashboardURL = %s", cfg.DashboardURL)
	}
	if cfg.LogLevel != "warn" {
		t.Errorf("LogLevel = %s", cfg.LogLevel)
	}
}

func TestLoadFromFlags_FlagOverridesEnvironment(t *testing.T) {
	t.Setenv("AVALIA_MODE", "server")
	t.Setenv("AVALIA_PORT", "3000")

	cfg, err := withArgs(t, "--mode=stdio", "--port=8888")
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.Mode != "stdio" || cfg.Port != 8888 {
		t.Errorf("flags should override env, got mode %s port %d", cfg.Mode, cfg.Port)
	}
}

func TestLoadFromFlags_ConfigFile(t *testing.T) {
	file := filepath.Join(t.TempDir(), "avalia.yaml")
	content := "dashboard: http://from-file.local/ead\nport: 7070\nmode: server\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := withArgs(t, "--config="+file, "--port=7171")
	if err != nil {
		t.Fatalf("LoadFromFlags() unexpected error: %v", err)
	}
	if cfg.DashboardURL != "http://from-file.local/ead" {
		t.Errorf("DashboardURL = %s, want the file value", cfg.DashboardURL)
	}
	if cfg.Port != 7171 {
		t.Errorf("Port = %d, want the flag value", cfg.Port)
	}
	if cfg.ConfigFile != file {
		t.Errorf("ConfigFile = %s", cfg.ConfigFile)
	}
}

func TestLoadFromFlags_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"invalid mode", []string{"--mode=invalid"}, "mode must be either 'stdio' or 'server'"},
		{"invalid port", []string{"--mode=server", "--port=99999"}, "port must be between 1 and 65535"},
		{"invalid log level", []string{"--loglevel=invalid"}, "invalid log level"},
		{"invalid dashboard", []string{"--dashboard=ftp://x"}, "dashboard url"},
		{"missing config file", []string{"--config=/does/not/exist.yaml"}, "failed to read config file"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := withArgs(t, tt.args...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("LoadFromFlags() error = %v, want one containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFlags_VersionFlag(t *testing.T) {
	_, err := withArgs(t, "--version")
	if err == nil || err.Error() != "version requested" {
		t.Errorf("LoadFromFlags() error = %v, want 'version requested'", err)
	}
}
