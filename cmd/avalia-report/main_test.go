package main

import (
	"bytes"
	"context"
	"io"
	"log"
	"net"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cpa-ufpa/avalia-report/internal/cache"
	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/config"
	"github.com/cpa-ufpa/avalia-report/internal/httpapi"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/report"
)

const testVersion = "1.2.3"

func TestPrintVersion(t *testing.T) {
	originalStdout := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatalf("Failed to create pipe: %v", err)
	}
	os.Stdout = w

	oldVersion, oldBuildTime, oldGitCommit := version, buildTime, gitCommit
	version = testVersion
	buildTime = "2025-11-03_10:30:00"
	gitCommit = "abc123"

	defer func() {
		version, buildTime, gitCommit = oldVersion, oldBuildTime, oldGitCommit
		os.Stdout = originalStdout
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		printVersion()
		w.Close()
	}()

	var buf bytes.Buffer
	io.Copy(&buf, r)
	<-done

	output := buf.String()
	for _, want := range []string{
		"AVALIA Report",
		"Version: " + testVersion,
		"Build Time: 2025-11-03_10:30:00",
		"Git Commit: abc123",
		"Built with: go",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("printVersion() output missing %q, got: %s", want, output)
		}
	}
}

func TestSetupLogging_StdioMode(t *testing.T) {
	originalOutput := log.Writer()
	originalFlags := log.Flags()
	defer func() {
		log.SetOutput(originalOutput)
		log.SetFlags(originalFlags)
	}()

	setupLogging(&config.Config{Mode: "stdio", LogLevel: "debug"})
	if log.Writer() != os.Stderr {
		t.Error("setupLogging() for stdio debug mode should log to stderr")
	}

	setupLogging(&config.Config{Mode: "stdio", LogLevel: "info"})
	if log.Writer() != io.Discard {
		t.Error("setupLogging() for stdio mode without debug should discard logs")
	}
}

func TestSetupLogging_ServerMode(t *testing.T) {
	originalOutput := log.Writer()
	originalFlags := log.Flags()
	defer func() {
		log.SetOutput(originalOutput)
		log.SetFlags(originalFlags)
	}()

	setupLogging(&config.Config{Mode: "server", LogLevel: "info"})

	if got, want := log.Flags(), log.LstdFlags|log.Lshortfile; got != want {
		t.Errorf("setupLogging() for server mode: flags = %v, want %v", got, want)
	}
}

func TestVersionFlagDetection(t *testing.T) {
	tests := []struct {
		arg  string
		want bool
	}{
		{"-version", true},
		{"--version", true},
		{"-v", true},
		{"-verbose", false},
		{"-versions", false},
		{"--mode=server", false},
	}
	for _, tt := range tests {
		if got := isVersionFlag(tt.arg); got != tt.want {
			t.Errorf("isVersionFlag(%q) = %v, want %v", tt.arg, got, tt.want)
		}
	}
}

func TestNewCache(t *testing.T) {
	t.Run("disabled", func(t *testing.T) {
		cfg := &config.Config{CacheURL: config.CacheDisabled}
		parts, err := newCache(cfg)
		if err != nil {
			t.Fatalf("newCache() error = %v", err)
		}
		if parts.client != nil || parts.handler != nil || parts.store != nil {
			t.Error("a disabled cache should have no collaborator")
		}
	})

	t.Run("local store", func(t *testing.T) {
		dir := t.TempDir()
		cfg := &config.Config{Host: "127.0.0.1", Port: 8080, CacheDirectory: dir, MaxFileSize: 1024 * 1024}
		parts, err := newCache(cfg)
		if err != nil {
			t.Fatalf("newCache() error = %v", err)
		}
		defer parts.store.Close()

		if _, ok := parts.client.(*cache.StoreClient); !ok {
			t.Errorf("client = %T, want *cache.StoreClient", parts.client)
		}
		if parts.handler == nil {
			t.Error("a local cache should be served over HTTP")
		}
		if _, err := os.Stat(filepath.Join(dir, "cache.db")); err != nil {
			t.Errorf("cache index not created: %v", err)
		}

		url, err := parts.client.Lookup(context.Background(), "2025", "Pedagogia")
		if err != nil || url != "" {
			t.Errorf("Lookup() on an empty store = %q, %v", url, err)
		}
	})

	t.Run("remote collaborator", func(t *testing.T) {
		cfg := &config.Config{CacheURL: "https://cache.example/api/reports/cache"}
		parts, err := newCache(cfg)
		if err != nil {
			t.Fatalf("newCache() error = %v", err)
		}
		if _, ok := parts.client.(*cache.HTTPClient); !ok {
			t.Errorf("client = %T, want *cache.HTTPClient", parts.client)
		}
		if parts.handler != nil || parts.store != nil {
			t.Error("a remote cache needs no local store")
		}
	})
}

type closeRecorder struct {
	name  string
	order *[]string
}

func (c closeRecorder) Close() error {
	*c.order = append(*c.order, c.name)
	return nil
}

func TestApp_CloseNewestFirst(t *testing.T) {
	var order []string
	a := &app{closers: []io.Closer{
		closeRecorder{"browser", &order},
		closeRecorder{"store", &order},
	}}
	a.Close()

	if strings.Join(order, ",") != "store,browser" {
		t.Errorf("close order = %v, want store then browser", order)
	}
}

func TestNewApp_MissingSurveyData(t *testing.T) {
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	cfg := config.DefaultConfig()
	cfg.DataDirectory = t.TempDir()
	cfg.CacheURL = config.CacheDisabled

	_, err := newApp(cfg)
	if err == nil || !strings.Contains(err.Error(), "failed to load survey data") {
		t.Errorf("newApp() error = %v, want a survey data error", err)
	}
}

func newTestHTTPServer(t *testing.T) *httpapi.Server {
	t.Helper()
	ctrl := report.NewController(report.Deps{Catalog: catalog.New()})
	ctrl.SetLogger(log.New(io.Discard, "", 0))
	server := httpapi.NewServer(httpapi.Options{Controller: ctrl, Lock: progress.NewInteractionLock()})
	server.SetLogger(log.New(io.Discard, "", 0))
	t.Cleanup(func() {
		server.Close()
		ctrl.Close()
	})
	return server
}

func TestRunServerMode_ExitCodes(t *testing.T) {
	originalOutput := log.Writer()
	log.SetOutput(io.Discard)
	defer log.SetOutput(originalOutput)

	t.Run("listen failure", func(t *testing.T) {
		ln, err := net.Listen("tcp", "127.0.0.1:0")
		if err != nil {
			t.Fatalf("listen: %v", err)
		}
		defer ln.Close()

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if code := runServerMode(ctx, cancel, newTestHTTPServer(t), ln.Addr().String()); code != 1 {
			t.Errorf("runServerMode() = %d, want 1 when the address is taken", code)
		}
	})

	t.Run("clean shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		if code := runServerMode(ctx, cancel, newTestHTTPServer(t), "127.0.0.1:0"); code != 0 {
			t.Errorf("runServerMode() = %d, want 0 after shutdown", code)
		}
	})
}
