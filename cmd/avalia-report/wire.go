package main

import (
	"fmt"
	"io"
	"log"

	"github.com/cpa-ufpa/avalia-report/internal/appendix"
	"github.com/cpa-ufpa/avalia-report/internal/assets"
	"github.com/cpa-ufpa/avalia-report/internal/cache"
	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/config"
	"github.com/cpa-ufpa/avalia-report/internal/layout"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/render"
	"github.com/cpa-ufpa/avalia-report/internal/report"
	"github.com/cpa-ufpa/avalia-report/internal/stability"
)

// app holds the wired components shared by both modes
type app struct {
	ctrl    *report.Controller
	lock    *progress.InteractionLock
	handler *cache.Handler // nil unless the cache is served locally
	closers []io.Closer
}

// Close releases everything opened by newApp, newest first
func (a *app) Close() {
	if a.ctrl != nil {
		a.ctrl.Close()
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			log.Printf("Warning: close failed: %v", err)
		}
	}
}

// cacheParts is the cache collaborator selected by the configuration
type cacheParts struct {
	client  cache.Client
	handler *cache.Handler
	store   *cache.FileStore
}

// newCache picks the local store, a remote collaborator or no cache at all
func newCache(cfg *config.Config) (*cacheParts, error) {
	switch {
	case !cfg.CacheEnabled():
		return &cacheParts{}, nil
	case cfg.UsesLocalCache():
		store, err := cache.NewFileStore(cfg.CacheDirectory, cfg.PublicURL()+"/blobs")
		if err != nil {
			return nil, fmt.Errorf("failed to open cache store: %w", err)
		}
		return &cacheParts{
			client:  cache.NewStoreClient(store, cfg.MaxFileSize),
			handler: cache.NewHandler(store, cfg.MaxFileSize),
			store:   store,
		}, nil
	default:
		return &cacheParts{client: cache.NewHTTPClient(cfg.CacheURL, nil)}, nil
	}
}

// newApp wires catalog, browser, builder, cache and controller
func newApp(cfg *config.Config) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	cat, err := catalog.LoadDir(cfg.DataDirectory)
	if err != nil {
		return nil, fmt.Errorf("failed to load survey data: %w", err)
	}

	l, err := layout.LoadOrDefault(cfg.LayoutFile, cfg.DataDirectory)
	if err != nil {
		return nil, err
	}

	loader, err := assets.NewLoader(l.BaseDir, nil, cfg.MaxFileSize)
	if err != nil {
		return nil, fmt.Errorf("failed to open asset directory: %w", err)
	}

	bcfg := render.DefaultBrowserConfig()
	bcfg.Bin = cfg.BrowserBin
	bcfg.Headless = cfg.Headless
	surface, err := render.NewRodSurface(bcfg)
	if err != nil {
		return nil, err
	}
	resource := render.NewResource(surface, cfg.DashboardURL, l.Target, render.DefaultTiming())
	a.closers = append(a.closers, resource)

	opts := report.DefaultBuilderOptions()
	opts.Capture.Timeout = cfg.CaptureTimeout
	builder := report.NewBuilder(l, resource, loader, appendix.NewMerger(loader, cfg.MaxFileSize), opts)

	parts, err := newCache(cfg)
	if err != nil {
		return nil, err
	}
	if parts.store != nil {
		a.closers = append(a.closers, parts.store)
	}
	a.handler = parts.handler

	a.lock = progress.NewInteractionLock()
	a.ctrl = report.NewController(report.Deps{
		Catalog:   cat,
		Generator: builder,
		Gate:      cache.NewGate(parts.client),
		Tracker:   progress.NewTracker(a.lock),
		Guard:     stability.NewGuard(stability.DefaultConfig()),
	})

	ok = true
	return a, nil
}
