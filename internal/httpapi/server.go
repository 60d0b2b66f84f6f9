// Package httpapi exposes the report controller over HTTP: catalog, selection,
// status, cancellation, downloads and a websocket progress stream. In server
// mode it also hosts the cache collaborator.
package httpapi

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cpa-ufpa/avalia-report/internal/cache"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/report"
)

// Options wires a Server
type Options struct {
	Controller *report.Controller
	// Lock is consulted before serving a download; nil never blocks
	Lock *progress.InteractionLock
	// Cache mounts the cache collaborator routes when set
	Cache   *cache.Handler
	DevMode bool
}

// Server is the HTTP front end of a report controller
type Server struct {
	router *gin.Engine
	ctrl   *report.Controller
	lock   *progress.InteractionLock
	hub    *Hub
	logger *log.Logger
}

// NewServer creates a server and starts its progress hub
func NewServer(opts Options) *Server {
	if !opts.DevMode {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		router: gin.New(),
		ctrl:   opts.Controller,
		lock:   opts.Lock,
		hub:    NewHub(opts.Controller.Tracker(), opts.Lock),
		logger: log.New(os.Stderr, "[HTTP] ", log.LstdFlags),
	}
	s.router.Use(gin.Recovery())
	if opts.DevMode {
		s.router.Use(gin.Logger())
	}
	s.setupRoutes(opts.Cache)

	go s.hub.Run()
	return s
}

// SetLogger replaces the component logger of the server and its hub
func (s *Server) SetLogger(l *log.Logger) {
	s.logger = l
	s.hub.SetLogger(l)
}

func (s *Server) setupRoutes(cacheHandler *cache.Handler) {
	s.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	api := s.router.Group("/api")
	{
		api.GET("/health", s.Health)
		api.GET("/catalog", s.Catalog)
		api.POST("/reports/select", s.Select)
		api.GET("/reports/status", s.Status)
		api.POST("/reports/cancel", s.Cancel)
		api.GET("/reports/download", s.Download)
		api.GET("/reports/document/:token", s.Document)
		api.GET("/reports/progress", s.Progress)
	}

	if cacheHandler != nil {
		cacheHandler.RegisterRoutes(api, s.router)
	}
}

// Handler returns the root http.Handler
func (s *Server) Handler() http.Handler {
	return s.router
}

// Hub returns the progress hub
func (s *Server) Hub() *Hub {
	return s.hub
}

// Run serves on addr until ctx is done, then shuts down gracefully
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Printf("Listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		s.hub.Stop()
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	s.hub.Stop()
	return srv.Shutdown(shutdownCtx)
}

// Close stops the progress hub
func (s *Server) Close() {
	s.hub.Stop()
}
