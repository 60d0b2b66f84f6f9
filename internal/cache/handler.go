package cache

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cpa-ufpa/avalia-report/internal/pdfdoc"
)

// Handler serves the cache collaborator protocol over a Store
type Handler struct {
	store     Store
	validator *pdfdoc.Validator
	maxSize   int64
	logger    *log.Logger
}

// NewHandler creates the collaborator endpoints. Uploads above maxSize or that
// do not parse as PDF are rejected.
func NewHandler(store Store, maxSize int64) *Handler {
	if maxSize <= 0 {
		maxSize = pdfdoc.DefaultMaxSize
	}
	return &Handler{
		store:     store,
		validator: pdfdoc.NewValidator(maxSize),
		maxSize:   maxSize,
		logger:    log.New(os.Stderr, "[Cache] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (h *Handler) SetLogger(l *log.Logger) {
	h.logger = l
}

// RegisterRoutes mounts GET/POST /reports/cache and GET /blobs/*key
func (h *Handler) RegisterRoutes(api *gin.RouterGroup, root gin.IRoutes) {
	api.GET("/reports/cache", h.Get)
	api.POST("/reports/cache", h.Post)
	root.GET("/blobs/*key", h.Blob)
}

// formValue reads the original parameter name first, the English one second
func formValue(c *gin.Context, names ...string) string {
	for _, n := range names {
		if v := strings.TrimSpace(c.Query(n)); v != "" {
			return v
		}
		if v := strings.TrimSpace(c.PostForm(n)); v != "" {
			return v
		}
	}
	return ""
}

// Get answers {url} or {url: null}; absence is never an error status
// GET /api/reports/cache?ano=&curso=
func (h *Handler) Get(c *gin.Context) {
	period := formValue(c, "ano", "period")
	program := formValue(c, "curso", "program")
	if period == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "ano is required"})
		return
	}

	e, err := h.store.Lookup(c.Request.Context(), BlobKey(period, program))
	if errors.Is(err, ErrNotFound) {
		c.JSON(http.StatusOK, gin.H{"url": nil})
		return
	}
	if err != nil {
		h.logger.Printf("Cache GET error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "cache lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": e.URL})
}

// Post stores an uploaded report under its deterministic key
// POST /api/reports/cache (multipart: ano, curso, file)
func (h *Handler) Post(c *gin.Context) {
	if !strings.Contains(c.GetHeader("Content-Type"), "multipart/form-data") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "content-type must be multipart/form-data"})
		return
	}
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, h.maxSize+1<<20)

	fh, err := c.FormFile("file")
	period := formValue(c, "ano", "period")
	if err != nil || period == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "file and ano are required"})
		return
	}
	program := formValue(c, "curso", "program")

	f, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}
	defer f.Close()
	doc, err := io.ReadAll(io.LimitReader(f, h.maxSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
		return
	}

	info, err := h.validator.Validate(doc)
	if err != nil {
		status := http.StatusBadRequest
		if errors.Is(err, pdfdoc.ErrTooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}

	e, err := h.store.Put(c.Request.Context(), BlobKey(period, program), doc, info.Pages)
	if err != nil {
		h.logger.Printf("Cache POST error: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "upload/cache failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"url": e.URL})
}

// Blob streams a stored document
// GET /blobs/*key
func (h *Handler) Blob(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	rc, e, err := h.store.Open(c.Request.Context(), key)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "not found"})
		return
	}
	defer rc.Close()

	c.Header("Cache-Control", "public, max-age=31536000")
	c.DataFromReader(http.StatusOK, e.Size, "application/pdf", rc, nil)
}

// StoreClient satisfies Client directly against a local Store, for a service
// that is its own cache collaborator.
type StoreClient struct {
	store     Store
	validator *pdfdoc.Validator
}

// NewStoreClient wraps store
func NewStoreClient(store Store, maxSize int64) *StoreClient {
	return &StoreClient{store: store, validator: pdfdoc.NewValidator(maxSize)}
}

// Lookup implements Client
func (c *StoreClient) Lookup(ctx context.Context, period, program string) (string, error) {
	e, err := c.store.Lookup(ctx, BlobKey(period, program))
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return e.URL, nil
}

// Save implements Client
func (c *StoreClient) Save(ctx context.Context, period, program string, doc []byte) (string, error) {
	info, err := c.validator.Validate(doc)
	if err != nil {
		return "", err
	}
	e, err := c.store.Put(ctx, BlobKey(period, program), doc, info.Pages)
	if err != nil {
		return "", err
	}
	return e.URL, nil
}
