package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/report"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

// catalogResponse lists every selectable period
type catalogResponse struct {
	Preferred string            `json:"preferred"`
	Periods   []*catalog.Period `json:"periods"`
}

// Health reports liveness along with the build guard's panic and memory view.
// An unhealthy guard answers 200 with status "degraded".
// GET /api/health
func (s *Server) Health(c *gin.Context) {
	guard := s.ctrl.Guard()
	health := guard.Health()
	status := "ok"
	if !health.Healthy {
		status = "degraded"
	}
	resp := gin.H{
		"status":      status,
		"subscribers": s.hub.ClientCount(),
		"stability":   health,
	}
	if panics := guard.Panics(); len(panics) > 0 {
		last := panics[len(panics)-1]
		resp["last_panic"] = gin.H{"operation": last.Context, "message": last.Message, "at": last.Timestamp}
	}
	c.JSON(http.StatusOK, resp)
}

// Catalog lists periods with their programs and units
// GET /api/catalog
func (s *Server) Catalog(c *gin.Context) {
	cat := s.ctrl.Catalog()
	resp := catalogResponse{Preferred: cat.Preferred(), Periods: []*catalog.Period{}}
	for _, name := range cat.Periods() {
		if p, ok := cat.Period(name); ok {
			resp.Periods = append(resp.Periods, p)
		}
	}
	c.JSON(http.StatusOK, resp)
}

// Select applies a selection and starts its run
// POST /api/reports/select
func (s *Server) Select(c *gin.Context) {
	var sel selection.Selection
	if err := c.ShouldBindJSON(&sel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid selection: " + err.Error()})
		return
	}

	st, err := s.ctrl.Select(sel)
	switch {
	case errors.Is(err, report.ErrClosed):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, st)
}

// Status returns the current run
// GET /api/reports/status
func (s *Server) Status(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Status())
}

// Cancel stops the running build
// POST /api/reports/cancel
func (s *Server) Cancel(c *gin.Context) {
	c.JSON(http.StatusOK, s.ctrl.Cancel())
}

// Document serves the document behind a download token
// GET /api/reports/document/:token
func (s *Server) Document(c *gin.Context) {
	if s.blocked(c) {
		return
	}
	token := c.Param("token")
	if token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}
	doc, ok := s.ctrl.Document(token)
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "download link expired"})
		return
	}
	s.serveDocument(c, doc)
}

// Download serves whatever the current selection produced: a redirect to the
// cached copy or the freshly built document.
// GET /api/reports/download
func (s *Server) Download(c *gin.Context) {
	if s.blocked(c) {
		return
	}
	st := s.ctrl.Status()
	if st.Phase != report.PhaseDone {
		c.JSON(http.StatusNotFound, gin.H{"error": "no document available", "phase": st.Phase})
		return
	}
	if st.Token != "" {
		if doc, ok := s.ctrl.Document(st.Token); ok {
			s.serveDocument(c, doc)
			return
		}
	}
	if st.URL != "" {
		c.Redirect(http.StatusFound, st.URL)
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "download link expired"})
}

// Progress upgrades to the websocket progress stream
// GET /api/reports/progress
func (s *Server) Progress(c *gin.Context) {
	s.hub.ServeWS(c.Writer, c.Request)
}

// blocked answers 423 while a build holds the interaction lock
func (s *Server) blocked(c *gin.Context) bool {
	if s.lock == nil || !s.lock.Held() {
		return false
	}
	c.JSON(http.StatusLocked, gin.H{
		"error":    "a report is being generated",
		"progress": s.ctrl.Tracker().State(),
	})
	return true
}

func (s *Server) serveDocument(c *gin.Context, doc *report.Document) {
	c.Header("Content-Disposition", contentDisposition(doc.FileName))
	c.Header("X-Report-Pages", fmt.Sprint(doc.Pages))
	c.Data(http.StatusOK, "application/pdf", doc.Data)
}

// contentDisposition names the attachment with an ASCII fallback and the UTF-8
// original, so unit names keep their accents.
func contentDisposition(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '"' || r == '\\':
			b.WriteByte('_')
		case r < 0x20 || r > 0x7e:
			b.WriteByte('_')
		default:
			b.WriteRune(r)
		}
	}
	fallback := b.String()
	if fallback == name {
		return fmt.Sprintf("attachment; filename=%q", name)
	}
	return fmt.Sprintf("attachment; filename=%q; filename*=UTF-8''%s", fallback, url.PathEscape(name))
}
