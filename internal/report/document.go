package report

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

// Phase is the state of a run
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseDecidingCache
	PhaseBuilding
	PhaseFinalizing
	PhaseDone
	PhaseCancelled
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseDecidingCache:
		return "deciding-cache"
	case PhaseBuilding:
		return "building"
	case PhaseFinalizing:
		return "finalizing"
	case PhaseDone:
		return "done"
	case PhaseCancelled:
		return "cancelled"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether the run has ended
func (p Phase) Terminal() bool {
	return p == PhaseDone || p == PhaseCancelled || p == PhaseFailed
}

// MarshalText renders the phase by name in JSON
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// Document is a finished report
type Document struct {
	Selection selection.Selection     `json:"selection"`
	FileName  string                  `json:"file_name"`
	Data      []byte                  `json:"-"`
	Pages     int                     `json:"pages"`
	Figures   int                     `json:"figures"`
	Units     []string                `json:"units,omitempty"`
	Warnings  []*reporterr.ReportError `json:"warnings,omitempty"`
	BuiltAt   time.Time               `json:"built_at"`
}

// Size returns the document size in bytes
func (d *Document) Size() int {
	return len(d.Data)
}

// DefaultHandleTTL bounds how long an unreplaced handle stays downloadable
const DefaultHandleTTL = 2 * time.Hour

type handle struct {
	doc       *Document
	expiresAt time.Time
}

// Handles maps download tokens to documents. The controller keeps at most one
// live token per selection and revokes it before assigning the next.
type Handles struct {
	mu    sync.Mutex
	items map[string]handle
	ttl   time.Duration
}

// NewHandles creates an empty store. ttl <= 0 uses DefaultHandleTTL.
func NewHandles(ttl time.Duration) *Handles {
	if ttl <= 0 {
		ttl = DefaultHandleTTL
	}
	return &Handles{items: make(map[string]handle), ttl: ttl}
}

// Put stores doc and returns its token
func (h *Handles) Put(doc *Document) string {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.purgeExpiredLocked(time.Now())

	token := uuid.NewString()
	h.items[token] = handle{doc: doc, expiresAt: time.Now().Add(h.ttl)}
	return token
}

// Replace revokes old, then stores doc under a new token
func (h *Handles) Replace(old string, doc *Document) string {
	h.Revoke(old)
	return h.Put(doc)
}

// Get returns the document of token
func (h *Handles) Get(token string) (*Document, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	v, ok := h.items[token]
	if !ok {
		return nil, false
	}
	if time.Now().After(v.expiresAt) {
		delete(h.items, token)
		return nil, false
	}
	return v.doc, true
}

// Revoke drops token. Revoking an empty or unknown token is a no-op.
func (h *Handles) Revoke(token string) {
	if token == "" {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.items, token)
}

// Len returns the number of live tokens
func (h *Handles) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.items)
}

func (h *Handles) purgeExpiredLocked(now time.Time) {
	for k, v := range h.items {
		if now.After(v.expiresAt) {
			delete(h.items, k)
		}
	}
}
