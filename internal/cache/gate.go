// Package cache decides whether an aggregate report can be served from the
// cache collaborator, stores freshly built ones, and implements the collaborator
// itself for server mode.
package cache

import (
	"context"
	"log"
	"os"
	"sync"
	"sync/atomic"

	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

// Outcome of a cache decision
type Outcome int

const (
	// Skip means the selection does not use the cache at all (single scope)
	Skip Outcome = iota
	// Miss means the report has to be built
	Miss
	// Hit means a stored report exists at Decision.URL
	Hit
	// Repeat means this signature was already decided; nothing to do
	Repeat
)

func (o Outcome) String() string {
	switch o {
	case Skip:
		return "skip"
	case Miss:
		return "miss"
	case Hit:
		return "hit"
	case Repeat:
		return "repeat"
	default:
		return "unknown"
	}
}

// Decision is the result of Gate.Decide
type Decision struct {
	Outcome   Outcome
	URL       string
	Signature string
}

// decisionRecord remembers the last decided signature
type decisionRecord struct {
	signature string
	decided   bool
	stored    bool
}

// Gate checks the cache once per signature and stores at most once per
// signature. It is safe for concurrent use.
type Gate struct {
	client Client
	mu     sync.Mutex
	record decisionRecord
	reads  atomic.Int64
	writes atomic.Int64
	logger *log.Logger
}

// NewGate creates a gate over client. A nil client turns every aggregate
// decision into a Miss and every store into a no-op.
func NewGate(client Client) *Gate {
	return &Gate{
		client: client,
		logger: log.New(os.Stderr, "[Cache] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (g *Gate) SetLogger(l *log.Logger) {
	g.logger = l
}

// Decide marks sel and, when it is a new aggregate signature, reads the cache
func (g *Gate) Decide(ctx context.Context, sel selection.Selection) Decision {
	if !g.Mark(sel) {
		return Decision{Outcome: Repeat, Signature: sel.Signature()}
	}
	return g.Lookup(ctx, sel)
}

// Mark compares sel's signature with the last decided one and records it. It
// reports false when the signature was already decided. Marking happens on the
// selection change itself so a superseded run can never rewrite the record.
func (g *Gate) Mark(sel selection.Selection) bool {
	sig := sel.Signature()

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.record.decided && g.record.signature == sig {
		return false
	}
	g.record = decisionRecord{signature: sig, decided: true}
	return true
}

// Lookup reads the cache for a marked selection. Single scope selections are
// skipped and read failures count as a Miss.
func (g *Gate) Lookup(ctx context.Context, sel selection.Selection) Decision {
	sig := sel.Signature()
	if !sel.IsAggregate() {
		return Decision{Outcome: Skip, Signature: sig}
	}
	if g.client == nil {
		return Decision{Outcome: Miss, Signature: sig}
	}

	g.reads.Add(1)
	url, err := g.client.Lookup(ctx, sel.Period, sel.Program)
	if err != nil {
		g.logger.Printf("Cache lookup failed for %s, building instead: %v", sig, err)
		return Decision{Outcome: Miss, Signature: sig}
	}
	if url == "" {
		return Decision{Outcome: Miss, Signature: sig}
	}
	g.logger.Printf("Cache hit for %s", sig)
	return Decision{Outcome: Hit, URL: url, Signature: sig}
}

// Forget clears the decision record of signature so the next Decide of it
// reads again. A record that already moved on to another signature is kept.
func (g *Gate) Forget(signature string) {
	g.mu.Lock()
	if g.record.signature == signature {
		g.record = decisionRecord{}
	}
	g.mu.Unlock()
}

// Store saves doc for an aggregate selection, at most once for the decided
// signature. Failures are logged; the returned URL is empty when nothing was
// stored.
func (g *Gate) Store(ctx context.Context, sel selection.Selection, doc []byte) string {
	if !sel.IsAggregate() || g.client == nil {
		return ""
	}
	sig := sel.Signature()

	g.mu.Lock()
	if g.record.signature != sig || g.record.stored {
		g.mu.Unlock()
		return ""
	}
	g.record.stored = true
	g.mu.Unlock()

	g.writes.Add(1)
	url, err := g.client.Save(ctx, sel.Period, sel.Program, doc)
	if err != nil {
		g.logger.Printf("Failed to store report %s: %v", sig, err)
		return ""
	}
	g.logger.Printf("Stored report %s at %s", sig, url)
	return url
}

// Reads returns how many lookups reached the collaborator
func (g *Gate) Reads() int64 {
	return g.reads.Load()
}

// Writes returns how many saves reached the collaborator
func (g *Gate) Writes() int64 {
	return g.writes.Load()
}
