// Package appendix attaches the period's questionnaire to a finished report.
// Attaching is best-effort: on any failure the report is returned unchanged
// together with the reason.
package appendix

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/cpa-ufpa/avalia-report/internal/pdfdoc"
	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
)

// Source loads an appendix by reference (URL or asset path)
type Source interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// Merger appends questionnaires to reports
type Merger struct {
	source    Source
	validator *pdfdoc.Validator
	logger    *log.Logger

	mu     sync.Mutex
	loaded map[string][]byte
}

// NewMerger creates a merger reading appendices from source
func NewMerger(source Source, maxSize int64) *Merger {
	return &Merger{
		source:    source,
		validator: pdfdoc.NewValidator(maxSize),
		logger:    log.New(os.Stderr, "[Appendix] ", log.LstdFlags),
		loaded:    make(map[string][]byte),
	}
}

// SetLogger replaces the component logger
func (m *Merger) SetLogger(l *log.Logger) {
	m.logger = l
}

// Append returns doc followed by the pages of ref. An empty ref is not an
// error. On failure doc is returned as-is with a KindAppendixFailed error.
func (m *Merger) Append(ctx context.Context, doc []byte, ref string) ([]byte, error) {
	if ref == "" {
		return doc, nil
	}

	extra, err := m.load(ctx, ref)
	if err != nil {
		m.logger.Printf("Failed to load appendix %s: %v", ref, err)
		return doc, reporterr.Wrap(reporterr.KindAppendixFailed, "appendix unavailable", err)
	}

	merged, err := pdfdoc.Merge(doc, extra)
	if err != nil {
		m.logger.Printf("Failed to merge appendix %s: %v", ref, err)
		return doc, reporterr.Wrap(reporterr.KindAppendixFailed, "appendix merge failed", err)
	}
	return merged, nil
}

// load fetches and validates ref once; later calls reuse the bytes
func (m *Merger) load(ctx context.Context, ref string) ([]byte, error) {
	m.mu.Lock()
	data, ok := m.loaded[ref]
	m.mu.Unlock()
	if ok {
		return data, nil
	}

	data, err := m.source.Load(ctx, ref)
	if err != nil {
		return nil, err
	}
	if _, err := m.validator.Validate(data); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.loaded[ref] = data
	m.mu.Unlock()
	return data, nil
}
