// Package pdfdoc inspects, validates and merges finished PDF documents. Two
// backends are available: pdfcpu, which also performs merges, and
// ledongthuc/pdf as a more lenient fallback reader.
package pdfdoc

import (
	"bytes"
	"fmt"

	"github.com/ledongthuc/pdf"
	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// BackendType names a PDF library
type BackendType string

const (
	BackendPDFCPU     BackendType = "pdfcpu"
	BackendLedongthuc BackendType = "ledongthuc"
)

// Info describes a readable document
type Info struct {
	Pages   int         `json:"pages"`
	Size    int64       `json:"size"`
	Backend BackendType `json:"backend"`
}

// Backend reads a document held in memory
type Backend interface {
	Inspect(data []byte) (*Info, error)
	Type() BackendType
}

// BackendError records which library failed and in what operation
type BackendError struct {
	Backend BackendType `json:"backend"`
	Op      string      `json:"operation"`
	Err     error       `json:"error"`
}

func (e *BackendError) Error() string {
	return fmt.Sprintf("PDF %s backend error in %s: %v", e.Backend, e.Op, e.Err)
}

func (e *BackendError) Unwrap() error {
	return e.Err
}

// PDFCPU inspects documents with pdfcpu in relaxed validation mode
type PDFCPU struct{}

func (PDFCPU) Type() BackendType { return BackendPDFCPU }

// Inspect reads the cross reference table and counts the pages
func (PDFCPU) Inspect(data []byte) (*Info, error) {
	ctx, err := api.ReadContext(bytes.NewReader(data), relaxedConfig())
	if err != nil {
		return nil, &BackendError{Backend: BackendPDFCPU, Op: "inspect", Err: fmt.Errorf("failed to read PDF context: %w", err)}
	}
	if err := ctx.EnsurePageCount(); err != nil {
		return nil, &BackendError{Backend: BackendPDFCPU, Op: "inspect", Err: fmt.Errorf("failed to ensure page count: %w", err)}
	}
	return &Info{Pages: ctx.PageCount, Size: int64(len(data)), Backend: BackendPDFCPU}, nil
}

// Ledongthuc inspects documents with ledongthuc/pdf
type Ledongthuc struct{}

func (Ledongthuc) Type() BackendType { return BackendLedongthuc }

// Inspect opens the document and counts the pages. The library panics on some
// malformed inputs; those become errors.
func (Ledongthuc) Inspect(data []byte) (info *Info, err error) {
	defer func() {
		if r := recover(); r != nil {
			info = nil
			err = &BackendError{Backend: BackendLedongthuc, Op: "inspect", Err: fmt.Errorf("reader panic: %v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, &BackendError{Backend: BackendLedongthuc, Op: "inspect", Err: fmt.Errorf("failed to open PDF: %w", err)}
	}
	return &Info{Pages: r.NumPage(), Size: int64(len(data)), Backend: BackendLedongthuc}, nil
}

func relaxedConfig() *model.Configuration {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed
	return conf
}
