package pdfdoc

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log"

	"github.com/pdfcpu/pdfcpu/pkg/api"
)

// DefaultMaxSize is the largest document accepted by default
const DefaultMaxSize = 100 * 1024 * 1024

var (
	ErrEmpty    = errors.New("document is empty")
	ErrNotPDF   = errors.New("document is not a PDF")
	ErrTooLarge = errors.New("document too large")
)

// Validator checks documents against a size limit and a chain of backends
type Validator struct {
	maxSize  int64
	backends []Backend
}

// NewValidator creates a validator trying pdfcpu first and ledongthuc/pdf second
func NewValidator(maxSize int64) *Validator {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}
	return &Validator{
		maxSize:  maxSize,
		backends: []Backend{PDFCPU{}, Ledongthuc{}},
	}
}

// Validate returns the document info of the first backend able to read data
func (v *Validator) Validate(data []byte) (*Info, error) {
	if len(data) == 0 {
		return nil, ErrEmpty
	}
	if int64(len(data)) > v.maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max: %d bytes)", ErrTooLarge, len(data), v.maxSize)
	}
	if !bytes.HasPrefix(bytes.TrimLeft(data[:min(len(data), 1024)], "\x00\t\r\n "), []byte("%PDF-")) {
		return nil, ErrNotPDF
	}

	var errs []error
	for _, b := range v.backends {
		info, err := b.Inspect(data)
		if err == nil {
			return info, nil
		}
		errs = append(errs, err)
	}
	return nil, fmt.Errorf("invalid PDF: %w", errors.Join(errs...))
}

// IsValid is Validate without the details
func (v *Validator) IsValid(data []byte) bool {
	_, err := v.Validate(data)
	return err == nil
}

// Merge concatenates the pages of docs in order
func Merge(docs ...[]byte) ([]byte, error) {
	if len(docs) == 0 {
		return nil, ErrEmpty
	}
	if len(docs) == 1 {
		return docs[0], nil
	}

	rs := make([]io.ReadSeeker, len(docs))
	for i, d := range docs {
		rs[i] = bytes.NewReader(d)
	}
	var out bytes.Buffer
	if err := api.MergeRaw(rs, &out, false, relaxedConfig()); err != nil {
		return nil, &BackendError{Backend: BackendPDFCPU, Op: "merge", Err: err}
	}
	return out.Bytes(), nil
}

// PageCount counts pages with pdfcpu, falling back to ledongthuc/pdf
func PageCount(data []byte) (int, error) {
	n, err := api.PageCount(bytes.NewReader(data), relaxedConfig())
	if err == nil {
		return n, nil
	}
	log.Printf("pdfcpu could not count pages, trying ledongthuc: %v", err)
	info, err2 := Ledongthuc{}.Inspect(data)
	if err2 != nil {
		return 0, errors.Join(err, err2)
	}
	return info.Pages, nil
}
