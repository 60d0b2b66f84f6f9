package reporterr

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// UserMessage is shown whenever a build fails in a way the user has to know about.
const UserMessage = "Não foi possível gerar o PDF. Verifique os filtros ou recarregue a página."

// ReportError represents a failure somewhere in the report pipeline together with
// the unit and element it happened on
type ReportError struct {
	Kind      ErrorKind `json:"kind"`
	Message   string    `json:"message"`
	Unit      string    `json:"unit,omitempty"`
	ElementID string    `json:"element_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Err       error     `json:"-"`
}

// ErrorKind categorizes pipeline failures
type ErrorKind int

const (
	KindUnknown ErrorKind = iota
	KindCaptureFailed
	KindRenderLoadFailed
	KindCacheFailed
	KindAppendixFailed
	KindBuildFailed
	KindCancelled
)

// ErrorSeverity indicates how a failure affects the delivered report
type ErrorSeverity int

const (
	SeverityWarning ErrorSeverity = iota
	SeverityError
	SeverityFatal
)

// ErrCancelled is returned by every blocking pipeline step once the selection it
// was working for has been superseded.
var ErrCancelled = errors.New("report build cancelled")

// Error implements the error interface
func (e *ReportError) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Kind.String(), e.Message)
	if e.Unit != "" {
		msg += fmt.Sprintf(" (unit %s)", e.Unit)
	}
	if e.ElementID != "" {
		msg += fmt.Sprintf(" (element #%s)", e.ElementID)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the underlying cause
func (e *ReportError) Unwrap() error {
	return e.Err
}

// String returns a string representation of the ErrorKind
func (k ErrorKind) String() string {
	switch k {
	case KindCaptureFailed:
		return "CAPTURE_FAILED"
	case KindRenderLoadFailed:
		return "RENDER_LOAD_FAILED"
	case KindCacheFailed:
		return "CACHE_FAILED"
	case KindAppendixFailed:
		return "APPENDIX_FAILED"
	case KindBuildFailed:
		return "BUILD_FAILED"
	case KindCancelled:
		return "CANCELLED"
	default:
		return "UNKNOWN"
	}
}

// GetSeverity returns the severity level for a given error kind
func (k ErrorKind) GetSeverity() ErrorSeverity {
	switch k {
	case KindCaptureFailed, KindCacheFailed, KindAppendixFailed, KindCancelled:
		return SeverityWarning
	case KindRenderLoadFailed:
		return SeverityError
	default:
		return SeverityFatal
	}
}

// UserVisible reports whether failures of this kind reach the user. Everything
// except an unexpected build failure is absorbed by the pipeline.
func (k ErrorKind) UserVisible() bool {
	return k == KindBuildFailed || k == KindUnknown
}

// New creates a ReportError of the given kind
func New(kind ErrorKind, message string) *ReportError {
	return &ReportError{
		Kind:      kind,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// Wrap wraps err as a ReportError of the given kind
func Wrap(kind ErrorKind, message string, err error) *ReportError {
	e := New(kind, message)
	e.Err = err
	return e
}

// WithUnit adds the unit being processed
func (e *ReportError) WithUnit(unit string) *ReportError {
	e.Unit = unit
	return e
}

// WithElement adds the element id being captured
func (e *ReportError) WithElement(id string) *ReportError {
	e.ElementID = id
	return e
}

// KindOf extracts the kind from any error. Cancellation sentinels map to
// KindCancelled; plain errors are unexpected build failures.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindUnknown
	}
	if errors.Is(err, ErrCancelled) {
		return KindCancelled
	}
	var re *ReportError
	if errors.As(err, &re) {
		return re.Kind
	}
	return KindBuildFailed
}

// Collection gathers the absorbed failures of one build so they can be logged
// and reported alongside the finished document.
type Collection struct {
	mu       sync.Mutex
	Errors   []*ReportError `json:"errors"`
	Warnings []*ReportError `json:"warnings"`
}

// NewCollection creates an empty collection
func NewCollection() *Collection {
	return &Collection{
		Errors:   make([]*ReportError, 0),
		Warnings: make([]*ReportError, 0),
	}
}

// Add files the error by severity
func (c *Collection) Add(err *ReportError) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err.Kind.GetSeverity() == SeverityWarning {
		c.Warnings = append(c.Warnings, err)
	} else {
		c.Errors = append(c.Errors, err)
	}
}

// Count returns the number of errors and warnings
func (c *Collection) Count() (errs, warnings int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.Errors), len(c.Warnings)
}

// Summary returns a text summary of all errors and warnings
func (c *Collection) Summary() string {
	errorCount, warningCount := c.Count()
	if errorCount == 0 && warningCount == 0 {
		return "No errors or warnings"
	}
	return fmt.Sprintf("Found %d error(s) and %d warning(s)", errorCount, warningCount)
}
