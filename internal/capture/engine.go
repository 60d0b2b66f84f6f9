// Package capture turns named visual elements of the render surface into PNG
// images. Capturing never fails the caller: an element that cannot be
// rasterized yields a nil result and a logged warning.
package capture

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/png" // register the PNG decoder for DecodeConfig
	"log"
	"os"
	"time"

	"github.com/cpa-ufpa/avalia-report/internal/render"
	"github.com/cpa-ufpa/avalia-report/internal/waitfor"
)

const (
	DefaultTimeout      = 12 * time.Second
	DefaultPollInterval = 90 * time.Millisecond
	DefaultAttempts     = 4
	// MinImageBytes is the decoded size of a 1000 character PNG data URL.
	// Anything smaller is a blank or half painted canvas.
	MinImageBytes = 750
)

// Result is a captured element
type Result struct {
	ElementID string
	Image     []byte
	Width     int
	Height    int
}

// Options tunes the engine
type Options struct {
	Timeout      time.Duration
	PollInterval time.Duration
	Attempts     int
	Settle       time.Duration
	Backoff      func(attempt int) time.Duration
	MinBytes     int
}

// DefaultOptions returns the timings used against the live dashboard
func DefaultOptions() Options {
	return Options{
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		Attempts:     DefaultAttempts,
		Settle:       60 * time.Millisecond,
		Backoff: func(attempt int) time.Duration {
			return time.Duration(120+attempt*60) * time.Millisecond
		},
		MinBytes: MinImageBytes,
	}
}

// Engine captures elements of one surface
type Engine struct {
	surface    render.Surface
	strategies []Strategy
	opts       Options
	logger     *log.Logger
}

// NewEngine creates an engine trying strategies in order. With no strategies the
// default chain is used.
func NewEngine(surface render.Surface, opts Options, strategies ...Strategy) *Engine {
	if len(strategies) == 0 {
		strategies = DefaultStrategies()
	}
	if opts.Attempts <= 0 {
		opts.Attempts = 1
	}
	if opts.Backoff == nil {
		opts.Backoff = func(int) time.Duration { return 0 }
	}
	return &Engine{
		surface:    surface,
		strategies: strategies,
		opts:       opts,
		logger:     log.New(os.Stderr, "[Capture] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (e *Engine) SetLogger(l *log.Logger) {
	e.logger = l
}

// Capture resolves id to an image, using the engine's default timeout when
// timeout is zero. It returns nil when the element never became visible, every
// attempt failed or ctx was cancelled.
func (e *Engine) Capture(ctx context.Context, id string, timeout time.Duration) *Result {
	if timeout <= 0 {
		timeout = e.opts.Timeout
	}

	err := waitfor.Condition(ctx, func(ctx context.Context) (bool, error) {
		p, err := e.surface.Probe(ctx, id)
		if err != nil {
			return false, nil
		}
		return p.Ready(), nil
	}, timeout, e.opts.PollInterval, e.surface.Nudge)
	if err != nil {
		if ctx.Err() == nil {
			e.logger.Printf("Timeout waiting for chart/table #%s", id)
		}
		return nil
	}

	for attempt := 0; attempt < e.opts.Attempts; attempt++ {
		if ctx.Err() != nil {
			return nil
		}
		if res := e.attempt(ctx, id); res != nil {
			return res
		}
		e.surface.Nudge(ctx)
		if waitfor.Sleep(ctx, e.opts.Backoff(attempt)) != nil {
			return nil
		}
	}

	e.logger.Printf("Failed to capture container #%s after %d attempts", id, e.opts.Attempts)
	return nil
}

// CaptureImage is Capture with the default timeout, returning only the bytes
func (e *Engine) CaptureImage(ctx context.Context, id string) []byte {
	if res := e.Capture(ctx, id, 0); res != nil {
		return res.Image
	}
	return nil
}

func (e *Engine) attempt(ctx context.Context, id string) *Result {
	if err := e.ensureInView(ctx, id); err != nil {
		return nil
	}

	data, err := FirstSuccess(ctx, e.surface, id, e.nonTrivial, e.strategies...)
	if err != nil {
		return nil
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		e.logger.Printf("Captured #%s is not a decodable image: %v", id, err)
		return nil
	}
	return &Result{ElementID: id, Image: data, Width: cfg.Width, Height: cfg.Height}
}

// ensureInView scrolls the element into the viewport and lets it repaint;
// transformed or offscreen elements rasterize blank with some strategies.
func (e *Engine) ensureInView(ctx context.Context, id string) error {
	_ = e.surface.ScrollIntoView(ctx, id)
	for i := 0; i < 2; i++ {
		e.surface.Nudge(ctx)
		if err := waitfor.Sleep(ctx, e.opts.Settle); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) nonTrivial(data []byte) bool {
	return len(data) >= e.opts.MinBytes
}

// ErrNoStrategy is returned when no strategy produced an acceptable image
var ErrNoStrategy = errors.New("no capture strategy produced an image")

// FirstSuccess runs strategies in order and returns the first output accepted
// by ok. Strategy errors are collected, never short-circuit the chain.
func FirstSuccess(ctx context.Context, s render.Surface, id string, ok func([]byte) bool, strategies ...Strategy) ([]byte, error) {
	var errs []error
	for _, st := range strategies {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := st.Run(ctx, s, id)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", st.Name, err))
			continue
		}
		if ok(data) {
			return data, nil
		}
		errs = append(errs, fmt.Errorf("%s: image too small (%d bytes)", st.Name, len(data)))
	}
	return nil, errors.Join(append([]error{ErrNoStrategy}, errs...)...)
}
