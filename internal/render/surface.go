package render

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cpa-ufpa/avalia-report/internal/selection"
	"github.com/cpa-ufpa/avalia-report/internal/waitfor"
)

// Surface is an off-screen copy of the dashboard whose visual elements can be
// rasterized. Elements are addressed by their DOM id.
type Surface interface {
	// Load navigates to url and returns once the load event fired
	Load(ctx context.Context, url string) error
	// Nudge forces a reflow, dispatches a resize event and scrolls by one pixel
	Nudge(ctx context.Context)
	// Probe reports whether the element exists and has a visible size
	Probe(ctx context.Context, id string) (Probe, error)
	ScrollIntoView(ctx context.Context, id string) error

	// Snapshot strategies, all returning PNG bytes
	CanvasPNG(ctx context.Context, id string) ([]byte, error)
	SVGPNG(ctx context.Context, id string) ([]byte, error)
	SubtreePNG(ctx context.Context, id string) ([]byte, error)
	ScreenshotPNG(ctx context.Context, id string) ([]byte, error)

	Close() error
}

// ElementKind tells what backs a chart container
type ElementKind string

const (
	KindCanvas ElementKind = "canvas"
	KindSVG    ElementKind = "svg"
	KindHTML   ElementKind = "html"
)

// Probe is the result of looking up an element
type Probe struct {
	Present bool        `json:"present"`
	Width   float64     `json:"width"`
	Height  float64     `json:"height"`
	Kind    ElementKind `json:"kind"`
}

// Ready reports whether the element can be captured
func (p Probe) Ready() bool {
	return p.Present && p.Width > 0 && p.Height > 0
}

// ErrReleased is returned when a lease is used after Release
var ErrReleased = errors.New("render lease already released")

// Timing holds the settle delays around a reload
type Timing struct {
	AfterLoad   time.Duration
	AfterNudge  time.Duration
	LoadTimeout time.Duration
}

// DefaultTiming returns the delays the embedded dashboard needs to lay out
func DefaultTiming() Timing {
	return Timing{
		AfterLoad:   200 * time.Millisecond,
		AfterNudge:  150 * time.Millisecond,
		LoadTimeout: 60 * time.Second,
	}
}

// Resource owns the single render surface. A build acquires it for its whole
// lifetime; nobody else may touch the surface meanwhile.
type Resource struct {
	surface Surface
	base    string
	params  selection.TargetParams
	timing  Timing
	slot    chan struct{}
	logger  *log.Logger
}

// NewResource wraps surface. base is the dashboard address the targets are
// resolved against.
func NewResource(surface Surface, base string, params selection.TargetParams, timing Timing) *Resource {
	return &Resource{
		surface: surface,
		base:    base,
		params:  params,
		timing:  timing,
		slot:    make(chan struct{}, 1),
		logger:  log.New(os.Stderr, "[Render] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (r *Resource) SetLogger(l *log.Logger) {
	r.logger = l
}

// Acquire blocks until the surface is free or ctx is done
func (r *Resource) Acquire(ctx context.Context) (*Lease, error) {
	select {
	case r.slot <- struct{}{}:
		return &Lease{res: r}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close shuts the underlying surface down
func (r *Resource) Close() error {
	return r.surface.Close()
}

// Lease is exclusive access to the render surface
type Lease struct {
	res      *Resource
	released bool
	loads    int
}

// Surface returns the leased surface
func (l *Lease) Surface() Surface {
	return l.res.surface
}

// Loads returns how many reloads this lease performed
func (l *Lease) Loads() int {
	return l.loads
}

// Load fully reloads the surface for target. Each unit gets its own navigation
// so no dashboard state survives from the previous unit.
func (l *Lease) Load(ctx context.Context, target selection.RenderTarget) error {
	if l.released {
		return ErrReleased
	}
	u, err := target.URL(l.res.base, l.res.params)
	if err != nil {
		return err
	}

	loadCtx := ctx
	if l.res.timing.LoadTimeout > 0 {
		var cancel context.CancelFunc
		loadCtx, cancel = context.WithTimeout(ctx, l.res.timing.LoadTimeout)
		defer cancel()
	}

	l.loads++
	if err := l.res.surface.Load(loadCtx, u); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("failed to load %s: %w", u, err)
	}

	if err := waitfor.Sleep(ctx, l.res.timing.AfterLoad); err != nil {
		return err
	}
	l.res.surface.Nudge(ctx)
	return waitfor.Sleep(ctx, l.res.timing.AfterNudge)
}

// Release hands the surface back. Calling it more than once is harmless.
func (l *Lease) Release() {
	if l.released {
		return
	}
	l.released = true
	<-l.res.slot
}
