// Package rendertest provides an in-memory render surface for tests.
package rendertest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"

	"github.com/cpa-ufpa/avalia-report/internal/render"
)

// ErrNoImage is returned by a strategy the element does not support
var ErrNoImage = errors.New("no image for this strategy")

// Element describes how a fake element behaves
type Element struct {
	Kind render.ElementKind
	// ReadyAfter is the number of probes that report a zero size first
	ReadyAfter int
	// Never keeps the element at zero size forever
	Never bool
	// Strategies lists which snapshot methods succeed ("canvas", "svg", "subtree", "screenshot")
	Strategies []string
	Width      int
	Height     int
}

// Surface is a scriptable render.Surface
type Surface struct {
	mu       sync.Mutex
	Elements map[string]*Element
	LoadErr  error
	// OnLoad runs after every successful load with the loaded url
	OnLoad func(url string)

	Loads   []string
	Calls   []string
	probes  map[string]int
	nudges  int
	closed  bool
}

// NewSurface returns a surface exposing elements
func NewSurface(elements map[string]*Element) *Surface {
	if elements == nil {
		elements = map[string]*Element{}
	}
	return &Surface{Elements: elements, probes: map[string]int{}}
}

// Load records the navigation
func (s *Surface) Load(ctx context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.LoadErr != nil {
		return s.LoadErr
	}
	s.Loads = append(s.Loads, url)
	s.probes = map[string]int{}
	if s.OnLoad != nil {
		s.OnLoad(url)
	}
	return nil
}

// Nudge counts layout nudges
func (s *Surface) Nudge(context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nudges++
}

// Nudges returns the number of nudges so far
func (s *Surface) Nudges() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nudges
}

// Probe reports the scripted element state
func (s *Surface) Probe(_ context.Context, id string) (render.Probe, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	el, ok := s.Elements[id]
	if !ok {
		return render.Probe{}, nil
	}
	s.probes[id]++
	if el.Never || s.probes[id] <= el.ReadyAfter {
		return render.Probe{Present: true, Kind: el.Kind}, nil
	}
	w, h := el.size()
	return render.Probe{Present: true, Width: float64(w), Height: float64(h), Kind: el.Kind}, nil
}

// ScrollIntoView records the call
func (s *Surface) ScrollIntoView(_ context.Context, id string) error {
	s.record("scroll:" + id)
	return nil
}

// CanvasPNG succeeds when the element lists the canvas strategy
func (s *Surface) CanvasPNG(_ context.Context, id string) ([]byte, error) {
	return s.snapshot("canvas", id)
}

// SVGPNG succeeds when the element lists the svg strategy
func (s *Surface) SVGPNG(_ context.Context, id string) ([]byte, error) {
	return s.snapshot("svg", id)
}

// SubtreePNG succeeds when the element lists the subtree strategy
func (s *Surface) SubtreePNG(_ context.Context, id string) ([]byte, error) {
	return s.snapshot("subtree", id)
}

// ScreenshotPNG succeeds when the element lists the screenshot strategy
func (s *Surface) ScreenshotPNG(_ context.Context, id string) ([]byte, error) {
	return s.snapshot("screenshot", id)
}

// Close marks the surface closed
func (s *Surface) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Closed reports whether Close was called
func (s *Surface) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// LoadCount returns the number of navigations
func (s *Surface) LoadCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Loads)
}

// CallLog returns a copy of the recorded strategy calls
func (s *Surface) CallLog() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.Calls...)
}

func (s *Surface) record(call string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Calls = append(s.Calls, call)
}

func (s *Surface) snapshot(strategy, id string) ([]byte, error) {
	s.record(strategy + ":" + id)

	s.mu.Lock()
	el, ok := s.Elements[id]
	s.mu.Unlock()
	if !ok {
		return nil, ErrNoImage
	}
	for _, st := range el.Strategies {
		if st == strategy {
			w, h := el.size()
			return PNG(w, h), nil
		}
	}
	return nil, ErrNoImage
}

func (e *Element) size() (int, int) {
	w, h := e.Width, e.Height
	if w == 0 {
		w = 320
	}
	if h == 0 {
		h = 160
	}
	return w, h
}

// PNG encodes a noisy w×h image so that it is well above the trivial-size
// threshold of the capture engine.
func PNG(w, h int) []byte {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	seed := uint32(2463534242)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			seed ^= seed << 13
			seed ^= seed >> 17
			seed ^= seed << 5
			img.Set(x, y, color.RGBA{R: uint8(seed), G: uint8(seed >> 8), B: uint8(seed >> 16), A: 255})
		}
	}
	var buf bytes.Buffer
	_ = png.Encode(&buf, img)
	return buf.Bytes()
}
