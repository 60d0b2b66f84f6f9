package capture

import (
	"context"

	"github.com/cpa-ufpa/avalia-report/internal/render"
)

// Strategy is one way of turning an element into PNG bytes
type Strategy struct {
	Name string
	Run  func(ctx context.Context, s render.Surface, id string) ([]byte, error)
}

// Canvas exports a pixel canvas directly; the cheapest path
var Canvas = Strategy{Name: "canvas", Run: func(ctx context.Context, s render.Surface, id string) ([]byte, error) {
	return s.CanvasPNG(ctx, id)
}}

// SVG serializes vector markup and rasterizes it through an image load
var SVG = Strategy{Name: "svg", Run: func(ctx context.Context, s render.Surface, id string) ([]byte, error) {
	return s.SVGPNG(ctx, id)
}}

// Subtree wraps the whole element in a foreignObject; tolerant of any markup
var Subtree = Strategy{Name: "subtree", Run: func(ctx context.Context, s render.Surface, id string) ([]byte, error) {
	return s.SubtreePNG(ctx, id)
}}

// Screenshot lets the browser compositor paint the element's box
var Screenshot = Strategy{Name: "screenshot", Run: func(ctx context.Context, s render.Surface, id string) ([]byte, error) {
	return s.ScreenshotPNG(ctx, id)
}}

// DefaultStrategies is the fallback chain, cheapest first
func DefaultStrategies() []Strategy {
	return []Strategy{Canvas, SVG, Subtree, Screenshot}
}
