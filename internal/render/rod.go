package render

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
)

// BrowserConfig configures the headless browser behind RodSurface
type BrowserConfig struct {
	Bin      string // empty lets rod find or download a Chromium
	Headless bool
	Width    int
	Height   int
}

// DefaultBrowserConfig returns the viewport the dashboard is laid out for
func DefaultBrowserConfig() BrowserConfig {
	return BrowserConfig{
		Headless: true,
		Width:    1600,
		Height:   3000,
	}
}

// RodSurface is a Surface backed by a headless Chromium page driven through the
// DevTools protocol.
type RodSurface struct {
	browser *rod.Browser
	page    *rod.Page
}

// NewRodSurface launches a browser and opens the page used for every reload
func NewRodSurface(cfg BrowserConfig) (*RodSurface, error) {
	l := launcher.New().Headless(cfg.Headless).NoSandbox(true)
	if cfg.Bin != "" {
		l = l.Bin(cfg.Bin)
	}
	controlURL, err := l.Launch()
	if err != nil {
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browser := rod.New().ControlURL(controlURL)
	if err := browser.Connect(); err != nil {
		return nil, fmt.Errorf("failed to connect to browser: %w", err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	err = page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             cfg.Width,
		Height:            cfg.Height,
		DeviceScaleFactor: 1,
	})
	if err != nil {
		_ = browser.Close()
		return nil, fmt.Errorf("failed to set viewport: %w", err)
	}

	return &RodSurface{browser: browser, page: page}, nil
}

// Load navigates the page and waits for its load event
func (s *RodSurface) Load(ctx context.Context, url string) error {
	p := s.page.Context(ctx)
	if err := p.Navigate(url); err != nil {
		return err
	}
	return p.WaitLoad()
}

// Nudge defeats lazy layout in the embedded dashboard
func (s *RodSurface) Nudge(ctx context.Context) {
	_, _ = s.page.Context(ctx).Eval(nudgeJS)
}

// Probe looks the element up and measures it
func (s *RodSurface) Probe(ctx context.Context, id string) (Probe, error) {
	res, err := s.page.Context(ctx).Eval(probeJS, id)
	if err != nil {
		return Probe{}, err
	}
	v := res.Value
	return Probe{
		Present: v.Get("present").Bool(),
		Width:   v.Get("width").Num(),
		Height:  v.Get("height").Num(),
		Kind:    ElementKind(v.Get("kind").Str()),
	}, nil
}

// ScrollIntoView centers the element in the viewport
func (s *RodSurface) ScrollIntoView(ctx context.Context, id string) error {
	_, err := s.page.Context(ctx).Eval(scrollJS, id)
	return err
}

// CanvasPNG exports the bitmap of the first canvas inside the element
func (s *RodSurface) CanvasPNG(ctx context.Context, id string) ([]byte, error) {
	return s.evalDataURL(ctx, canvasJS, id)
}

// SVGPNG serializes the first svg inside the element and rasterizes it
func (s *RodSurface) SVGPNG(ctx context.Context, id string) ([]byte, error) {
	return s.evalDataURL(ctx, svgJS, id)
}

// SubtreePNG wraps the element markup in a foreignObject and rasterizes it
func (s *RodSurface) SubtreePNG(ctx context.Context, id string) ([]byte, error) {
	return s.evalDataURL(ctx, subtreeJS, id)
}

// ScreenshotPNG asks the browser compositor for the element's pixels
func (s *RodSurface) ScreenshotPNG(ctx context.Context, id string) ([]byte, error) {
	el, err := s.page.Context(ctx).Timeout(5 * time.Second).Element(idSelector(id))
	if err != nil {
		return nil, err
	}
	return el.Screenshot(proto.PageCaptureScreenshotFormatPng, 0)
}

// Close shuts the browser down
func (s *RodSurface) Close() error {
	return s.browser.Close()
}

func (s *RodSurface) evalDataURL(ctx context.Context, js, id string) ([]byte, error) {
	res, err := s.page.Context(ctx).Eval(js, id)
	if err != nil {
		return nil, err
	}
	return DecodeDataURL(res.Value.Str())
}

func idSelector(id string) string {
	return "[id=" + strconv.Quote(id) + "]"
}

var errNotDataURL = errors.New("not a base64 data url")

// DecodeDataURL returns the payload of a base64 data URL
func DecodeDataURL(s string) ([]byte, error) {
	if s == "" {
		return nil, errNotDataURL
	}
	i := strings.Index(s, ";base64,")
	if !strings.HasPrefix(s, "data:") || i < 0 {
		return nil, errNotDataURL
	}
	return base64.StdEncoding.DecodeString(s[i+len(";base64,"):])
}

const nudgeJS = `() => {
	void document.documentElement.offsetHeight;
	window.dispatchEvent(new Event('resize'));
	if (window.scrollTo) window.scrollTo(0, 1);
}`

const probeJS = `(id) => {
	const el = document.getElementById(id);
	if (!el) return { present: false, width: 0, height: 0, kind: '' };
	const c = el.querySelector('canvas');
	if (c && c.width > 0 && c.height > 0) {
		return { present: true, width: c.width, height: c.height, kind: 'canvas' };
	}
	const s = el.querySelector('svg');
	if (s) {
		const bb = s.getBBox ? s.getBBox() : null;
		if (!bb || (bb.width > 0 && bb.height > 0)) {
			const r = s.getBoundingClientRect();
			return { present: true, width: r.width || (bb ? bb.width : 1), height: r.height || (bb ? bb.height : 1), kind: 'svg' };
		}
	}
	const r = el.getBoundingClientRect();
	return { present: true, width: r.width, height: r.height, kind: 'html' };
}`

const scrollJS = `(id) => {
	const el = document.getElementById(id);
	if (el && el.scrollIntoView) el.scrollIntoView({ block: 'center', inline: 'nearest' });
}`

const canvasJS = `(id) => {
	const el = document.getElementById(id);
	const c = el && el.querySelector('canvas');
	if (!c) return '';
	try { return c.toDataURL('image/png'); } catch (e) { return ''; }
}`

const rasterizeJS = `
	const load = (src) => new Promise((res, rej) => {
		const img = new Image();
		img.crossOrigin = 'anonymous';
		img.onload = () => res(img);
		img.onerror = rej;
		img.src = src;
	});
	const toPNG = (img, w, h) => {
		const c = document.createElement('canvas');
		c.width = img.naturalWidth || w;
		c.height = img.naturalHeight || h;
		const ctx = c.getContext('2d');
		ctx.fillStyle = '#ffffff';
		ctx.fillRect(0, 0, c.width, c.height);
		ctx.drawImage(img, 0, 0);
		return c.toDataURL('image/png');
	};
	const encode = (s) => 'data:image/svg+xml;base64,' + btoa(unescape(encodeURIComponent(s)));
`

const svgJS = `async (id) => {` + rasterizeJS + `
	const el = document.getElementById(id);
	const svg = el && el.querySelector('svg');
	if (!svg) return '';
	try {
		const cloned = svg.cloneNode(true);
		cloned.setAttribute('style', 'background:#ffffff');
		const img = await load(encode(new XMLSerializer().serializeToString(cloned)));
		return toPNG(img, 1600, 900);
	} catch (e) { return ''; }
}`

const subtreeJS = `async (id) => {` + rasterizeJS + `
	const el = document.getElementById(id);
	if (!el) return '';
	try {
		const rect = el.getBoundingClientRect();
		const w = Math.max(1, Math.round(rect.width));
		const h = Math.max(1, Math.round(rect.height));
		const clone = el.cloneNode(true);
		clone.style.background = '#ffffff';
		const xhtml = new XMLSerializer().serializeToString(clone);
		const svg = '<svg xmlns="http://www.w3.org/2000/svg" width="' + w + '" height="' + h + '">' +
			'<foreignObject width="100%" height="100%">' + xhtml + '</foreignObject></svg>';
		const img = await load(encode(svg));
		return toPNG(img, w, h);
	} catch (e) { return ''; }
}`
