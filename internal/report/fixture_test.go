package report

import (
	"bytes"
	"context"
	"io"
	"log"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/go-pdf/fpdf"
	"github.com/stretchr/testify/require"

	"github.com/cpa-ufpa/avalia-report/internal/appendix"
	"github.com/cpa-ufpa/avalia-report/internal/assets"
	"github.com/cpa-ufpa/avalia-report/internal/cache"
	"github.com/cpa-ufpa/avalia-report/internal/capture"
	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/compose"
	"github.com/cpa-ufpa/avalia-report/internal/layout"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/render"
	"github.com/cpa-ufpa/avalia-report/internal/render/rendertest"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
	"github.com/cpa-ufpa/avalia-report/internal/stability"
)

const testLayout = `
target:
  period: ano
  program: curso
  unit: polo
  mode: embedForPdf
legend:
  - {label: Discordo, color: "#d62728"}
  - {label: Concordo, color: "#2ca02c"}
unit_title:
  heading: "RELATÓRIO AVALIA {period}"
  subheading: "{program} - {unit}"
  program_fallback: Curso
  unit_fallback: Campus/Polo
sections:
  - title: Dimensões Gerais
    new_page: true
    figures:
      - {id: chart-dimensoes, caption: "Proporções ({period})", legend: true, box: 220}
      - {id: chart-medias, caption: "Médias ({period})", box: 160}
    table: table-stats
appendix:
  default: questionario.pdf
`

func quiet() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func testCatalog() *catalog.Catalog {
	c := catalog.New()
	c.Add(catalog.Period{Name: "2025", Programs: []string{"Pedagogia"}, Units: []string{"Belém", "Breves", "Todos os Polos"}})
	c.Add(catalog.Period{Name: "2023", Programs: []string{"Letras", "Matemática"}})
	return c
}

func dashboardElements() map[string]*rendertest.Element {
	return map[string]*rendertest.Element{
		"chart-dimensoes": {Kind: render.KindCanvas, Strategies: []string{"canvas"}, Width: 400, Height: 200},
		"chart-medias":    {Kind: render.KindSVG, Strategies: []string{"svg"}, Width: 400, Height: 160},
		"table-stats":     {Kind: render.KindHTML, Strategies: []string{"subtree"}, Width: 500, Height: 120},
	}
}

func fastCapture() capture.Options {
	return capture.Options{
		Timeout:      30 * time.Millisecond,
		PollInterval: time.Millisecond,
		Attempts:     2,
		Backoff:      func(int) time.Duration { return time.Millisecond },
		MinBytes:     capture.MinImageBytes,
	}
}

func samplePDF(t *testing.T, pages int) []byte {
	t.Helper()
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetFont("Helvetica", "", 12)
	for i := 0; i < pages; i++ {
		pdf.AddPage()
		pdf.Text(40, 60, "questionario")
	}
	var buf bytes.Buffer
	require.NoError(t, pdf.Output(&buf))
	return buf.Bytes()
}

type fixture struct {
	surface *rendertest.Surface
	layout  *layout.Layout
	builder *Builder
	dir     string
}

// newFixture builds a Builder on an in-memory dashboard. withAppendix writes a
// two page questionnaire into the asset directory.
func newFixture(t *testing.T, withAppendix bool) *fixture {
	t.Helper()
	l, err := layout.Parse([]byte(testLayout))
	require.NoError(t, err)

	dir := t.TempDir()
	loader, err := assets.NewLoader(dir, nil, 0)
	require.NoError(t, err)

	var merger *appendix.Merger
	if withAppendix {
		require.NoError(t, os.WriteFile(filepath.Join(dir, "questionario.pdf"), samplePDF(t, 2), 0o644))
		merger = appendix.NewMerger(loader, 0)
		merger.SetLogger(quiet())
	}

	surface := rendertest.NewSurface(dashboardElements())
	res := render.NewResource(surface, "http://dashboard.local/relatorio", l.Target, render.Timing{})
	res.SetLogger(quiet())

	b := NewBuilder(l, res, loader, merger, BuilderOptions{Capture: fastCapture(), Compose: compose.DefaultOptions()})
	b.SetLogger(quiet())
	return &fixture{surface: surface, layout: l, builder: b, dir: dir}
}

// memClient is an in-memory cache collaborator
type memClient struct {
	mu      sync.Mutex
	urls    map[string]string
	lookups int
	saves   int
}

func newMemClient() *memClient {
	return &memClient{urls: map[string]string{}}
}

func (m *memClient) Lookup(_ context.Context, period, program string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lookups++
	return m.urls[cache.BlobKey(period, program)], nil
}

func (m *memClient) Save(_ context.Context, period, program string, _ []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saves++
	key := cache.BlobKey(period, program)
	m.urls[key] = "https://blob.local/" + key
	return m.urls[key], nil
}

func (m *memClient) counts() (int, int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lookups, m.saves
}

// countingGen counts builds per signature
type countingGen struct {
	inner Generator
	mu    sync.Mutex
	calls map[string]int
}

func (g *countingGen) Build(ctx context.Context, sel selection.Selection, period *catalog.Period, rep progress.Reporter) (*Document, error) {
	g.mu.Lock()
	if g.calls == nil {
		g.calls = map[string]int{}
	}
	g.calls[sel.Signature()]++
	g.mu.Unlock()
	return g.inner.Build(ctx, sel, period, rep)
}

func (g *countingGen) count(sig string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls[sig]
}

func newController(t *testing.T, gen Generator, client cache.Client) (*Controller, *progress.InteractionLock) {
	t.Helper()
	lock := progress.NewInteractionLock()
	tracker := progress.NewTracker(lock)
	tracker.SetLogger(quiet())
	tracker.SetInterval(0)

	gate := cache.NewGate(client)
	gate.SetLogger(quiet())

	cfg := stability.DefaultConfig()
	cfg.EnableGCForcing = false
	guard := stability.NewGuard(cfg)
	guard.SetLogger(quiet())

	c := NewController(Deps{
		Catalog:   testCatalog(),
		Generator: gen,
		Gate:      gate,
		Tracker:   tracker,
		Guard:     guard,
	})
	c.SetLogger(quiet())
	t.Cleanup(c.Close)
	return c, lock
}

func wait(t *testing.T, c *Controller) Status {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := c.Wait(ctx)
	require.NoError(t, err)
	return st
}
