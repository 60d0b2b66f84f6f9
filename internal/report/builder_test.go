package report

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

type checkpointLog struct {
	mu      sync.Mutex
	stages  []progress.Stage
	percent []float64
}

func (r *checkpointLog) Report(stage progress.Stage, percent float64, _ string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stages = append(r.stages, stage)
	r.percent = append(r.percent, percent)
}

func resolve(t *testing.T, sel selection.Selection) (selection.Selection, *catalog.Period) {
	t.Helper()
	s, p, err := testCatalog().Resolve(sel)
	require.NoError(t, err)
	return s, p
}

func TestUnits(t *testing.T) {
	withUnits := &catalog.Period{Name: "2025", Programs: []string{"P"}, Units: []string{"Belém", "Breves", "__ALL__"}}
	withoutUnits := &catalog.Period{Name: "2023", Programs: []string{"P"}}

	assert.Equal(t, []string{"Belém", "Breves"},
		Units(selection.Selection{Scope: selection.ScopeAllUnits}, withUnits), "pseudo units are never walked")
	assert.Equal(t, []string{"Breves"},
		Units(selection.Selection{Unit: "Breves", Scope: selection.ScopeSingle}, withUnits))
	assert.Equal(t, []string{""},
		Units(selection.Selection{Scope: selection.ScopeSingle}, withoutUnits))
}

func TestBuilder_AggregateReloadsEveryUnitInOrder(t *testing.T) {
	f := newFixture(t, false)
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Todos os Polos"})
	rec := &checkpointLog{}

	doc, err := f.builder.Build(context.Background(), sel, period, rec)
	require.NoError(t, err)

	require.Len(t, f.surface.Loads, 2)
	for i, unit := range []string{"Belém", "Breves"} {
		u, err := url.Parse(f.surface.Loads[i])
		require.NoError(t, err)
		q := u.Query()
		assert.Equal(t, "2025", q.Get("ano"))
		assert.Equal(t, "Pedagogia", q.Get("curso"))
		assert.Equal(t, unit, q.Get("polo"))
		assert.Equal(t, "1", q.Get("embedForPdf"))
	}

	assert.Equal(t, []string{"Belém", "Breves"}, doc.Units)
	assert.Equal(t, 4, doc.Figures, "two captioned charts per unit")
	assert.GreaterOrEqual(t, doc.Pages, 4, "title page and section page per unit")
	assert.Empty(t, doc.Warnings)
	assert.Equal(t, "relatorio-avalia-2025-Pedagogia-todos-os-polos.pdf", doc.FileName)

	// checkpoints: (idx+0.4)/total and (idx+1)/total scaled to the aggregate cap
	var checkpoints []float64
	for _, p := range rec.percent {
		if p > 0 {
			checkpoints = append(checkpoints, p)
		}
	}
	assert.Equal(t, []float64{19, 48, 67, 95, 96, 99}, checkpoints)
	assert.Equal(t, progress.StageFinalizing, rec.stages[len(rec.stages)-1])
}

func TestBuilder_AppendsQuestionnaire(t *testing.T) {
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Breves"})

	plain, err := newFixture(t, false).builder.Build(context.Background(), sel, period, nil)
	require.NoError(t, err)
	withAppendix, err := newFixture(t, true).builder.Build(context.Background(), sel, period, nil)
	require.NoError(t, err)

	assert.Equal(t, plain.Pages+2, withAppendix.Pages)
	assert.Equal(t, []string{"Breves"}, withAppendix.Units)
	assert.Equal(t, "relatorio-avalia-2025-Pedagogia-breves.pdf", withAppendix.FileName)
}

func TestBuilder_MissingAppendixIsAWarning(t *testing.T) {
	f := newFixture(t, true)
	f.layout.Appendix.Default = "nao-existe.pdf"
	sel, period := resolve(t, selection.Selection{Period: "2023", Program: "Letras"})

	doc, err := f.builder.Build(context.Background(), sel, period, nil)
	require.NoError(t, err)
	require.Len(t, doc.Warnings, 1)
	assert.Equal(t, reporterr.KindAppendixFailed, doc.Warnings[0].Kind)
	assert.Equal(t, "relatorio-avalia-2023-Letras.pdf", doc.FileName)
}

func TestBuilder_CaptureFailureDegrades(t *testing.T) {
	f := newFixture(t, false)
	delete(f.surface.Elements, "chart-medias")
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Belém"})

	doc, err := f.builder.Build(context.Background(), sel, period, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, doc.Figures)
	require.Len(t, doc.Warnings, 1)
	w := doc.Warnings[0]
	assert.Equal(t, reporterr.KindCaptureFailed, w.Kind)
	assert.Equal(t, "chart-medias", w.ElementID)
	assert.Equal(t, "Belém", w.Unit)
}

func countKinds(warnings []*reporterr.ReportError) map[reporterr.ErrorKind]int {
	counts := map[reporterr.ErrorKind]int{}
	for _, w := range warnings {
		counts[w.Kind]++
	}
	return counts
}

func TestBuilder_RenderLoadFailureStillCaptures(t *testing.T) {
	f := newFixture(t, false)
	f.surface.LoadErr = errors.New("net::ERR_CONNECTION_REFUSED")
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Todos os Polos"})

	doc, err := f.builder.Build(context.Background(), sel, period, nil)
	require.NoError(t, err)
	assert.Equal(t, 4, doc.Figures, "elements that still resolve are kept")
	assert.Equal(t, map[reporterr.ErrorKind]int{reporterr.KindRenderLoadFailed: 2}, countKinds(doc.Warnings))
	assert.NotEmpty(t, f.surface.CallLog())
}

func TestBuilder_RenderLoadFailureWithoutElementsDegrades(t *testing.T) {
	f := newFixture(t, false)
	f.surface.LoadErr = errors.New("net::ERR_CONNECTION_REFUSED")
	for id := range f.surface.Elements {
		delete(f.surface.Elements, id)
	}
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Breves"})

	doc, err := f.builder.Build(context.Background(), sel, period, nil)
	require.NoError(t, err)
	assert.Zero(t, doc.Figures)
	assert.Greater(t, doc.Pages, 0)

	counts := countKinds(doc.Warnings)
	assert.Equal(t, 1, counts[reporterr.KindRenderLoadFailed])
	assert.GreaterOrEqual(t, counts[reporterr.KindCaptureFailed], 2, "each chart was attempted")
	for _, w := range doc.Warnings {
		assert.Equal(t, "Breves", w.Unit)
	}
}

func TestBuilder_CancelledBetweenUnits(t *testing.T) {
	f := newFixture(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	f.surface.OnLoad = func(string) { cancel() }
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Todos os Polos"})

	doc, err := f.builder.Build(ctx, sel, period, nil)
	assert.Nil(t, doc)
	assert.Equal(t, reporterr.KindCancelled, reporterr.KindOf(err))
	assert.Len(t, f.surface.Loads, 1)
	assert.Empty(t, f.surface.CallLog(), "no capture after cancellation")
}

func TestBuilder_SharedResourceIsExclusive(t *testing.T) {
	f := newFixture(t, false)
	sel, period := resolve(t, selection.Selection{Period: "2025", Unit: "Breves"})

	lease, err := f.builder.resource.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := f.builder.Build(ctx, sel, period, nil)
		done <- err
	}()
	cancel()
	err = <-done
	assert.Equal(t, reporterr.KindCancelled, reporterr.KindOf(err))
	assert.Empty(t, f.surface.Loads, "a build waits for the surface and never touches it while leased")
	lease.Release()
}
