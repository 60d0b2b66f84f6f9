package report

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

var (
	allUnits = selection.Selection{Period: "2025", Program: "Pedagogia", Unit: "Todos os Polos"}
	belem    = selection.Selection{Period: "2025", Program: "Pedagogia", Unit: "Belém"}
	breves   = selection.Selection{Period: "2025", Program: "Pedagogia", Unit: "Breves"}
	letras   = selection.Selection{Period: "2023", Program: "Letras"}
)

// blockingGen holds every build until release is closed or the build is cancelled
type blockingGen struct {
	release chan struct{}
	started chan string
	active  atomic.Int32
	peak    atomic.Int32
}

func newBlockingGen() *blockingGen {
	return &blockingGen{release: make(chan struct{}), started: make(chan string, 16)}
}

func (g *blockingGen) Build(ctx context.Context, sel selection.Selection, period *catalog.Period, _ progress.Reporter) (*Document, error) {
	n := g.active.Add(1)
	defer g.active.Add(-1)
	for {
		p := g.peak.Load()
		if n <= p || g.peak.CompareAndSwap(p, n) {
			break
		}
	}
	g.started <- sel.Signature()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-g.release:
	}
	return &Document{
		Selection: sel,
		FileName:  sel.FileName(period.HasUnits()),
		Data:      []byte("%PDF-1.4"),
		Pages:     1,
	}, nil
}

// started waits for the next build to reach the generator
func started(t *testing.T, g *blockingGen) string {
	t.Helper()
	select {
	case sig := <-g.started:
		return sig
	case <-time.After(5 * time.Second):
		t.Fatal("build did not start")
		return ""
	}
}

// flakyGen fails, or panics, while its switch is set
type flakyGen struct {
	inner Generator
	fail  atomic.Bool
	panic bool
}

func (g *flakyGen) Build(ctx context.Context, sel selection.Selection, period *catalog.Period, rep progress.Reporter) (*Document, error) {
	if g.fail.Load() {
		if g.panic {
			panic("boom")
		}
		return nil, errors.New("renderer crashed")
	}
	return g.inner.Build(ctx, sel, period, rep)
}

func TestController_SingleBuildInFlight(t *testing.T) {
	gen := newBlockingGen()
	c, lock := newController(t, gen, newMemClient())

	_, err := c.Select(belem)
	require.NoError(t, err)
	assert.Equal(t, belem.Normalize().Signature(), started(t, gen))
	assert.True(t, lock.Held(), "interaction is blocked while a build runs")

	_, err = c.Select(breves)
	require.NoError(t, err)
	assert.Equal(t, breves.Normalize().Signature(), started(t, gen))

	_, err = c.Select(letras)
	require.NoError(t, err)
	assert.Equal(t, letras.Normalize().Signature(), started(t, gen))

	close(gen.release)
	st := wait(t, c)

	assert.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, "2023", st.Selection.Period)
	assert.Equal(t, int32(1), gen.peak.Load(), "never two builds at once")
	assert.False(t, lock.Held())
	assert.Equal(t, 1, c.handles.Len())
}

func TestController_AggregateUsesCache(t *testing.T) {
	f := newFixture(t, false)
	gen := &countingGen{inner: f.builder}
	client := newMemClient()
	c, _ := newController(t, gen, client)
	sig := allUnits.Normalize().Signature()

	_, err := c.Select(allUnits)
	require.NoError(t, err)
	st := wait(t, c)
	require.Equal(t, PhaseDone, st.Phase)
	assert.False(t, st.FromCache)
	assert.NotEmpty(t, st.Token)
	assert.Equal(t, "https://blob.local/reports/ead/2025/pedagogia/todos-os-polos.pdf", st.URL)
	assert.Equal(t, "relatorio-avalia-2025-Pedagogia-todos-os-polos.pdf", st.FileName)
	lookups, saves := client.counts()
	assert.Equal(t, 1, lookups)
	assert.Equal(t, 1, saves)

	// same selection again: nothing happens
	again, err := c.Select(allUnits)
	require.NoError(t, err)
	assert.Equal(t, st.RunID, again.RunID)
	assert.Equal(t, st.Token, again.Token)
	lookups, saves = client.counts()
	assert.Equal(t, 1, lookups)
	assert.Equal(t, 1, saves)

	_, err = c.Select(letras)
	require.NoError(t, err)
	require.Equal(t, PhaseDone, wait(t, c).Phase)

	_, err = c.Select(allUnits)
	require.NoError(t, err)
	st = wait(t, c)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.True(t, st.FromCache)
	assert.Empty(t, st.Token)
	assert.Equal(t, "https://blob.local/reports/ead/2025/pedagogia/todos-os-polos.pdf", st.URL)
	assert.Equal(t, 1, gen.count(sig), "served from the cache")
	_, saves = client.counts()
	assert.Equal(t, 1, saves)

	// a fresh session sharing the collaborator hits right away
	other, _ := newController(t, gen, client)
	_, err = other.Select(allUnits)
	require.NoError(t, err)
	st = wait(t, other)
	assert.True(t, st.FromCache)
	assert.Equal(t, float64(100), st.Progress.Percent)
	assert.Equal(t, 1, gen.count(sig))
}

func TestController_QuickSwitchBackIsACacheHit(t *testing.T) {
	f := newFixture(t, false)
	gen := &countingGen{inner: f.builder}
	client := newMemClient()
	c, _ := newController(t, gen, client)
	sig := allUnits.Normalize().Signature()

	_, err := c.Select(allUnits)
	require.NoError(t, err)
	require.Equal(t, PhaseDone, wait(t, c).Phase)

	// switch away and straight back, before the intermediate run gets going
	_, err = c.Select(letras)
	require.NoError(t, err)
	_, err = c.Select(allUnits)
	require.NoError(t, err)

	st := wait(t, c)
	assert.Equal(t, PhaseDone, st.Phase)
	assert.True(t, st.FromCache)
	assert.Equal(t, "https://blob.local/reports/ead/2025/pedagogia/todos-os-polos.pdf", st.URL)
	assert.Equal(t, 1, gen.count(sig), "the aggregate is built once")
	lookups, saves := client.counts()
	assert.Equal(t, 2, lookups)
	assert.Equal(t, 1, saves)

	// selecting it again is still a no-op
	again, err := c.Select(allUnits)
	require.NoError(t, err)
	assert.Equal(t, st.RunID, again.RunID)
	lookups, _ = client.counts()
	assert.Equal(t, 2, lookups)
}

func TestController_PeriodWithoutUnitsSkipsCache(t *testing.T) {
	f := newFixture(t, false)
	client := newMemClient()
	c, _ := newController(t, f.builder, client)

	_, err := c.Select(letras)
	require.NoError(t, err)
	st := wait(t, c)

	require.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, "relatorio-avalia-2023-Letras.pdf", st.FileName)
	assert.NotEmpty(t, st.Token)
	assert.Empty(t, st.URL)
	lookups, saves := client.counts()
	assert.Zero(t, lookups)
	assert.Zero(t, saves)

	doc, ok := c.Document(st.Token)
	require.True(t, ok)
	assert.Equal(t, []string{""}, doc.Units)
	assert.Len(t, f.surface.Loads, 1)
	assert.NotContains(t, f.surface.Loads[0], "polo=")
}

func TestController_SingleUnitSkipsCache(t *testing.T) {
	f := newFixture(t, false)
	client := newMemClient()
	c, _ := newController(t, f.builder, client)

	_, err := c.Select(breves)
	require.NoError(t, err)
	st := wait(t, c)

	require.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, "relatorio-avalia-2025-Pedagogia-breves.pdf", st.FileName)
	assert.False(t, st.FromCache)
	lookups, saves := client.counts()
	assert.Zero(t, lookups)
	assert.Zero(t, saves)
	assert.Len(t, f.surface.Loads, 1)
}

func TestController_RevokesBeforeAssigning(t *testing.T) {
	f := newFixture(t, false)
	c, _ := newController(t, f.builder, newMemClient())

	_, err := c.Select(belem)
	require.NoError(t, err)
	first := wait(t, c)
	require.NotEmpty(t, first.Token)
	_, ok := c.Document(first.Token)
	require.True(t, ok)

	st, err := c.Select(breves)
	require.NoError(t, err)
	assert.Empty(t, st.Token)
	_, ok = c.Document(first.Token)
	assert.False(t, ok, "the previous document is gone as soon as the selection changes")

	second := wait(t, c)
	require.NotEmpty(t, second.Token)
	assert.NotEqual(t, first.Token, second.Token)
	assert.Equal(t, 1, c.handles.Len(), "only the current document keeps a token")
	_, ok = c.Document(first.Token)
	assert.False(t, ok)
}

func TestController_FailureIsReportedAndRetried(t *testing.T) {
	for _, panics := range []bool{false, true} {
		name := "error"
		if panics {
			name = "panic"
		}
		t.Run(name, func(t *testing.T) {
			f := newFixture(t, false)
			gen := &flakyGen{inner: f.builder, panic: panics}
			gen.fail.Store(true)
			client := newMemClient()
			c, lock := newController(t, gen, client)

			_, err := c.Select(allUnits)
			require.NoError(t, err)
			st := wait(t, c)
			assert.Equal(t, PhaseFailed, st.Phase)
			assert.Equal(t, reporterr.UserMessage, st.Error)
			assert.Equal(t, reporterr.UserMessage, st.Progress.Message)
			assert.False(t, st.Progress.Blocking)
			assert.False(t, lock.Held())
			assert.Empty(t, st.Token)

			gen.fail.Store(false)
			_, err = c.Select(allUnits)
			require.NoError(t, err)
			st = wait(t, c)
			assert.Equal(t, PhaseDone, st.Phase)
			assert.Empty(t, st.Error)
			lookups, saves := client.counts()
			assert.Equal(t, 2, lookups, "a failed signature is decided again")
			assert.Equal(t, 1, saves)
		})
	}
}

func TestController_Cancel(t *testing.T) {
	gen := newBlockingGen()
	c, lock := newController(t, gen, nil)

	_, err := c.Select(belem)
	require.NoError(t, err)
	started(t, gen)
	c.Cancel()
	st := wait(t, c)

	assert.Equal(t, PhaseCancelled, st.Phase)
	assert.Equal(t, progress.StageCancelled, st.Progress.Stage)
	assert.False(t, lock.Held())

	// a cancelled selection can be started again
	_, err = c.Select(belem)
	require.NoError(t, err)
	started(t, gen)
	close(gen.release)
	assert.Equal(t, PhaseDone, wait(t, c).Phase)
}

func TestController_InvalidSelectionChangesNothing(t *testing.T) {
	f := newFixture(t, false)
	c, _ := newController(t, f.builder, nil)

	_, err := c.Wait(context.Background())
	assert.ErrorIs(t, err, ErrNoRun)

	_, err = c.Select(belem)
	require.NoError(t, err)
	before := wait(t, c)

	_, err = c.Select(selection.Selection{Period: "1999", Program: "Pedagogia"})
	assert.Error(t, err)
	_, err = c.Select(selection.Selection{Period: "2025", Program: "Pedagogia", Unit: "Marabá"})
	assert.Error(t, err)

	after := c.Status()
	assert.Equal(t, before.RunID, after.RunID)
	assert.Equal(t, before.Token, after.Token)
	_, ok := c.Document(before.Token)
	assert.True(t, ok)
}

func TestController_Closed(t *testing.T) {
	gen := newBlockingGen()
	c, lock := newController(t, gen, nil)

	_, err := c.Select(belem)
	require.NoError(t, err)
	started(t, gen)
	c.Close()

	st := wait(t, c)
	assert.Equal(t, PhaseCancelled, st.Phase)
	assert.False(t, lock.Held())

	_, err = c.Select(breves)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestController_ProgressNeverGoesBack(t *testing.T) {
	f := newFixture(t, false)
	c, _ := newController(t, f.builder, newMemClient())

	states, unsubscribe := c.Tracker().Subscribe()
	var (
		mu   sync.Mutex
		seen []progress.State
		done = make(chan struct{})
	)
	go func() {
		defer close(done)
		for s := range states {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
		}
	}()

	_, err := c.Select(allUnits)
	require.NoError(t, err)
	st := wait(t, c)
	require.Equal(t, PhaseDone, st.Phase)
	assert.Equal(t, float64(100), st.Progress.Percent)
	assert.Equal(t, progress.MsgDone, st.Progress.Message)

	unsubscribe()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription was not closed")
	}

	mu.Lock()
	defer mu.Unlock()
	blocked := false
	last := 0.0
	for _, s := range seen {
		if !blocked {
			blocked = s.Blocking
			last = s.Percent
			continue
		}
		assert.GreaterOrEqual(t, s.Percent, last, "progress moved backwards")
		last = s.Percent
	}
	assert.True(t, blocked, "the run blocked interaction")
}
