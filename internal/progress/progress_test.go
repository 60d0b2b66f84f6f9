package progress

import (
	"io"
	"log"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTrickle(t *testing.T) {
	tests := []struct {
		p, limit, want float64
	}{
		{0, 95, 2},
		{19, 95, 21},
		{20, 95, 21.4},
		{49, 95, 50.4},
		{50, 95, 50.9},
		{70, 95, 70.5},
		{94.8, 95, 95},
		{95, 95, 95},
		{97, 95, 97},
		{87.9, 88, 88},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, Trickle(tt.p, tt.limit), 1e-9, "Trickle(%v, %v)", tt.p, tt.limit)
	}
}

func TestTrickle_ConvergesToCapWithoutOvershoot(t *testing.T) {
	for _, limit := range []float64{AggregateCap, SingleCap} {
		p, prev := 0.0, -1.0
		for i := 0; i < 500; i++ {
			p = Trickle(p, limit)
			require.GreaterOrEqual(t, p, prev)
			require.LessOrEqual(t, p, limit)
			prev = p
		}
		assert.Equal(t, limit, p)
	}
}

func TestUnitPercent(t *testing.T) {
	assert.Equal(t, 10.0, UnitPercent(0, 0.4, 4, 100))
	assert.Equal(t, 25.0, UnitPercent(0, 1, 4, 100))
	assert.Equal(t, 95.0, UnitPercent(3, 1, 4, 95))
	assert.Equal(t, 38.0, UnitPercent(0, 0.4, 1, 95))
	assert.Equal(t, 95.0, UnitPercent(0, 1, 0, 95))
}

func TestStage_Terminal(t *testing.T) {
	assert.True(t, StageDone.Terminal())
	assert.True(t, StageCancelled.Terminal())
	assert.True(t, StageFailed.Terminal())
	assert.False(t, StageCapturing.Terminal())
	assert.False(t, StageIdle.Terminal())
}

func newTestTracker(lock Blocker) *Tracker {
	tr := NewTracker(lock)
	tr.SetLogger(log.New(io.Discard, "", 0))
	tr.SetInterval(0)
	return tr
}

func TestTracker_MonotonicWithinRun(t *testing.T) {
	tr := newTestTracker(nil)
	run := tr.Begin(true, 8, MsgPreparingAll)

	run.Report(StageLoadingUnit, 30, "")
	run.Report(StageCapturing, 20, "lower")
	st := tr.State()
	assert.Equal(t, 30.0, st.Percent)
	assert.Equal(t, "lower", st.Message)
	assert.Equal(t, StageCapturing, st.Stage)

	run.Report(StageFinalizing, 250, "")
	assert.Equal(t, 100.0, tr.State().Percent)
}

func TestTracker_ResetInvalidatesRun(t *testing.T) {
	lock := NewInteractionLock()
	tr := newTestTracker(lock)

	old := tr.Begin(true, 12, MsgGenerating)
	old.Report(StageCapturing, 60, "")
	assert.True(t, lock.Held())

	tr.Reset()
	assert.Equal(t, Initial(), tr.State())
	assert.False(t, lock.Held())
	assert.False(t, old.Current())

	old.Report(StageCapturing, 90, "stale")
	old.Finish(StageDone, MsgDone)
	assert.Equal(t, Initial(), tr.State(), "a superseded run must not touch the state")
}

func TestTracker_FinishLiftsBlocking(t *testing.T) {
	for _, stage := range []Stage{StageDone, StageCancelled, StageFailed} {
		lock := NewInteractionLock()
		tr := newTestTracker(lock)
		run := tr.Begin(false, 8, MsgGenerating)
		run.Report(StageCapturing, 40, "")
		run.Finish(stage, "")

		st := tr.State()
		assert.False(t, st.Blocking, stage)
		assert.False(t, lock.Held(), stage)
		assert.Equal(t, stage, st.Stage)
		if stage == StageDone {
			assert.Equal(t, 100.0, st.Percent)
		} else {
			assert.Equal(t, 40.0, st.Percent)
		}
	}
}

// countingBlocker counts Block calls
type countingBlocker struct {
	mu     sync.Mutex
	blocks int
	held   bool
}

func (b *countingBlocker) Block() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.blocks++
	b.held = true
}

func (b *countingBlocker) Unblock() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.held = false
}

func TestTracker_ConsecutiveBeginsBlockOnce(t *testing.T) {
	lock := &countingBlocker{}
	tr := newTestTracker(lock)
	tr.Begin(true, 8, "")
	tr.Begin(true, 12, "")
	lock.mu.Lock()
	assert.Equal(t, 1, lock.blocks)
	assert.True(t, lock.held)
	lock.mu.Unlock()
	assert.Equal(t, 12.0, tr.State().Percent)
}

func TestTracker_TrickleStopsAtCap(t *testing.T) {
	tr := newTestTracker(nil)
	tr.SetInterval(time.Millisecond)
	run := tr.Begin(false, 80, MsgGenerating)

	require.Eventually(t, func() bool {
		return tr.State().Percent == SingleCap
	}, 2*time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, SingleCap, tr.State().Percent)

	run.Finish(StageDone, MsgDone)
	assert.Equal(t, 100.0, tr.State().Percent)
}

func TestTracker_Subscribe(t *testing.T) {
	tr := newTestTracker(nil)
	ch, cancel := tr.Subscribe()
	defer cancel()

	assert.Equal(t, Initial(), <-ch)

	run := tr.Begin(true, 8, MsgCheckingCache)
	st := <-ch
	assert.True(t, st.Blocking)
	assert.Equal(t, MsgCheckingCache, st.Message)

	run.Finish(StageDone, MsgCacheHit)
	st = <-ch
	assert.Equal(t, 100.0, st.Percent)
	assert.False(t, st.Blocking)

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
}

func TestInteractionLock(t *testing.T) {
	l := NewInteractionLock()
	assert.Empty(t, l.State().SuppressKeys)

	l.Block()
	st := l.State()
	assert.True(t, st.Held)
	assert.True(t, st.FocusReleased)
	assert.True(t, st.Inert)
	assert.True(t, st.ScrollFrozen)
	for _, k := range []string{"Tab", "Enter", " ", "ArrowUp", "ArrowDown", "ArrowLeft", "ArrowRight"} {
		assert.True(t, slices.Contains(st.SuppressKeys, k), k)
	}
	assert.False(t, slices.Contains(st.SuppressKeys, "Escape"))

	l.Unblock()
	assert.Equal(t, LockState{}, l.State())
}
