package progress

import (
	"log"
	"math"
	"os"
	"sync"
	"time"
)

// Reporter receives checkpoints from a running build
type Reporter interface {
	Report(stage Stage, percent float64, message string)
}

// Discard is a Reporter that drops everything
var Discard Reporter = discard{}

type discard struct{}

func (discard) Report(Stage, float64, string) {}

// Tracker owns the progress state of the current selection. Every Begin opens
// a new generation; reports from older generations are ignored, so a
// superseded build can never move the state of its successor.
type Tracker struct {
	mu       sync.Mutex
	state    State
	limit    float64
	gen      uint64
	stop     chan struct{}
	interval time.Duration
	blocker  Blocker
	subs     map[int]chan State
	nextSub  int
	logger   *log.Logger
}

// NewTracker creates a tracker that holds blocker while a build blocks. A nil
// blocker is allowed.
func NewTracker(blocker Blocker) *Tracker {
	if blocker == nil {
		blocker = nopBlocker{}
	}
	return &Tracker{
		state:    Initial(),
		limit:    SingleCap,
		interval: TickInterval,
		blocker:  blocker,
		subs:     make(map[int]chan State),
		logger:   log.New(os.Stderr, "[Progress] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (t *Tracker) SetLogger(l *log.Logger) {
	t.logger = l
}

// SetInterval changes the trickle period; zero disables the trickle
func (t *Tracker) SetInterval(d time.Duration) {
	t.mu.Lock()
	t.interval = d
	t.mu.Unlock()
}

// State returns the current snapshot
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Reset returns to the initial state, releases the interaction lock and
// invalidates every outstanding Run.
func (t *Tracker) Reset() {
	t.mu.Lock()
	t.gen++
	t.stopTrickleLocked()
	wasBlocking := t.state.Blocking
	t.state = Initial()
	st := t.state
	t.mu.Unlock()

	if wasBlocking {
		t.blocker.Unblock()
	}
	t.publish(st)
}

// Begin starts blocking for a build and returns the handle its checkpoints go
// through. percent is the starting floor.
func (t *Tracker) Begin(aggregate bool, percent float64, message string) *Run {
	t.mu.Lock()
	t.gen++
	gen := t.gen
	t.stopTrickleLocked()
	wasBlocking := t.state.Blocking
	t.limit = CapFor(aggregate)
	t.state = State{
		Percent:  math.Max(t.state.Percent, percent),
		Message:  message,
		Blocking: true,
		Stage:    StageDecidingCache,
	}
	if t.interval > 0 {
		t.stop = make(chan struct{})
		go t.trickle(gen, t.stop, t.interval)
	}
	st := t.state
	t.mu.Unlock()

	if !wasBlocking {
		t.blocker.Block()
	}
	t.publish(st)
	return &Run{tracker: t, gen: gen}
}

// Subscribe returns a channel receiving every state change, starting with the
// current one. Slow subscribers miss intermediate states. The returned func
// unsubscribes.
func (t *Tracker) Subscribe() (<-chan State, func()) {
	ch := make(chan State, 16)
	t.mu.Lock()
	id := t.nextSub
	t.nextSub++
	t.subs[id] = ch
	ch <- t.state
	t.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			t.mu.Lock()
			delete(t.subs, id)
			t.mu.Unlock()
			close(ch)
		})
	}
}

func (t *Tracker) publish(st State) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ch := range t.subs {
		select {
		case ch <- st:
		default:
		}
	}
}

func (t *Tracker) stopTrickleLocked() {
	if t.stop != nil {
		close(t.stop)
		t.stop = nil
	}
}

func (t *Tracker) trickle(gen uint64, stop <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			t.mu.Lock()
			if t.gen != gen || !t.state.Blocking {
				t.mu.Unlock()
				return
			}
			next := Trickle(t.state.Percent, t.limit)
			changed := next != t.state.Percent
			t.state.Percent = next
			st := t.state
			t.mu.Unlock()
			if changed {
				t.publish(st)
			}
		}
	}
}

// Run is the progress handle of one build
type Run struct {
	tracker *Tracker
	gen     uint64
}

// Current reports whether the run still owns the tracker
func (r *Run) Current() bool {
	r.tracker.mu.Lock()
	defer r.tracker.mu.Unlock()
	return r.tracker.gen == r.gen
}

// Report implements Reporter. Percent never decreases and an empty message
// keeps the previous one.
func (r *Run) Report(stage Stage, percent float64, message string) {
	t := r.tracker
	t.mu.Lock()
	if t.gen != r.gen || !t.state.Blocking {
		t.mu.Unlock()
		return
	}
	t.state.Stage = stage
	t.state.Percent = math.Min(math.Max(t.state.Percent, percent), 100)
	if message != "" {
		t.state.Message = message
	}
	st := t.state
	t.mu.Unlock()
	t.publish(st)
}

// Finish ends the run: Done jumps to 100, Cancelled and Failed keep the
// percentage. Blocking is lifted in every case.
func (r *Run) Finish(stage Stage, message string) {
	t := r.tracker
	t.mu.Lock()
	if t.gen != r.gen {
		t.mu.Unlock()
		return
	}
	t.stopTrickleLocked()
	wasBlocking := t.state.Blocking
	t.state.Stage = stage
	t.state.Blocking = false
	if stage == StageDone {
		t.state.Percent = 100
	}
	if message != "" {
		t.state.Message = message
	}
	st := t.state
	t.mu.Unlock()

	if wasBlocking {
		t.blocker.Unblock()
	}
	t.logger.Printf("Build finished: %s (%.0f%%)", stage, st.Percent)
	t.publish(st)
}
