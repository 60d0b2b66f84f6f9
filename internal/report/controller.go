package report

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"

	"github.com/google/uuid"

	"github.com/cpa-ufpa/avalia-report/internal/cache"
	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
	"github.com/cpa-ufpa/avalia-report/internal/stability"
)

// ErrClosed is returned by a controller after Close
var ErrClosed = errors.New("report controller closed")

// ErrNoRun is returned by Wait before the first selection
var ErrNoRun = errors.New("no report selected")

// Status describes the current selection and its run
type Status struct {
	RunID     string              `json:"run_id,omitempty"`
	Selection selection.Selection `json:"selection"`
	Phase     Phase               `json:"phase"`
	Progress  progress.State      `json:"progress"`
	Token     string              `json:"token,omitempty"`
	URL       string              `json:"url,omitempty"`
	FromCache bool                `json:"from_cache"`
	FileName  string              `json:"file_name,omitempty"`
	Pages     int                 `json:"pages,omitempty"`
	Warnings  int                 `json:"warnings,omitempty"`
	Error     string              `json:"error,omitempty"`
}

// Deps are the collaborators of a controller. Nil fields get working
// defaults, except Catalog and Generator.
type Deps struct {
	Catalog   *catalog.Catalog
	Generator Generator
	Gate      *cache.Gate
	Tracker   *progress.Tracker
	Guard     *stability.Guard
	Handles   *Handles
}

type run struct {
	id     string
	sel    selection.Selection
	period *catalog.Period
	sig    string
	fresh  bool // first run of sig since the gate last moved
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	// guarded by Controller.mu
	phase     Phase
	token     string
	url       string
	fromCache bool
	doc       *Document
	err       string
}

// Controller reacts to selection changes. At most one build runs at a time; a
// new selection cancels the running build, revokes the previous document and
// resets progress before anything else happens.
type Controller struct {
	catalog   *catalog.Catalog
	gen       Generator
	gate      *cache.Gate
	tracker   *progress.Tracker
	guard     *stability.Guard
	handles   *Handles
	buildLock chan struct{}

	mu      sync.Mutex
	current *run
	token   string
	closed  bool

	base       context.Context
	baseCancel context.CancelFunc
	logger     *log.Logger
}

// NewController wires a controller
func NewController(d Deps) *Controller {
	if d.Gate == nil {
		d.Gate = cache.NewGate(nil)
	}
	if d.Tracker == nil {
		d.Tracker = progress.NewTracker(nil)
	}
	if d.Guard == nil {
		d.Guard = stability.NewGuard(stability.DefaultConfig())
	}
	if d.Handles == nil {
		d.Handles = NewHandles(0)
	}
	base, cancel := context.WithCancel(context.Background())
	return &Controller{
		catalog:    d.Catalog,
		gen:        d.Generator,
		gate:       d.Gate,
		tracker:    d.Tracker,
		guard:      d.Guard,
		handles:    d.Handles,
		buildLock:  make(chan struct{}, 1),
		base:       base,
		baseCancel: cancel,
		logger:     log.New(os.Stderr, "[Controller] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (c *Controller) SetLogger(l *log.Logger) {
	c.logger = l
}

// Tracker returns the progress tracker
func (c *Controller) Tracker() *progress.Tracker {
	return c.tracker
}

// Gate returns the cache gate
func (c *Controller) Gate() *cache.Gate {
	return c.gate
}

// Guard returns the guard builds run under
func (c *Controller) Guard() *stability.Guard {
	return c.guard
}

// Catalog returns the catalog selections are resolved against
func (c *Controller) Catalog() *catalog.Catalog {
	return c.catalog
}

// Select applies a selection. An invalid selection changes nothing. Selecting
// the signature that is already running or done is a no-op; after a failure
// or cancellation it starts over.
func (c *Controller) Select(sel selection.Selection) (Status, error) {
	resolved, period, err := c.catalog.Resolve(sel)
	if err != nil {
		return c.Status(), err
	}
	sig := resolved.Signature()

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return Status{}, ErrClosed
	}
	if cur := c.current; cur != nil && cur.sig == sig && (cur.phase == PhaseDone || !cur.phase.Terminal()) {
		c.mu.Unlock()
		return c.Status(), nil
	}

	c.supersedeLocked()
	c.tracker.Reset()

	ctx, cancel := context.WithCancel(c.base)
	r := &run{
		id:     uuid.NewString(),
		sel:    resolved,
		period: period,
		sig:    sig,
		fresh:  c.gate.Mark(resolved),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
		phase:  PhaseIdle,
	}
	c.current = r

	msg := progress.MsgGenerating
	if resolved.IsAggregate() {
		msg = progress.MsgPreparingAll
	}
	rep := c.tracker.Begin(resolved.IsAggregate(), 8, msg)
	c.mu.Unlock()

	c.logger.Printf("Run %s started for %s", r.id, resolved)
	go c.execute(r, rep)
	return c.Status(), nil
}

// supersedeLocked cancels the current run and revokes the live document
func (c *Controller) supersedeLocked() {
	if c.current != nil {
		c.current.cancel()
	}
	c.handles.Revoke(c.token)
	c.token = ""
}

func (c *Controller) setPhase(r *run, p Phase) {
	c.mu.Lock()
	r.phase = p
	c.mu.Unlock()
}

func (c *Controller) execute(r *run, rep *progress.Run) {
	defer close(r.done)
	defer r.cancel()
	aggregate := r.sel.IsAggregate()

	c.setPhase(r, PhaseDecidingCache)
	if aggregate {
		rep.Report(progress.StageDecidingCache, 8, progress.MsgCheckingCache)
	}
	d := cache.Decision{Outcome: cache.Repeat, Signature: r.sig}
	if r.fresh {
		d = c.gate.Lookup(r.ctx, r.sel)
	}
	if r.ctx.Err() != nil {
		c.finishCancelled(r, rep)
		return
	}
	switch d.Outcome {
	case cache.Hit:
		c.mu.Lock()
		r.url = d.URL
		r.fromCache = true
		r.phase = PhaseDone
		c.mu.Unlock()
		rep.Finish(progress.StageDone, progress.MsgCacheHit)
		return
	case cache.Miss:
		if aggregate {
			rep.Report(progress.StageDecidingCache, 12, progress.MsgCacheMiss)
		}
	}

	select {
	case c.buildLock <- struct{}{}:
	case <-r.ctx.Done():
		c.finishCancelled(r, rep)
		return
	}
	defer func() { <-c.buildLock }()

	c.setPhase(r, PhaseBuilding)
	var doc *Document
	err := c.guard.Run(r.ctx, "build "+r.sig, func(ctx context.Context) error {
		var err error
		doc, err = c.gen.Build(ctx, r.sel, r.period, rep)
		return err
	})
	if err == nil && doc == nil {
		err = reporterr.New(reporterr.KindBuildFailed, "generator returned no document")
	}
	if err != nil {
		if r.ctx.Err() != nil || reporterr.KindOf(err) == reporterr.KindCancelled {
			c.finishCancelled(r, rep)
			return
		}
		c.logger.Printf("Run %s failed: %v", r.id, err)
		c.gate.Forget(r.sig)
		c.mu.Lock()
		r.phase = PhaseFailed
		r.err = reporterr.UserMessage
		c.mu.Unlock()
		rep.Finish(progress.StageFailed, reporterr.UserMessage)
		return
	}

	c.mu.Lock()
	if c.current != r || r.ctx.Err() != nil {
		c.mu.Unlock()
		c.finishCancelled(r, rep)
		return
	}
	r.phase = PhaseFinalizing
	c.token = c.handles.Replace(c.token, doc)
	r.token = c.token
	r.doc = doc
	c.mu.Unlock()

	url := c.gate.Store(r.ctx, r.sel, doc.Data)

	c.mu.Lock()
	r.url = url
	r.phase = PhaseDone
	c.mu.Unlock()
	rep.Finish(progress.StageDone, progress.MsgDone)
}

func (c *Controller) finishCancelled(r *run, rep *progress.Run) {
	c.mu.Lock()
	r.phase = PhaseCancelled
	c.mu.Unlock()
	rep.Finish(progress.StageCancelled, progress.MsgCancelled)
	c.logger.Printf("Run %s cancelled", r.id)
}

// Cancel stops the running build, if any, keeping the selection
func (c *Controller) Cancel() Status {
	c.mu.Lock()
	if c.current != nil && !c.current.phase.Terminal() {
		c.current.cancel()
	}
	c.mu.Unlock()
	return c.Status()
}

// Wait blocks until the current run ends or ctx is done
func (c *Controller) Wait(ctx context.Context) (Status, error) {
	c.mu.Lock()
	r := c.current
	c.mu.Unlock()
	if r == nil {
		return Status{}, ErrNoRun
	}
	select {
	case <-r.done:
		return c.Status(), nil
	case <-ctx.Done():
		return c.Status(), ctx.Err()
	}
}

// Status returns a snapshot of the current run
func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{Phase: PhaseIdle, Progress: c.tracker.State()}
	r := c.current
	if r == nil {
		return st
	}
	st.RunID = r.id
	st.Selection = r.sel
	st.Phase = r.phase
	st.Token = r.token
	st.URL = r.url
	st.FromCache = r.fromCache
	st.Error = r.err
	st.FileName = r.sel.FileName(r.period != nil && r.period.HasUnits())
	if r.doc != nil {
		st.Pages = r.doc.Pages
		st.Warnings = len(r.doc.Warnings)
	}
	return st
}

// Document returns the document behind a download token
func (c *Controller) Document(token string) (*Document, bool) {
	return c.handles.Get(token)
}

// Close cancels the running build, revokes the live document and lifts any
// interaction block.
func (c *Controller) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.supersedeLocked()
	c.tracker.Reset()
	c.mu.Unlock()
	c.baseCancel()
}
