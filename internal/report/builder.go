// Package report builds AVALIA reports and coordinates the builds requested
// by selection changes: the cache decision, a single in-flight build, progress
// and the download handles of finished documents.
package report

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/cpa-ufpa/avalia-report/internal/appendix"
	"github.com/cpa-ufpa/avalia-report/internal/capture"
	"github.com/cpa-ufpa/avalia-report/internal/catalog"
	"github.com/cpa-ufpa/avalia-report/internal/compose"
	"github.com/cpa-ufpa/avalia-report/internal/layout"
	"github.com/cpa-ufpa/avalia-report/internal/pdfdoc"
	"github.com/cpa-ufpa/avalia-report/internal/progress"
	"github.com/cpa-ufpa/avalia-report/internal/render"
	"github.com/cpa-ufpa/avalia-report/internal/reporterr"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

// Generator produces the document of a validated selection
type Generator interface {
	Build(ctx context.Context, sel selection.Selection, period *catalog.Period, rep progress.Reporter) (*Document, error)
}

// AssetSource loads cover and presentation images
type AssetSource interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

// BuilderOptions tunes a Builder
type BuilderOptions struct {
	Capture capture.Options
	Compose compose.Options
}

// DefaultBuilderOptions returns the production timings and A4 layout
func DefaultBuilderOptions() BuilderOptions {
	return BuilderOptions{
		Capture: capture.DefaultOptions(),
		Compose: compose.DefaultOptions(),
	}
}

// Builder renders reports by walking the units of a selection on the shared
// render resource.
type Builder struct {
	layout   *layout.Layout
	resource *render.Resource
	assets   AssetSource
	appendix *appendix.Merger
	opts     BuilderOptions
	logger   *log.Logger
}

// NewBuilder creates a builder. assets and merger may be nil, which disables
// the fixed pages and the appendix respectively.
func NewBuilder(l *layout.Layout, resource *render.Resource, assets AssetSource, merger *appendix.Merger, opts BuilderOptions) *Builder {
	return &Builder{
		layout:   l,
		resource: resource,
		assets:   assets,
		appendix: merger,
		opts:     opts,
		logger:   log.New(os.Stderr, "[Report] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (b *Builder) SetLogger(l *log.Logger) {
	b.logger = l
}

// Units returns the units a selection walks, in order. Periods without units
// walk one unnamed unit.
func Units(sel selection.Selection, period *catalog.Period) []string {
	if period == nil || !period.HasUnits() {
		return []string{""}
	}
	if !sel.IsAggregate() {
		return []string{sel.Unit}
	}
	units := make([]string, 0, len(period.Units))
	for _, u := range period.Units {
		if !selection.IsAggregateLabel(u) {
			units = append(units, u)
		}
	}
	return units
}

// checkpoint returns ErrCancelled once ctx is done
func checkpoint(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", reporterr.ErrCancelled, err)
	}
	return nil
}

// Build produces the document of sel. It holds the render lease for its whole
// lifetime and checks for cancellation before every reload and capture.
func (b *Builder) Build(ctx context.Context, sel selection.Selection, period *catalog.Period, rep progress.Reporter) (*Document, error) {
	if rep == nil {
		rep = progress.Discard
	}
	units := Units(sel, period)
	if len(units) == 0 {
		return nil, reporterr.New(reporterr.KindBuildFailed, "period lists no units")
	}
	limit := progress.CapFor(sel.IsAggregate())
	issues := reporterr.NewCollection()

	lease, err := b.resource.Acquire(ctx)
	if err != nil {
		return nil, checkpoint(ctx)
	}
	defer lease.Release()

	engine := capture.NewEngine(lease.Surface(), b.opts.Capture)
	engine.SetLogger(b.logger)
	capturer := &recordingCapturer{engine: engine, issues: issues}
	comp := compose.New(b.opts.Compose, capturer)
	comp.SetLogger(b.logger)

	b.addFixedPages(ctx, comp, sel)

	for idx, unit := range units {
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
		capturer.unit = unit

		msg := progress.MsgLoadingOneUnit
		if sel.IsAggregate() {
			msg = fmt.Sprintf(progress.MsgLoadingUnit, idx+1, len(units))
		}
		rep.Report(progress.StageLoadingUnit, 0, msg)

		loadErr := lease.Load(ctx, sel.TargetFor(unit))
		if err := checkpoint(ctx); err != nil {
			return nil, err
		}
		rep.Report(progress.StageCapturing, progress.UnitPercent(idx, 0.4, len(units), limit), "")

		vars := layout.Vars{Period: sel.Period, Program: sel.Program, Unit: unit}
		cur := comp.AddTitlePage(b.layout.TitleLines(vars)...)

		// A failed load still gets its captures: elements that resolve are
		// kept and the rest degrade to caption-only figures.
		if loadErr != nil {
			b.logger.Printf("Render source failed for unit %q: %v", unit, loadErr)
			issues.Add(reporterr.Wrap(reporterr.KindRenderLoadFailed, "render source did not load", loadErr).WithUnit(unit))
		}
		if err := b.addSections(ctx, comp, capturer, cur, vars); err != nil {
			return nil, err
		}

		rep.Report(progress.StageCapturing, progress.UnitPercent(idx, 1, len(units), limit),
			fmt.Sprintf(progress.MsgPages, idx+1, len(units)))
	}

	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	rep.Report(progress.StageFinalizing, 96, progress.MsgAppendix)

	data, err := comp.Bytes()
	if err != nil {
		return nil, reporterr.Wrap(reporterr.KindBuildFailed, "failed to render document", err)
	}
	if b.appendix != nil {
		merged, err := b.appendix.Append(ctx, data, b.layout.AppendixFor(sel.Period))
		var re *reporterr.ReportError
		if errors.As(err, &re) {
			issues.Add(re)
		}
		data = merged
	}
	if err := checkpoint(ctx); err != nil {
		return nil, err
	}
	rep.Report(progress.StageFinalizing, 99, progress.MsgFinishing)

	pages, err := pdfdoc.PageCount(data)
	if err != nil {
		pages = comp.PageCount()
	}

	errs, warns := issues.Count()
	b.logger.Printf("Built %s: %d units, %d pages, %d figures (%d errors, %d warnings)",
		sel, len(units), pages, comp.Figures(), errs, warns)

	return &Document{
		Selection: sel,
		FileName:  sel.FileName(period != nil && period.HasUnits()),
		Data:      data,
		Pages:     pages,
		Figures:   comp.Figures(),
		Units:     units,
		Warnings:  append(issues.Errors, issues.Warnings...),
		BuiltAt:   time.Now(),
	}, nil
}

// addFixedPages draws the cover and the presentation. Missing assets only
// drop the image.
func (b *Builder) addFixedPages(ctx context.Context, comp *compose.Compositor, sel selection.Selection) {
	vars := layout.Vars{Period: sel.Period, Program: sel.Program}

	if b.layout.Cover != "" {
		comp.AddCoverPage(b.loadAsset(ctx, b.layout.Cover))
	}

	p := b.layout.Presentation
	if p.Title == "" {
		return
	}
	paragraphs := make([]string, len(p.Paragraphs))
	for i, para := range p.Paragraphs {
		paragraphs[i] = vars.Expand(para)
	}
	var figure []byte
	if p.Figure != "" {
		figure = b.loadAsset(ctx, p.Figure)
	}
	comp.AddPresentation(compose.Presentation{
		Title:      vars.Expand(p.Title),
		Paragraphs: paragraphs,
		Figure:     figure,
		Caption:    vars.Expand(p.Caption),
	})
}

func (b *Builder) loadAsset(ctx context.Context, ref string) []byte {
	if b.assets == nil {
		return nil
	}
	data, err := b.assets.Load(ctx, ref)
	if err != nil {
		b.logger.Printf("Asset %s unavailable: %v", ref, err)
		return nil
	}
	return data
}

// addSections captures and draws every section of the current unit
func (b *Builder) addSections(ctx context.Context, comp *compose.Compositor, capturer *recordingCapturer, cur compose.Cursor, vars layout.Vars) error {
	for _, def := range b.layout.Sections {
		images := make(map[string][]byte, len(def.Figures))
		for _, f := range def.Figures {
			if err := checkpoint(ctx); err != nil {
				return err
			}
			images[f.ID] = capturer.CaptureImage(ctx, f.ID)
		}
		if err := checkpoint(ctx); err != nil {
			return err
		}
		cur = comp.AddSection(cur, b.layout.Section(def, vars, images))

		if def.Table != "" {
			if err := checkpoint(ctx); err != nil {
				return err
			}
			cur = comp.AddTable(ctx, cur, def.Table)
		}
	}
	return nil
}

// recordingCapturer files every failed capture of the current unit
type recordingCapturer struct {
	engine *capture.Engine
	issues *reporterr.Collection
	unit   string
}

func (r *recordingCapturer) CaptureImage(ctx context.Context, id string) []byte {
	img := r.engine.CaptureImage(ctx, id)
	if img == nil && ctx.Err() == nil {
		r.issues.Add(reporterr.New(reporterr.KindCaptureFailed, "element could not be captured").
			WithUnit(r.unit).WithElement(id))
	}
	return img
}
