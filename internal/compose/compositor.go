// Package compose lays captured images out into a paginated PDF: section titles,
// aspect-fitted figures, legends, numbered captions and statistics tables.
package compose

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg" // decoders for DecodeConfig
	_ "image/png"
	"log"
	"os"

	"github.com/go-pdf/fpdf"
)

// Capturer resolves an element id to PNG bytes, nil when it cannot
type Capturer interface {
	CaptureImage(ctx context.Context, id string) []byte
}

// Options configures a compositor
type Options struct {
	Margin     float64
	Spacing    Spacing
	Thresholds Thresholds
}

// DefaultOptions returns the A4 layout of the AVALIA reports
func DefaultOptions() Options {
	return Options{
		Margin:     DefaultMargin,
		Spacing:    DefaultSpacing(),
		Thresholds: DefaultThresholds(),
	}
}

// Compositor owns one document under construction. It is not safe for
// concurrent use; each build creates its own.
type Compositor struct {
	pdf      *fpdf.Fpdf
	tr       func(string) string
	opts     Options
	capturer Capturer
	pageW    float64
	pageH    float64
	figure   int
	images   int
	logger   *log.Logger
}

// New creates a compositor for an empty A4 document
func New(opts Options, capturer Capturer) *Compositor {
	pdf := fpdf.New("P", "pt", "A4", "")
	pdf.SetMargins(opts.Margin, opts.Margin, opts.Margin)
	pdf.SetAutoPageBreak(false, opts.Margin)
	pdf.SetFont("Helvetica", "", 12)
	w, h := pdf.GetPageSize()

	return &Compositor{
		pdf:      pdf,
		tr:       pdf.UnicodeTranslatorFromDescriptor(""),
		opts:     opts,
		capturer: capturer,
		pageW:    w,
		pageH:    h,
		figure:   1,
		logger:   log.New(os.Stderr, "[Compose] ", log.LstdFlags),
	}
}

// SetLogger replaces the component logger
func (c *Compositor) SetLogger(l *log.Logger) {
	c.logger = l
}

// PageSize returns the page width and height in points
func (c *Compositor) PageSize() (float64, float64) {
	return c.pageW, c.pageH
}

// PageCount returns the number of pages so far
func (c *Compositor) PageCount() int {
	return c.pdf.PageCount()
}

// Figures returns how many figures have been numbered
func (c *Compositor) Figures() int {
	return c.figure - 1
}

// Cursor returns the top of the current page's content area
func (c *Compositor) Cursor() Cursor {
	return Cursor{Page: c.pdf.PageNo(), Y: c.opts.Margin}
}

// Remaining returns the free height below cur on its page
func (c *Compositor) Remaining(cur Cursor) float64 {
	return c.pageH - cur.Y - c.opts.Margin
}

// Bytes renders the document
func (c *Compositor) Bytes() ([]byte, error) {
	if c.pdf.PageCount() == 0 {
		c.pdf.AddPage()
	}
	var buf bytes.Buffer
	if err := c.pdf.Output(&buf); err != nil {
		return nil, fmt.Errorf("failed to render PDF: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *Compositor) newPage() Cursor {
	c.pdf.AddPage()
	return Cursor{Page: c.pdf.PageNo(), Y: c.opts.Margin}
}

// current reports whether cur still points at the last page
func (c *Compositor) current(cur Cursor) bool {
	return cur.Page > 0 && cur.Page == c.pdf.PageNo()
}

// AddCoverPage starts a page holding img fitted to the whole sheet
func (c *Compositor) AddCoverPage(img []byte) Cursor {
	cur := c.newPage()
	if img != nil {
		c.drawImageContain(img, coverMarginX, coverMarginY, c.pageW-2*coverMarginX, c.pageH-2*coverMarginY)
	}
	return cur
}

// AddTitlePage starts a page with the lines centered around the vertical middle
func (c *Compositor) AddTitlePage(lines ...TitleLine) Cursor {
	cur := c.newPage()
	y := c.pageH/2 - 22
	for i, l := range lines {
		if i > 0 {
			y += 6
		}
		y = c.drawCenteredWrapped(l.Text, y, c.pageW-2*c.opts.Margin, l.Size)
	}
	cur.Y = y
	return cur
}

// AddPresentation starts a page with the introductory paragraphs and the
// optional example figure.
func (c *Compositor) AddPresentation(p Presentation) Cursor {
	cur := c.newPage()
	m := c.opts.Margin
	width := c.pageW - 2*m

	c.pdf.SetFont("Helvetica", "B", 15)
	c.pdf.SetTextColor(0, 0, 0)
	c.textCentered(p.Title, cur.Y)
	cur.Y += 22

	c.pdf.SetFont("Helvetica", "", 12)
	for i, para := range p.Paragraphs {
		lines := c.wrap(para, width)
		for j, line := range lines {
			c.pdf.Text(m, cur.Y+float64(j)*13, line)
		}
		cur.Y += float64(len(lines))*13 + 6
		if cur.Y > c.pageH-m-200 && i < len(p.Paragraphs)-1 {
			cur = c.newPage()
			c.pdf.SetFont("Helvetica", "", 12)
		}
	}

	if p.Figure != nil {
		const boxH = 240.0
		if c.Remaining(cur) < boxH+12 {
			cur = c.newPage()
		}
		if h, ok := c.drawImageContain(p.Figure, m, cur.Y, width, boxH); ok {
			cur.Y += h + c.opts.Spacing.LegendToCaption
			cur.Y = c.caption(cur.Y, p.Caption)
		}
	}
	return cur
}

// AddSection draws a titled group of figures starting at cur. The section
// continues on the current page when its header and first image fit there,
// otherwise (or when NewPage is set) it starts a fresh page. Figures without
// an image are skipped together with their caption; a section with no image at
// all draws nothing.
func (c *Compositor) AddSection(cur Cursor, s Section) Cursor {
	figures := make([]Figure, 0, len(s.Figures))
	for _, f := range s.Figures {
		if f.Image != nil {
			figures = append(figures, f)
		}
	}
	if len(figures) == 0 {
		return cur
	}

	sp := c.opts.Spacing
	m := c.opts.Margin
	fullW := c.pageW - 2*m

	c.pdf.SetFont("Helvetica", "B", 14)
	titleH := lineHeight(14)
	head := Block{Kind: BlockHeader, TitleHeight: titleH, BoxHeight: figures[0].nominalBox()}
	if s.NewPage || !c.current(cur) || !c.opts.Thresholds.Fits(c.Remaining(cur), head, sp) {
		cur = c.newPage()
	} else {
		cur.Y += 4
	}

	c.pdf.SetFont("Helvetica", "B", 14)
	c.pdf.SetTextColor(0, 0, 0)
	c.textCentered(s.Title, cur.Y)
	cur.Y += titleH + sp.AfterSectionTitle

	for i, f := range figures {
		if i > 0 {
			cur.Y += sp.BetweenStacked
			next := Block{Kind: BlockSecondary, BoxHeight: f.nominalBox(), MinSpace: f.MinSpace}
			if !c.opts.Thresholds.Fits(c.Remaining(cur), next, sp) {
				cur = c.newPage()
			}
		}

		h, ok := c.drawImageContain(f.Image, m, cur.Y, fullW, f.boxFor(c.Remaining(cur)))
		if !ok {
			continue
		}
		cur.Y += h
		if f.Legend && len(s.Legend) > 0 {
			cur.Y += sp.ChartToLegend
			cur.Y = c.legend(cur.Y, s.Legend)
		}
		cur.Y += sp.LegendToCaption
		cur.Y = c.caption(cur.Y, f.Caption)
		cur.Y += sp.AfterCaption
	}
	return cur
}

// AddTable captures the element id and places it below cur when at least the
// table minimum is left on that page, otherwise on a new page. A failed
// capture leaves the document and cursor untouched.
func (c *Compositor) AddTable(ctx context.Context, cur Cursor, id string) Cursor {
	if c.capturer == nil {
		return cur
	}
	img := c.capturer.CaptureImage(ctx, id)
	if img == nil {
		return cur
	}
	return c.PlaceTable(cur, img)
}

// PlaceTable places an already captured table image
func (c *Compositor) PlaceTable(cur Cursor, img []byte) Cursor {
	sp := c.opts.Spacing
	m := c.opts.Margin

	if c.current(cur) && c.opts.Thresholds.Fits(c.Remaining(cur), Block{Kind: BlockTable}, sp) {
		cur.Y += sp.BeforeTable
	} else {
		cur = c.newPage()
	}

	h, ok := c.drawImageContain(img, m, cur.Y, c.pageW-2*m, c.Remaining(cur))
	if ok {
		cur.Y += h + sp.AfterTable
	}
	return cur
}

// caption draws "Figura N — text" centered and advances the figure counter
func (c *Compositor) caption(y float64, text string) float64 {
	if text == "" {
		return y
	}
	c.pdf.SetFont("Helvetica", "", 10)
	c.pdf.SetTextColor(0, 0, 0)
	full := fmt.Sprintf("Figura %d — %s", c.figure, text)
	lines := c.wrap(full, c.pageW-2*c.opts.Margin)
	lh := lineHeight(10)
	for i, line := range lines {
		w := c.pdf.GetStringWidth(line)
		c.pdf.Text((c.pageW-w)/2, y+float64(i)*lh, line)
	}
	c.figure++
	return y + float64(len(lines))*lh
}

func (c *Compositor) drawCenteredWrapped(text string, y, maxWidth, size float64) float64 {
	c.pdf.SetFont("Helvetica", "B", size)
	c.pdf.SetTextColor(0, 0, 0)
	lines := c.wrap(text, maxWidth)
	lh := size*0.55 + 4
	for i, line := range lines {
		w := c.pdf.GetStringWidth(line)
		c.pdf.Text((c.pageW-w)/2, y+float64(i)*lh, line)
	}
	return y + float64(len(lines))*lh
}

// wrap translates text to the core font encoding and breaks it into lines no
// wider than w. Splitting happens on the encoded bytes, one width per byte.
func (c *Compositor) wrap(text string, w float64) []string {
	parts := c.pdf.SplitLines([]byte(c.tr(text)), w)
	lines := make([]string, len(parts))
	for i, p := range parts {
		lines[i] = string(p)
	}
	return lines
}

func (c *Compositor) textCentered(text string, y float64) {
	s := c.tr(text)
	w := c.pdf.GetStringWidth(s)
	c.pdf.Text((c.pageW-w)/2, y, s)
}

// drawImageContain fits img into the box preserving its aspect ratio, centered
// horizontally and aligned to the top. It returns the drawn height.
func (c *Compositor) drawImageContain(img []byte, boxX, boxY, boxW, boxH float64) (float64, bool) {
	if boxW <= 0 || boxH <= 0 {
		return 0, false
	}
	cfg, format, err := image.DecodeConfig(bytes.NewReader(img))
	if err != nil || cfg.Width == 0 || cfg.Height == 0 {
		c.logger.Printf("Skipping undecodable image: %v", err)
		return 0, false
	}

	imageType := "PNG"
	if format == "jpeg" {
		imageType = "JPG"
	}
	c.images++
	name := fmt.Sprintf("img-%d", c.images)
	opts := fpdf.ImageOptions{ImageType: imageType}
	c.pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(img))
	if err := c.pdf.Error(); err != nil {
		c.logger.Printf("Skipping image the PDF writer rejected: %v", err)
		c.pdf.ClearError()
		return 0, false
	}

	w, h := fitContain(float64(cfg.Width), float64(cfg.Height), boxW, boxH)
	x := boxX + (boxW-w)/2
	c.pdf.ImageOptions(name, x, boxY, w, h, false, opts, 0, "")
	return h, true
}

// fitContain scales w×h to the largest size inside boxW×boxH
func fitContain(w, h, boxW, boxH float64) (float64, float64) {
	scale := min(boxW/w, boxH/h)
	return w * scale, h * scale
}

func lineHeight(size float64) float64 {
	return size * 1.15
}
