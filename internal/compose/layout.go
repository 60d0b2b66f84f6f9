package compose

// Page geometry and spacing, in points.
const (
	DefaultMargin = 40.0

	coverMarginX = 36.0
	coverMarginY = 48.0
)

// Spacing between the blocks of a section
type Spacing struct {
	AfterSectionTitle float64
	ChartToLegend     float64
	LegendRowGap      float64
	LegendToCaption   float64
	AfterCaption      float64
	BetweenStacked    float64
	BeforeTable       float64
	AfterTable        float64
}

// DefaultSpacing returns the spacing the AVALIA reports use
func DefaultSpacing() Spacing {
	return Spacing{
		AfterSectionTitle: 4,
		ChartToLegend:     8,
		LegendRowGap:      4,
		LegendToCaption:   12,
		AfterCaption:      10,
		BetweenStacked:    16,
		BeforeTable:       8,
		AfterTable:        10,
	}
}

// BlockKind identifies what is about to be drawn when deciding on a page break
type BlockKind int

const (
	// BlockHeader is a section title together with its first image
	BlockHeader BlockKind = iota
	// BlockSecondary is any image stacked below the first one of a section
	BlockSecondary
	// BlockTable is a captured statistics table
	BlockTable
)

func (k BlockKind) String() string {
	switch k {
	case BlockHeader:
		return "header"
	case BlockSecondary:
		return "secondary"
	case BlockTable:
		return "table"
	default:
		return "unknown"
	}
}

// Block describes the vertical needs of the next thing to draw
type Block struct {
	Kind        BlockKind
	TitleHeight float64
	BoxHeight   float64
	// MinSpace overrides the computed minimum for secondary images
	MinSpace float64
}

// Thresholds is the page-break table. Headers with an image need more
// headroom than a lone table, so each block kind has its own minimum.
type Thresholds struct {
	HeaderHeadroom    float64
	SecondaryHeadroom float64
	Table             float64
}

// DefaultThresholds returns the minimums tuned for A4 portrait
func DefaultThresholds() Thresholds {
	return Thresholds{
		HeaderHeadroom:    40,
		SecondaryHeadroom: 80,
		Table:             120,
	}
}

// Required returns the minimum remaining height for b to start on the current page
func (t Thresholds) Required(b Block, sp Spacing) float64 {
	switch b.Kind {
	case BlockHeader:
		return b.TitleHeight + sp.AfterSectionTitle + b.BoxHeight + t.HeaderHeadroom
	case BlockSecondary:
		if b.MinSpace > 0 {
			return b.MinSpace
		}
		return b.BoxHeight + t.SecondaryHeadroom
	case BlockTable:
		return t.Table
	default:
		return 0
	}
}

// Fits reports whether b may be drawn with remaining points left on the page
func (t Thresholds) Fits(remaining float64, b Block, sp Spacing) bool {
	return remaining >= t.Required(b, sp)
}

// Cursor is the drawing position threaded through every compositor call
type Cursor struct {
	Page int
	Y    float64
}

// LegendItem is one swatch of a chart legend
type LegendItem struct {
	Label string `yaml:"label" json:"label"`
	Color string `yaml:"color" json:"color"`
}

// Figure is a captured chart placed in a section. A nil Image skips the figure
// and its caption.
type Figure struct {
	Image   []byte
	Caption string
	Legend  bool
	// Box is the fixed height of the bounding box; when zero the box grows with
	// the remaining room between MinBox and MaxBox.
	Box      float64
	MinBox   float64
	MaxBox   float64
	MinSpace float64
}

func (f Figure) boxFor(room float64) float64 {
	if f.Box > 0 {
		return f.Box
	}
	return max(f.MinBox, min(room, f.MaxBox))
}

func (f Figure) nominalBox() float64 {
	if f.Box > 0 {
		return f.Box
	}
	return f.MinBox
}

// Section is a titled group of stacked figures
type Section struct {
	Title   string
	NewPage bool
	Figures []Figure
	Legend  []LegendItem
}

// TitleLine is one centered line block of a title page
type TitleLine struct {
	Text string
	Size float64
}

// Presentation is the introductory text page
type Presentation struct {
	Title      string
	Paragraphs []string
	Figure     []byte
	Caption    string
}
