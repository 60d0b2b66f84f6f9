// Package layout describes what goes into a report: the sections, the chart and
// table ids captured for each one, captions, the legend, the fixed pages and the
// appendix per period. A default layout for the AVALIA EAD dashboard is embedded;
// deployments can override it with a YAML file.
package layout

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/cpa-ufpa/avalia-report/internal/compose"
	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

//go:embed default.yaml
var defaultYAML []byte

// Layout is the root of a layout file
type Layout struct {
	Target       selection.TargetParams `yaml:"target"`
	Legend       []compose.LegendItem   `yaml:"legend"`
	Cover        string                 `yaml:"cover"`
	Presentation PresentationDef        `yaml:"presentation"`
	UnitTitle    UnitTitleDef           `yaml:"unit_title"`
	Sections     []SectionDef           `yaml:"sections"`
	Appendix     AppendixDef            `yaml:"appendix"`

	// BaseDir resolves relative asset references. Set by the loader.
	BaseDir string `yaml:"-"`
}

// PresentationDef is the introductory page
type PresentationDef struct {
	Title      string   `yaml:"title"`
	Paragraphs []string `yaml:"paragraphs"`
	Figure     string   `yaml:"figure"`
	Caption    string   `yaml:"caption"`
}

// UnitTitleDef is the title page opening every unit
type UnitTitleDef struct {
	Heading         string  `yaml:"heading"`
	HeadingSize     float64 `yaml:"heading_size"`
	Subheading      string  `yaml:"subheading"`
	SubheadingSize  float64 `yaml:"subheading_size"`
	ProgramFallback string  `yaml:"program_fallback"`
	UnitFallback    string  `yaml:"unit_fallback"`
}

// SectionDef is one titled group of charts followed by an optional table
type SectionDef struct {
	Title   string      `yaml:"title"`
	NewPage bool        `yaml:"new_page"`
	Figures []FigureDef `yaml:"figures"`
	Table   string      `yaml:"table"`
}

// FigureDef is one captured chart
type FigureDef struct {
	ID       string  `yaml:"id"`
	Caption  string  `yaml:"caption"`
	Legend   bool    `yaml:"legend"`
	Box      float64 `yaml:"box"`
	MinBox   float64 `yaml:"min_box"`
	MaxBox   float64 `yaml:"max_box"`
	MinSpace float64 `yaml:"min_space"`
}

// AppendixDef selects the questionnaire appended to each report
type AppendixDef struct {
	Default  string            `yaml:"default"`
	ByPeriod map[string]string `yaml:"by_period"`
}

// Vars are the placeholders available to titles and captions
type Vars struct {
	Period  string
	Program string
	Unit    string
}

// Expand replaces {period}, {program} and {unit} in s
func (v Vars) Expand(s string) string {
	return strings.NewReplacer(
		"{period}", v.Period,
		"{program}", v.Program,
		"{unit}", v.Unit,
	).Replace(s)
}

// Default returns the embedded AVALIA EAD layout
func Default() (*Layout, error) {
	l, err := Parse(defaultYAML)
	if err != nil {
		return nil, fmt.Errorf("embedded layout: %w", err)
	}
	return l, nil
}

// Parse decodes and validates a layout document
func Parse(data []byte) (*Layout, error) {
	l := &Layout{Target: selection.DefaultTargetParams()}
	if err := yaml.Unmarshal(data, l); err != nil {
		return nil, fmt.Errorf("failed to parse layout: %w", err)
	}
	if err := l.Validate(); err != nil {
		return nil, err
	}
	return l, nil
}

// Load reads a layout file. Relative assets resolve against the file's directory.
func Load(path string) (*Layout, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout: %w", err)
	}
	l, err := Parse(data)
	if err != nil {
		return nil, err
	}
	l.BaseDir = filepath.Dir(path)
	return l, nil
}

// LoadOrDefault loads path, or the embedded layout when path is empty. Assets of
// the embedded layout resolve against assetDir.
func LoadOrDefault(path, assetDir string) (*Layout, error) {
	if path == "" {
		l, err := Default()
		if err != nil {
			return nil, err
		}
		l.BaseDir = assetDir
		return l, nil
	}
	return Load(path)
}

// Validate checks the layout is usable
func (l *Layout) Validate() error {
	if len(l.Sections) == 0 {
		return errors.New("layout has no sections")
	}
	if l.Target.Period == "" || l.Target.Mode == "" {
		return errors.New("layout target must name the period and mode parameters")
	}

	seen := make(map[string]bool)
	check := func(id string) error {
		if id == "" {
			return nil
		}
		if seen[id] {
			return fmt.Errorf("element id %q is used twice", id)
		}
		seen[id] = true
		return nil
	}
	for i, s := range l.Sections {
		if s.Title == "" {
			return fmt.Errorf("section %d has no title", i+1)
		}
		for _, f := range s.Figures {
			if f.ID == "" {
				return fmt.Errorf("section %q has a figure without id", s.Title)
			}
			if f.Box <= 0 && f.MaxBox <= 0 {
				return fmt.Errorf("figure %q needs box or max_box", f.ID)
			}
			if err := check(f.ID); err != nil {
				return err
			}
		}
		if err := check(s.Table); err != nil {
			return err
		}
	}
	return nil
}

// ElementIDs lists every chart and table id in document order
func (l *Layout) ElementIDs() []string {
	var ids []string
	for _, s := range l.Sections {
		for _, f := range s.Figures {
			ids = append(ids, f.ID)
		}
		if s.Table != "" {
			ids = append(ids, s.Table)
		}
	}
	return ids
}

// AppendixFor returns the appendix reference of period, empty when none
func (l *Layout) AppendixFor(period string) string {
	if ref, ok := l.Appendix.ByPeriod[period]; ok {
		return ref
	}
	return l.Appendix.Default
}

// TitleLines returns the unit title page text
func (l *Layout) TitleLines(v Vars) []compose.TitleLine {
	t := l.UnitTitle
	if v.Program == "" {
		v.Program = t.ProgramFallback
	}
	if v.Unit == "" {
		v.Unit = t.UnitFallback
	}
	lines := []compose.TitleLine{{Text: v.Expand(t.Heading), Size: orDefault(t.HeadingSize, 20)}}
	if t.Subheading != "" {
		lines = append(lines, compose.TitleLine{Text: v.Expand(t.Subheading), Size: orDefault(t.SubheadingSize, 15)})
	}
	return lines
}

// Section turns def into a drawable section using the captured images
func (l *Layout) Section(def SectionDef, v Vars, images map[string][]byte) compose.Section {
	s := compose.Section{
		Title:   v.Expand(def.Title),
		NewPage: def.NewPage,
		Legend:  l.Legend,
	}
	for _, f := range def.Figures {
		s.Figures = append(s.Figures, compose.Figure{
			Image:    images[f.ID],
			Caption:  v.Expand(f.Caption),
			Legend:   f.Legend,
			Box:      f.Box,
			MinBox:   f.MinBox,
			MaxBox:   f.MaxBox,
			MinSpace: f.MinSpace,
		})
	}
	return s
}

func orDefault(v, def float64) float64 {
	if v <= 0 {
		return def
	}
	return v
}
