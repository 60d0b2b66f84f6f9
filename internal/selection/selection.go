// Package selection models the report parameters chosen by the user and the
// values derived from them: the cache signature, the render target handed to the
// off-screen dashboard and the name of the downloadable file.
package selection

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Scope says whether a report covers one unit or every unit of a period
type Scope string

const (
	ScopeSingle   Scope = "single"
	ScopeAllUnits Scope = "all"
)

// Labels the dashboard uses for the "every unit" pseudo entry.
var aggregateLabels = []string{"Todos os Polos", "__ALL__", "todos"}

var (
	ErrPeriodRequired  = errors.New("period is required")
	ErrProgramRequired = errors.New("program is required")
	ErrUnitRequired    = errors.New("unit is required for this period")
	ErrNoUnits         = errors.New("period has no units; the aggregate scope is not available")
	ErrUnknownUnit     = errors.New("unit is not offered for this period")
)

// Selection is the set of report parameters
type Selection struct {
	Period  string `json:"period"`
	Program string `json:"program"`
	Unit    string `json:"unit,omitempty"`
	Scope   Scope  `json:"scope"`
}

// PeriodInfo is what validation needs to know about a period
type PeriodInfo interface {
	HasUnits() bool
	HasUnit(name string) bool
	HasProgram(name string) bool
}

// IsAggregateLabel reports whether a unit label stands for "all units"
func IsAggregateLabel(unit string) bool {
	for _, l := range aggregateLabels {
		if strings.EqualFold(strings.TrimSpace(unit), l) {
			return true
		}
	}
	return false
}

// Normalize maps an aggregate pseudo-unit to the aggregate scope and fills in
// the default scope.
func (s Selection) Normalize() Selection {
	if IsAggregateLabel(s.Unit) {
		s.Unit = ""
		s.Scope = ScopeAllUnits
	}
	if s.Scope == "" {
		s.Scope = ScopeSingle
	}
	if s.Scope == ScopeAllUnits {
		s.Unit = ""
	}
	return s
}

// IsAggregate reports whether the selection covers all units
func (s Selection) IsAggregate() bool {
	return s.Scope == ScopeAllUnits
}

// Validate checks the selection against the period it names.
func (s Selection) Validate(p PeriodInfo) error {
	if s.Period == "" {
		return ErrPeriodRequired
	}
	if p == nil {
		return fmt.Errorf("unknown period %q", s.Period)
	}
	if s.Program == "" {
		return ErrProgramRequired
	}
	if !p.HasProgram(s.Program) {
		return fmt.Errorf("program %q is not offered for period %s", s.Program, s.Period)
	}

	switch s.Scope {
	case ScopeAllUnits:
		if !p.HasUnits() {
			return ErrNoUnits
		}
	case ScopeSingle:
		if p.HasUnits() {
			if s.Unit == "" {
				return ErrUnitRequired
			}
			if !p.HasUnit(s.Unit) {
				return fmt.Errorf("%w: %s", ErrUnknownUnit, s.Unit)
			}
		}
	default:
		return fmt.Errorf("invalid scope %q", s.Scope)
	}
	return nil
}

// Signature is the deterministic cache decision key. The aggregate report does
// not depend on any unit, so the unit is left out for that scope.
func (s Selection) Signature() string {
	if s.Scope == ScopeAllUnits {
		return fmt.Sprintf("%s::%s::all", s.Period, s.Program)
	}
	return fmt.Sprintf("%s::%s::unit:%s", s.Period, s.Program, s.Unit)
}

// String returns a human readable form used in logs
func (s Selection) String() string {
	unit := s.Unit
	if s.Scope == ScopeAllUnits {
		unit = "*"
	}
	return fmt.Sprintf("Selection{Period: %s, Program: %s, Unit: %s}", s.Period, s.Program, unit)
}

var spaces = regexp.MustCompile(`\s+`)

// FileName is the deterministic name of the downloadable document
func (s Selection) FileName(hasUnits bool) string {
	program := s.Program
	if program == "" {
		program = "curso"
	}
	name := fmt.Sprintf("relatorio-avalia-%s-%s", s.Period, program)
	if hasUnits {
		switch {
		case s.Scope == ScopeAllUnits:
			name += "-todos-os-polos"
		case s.Unit != "":
			name += "-" + strings.ToLower(spaces.ReplaceAllString(s.Unit, "-"))
		}
	}
	return name + ".pdf"
}

// TargetFor returns the render target for one unit of the selection. unit is
// empty for periods without units.
func (s Selection) TargetFor(unit string) RenderTarget {
	return RenderTarget{
		Period:     s.Period,
		Program:    s.Program,
		Unit:       unit,
		ReportMode: true,
	}
}

// RenderTarget is the dashboard state the render source is navigated to
type RenderTarget struct {
	Period     string
	Program    string
	Unit       string
	ReportMode bool
}

// TargetParams names the query parameters understood by the dashboard
type TargetParams struct {
	Period  string `yaml:"period"`
	Program string `yaml:"program"`
	Unit    string `yaml:"unit"`
	Mode    string `yaml:"mode"`
}

// DefaultTargetParams returns the parameter names of the AVALIA dashboard
func DefaultTargetParams() TargetParams {
	return TargetParams{
		Period:  "ano",
		Program: "curso",
		Unit:    "polo",
		Mode:    "embedForPdf",
	}
}

// URL composes the navigable address of the target below base.
func (t RenderTarget) URL(base string, p TargetParams) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("invalid dashboard url %q: %w", base, err)
	}
	q := u.Query()
	q.Set(p.Period, t.Period)
	if t.Program != "" {
		q.Set(p.Program, t.Program)
	}
	if t.Unit != "" {
		q.Set(p.Unit, t.Unit)
	}
	if t.ReportMode {
		q.Set(p.Mode, "1")
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
