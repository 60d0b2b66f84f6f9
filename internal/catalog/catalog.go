// Package catalog derives the selectable periods, programs and units from the
// survey response files. A period offers units when its unit column yields any
// value; those periods allow the aggregate scope.
package catalog

import (
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/cpa-ufpa/avalia-report/internal/selection"
)

// Period is the set of filters available for one survey period
type Period struct {
	Name     string   `json:"name"`
	Programs []string `json:"programs"`
	Units    []string `json:"units"`
}

// HasUnits reports whether the period is split into units
func (p *Period) HasUnits() bool {
	return len(p.Units) > 0
}

// HasUnit reports whether unit is offered
func (p *Period) HasUnit(unit string) bool {
	return slices.Contains(p.Units, unit)
}

// HasProgram reports whether program is offered
func (p *Period) HasProgram(program string) bool {
	return slices.Contains(p.Programs, program)
}

// DefaultProgram returns the program of a period that offers only one. The
// dashboard hides the program filter in that case.
func (p *Period) DefaultProgram() (string, bool) {
	if len(p.Programs) == 1 {
		return p.Programs[0], true
	}
	return "", false
}

// Catalog holds every loaded period
type Catalog struct {
	mu      sync.RWMutex
	periods map[string]*Period
}

// New creates an empty catalog
func New() *Catalog {
	return &Catalog{periods: make(map[string]*Period)}
}

// Add registers a period, merging with one of the same name. Blank values and
// aggregate pseudo-units are dropped; lists are kept unique and sorted.
func (c *Catalog) Add(p Period) {
	c.mu.Lock()
	defer c.mu.Unlock()

	cur, ok := c.periods[p.Name]
	if !ok {
		cur = &Period{Name: p.Name}
		c.periods[p.Name] = cur
	}
	cur.Programs = uniqSorted(append(cur.Programs, p.Programs...), nil)
	cur.Units = uniqSorted(append(cur.Units, p.Units...), selection.IsAggregateLabel)
}

// Period returns the named period
func (c *Catalog) Period(name string) (*Period, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	p, ok := c.periods[name]
	if !ok {
		return nil, false
	}
	cp := *p
	return &cp, true
}

// Periods lists period names, most recent first
func (c *Catalog) Periods() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.periods))
	for n := range c.periods {
		names = append(names, n)
	}
	sort.Slice(names, func(i, j int) bool {
		a, errA := strconv.Atoi(names[i])
		b, errB := strconv.Atoi(names[j])
		if errA == nil && errB == nil {
			return a > b
		}
		return names[i] > names[j]
	})
	return names
}

// Preferred returns the period preselected by the dashboard: 2025 when loaded,
// otherwise the most recent.
func (c *Catalog) Preferred() string {
	names := c.Periods()
	if slices.Contains(names, "2025") {
		return "2025"
	}
	if len(names) > 0 {
		return names[0]
	}
	return ""
}

// Resolve normalizes sel, fills in a period's only program and validates the
// result against the catalog.
func (c *Catalog) Resolve(sel selection.Selection) (selection.Selection, *Period, error) {
	sel = sel.Normalize()
	p, ok := c.Period(sel.Period)
	if !ok {
		return sel, nil, sel.Validate(nil)
	}
	if sel.Program == "" {
		if prog, ok := p.DefaultProgram(); ok {
			sel.Program = prog
		}
	}
	if err := sel.Validate(p); err != nil {
		return sel, p, err
	}
	return sel, p, nil
}

func uniqSorted(values []string, drop func(string) bool) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" || seen[v] || (drop != nil && drop(v)) {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
