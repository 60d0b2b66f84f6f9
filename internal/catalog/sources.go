package catalog

import (
	_ "embed"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/xuri/excelize/v2"
	"gopkg.in/yaml.v3"
)

//go:embed sources.yaml
var defaultSources []byte

// SourcesFile is looked up in the data directory before the embedded default
const SourcesFile = "sources.yaml"

// Format of a response file
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatJSON Format = "json"
)

// Source describes where one period's filters come from. Columns are matched by
// header name when Header is set, by zero-based index otherwise.
type Source struct {
	Period string `yaml:"period"`
	File   string `yaml:"file"`
	Format Format `yaml:"format"`
	Header bool   `yaml:"header"`
	Sheet  string `yaml:"sheet"`

	ProgramColumn string `yaml:"program_column"`
	UnitColumn    string `yaml:"unit_column"`
	ProgramIndex  *int   `yaml:"program_index"`
	UnitIndex     *int   `yaml:"unit_index"`

	// Skip drops values matching this pattern, e.g. repeated question headers
	Skip string `yaml:"skip"`
}

type sourcesDoc struct {
	Sources []Source `yaml:"sources"`
}

// ParseSources decodes a sources document
func ParseSources(data []byte) ([]Source, error) {
	var doc sourcesDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse sources: %w", err)
	}
	for i, s := range doc.Sources {
		if s.Period == "" || s.File == "" {
			return nil, fmt.Errorf("source %d needs period and file", i+1)
		}
		if s.Format == "" {
			doc.Sources[i].Format = formatFromExt(s.File)
		}
	}
	return doc.Sources, nil
}

// LoadDir builds the catalog from the response files in dir. A source that
// cannot be read is logged and skipped, as long as one period loads.
func LoadDir(dir string) (*Catalog, error) {
	data, err := os.ReadFile(filepath.Join(dir, SourcesFile))
	if errors.Is(err, os.ErrNotExist) {
		data = defaultSources
	} else if err != nil {
		return nil, fmt.Errorf("failed to read sources: %w", err)
	}

	sources, err := ParseSources(data)
	if err != nil {
		return nil, err
	}

	c := New()
	for _, s := range sources {
		p, err := s.Load(dir)
		if err != nil {
			log.Printf("Warning: skipping data for %s: %v", s.Period, err)
			continue
		}
		c.Add(*p)
	}
	if len(c.Periods()) == 0 {
		return nil, fmt.Errorf("no period could be loaded from %s", dir)
	}
	return c, nil
}

// Load reads the source file relative to dir
func (s Source) Load(dir string) (*Period, error) {
	path := s.File
	if !filepath.IsAbs(path) {
		path = filepath.Join(dir, path)
	}

	if s.Format == FormatJSON {
		return s.loadJSON(path)
	}

	var rows [][]string
	var err error
	switch s.Format {
	case FormatCSV:
		rows, err = readCSV(path)
	case FormatXLSX:
		rows, err = readXLSX(path, s.Sheet)
	default:
		return nil, fmt.Errorf("unsupported format %q", s.Format)
	}
	if err != nil {
		return nil, err
	}
	return s.fromRows(rows)
}

func (s Source) fromRows(rows [][]string) (*Period, error) {
	programIdx, unitIdx := indexOr(s.ProgramIndex, 0), indexOr(s.UnitIndex, -1)

	if s.Header {
		if len(rows) == 0 {
			return nil, errors.New("file is empty")
		}
		header := rows[0]
		rows = rows[1:]
		programIdx = columnIndex(header, s.ProgramColumn)
		if programIdx < 0 {
			return nil, fmt.Errorf("program column %q not found", s.ProgramColumn)
		}
		unitIdx = -1
		if s.UnitColumn != "" {
			unitIdx = columnIndex(header, s.UnitColumn)
		}
	}

	var skip *regexp.Regexp
	if s.Skip != "" {
		re, err := regexp.Compile(s.Skip)
		if err != nil {
			return nil, fmt.Errorf("invalid skip pattern: %w", err)
		}
		skip = re
	}

	p := &Period{Name: s.Period}
	for _, r := range rows {
		if v := cell(r, programIdx); v != "" && (skip == nil || !skip.MatchString(v)) {
			p.Programs = append(p.Programs, v)
		}
		if v := cell(r, unitIdx); v != "" && (skip == nil || !skip.MatchString(v)) {
			p.Units = append(p.Units, v)
		}
	}
	return p, nil
}

func (s Source) loadJSON(path string) (*Period, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var p Period
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	p.Name = s.Period
	return &p, nil
}

func readCSV(path string) ([][]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.LazyQuotes = true

	var rows [][]string
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		if blank(rec) {
			continue
		}
		rows = append(rows, rec)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\ufeff")
	}
	return rows, nil
}

func readXLSX(path, sheet string) ([][]string, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if sheet == "" {
		sheet = f.GetSheetName(0)
	}
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", sheet, err)
	}
	out := rows[:0]
	for _, r := range rows {
		if !blank(r) {
			out = append(out, r)
		}
	}
	return out, nil
}

func columnIndex(header []string, name string) int {
	for i, h := range header {
		if strings.TrimSpace(h) == strings.TrimSpace(name) {
			return i
		}
	}
	return -1
}

func indexOr(idx *int, def int) int {
	if idx == nil {
		return def
	}
	return *idx
}

func cell(row []string, idx int) string {
	if idx < 0 || idx >= len(row) {
		return ""
	}
	return strings.TrimSpace(row[idx])
}

func blank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}

func formatFromExt(file string) Format {
	switch strings.ToLower(filepath.Ext(file)) {
	case ".xlsx":
		return FormatXLSX
	case ".json":
		return FormatJSON
	default:
		return FormatCSV
	}
}
