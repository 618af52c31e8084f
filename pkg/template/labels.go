package template

import (
	"encoding/csv"
	"fmt"
	"io"
	"math"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"roiloc/pkg/roierr"
)

// Column names of the CerebrA label table.
const (
	nameColumn  = "Label Name"
	rightColumn = "RH Label"
	leftColumn  = "LH Labels"
)

// LabelPair holds the atlas indices of one bilateral region.
type LabelPair struct {
	Right int
	Left  int
}

// LabelTable maps normalized ROI names to their atlas indices.
type LabelTable struct {
	byName map[string]LabelPair
}

// NormalizeName brings a ROI name to the title case used in the table, so
// "hippocampus" and "HIPPOCAMPUS" both give "Hippocampus".
func NormalizeName(s string) string {
	return cases.Title(language.English).String(strings.Join(strings.Fields(s), " "))
}

// ParseLabelTable reads a CSV with "Label Name", "RH Label" and "LH Labels"
// columns. Other columns are ignored.
func ParseLabelTable(r io.Reader) (*LabelTable, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	head, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading label table header: %w", err)
	}
	cols := map[string]int{}
	for i, h := range head {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, c := range []string{nameColumn, rightColumn, leftColumn} {
		if _, ok := cols[c]; !ok {
			return nil, fmt.Errorf("label table has no %q column", c)
		}
	}

	t := &LabelTable{byName: map[string]LabelPair{}}
	for line := 2; ; line++ {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		get := func(c string) string {
			if i := cols[c]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		name := get(nameColumn)
		if name == "" {
			continue
		}
		right, err := parseLabel(get(rightColumn))
		if err != nil {
			return nil, fmt.Errorf("label table line %d: %w", line, err)
		}
		left, err := parseLabel(get(leftColumn))
		if err != nil {
			return nil, fmt.Errorf("label table line %d: %w", line, err)
		}
		t.byName[NormalizeName(name)] = LabelPair{Right: right, Left: left}
	}
	if len(t.byName) == 0 {
		return nil, fmt.Errorf("label table is empty")
	}
	return t, nil
}

func parseLabel(s string) (int, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil || v != math.Trunc(v) || v < 0 {
		return 0, fmt.Errorf("invalid label index %q", s)
	}
	return int(v), nil
}

// Lookup returns the indices of roi. An unknown name is a configuration
// error, typically a typo on the command line.
func (t *LabelTable) Lookup(roi string) (LabelPair, error) {
	p, ok := t.byName[NormalizeName(roi)]
	if !ok {
		return LabelPair{}, roierr.Configuration("label lookup",
			"ROI %q is not in the label table (known: %s)", roi, strings.Join(t.Names(), ", "))
	}
	return p, nil
}

// Names returns the known ROI names, sorted.
func (t *LabelTable) Names() []string {
	names := make([]string, 0, len(t.byName))
	for n := range t.byName {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
