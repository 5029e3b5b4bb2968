// Package tabular reads CSV uploads whose headers may use alternative names.
package tabular

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ErrMissingColumns is returned when a required column has no matching header.
var ErrMissingColumns = errors.New("missing required columns")

// ErrMalformed is returned when the upload is not valid CSV.
var ErrMalformed = errors.New("malformed csv")

// Column names a logical field and the header spellings accepted for it.
type Column struct {
	Name     string
	Aliases  []string
	Required bool
}

// Table is a parsed CSV upload keyed by logical column names.
type Table struct {
	index map[string]int
	rows  [][]string
}

// Read parses r and resolves columns against its header row. Header matching
// ignores case, surrounding spaces and a UTF-8 byte order mark.
func Read(r io.Reader, columns []Column) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: file is empty", ErrMissingColumns)
	}
	if err != nil {
		return nil, readError("read header", err)
	}

	positions := make(map[string]int, len(header))
	for i, h := range header {
		h = normalizeHeader(h)
		if _, seen := positions[h]; !seen {
			positions[h] = i
		}
	}

	t := &Table{index: make(map[string]int, len(columns))}
	var missing []string
	for _, col := range columns {
		pos, ok := resolve(positions, col)
		if ok {
			t.index[col.Name] = pos
			continue
		}
		if col.Required {
			missing = append(missing, col.Name)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingColumns, strings.Join(missing, ", "))
	}

	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, readError(fmt.Sprintf("read row %d", len(t.rows)+2), err)
		}
		if blank(record) {
			continue
		}
		t.rows = append(t.rows, record)
	}

	return t, nil
}

func readError(what string, err error) error {
	var parseErr *csv.ParseError
	if errors.As(err, &parseErr) {
		return fmt.Errorf("%w: %s: %w", ErrMalformed, what, err)
	}
	return fmt.Errorf("%s: %w", what, err)
}

// RequireAny fails unless at least one of the named columns is present.
func (t *Table) RequireAny(names ...string) error {
	for _, name := range names {
		if t.Has(name) {
			return nil
		}
	}
	return fmt.Errorf("%w: one of %s", ErrMissingColumns, strings.Join(names, ", "))
}

// Has reports whether the column was found in the header.
func (t *Table) Has(name string) bool {
	_, ok := t.index[name]
	return ok
}

// Len returns the number of non-blank data rows.
func (t *Table) Len() int { return len(t.rows) }

// Value returns the trimmed cell of row i for the column, or "" when the
// column or cell is absent.
func (t *Table) Value(i int, name string) string {
	pos, ok := t.index[name]
	if !ok || i < 0 || i >= len(t.rows) || pos >= len(t.rows[i]) {
		return ""
	}
	return strings.TrimSpace(t.rows[i][pos])
}

func resolve(positions map[string]int, col Column) (int, bool) {
	for _, name := range append([]string{col.Name}, col.Aliases...) {
		if pos, ok := positions[normalizeHeader(name)]; ok {
			return pos, true
		}
	}
	return 0, false
}

func normalizeHeader(h string) string {
	h = strings.TrimPrefix(h, "\ufeff")
	h = strings.ToLower(strings.TrimSpace(h))
	return strings.ReplaceAll(h, " ", "_")
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
