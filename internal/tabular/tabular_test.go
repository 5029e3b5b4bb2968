package tabular

import (
	"errors"
	"strings"
	"testing"
)

var columns = []Column{
	{Name: "employee_id", Aliases: []string{"emp_id"}, Required: true},
	{Name: "name", Required: true},
	{Name: "mobile", Aliases: []string{"phone"}},
}

func TestReadResolvesAliases(t *testing.T) {
	input := "\ufeffEMP_ID, Name ,Phone,Extra\nE1,Asha,99999,x\n,,,\nE2,Ravi\n"

	table, err := Read(strings.NewReader(input), columns)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}

	if table.Len() != 2 {
		t.Fatalf("expected 2 rows, got %d", table.Len())
	}
	if got := table.Value(0, "employee_id"); got != "E1" {
		t.Fatalf("expected E1, got %q", got)
	}
	if got := table.Value(0, "mobile"); got != "99999" {
		t.Fatalf("expected mobile from phone column, got %q", got)
	}
	if got := table.Value(1, "mobile"); got != "" {
		t.Fatalf("expected empty value for short row, got %q", got)
	}
	if got := table.Value(0, "unknown"); got != "" {
		t.Fatalf("expected empty value for unknown column, got %q", got)
	}
}

func TestReadMissingColumns(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "empty file", input: ""},
		{name: "no name column", input: "employee_id,mobile\nE1,1\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), columns)
			if !errors.Is(err, ErrMissingColumns) {
				t.Fatalf("expected ErrMissingColumns, got %v", err)
			}
		})
	}
}

func TestRequireAny(t *testing.T) {
	table, err := Read(strings.NewReader("employee_id,name\nE1,A\n"), columns)
	if err != nil {
		t.Fatalf("Read returned error: %v", err)
	}
	if err := table.RequireAny("mobile", "address"); !errors.Is(err, ErrMissingColumns) {
		t.Fatalf("expected ErrMissingColumns, got %v", err)
	}
	if err := table.RequireAny("name"); err != nil {
		t.Fatalf("expected name to satisfy RequireAny, got %v", err)
	}
}

func TestReadMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "bare quote in row", input: "employee_id,name\nE1,Ann \"x\n"},
		{name: "bare quote in header", input: "employee_id,na\"me\nE1,Ann\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Read(strings.NewReader(tt.input), columns)
			if !errors.Is(err, ErrMalformed) {
				t.Fatalf("expected ErrMalformed, got %v", err)
			}
		})
	}
}
