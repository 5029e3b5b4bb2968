package price

import "testing"

func TestParseLines(t *testing.T) {
	text := `ACME TRADERS
Invoice No: 4411
High-End Gaming Laptop    Rs. 1,50,000
Office Chair - 5000.00
Printer ₹15,000.50
INR 900 Stapler
Sub Total Rs. 1,70,900
GST 18% Rs 30,762
Thank you`

	lines := ParseLines(text)

	want := []Line{
		{Description: "High-End Gaming Laptop", Price: 150000},
		{Description: "Office Chair", Price: 5000},
		{Description: "Printer", Price: 15000.5},
		{Description: "Stapler", Price: 900},
	}

	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %+v", len(want), len(lines), lines)
	}
	for i := range want {
		if lines[i].Description != want[i].Description || lines[i].Price != want[i].Price {
			t.Fatalf("line %d = %+v, want %+v", i, lines[i], want[i])
		}
		if lines[i].Raw == "" {
			t.Fatalf("line %d lost its raw text", i)
		}
	}
}

func TestParseLinesSkipsInvoiceNumbers(t *testing.T) {
	lines := ParseLines("Invoice No: 4411\nDate: 12/03/2024")
	if len(lines) != 0 {
		t.Fatalf("expected no priced lines, got %+v", lines)
	}
}

func TestParseLinesStripsQuantityColumn(t *testing.T) {
	lines := ParseLines("2 x Scanner - 12000")
	if len(lines) != 1 || lines[0].Description != "Scanner" {
		t.Fatalf("unexpected lines %+v", lines)
	}
}
