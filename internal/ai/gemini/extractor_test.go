package gemini

import (
	"context"
	"errors"
	"strings"
	"testing"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type stubGenerator struct {
	response   string
	err        error
	lastSystem string
	lastParts  []genai.Part
}

func (s *stubGenerator) GenerateFromParts(_ context.Context, system string, parts ...genai.Part) (string, error) {
	s.lastSystem = system
	s.lastParts = parts
	if s.err != nil {
		return "", s.err
	}
	return s.response, nil
}

func TestReaderReadInvoice(t *testing.T) {
	stub := &stubGenerator{response: "```json\n" + `{
  "text": "Gaming Laptop Rs. 1,50,000\nPrinter Rs 15000",
  "items": [
    {"description": "Gaming Laptop", "price": "1,50,000"},
    {"description": "Printer", "price": 15000},
    {"description": "Grand total", "price": "n/a"},
    {"description": "", "price": 10}
  ]
}` + "\n```"}

	reader := NewReader(stub, 0, zap.NewNop())

	reading, err := reader.ReadInvoice(context.Background(), []byte{0x89, 'P', 'N', 'G'}, "image/png")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(reading.Lines) != 2 {
		t.Fatalf("expected 2 priced lines, got %+v", reading.Lines)
	}
	if reading.Lines[0].Description != "Gaming Laptop" || reading.Lines[0].Price != 150000 {
		t.Fatalf("unexpected first line: %+v", reading.Lines[0])
	}
	if !strings.Contains(reading.Text, "Printer Rs 15000") {
		t.Fatalf("unexpected text: %q", reading.Text)
	}
	if reading.Raw == "" {
		t.Fatalf("expected raw response to be kept")
	}

	if len(stub.lastParts) != 2 || stub.lastParts[0].InlineData == nil {
		t.Fatalf("expected inline image part, got %+v", stub.lastParts)
	}
	if stub.lastParts[0].InlineData.MIMEType != "image/png" {
		t.Fatalf("unexpected mime type %q", stub.lastParts[0].InlineData.MIMEType)
	}
	if !strings.Contains(stub.lastSystem, "price audit") {
		t.Fatalf("expected invoice prompt as system instruction")
	}
}

func TestReaderReadInvoiceRejectsGarbage(t *testing.T) {
	reader := NewReader(&stubGenerator{response: "I cannot read this invoice."}, 0, nil)

	if _, err := reader.ReadInvoice(context.Background(), []byte("x"), "image/jpeg"); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestReaderReadDocument(t *testing.T) {
	stub := &stubGenerator{response: "```\nTender for road construction\nClause 1\n```"}
	reader := NewReader(stub, 0, nil)

	text, err := reader.ReadDocument(context.Background(), []byte("%PDF-1.4"), "application/pdf")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Tender for road construction\nClause 1" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestReaderValidatesInput(t *testing.T) {
	reader := NewReader(&stubGenerator{response: "ok"}, 0, nil)

	if _, err := reader.ReadDocument(context.Background(), nil, "application/pdf"); err == nil {
		t.Fatal("expected error for empty document")
	}
	if _, err := reader.ReadDocument(context.Background(), []byte("x"), " "); err == nil {
		t.Fatal("expected error for missing mime type")
	}
}

func TestReaderPropagatesGeneratorError(t *testing.T) {
	reader := NewReader(&stubGenerator{err: errors.New("quota")}, 0, nil)

	if _, err := reader.ReadDocument(context.Background(), []byte("x"), "application/pdf"); err == nil {
		t.Fatal("expected generator error")
	}
}

func TestCoerceFloat(t *testing.T) {
	cases := map[any]float64{
		"₹ 5,000.50": 5000.5,
		float64(12):  12,
		"  42 ":      42,
	}
	for in, want := range cases {
		if got := coerceFloat(in); got != want {
			t.Fatalf("coerceFloat(%v) = %v, want %v", in, got, want)
		}
	}
}
