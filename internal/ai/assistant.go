// Package ai declares the seams through which analyzers reach hosted models.
package ai

import "context"

// Embedder turns texts into dense vectors. Vectors returned for one call
// share a dimension and are aligned with the input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
	Name() string
}

// DocumentReader extracts plain text from an uploaded document such as a
// tender PDF.
type DocumentReader interface {
	ReadDocument(ctx context.Context, data []byte, mimeType string) (string, error)
}

// InvoiceLine is one priced line recognised on an invoice.
type InvoiceLine struct {
	Description string
	Price       float64
}

// InvoiceReading is the outcome of reading an invoice image.
type InvoiceReading struct {
	// Text is the transcription of the invoice.
	Text string
	// Lines holds priced lines when the reader could structure them.
	Lines []InvoiceLine
	Raw   string
}

// InvoiceReader performs OCR over an invoice image.
type InvoiceReader interface {
	ReadInvoice(ctx context.Context, data []byte, mimeType string) (*InvoiceReading, error)
}
