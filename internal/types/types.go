package types

import (
	"context"

	"github.com/xhad/reimburse/internal/models"
)

// Core interfaces

// Completer sends a rendered prompt to a language model.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string, onChunk func(chunk string) error) error
}

type Embedder interface {
	EmbedText(ctx context.Context, text string) ([]float32, error)
}

type VectorStore interface {
	Insert(ctx context.Context, rec models.IndexedRecord, embedding []float32) error
	Search(ctx context.Context, embedding []float32, filter models.SearchFilter, limit int) ([]models.Document, error)
	Close()
}

type Extractor interface {
	ExtractText(path string) string
	ExtractBundle(archivePath, destDir string) []models.InvoiceDocument
}

type Classifier interface {
	Classify(ctx context.Context, policyText, invoiceText string) models.Verdict
}

type Indexer interface {
	Index(ctx context.Context, text string, md models.RecordMetadata) error
}
