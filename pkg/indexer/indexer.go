package indexer

import (
	"context"

	"github.com/google/uuid"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/internal/types"
	"github.com/xhad/reimburse/pkg/logger"
	"github.com/xhad/reimburse/pkg/processor"
)

// Indexer appends analyzed invoices to the similarity-search store.
type Indexer struct {
	embedder  types.Embedder
	store     types.VectorStore
	processor processor.Processor
	log       *logger.Logger
	newID     func() string
}

func New(embedder types.Embedder, store types.VectorStore, proc processor.Processor, log *logger.Logger) *Indexer {
	if log == nil {
		log = logger.Nop()
	}
	return &Indexer{
		embedder:  embedder,
		store:     store,
		processor: proc,
		log:       log.With("component", "indexer"),
		newID:     uuid.NewString,
	}
}

// Index stores text under a fresh identifier, tagged with md. Failures are
// returned as storage errors; nothing is retried or deduplicated.
func (ix *Indexer) Index(ctx context.Context, text string, md models.RecordMetadata) error {
	content := ix.processor.Sanitize(text)

	embedding, err := ix.embedder.EmbedText(ctx, ix.processor.EmbeddingInput(content))
	if err != nil {
		return apperr.Storage("failed to store embedding", err)
	}

	rec := models.IndexedRecord{
		ID:       ix.newID(),
		Content:  content,
		Metadata: md,
	}
	if err := ix.store.Insert(ctx, rec, embedding); err != nil {
		return apperr.Storage("failed to store embedding", err)
	}

	ix.log.Debug("indexed invoice", "id", rec.ID, "invoice_file", md.InvoiceFile, "status", md.Status)
	return nil
}
