package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/internal/types"
	"github.com/xhad/reimburse/pkg/dates"
	"github.com/xhad/reimburse/pkg/logger"
)

// NoDocumentsMessage is the answer when retrieval comes back empty.
const NoDocumentsMessage = "No relevant documents found for your query. Please refine your search."

const contextSeparator = "\n\n---\n\n"

const answerTemplate = `You are a helpful assistant specialized in employee reimbursement queries.
Use the following invoice analysis data to answer the user's question.

## Context:
{{.context}}

## User Query:
{{.query}}

Respond in clear and concise markdown format.
`

// Query is a natural-language question with optional metadata filters.
type Query struct {
	Query        string `json:"query"`
	EmployeeName string `json:"employee_name,omitempty"`
	Date         string `json:"date,omitempty"`
	Status       string `json:"status,omitempty"`
}

type ChatbotConfig struct {
	// TopK is how many indexed invoices are retrieved per question.
	TopK int
	Log  *logger.Logger
}

// Chatbot answers questions over previously analyzed invoices.
type Chatbot struct {
	config   ChatbotConfig
	llm      types.Completer
	embedder types.Embedder
	store    types.VectorStore
	prompt   prompts.PromptTemplate
	log      *logger.Logger
}

func NewWithConfig(config ChatbotConfig, llm types.Completer, embedder types.Embedder, store types.VectorStore) *Chatbot {
	if config.TopK <= 0 {
		config.TopK = 5
	}
	if config.Log == nil {
		config.Log = logger.Nop()
	}

	return &Chatbot{
		config:   config,
		llm:      llm,
		embedder: embedder,
		store:    store,
		prompt:   prompts.NewPromptTemplate(answerTemplate, []string{"context", "query"}),
		log:      config.Log.With("component", "rag"),
	}
}

// BuildFilter turns the optional query fields into a store filter. Blank
// fields are dropped; a status or date that could never match is rejected.
func BuildFilter(q Query) (models.SearchFilter, error) {
	filter := models.SearchFilter{
		EmployeeName: strings.TrimSpace(q.EmployeeName),
		Date:         strings.TrimSpace(q.Date),
	}

	if filter.Date != "" && !dates.Valid(filter.Date) {
		return models.SearchFilter{}, apperr.Invalid("date must be formatted YYYY-MM-DD, got %q", q.Date)
	}

	if raw := strings.TrimSpace(q.Status); raw != "" {
		status, ok := models.ParseStatus(raw, true)
		if !ok {
			return models.SearchFilter{}, apperr.Invalid("unknown status %q", q.Status)
		}
		filter.Status = status
	}

	return filter, nil
}

// Answer retrieves the closest indexed invoices and asks the model to
// answer from them.
func (c *Chatbot) Answer(ctx context.Context, q Query) (string, error) {
	prompt, found, err := c.preparePrompt(ctx, q)
	if err != nil {
		return "", err
	}
	if !found {
		return NoDocumentsMessage, nil
	}

	response, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		return "", fmt.Errorf("failed to generate answer: %w", err)
	}
	return strings.TrimSpace(response), nil
}

// AnswerStream is Answer delivered in chunks as the model produces them.
func (c *Chatbot) AnswerStream(ctx context.Context, q Query, onChunk func(chunk string) error) error {
	prompt, found, err := c.preparePrompt(ctx, q)
	if err != nil {
		return err
	}
	if !found {
		return onChunk(NoDocumentsMessage)
	}

	if err := c.llm.Stream(ctx, prompt, onChunk); err != nil {
		return fmt.Errorf("failed to generate answer: %w", err)
	}
	return nil
}

func (c *Chatbot) preparePrompt(ctx context.Context, q Query) (string, bool, error) {
	question := strings.TrimSpace(q.Query)
	if question == "" {
		return "", false, apperr.Invalid("query is required")
	}

	filter, err := BuildFilter(q)
	if err != nil {
		return "", false, err
	}

	embedding, err := c.embedder.EmbedText(ctx, question)
	if err != nil {
		return "", false, fmt.Errorf("failed to create query embedding: %w", err)
	}

	docs, err := c.store.Search(ctx, embedding, filter, c.config.TopK)
	if err != nil {
		return "", false, fmt.Errorf("failed to search invoices: %w", err)
	}
	c.log.Debug("retrieved invoices", "count", len(docs), "filtered", !filter.Empty())
	if len(docs) == 0 {
		return "", false, nil
	}

	contents := make([]string, 0, len(docs))
	for _, doc := range docs {
		contents = append(contents, doc.Content)
	}

	prompt, err := c.prompt.Format(map[string]any{
		"context": strings.Join(contents, contextSeparator),
		"query":   question,
	})
	if err != nil {
		return "", false, fmt.Errorf("failed to render prompt: %w", err)
	}
	return prompt, true, nil
}
