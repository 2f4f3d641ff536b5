package rag

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/internal/models"
)

type fakeLLM struct {
	reply   string
	chunks  []string
	err     error
	prompts []string
}

func (f *fakeLLM) Complete(_ context.Context, prompt string) (string, error) {
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeLLM) Stream(_ context.Context, prompt string, onChunk func(string) error) error {
	f.prompts = append(f.prompts, prompt)
	if f.err != nil {
		return f.err
	}
	for _, c := range f.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
	}
	return nil
}

type fakeEmbedder struct {
	err error
}

func (f *fakeEmbedder) EmbedText(context.Context, string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	return []float32{1, 0}, nil
}

type fakeStore struct {
	docs    []models.Document
	err     error
	filters []models.SearchFilter
	limits  []int
}

func (f *fakeStore) Insert(context.Context, models.IndexedRecord, []float32) error { return nil }

func (f *fakeStore) Search(_ context.Context, _ []float32, filter models.SearchFilter, limit int) ([]models.Document, error) {
	f.filters = append(f.filters, filter)
	f.limits = append(f.limits, limit)
	return f.docs, f.err
}

func (f *fakeStore) Close() {}

func TestBuildFilter(t *testing.T) {
	tests := []struct {
		name    string
		query   Query
		want    models.SearchFilter
		wantErr bool
	}{
		{
			name:  "no filters",
			query: Query{Query: "q"},
			want:  models.SearchFilter{},
		},
		{
			name:  "whitespace filters are omitted",
			query: Query{Query: "q", EmployeeName: "  ", Date: "\t", Status: " "},
			want:  models.SearchFilter{},
		},
		{
			name:  "all filters",
			query: Query{Query: "q", EmployeeName: " Jane ", Date: "2024-05-12", Status: "declined"},
			want:  models.SearchFilter{EmployeeName: "Jane", Date: "2024-05-12", Status: models.StatusDeclined},
		},
		{
			name:  "error status is searchable",
			query: Query{Query: "q", Status: "ERROR"},
			want:  models.SearchFilter{Status: models.StatusError},
		},
		{
			name:    "unknown status",
			query:   Query{Query: "q", Status: "Approved"},
			wantErr: true,
		},
		{
			name:    "non iso date",
			query:   Query{Query: "q", Date: "12/05/2024"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := BuildFilter(tt.query)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestAnswer(t *testing.T) {
	llm := &fakeLLM{reply: "  **Declined**: alcohol is excluded.\n"}
	st := &fakeStore{docs: []models.Document{
		{Content: "Bar tab\n\nLLM Decision: alcohol"},
		{Content: "Taxi\n\nLLM Decision: travel"},
	}}
	bot := NewWithConfig(ChatbotConfig{}, llm, &fakeEmbedder{}, st)

	answer, err := bot.Answer(context.Background(), Query{Query: "Why was the bar tab declined?", EmployeeName: "Jane"})
	require.NoError(t, err)

	assert.Equal(t, "**Declined**: alcohol is excluded.", answer)
	assert.Equal(t, []int{5}, st.limits)
	assert.Equal(t, []models.SearchFilter{{EmployeeName: "Jane"}}, st.filters)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "Bar tab\n\nLLM Decision: alcohol\n\n---\n\nTaxi\n\nLLM Decision: travel")
	assert.Contains(t, llm.prompts[0], "## User Query:\nWhy was the bar tab declined?")
}

func TestAnswerNoDocuments(t *testing.T) {
	llm := &fakeLLM{reply: "should not be called"}
	bot := NewWithConfig(ChatbotConfig{TopK: 3}, llm, &fakeEmbedder{}, &fakeStore{})

	answer, err := bot.Answer(context.Background(), Query{Query: "anything", Status: "Declined"})
	require.NoError(t, err)
	assert.Equal(t, NoDocumentsMessage, answer)
	assert.Empty(t, llm.prompts)
}

func TestAnswerErrors(t *testing.T) {
	docs := []models.Document{{Content: "x"}}
	tests := []struct {
		name       string
		bot        *Chatbot
		query      Query
		wantStatus int
	}{
		{
			name:       "blank query",
			bot:        NewWithConfig(ChatbotConfig{}, &fakeLLM{}, &fakeEmbedder{}, &fakeStore{docs: docs}),
			query:      Query{Query: "   "},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "bad filter",
			bot:        NewWithConfig(ChatbotConfig{}, &fakeLLM{}, &fakeEmbedder{}, &fakeStore{docs: docs}),
			query:      Query{Query: "q", Date: "yesterday"},
			wantStatus: http.StatusBadRequest,
		},
		{
			name:       "embedding failure",
			bot:        NewWithConfig(ChatbotConfig{}, &fakeLLM{}, &fakeEmbedder{err: errors.New("model not found")}, &fakeStore{docs: docs}),
			query:      Query{Query: "q"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "search failure",
			bot:        NewWithConfig(ChatbotConfig{}, &fakeLLM{}, &fakeEmbedder{}, &fakeStore{err: errors.New("relation does not exist")}),
			query:      Query{Query: "q"},
			wantStatus: http.StatusInternalServerError,
		},
		{
			name:       "model failure",
			bot:        NewWithConfig(ChatbotConfig{}, &fakeLLM{err: errors.New("timeout")}, &fakeEmbedder{}, &fakeStore{docs: docs}),
			query:      Query{Query: "q"},
			wantStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.bot.Answer(context.Background(), tt.query)
			require.Error(t, err)
			assert.Equal(t, tt.wantStatus, apperr.MapError(err).Status)
		})
	}
}

func TestAnswerStream(t *testing.T) {
	llm := &fakeLLM{chunks: []string{"All ", "good."}}
	bot := NewWithConfig(ChatbotConfig{}, llm, &fakeEmbedder{}, &fakeStore{docs: []models.Document{{Content: "x"}}})

	var sb strings.Builder
	err := bot.AnswerStream(context.Background(), Query{Query: "q"}, func(c string) error {
		sb.WriteString(c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "All good.", sb.String())
}

func TestAnswerStreamNoDocuments(t *testing.T) {
	bot := NewWithConfig(ChatbotConfig{}, &fakeLLM{}, &fakeEmbedder{}, &fakeStore{})

	var chunks []string
	err := bot.AnswerStream(context.Background(), Query{Query: "q"}, func(c string) error {
		chunks = append(chunks, c)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{NoDocumentsMessage}, chunks)
}
