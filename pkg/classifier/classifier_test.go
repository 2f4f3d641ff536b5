package classifier

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xhad/reimburse/internal/models"
)

type fakeCompleter struct {
	reply   string
	err     error
	panicOn bool
	prompts []string
}

func (f *fakeCompleter) Complete(_ context.Context, prompt string) (string, error) {
	if f.panicOn {
		panic("nil response body")
	}
	f.prompts = append(f.prompts, prompt)
	return f.reply, f.err
}

func (f *fakeCompleter) Stream(ctx context.Context, prompt string, onChunk func(string) error) error {
	out, err := f.Complete(ctx, prompt)
	if err != nil {
		return err
	}
	return onChunk(out)
}

func TestStripFences(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"bare", `{"a":1}`, `{"a":1}`},
		{"json fence", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"upper tag", "```JSON\n{\"a\":1}\n```", `{"a":1}`},
		{"plain fence", "```\n{\"a\":1}\n```", `{"a":1}`},
		{"surrounding whitespace", "  \n```json\n{\"a\":1}\n```  \n", `{"a":1}`},
		{"only closing fence", "{\"a\":1}\n```", `{"a":1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StripFences(tt.in))
		})
	}
}

func TestParseVerdictFencedEqualsBare(t *testing.T) {
	bare := `{"status": "Partially Reimbursed", "reason": "Only meals are covered"}`

	v1, err := ParseVerdict(bare)
	require.NoError(t, err)
	v2, err := ParseVerdict("```json\n" + bare + "\n```")
	require.NoError(t, err)

	assert.Equal(t, v1, v2)
	assert.Equal(t, models.Verdict{Status: models.StatusPartiallyReimbursed, Reason: "Only meals are covered"}, v1)
}

func TestParseVerdict(t *testing.T) {
	tests := []struct {
		name        string
		raw         string
		want        models.Verdict
		invalidJSON bool
		errContains string
	}{
		{
			name: "canonicalizes status",
			raw:  `{"status": "fully reimbursed", "reason": "ok"}`,
			want: models.Verdict{Status: models.StatusFullyReimbursed, Reason: "ok"},
		},
		{
			name: "object inside prose",
			raw:  "Here is my answer:\n{\"status\": \"Declined\", \"reason\": \"alcohol\"}\nThanks",
			want: models.Verdict{Status: models.StatusDeclined, Reason: "alcohol"},
		},
		{
			name:        "not json",
			raw:         "I think it should be declined.",
			invalidJSON: true,
		},
		{
			name:        "missing reason",
			raw:         `{"status": "Declined"}`,
			errContains: "missing required fields",
		},
		{
			name:        "missing status",
			raw:         `{"reason": "because"}`,
			errContains: "missing required fields",
		},
		{
			name:        "unknown status",
			raw:         `{"status": "Approved", "reason": "fine"}`,
			errContains: `unknown reimbursement status "Approved"`,
		},
		{
			name:        "model may not return Error",
			raw:         `{"status": "Error", "reason": "??"}`,
			errContains: "unknown reimbursement status",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseVerdict(tt.raw)
			switch {
			case tt.invalidJSON:
				var jsonErr *invalidJSONError
				assert.ErrorAs(t, err, &jsonErr)
			case tt.errContains != "":
				assert.ErrorContains(t, err, tt.errContains)
			default:
				require.NoError(t, err)
				assert.Equal(t, tt.want, got)
			}
		})
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		name       string
		llm        *fakeCompleter
		wantStatus models.Status
		wantReason string
	}{
		{
			name:       "genuine verdict",
			llm:        &fakeCompleter{reply: "```json\n{\"status\": \"Declined\", \"reason\": \"Alcohol is excluded\"}\n```"},
			wantStatus: models.StatusDeclined,
			wantReason: "Alcohol is excluded",
		},
		{
			name:       "invalid json includes raw reply",
			llm:        &fakeCompleter{reply: "no idea"},
			wantStatus: models.StatusError,
			wantReason: "Invalid JSON format in LLM response: no idea",
		},
		{
			name:       "missing fields",
			llm:        &fakeCompleter{reply: `{"status": "Declined"}`},
			wantStatus: models.StatusError,
			wantReason: "Exception during analysis: LLM response is missing required fields",
		},
		{
			name:       "service failure",
			llm:        &fakeCompleter{err: errors.New("503 service unavailable")},
			wantStatus: models.StatusError,
			wantReason: "Exception during analysis: 503 service unavailable",
		},
		{
			name:       "panic is contained",
			llm:        &fakeCompleter{panicOn: true},
			wantStatus: models.StatusError,
			wantReason: "Exception during analysis: nil response body",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := New(tt.llm, ClassifierConfig{})
			v := c.Classify(context.Background(), "policy", "invoice")

			assert.Equal(t, tt.wantStatus, v.Status)
			assert.Equal(t, tt.wantReason, v.Reason)
			assert.True(t, v.Status.Genuine() || v.Status == models.StatusError)
		})
	}
}

func TestClassifyPromptEmbedsTextsVerbatim(t *testing.T) {
	llm := &fakeCompleter{reply: `{"status": "Fully Reimbursed", "reason": "ok"}`}
	c := New(llm, ClassifierConfig{RateLimit: 100})

	policy := "Meals up to 50 EUR <per day> & taxis"
	invoice := "Dinner {{.policy}} 42.00 EUR"
	c.Classify(context.Background(), policy, invoice)

	require.Len(t, llm.prompts, 1)
	assert.Contains(t, llm.prompts[0], "## Reimbursement Policy:\n"+policy)
	assert.Contains(t, llm.prompts[0], "## Invoice:\n"+invoice)
	assert.Contains(t, llm.prompts[0], `"status": "Fully Reimbursed"`)
}

func TestClassifyCancelledWhileRateLimited(t *testing.T) {
	llm := &fakeCompleter{reply: `{"status": "Declined", "reason": "x"}`}
	c := New(llm, ClassifierConfig{RateLimit: 0.001})

	// consume the single burst token
	c.Classify(context.Background(), "p", "i")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	v := c.Classify(ctx, "p", "i")

	assert.Equal(t, models.StatusError, v.Status)
	assert.Len(t, llm.prompts, 1)
}
