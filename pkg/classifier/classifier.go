package classifier

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/internal/types"
	"github.com/xhad/reimburse/pkg/logger"
	"golang.org/x/time/rate"
)

const classifyTemplate = `You are a financial reimbursement assistant. Given a company's reimbursement policy and an invoice, classify the invoice into:
- Fully Reimbursed
- Partially Reimbursed
- Declined

Provide:
1. Reimbursement Status
2. Reason for your decision

## Reimbursement Policy:
{{.policy}}

## Invoice:
{{.invoice}}

Respond in JSON format like this:
{
  "status": "Fully Reimbursed",
  "reason": "All items are food-related and within reimbursement policy"
}
`

var errMissingFields = errors.New("LLM response is missing required fields")

// invalidJSONError means the reply could not be decoded at all.
type invalidJSONError struct {
	err error
}

func (e *invalidJSONError) Error() string { return e.err.Error() }
func (e *invalidJSONError) Unwrap() error { return e.err }

type ClassifierConfig struct {
	// RateLimit caps model calls per second; zero disables the limit.
	RateLimit float64
	Log       *logger.Logger
}

// Classifier asks a language model for a reimbursement verdict.
type Classifier struct {
	llm     types.Completer
	prompt  prompts.PromptTemplate
	limiter *rate.Limiter
	log     *logger.Logger
}

func New(llm types.Completer, config ClassifierConfig) *Classifier {
	if config.Log == nil {
		config.Log = logger.Nop()
	}
	c := &Classifier{
		llm:    llm,
		prompt: prompts.NewPromptTemplate(classifyTemplate, []string{"policy", "invoice"}),
		log:    config.Log.With("component", "classifier"),
	}
	if config.RateLimit > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(config.RateLimit), 1)
	}
	return c
}

// Classify always returns a verdict. Any failure, including a malformed
// reply, yields an Error verdict whose reason explains what went wrong.
func (c *Classifier) Classify(ctx context.Context, policyText, invoiceText string) (verdict models.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Error("classification panicked", "panic", r)
			verdict = models.ErrorVerdict("Exception during analysis: %v", r)
		}
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return models.ErrorVerdict("Exception during analysis: %v", err)
		}
	}

	prompt, err := c.prompt.Format(map[string]any{
		"policy":  policyText,
		"invoice": invoiceText,
	})
	if err != nil {
		return models.ErrorVerdict("Exception during analysis: %v", err)
	}

	raw, err := c.llm.Complete(ctx, prompt)
	if err != nil {
		c.log.Warn("model call failed", "error", err)
		return models.ErrorVerdict("Exception during analysis: %v", err)
	}

	verdict, err = ParseVerdict(raw)
	if err != nil {
		var jsonErr *invalidJSONError
		if errors.As(err, &jsonErr) {
			c.log.Warn("model reply is not valid JSON", "error", err)
			return models.ErrorVerdict("Invalid JSON format in LLM response: %s", raw)
		}
		c.log.Warn("model reply rejected", "error", err)
		return models.ErrorVerdict("Exception during analysis: %v", err)
	}
	return verdict
}

// StripFences removes a surrounding markdown code fence, optionally tagged json.
func StripFences(s string) string {
	s = strings.TrimSpace(s)
	if len(s) >= 7 && strings.EqualFold(s[:7], "```json") {
		s = strings.TrimSpace(s[7:])
	} else if strings.HasPrefix(s, "```") {
		s = strings.TrimSpace(strings.TrimPrefix(s, "```"))
	}
	if strings.HasSuffix(s, "```") {
		s = strings.TrimSpace(strings.TrimSuffix(s, "```"))
	}
	return s
}

// ParseVerdict decodes a model reply into a verdict. Both fields must be
// present and the status must be one of the genuine categories.
func ParseVerdict(raw string) (models.Verdict, error) {
	var reply struct {
		Status *string `json:"status"`
		Reason *string `json:"reason"`
	}

	cleaned := StripFences(raw)
	if err := json.Unmarshal([]byte(cleaned), &reply); err != nil {
		// models sometimes wrap the object in prose
		obj, ok := outermostObject(cleaned)
		if !ok {
			return models.Verdict{}, &invalidJSONError{err: err}
		}
		if err2 := json.Unmarshal([]byte(obj), &reply); err2 != nil {
			return models.Verdict{}, &invalidJSONError{err: err}
		}
	}

	if reply.Status == nil || reply.Reason == nil {
		return models.Verdict{}, errMissingFields
	}

	status, ok := models.ParseStatus(*reply.Status, false)
	if !ok {
		return models.Verdict{}, fmt.Errorf("unknown reimbursement status %q", *reply.Status)
	}
	return models.Verdict{Status: status, Reason: *reply.Reason}, nil
}

func outermostObject(s string) (string, bool) {
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
