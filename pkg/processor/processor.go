package processor

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

type ProcessorConfig struct {
	// MaxEmbedChars bounds the text sent to the embedding model, in runes.
	MaxEmbedChars int
}

// Processor prepares invoice text for the vector store.
type Processor struct {
	config ProcessorConfig
}

func NewWithConfig(config ProcessorConfig) Processor {
	if config.MaxEmbedChars == 0 {
		config.MaxEmbedChars = 8000
	}

	return Processor{
		config: config,
	}
}

// Compose builds the stored record text: the invoice followed by the
// model's justification.
func (p *Processor) Compose(invoiceText, reason string) string {
	return p.Sanitize(invoiceText + "\n\nLLM Decision: " + reason)
}

// Sanitize drops bytes PostgreSQL text columns reject: NUL, other control
// characters except common whitespace, and invalid UTF-8.
func (p *Processor) Sanitize(text string) string {
	text = sanitizeUTF8(text)

	var sb strings.Builder
	sb.Grow(len(text))
	for _, r := range text {
		if r == '\n' || r == '\r' || r == '\t' {
			sb.WriteRune(r)
			continue
		}
		if unicode.IsControl(r) {
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

// EmbeddingInput truncates content to the configured rune budget.
func (p *Processor) EmbeddingInput(content string) string {
	if utf8.RuneCountInString(content) <= p.config.MaxEmbedChars {
		return content
	}
	runes := []rune(content)
	return string(runes[:p.config.MaxEmbedChars])
}

// Preview returns at most n runes of text.
func Preview(text string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n])
}

func sanitizeUTF8(s string) string {
	if !utf8.ValidString(s) {
		v := make([]rune, 0, len(s))
		for i, r := range s {
			if r == utf8.RuneError {
				_, size := utf8.DecodeRuneInString(s[i:])
				if size == 1 {
					continue
				}
			}
			v = append(v, r)
		}
		return string(v)
	}
	return s
}
