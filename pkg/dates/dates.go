// Package dates recovers a calendar date from free invoice text.
package dates

import (
	"regexp"
	"time"
)

// ISOLayout is the layout every extracted date is normalized to.
const ISOLayout = "2006-01-02"

// Tried in priority order; only the first match of each pattern is considered.
var patterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{2}/\d{2}/\d{4}`), // 12/05/2024
	regexp.MustCompile(`\d{2}-\d{2}-\d{4}`), // 12-05-2024
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`), // 2024-05-12
	regexp.MustCompile(`\d{4}/\d{2}/\d{2}`), // 2024/05/12
}

var layouts = []string{
	"02/01/2006",
	"02-01-2006",
	"2006-01-02",
	"2006/01/02",
}

// Extract returns the first date found in text as YYYY-MM-DD. The result is
// purely syntactic: far-future or far-past dates are returned as found.
func Extract(text string) (string, bool) {
	for _, p := range patterns {
		raw := p.FindString(text)
		if raw == "" {
			continue
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, raw); err == nil {
				return t.Format(ISOLayout), true
			}
		}
	}
	return "", false
}

// Valid reports whether s is a YYYY-MM-DD calendar date.
func Valid(s string) bool {
	_, err := time.Parse(ISOLayout, s)
	return err == nil
}
