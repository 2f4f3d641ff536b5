package models

import (
	"fmt"
	"strings"
)

type Status string

const (
	StatusFullyReimbursed     Status = "Fully Reimbursed"
	StatusPartiallyReimbursed Status = "Partially Reimbursed"
	StatusDeclined            Status = "Declined"
	// StatusError is synthetic: it marks a pipeline failure, never a model judgment.
	StatusError Status = "Error"
)

var genuineStatuses = []Status{StatusFullyReimbursed, StatusPartiallyReimbursed, StatusDeclined}

// Genuine reports whether s is one of the categories a model may return.
func (s Status) Genuine() bool {
	for _, g := range genuineStatuses {
		if s == g {
			return true
		}
	}
	return false
}

// ParseStatus maps raw to its canonical category, ignoring case and
// surrounding whitespace. Error is only accepted when allowError is set.
func ParseStatus(raw string, allowError bool) (Status, bool) {
	raw = strings.Join(strings.Fields(raw), " ")
	for _, g := range genuineStatuses {
		if strings.EqualFold(raw, string(g)) {
			return g, true
		}
	}
	if allowError && strings.EqualFold(raw, string(StatusError)) {
		return StatusError, true
	}
	return "", false
}

type Verdict struct {
	Status Status `json:"status"`
	Reason string `json:"reason"`
}

func ErrorVerdict(format string, args ...interface{}) Verdict {
	return Verdict{Status: StatusError, Reason: fmt.Sprintf(format, args...)}
}

type PolicyDocument struct {
	Filename string
	Path     string
	Text     string
}

// InvoiceDocument is one member of an invoice bundle. Filename is its key
// within a session.
type InvoiceDocument struct {
	Filename string
	Path     string
	Text     string
}

type RecordMetadata struct {
	EmployeeName string `json:"employee_name"`
	InvoiceFile  string `json:"invoice_file"`
	Status       Status `json:"status"`
	Reason       string `json:"reason"`
	Date         string `json:"date"`
}

type IndexedRecord struct {
	ID       string
	Content  string
	Metadata RecordMetadata
}

// SearchFilter restricts retrieval by metadata equality. Empty fields are
// left out; set fields are combined with AND.
type SearchFilter struct {
	EmployeeName string
	Date         string
	Status       Status
}

func (f SearchFilter) Empty() bool {
	return f.EmployeeName == "" && f.Date == "" && f.Status == ""
}

// Document is a record returned by similarity search.
type Document struct {
	ID       string
	Content  string
	Metadata RecordMetadata
	Distance float64
}

type BatchResult struct {
	EmployeeName    string             `json:"employee_name"`
	PolicySummary   string             `json:"policy_summary"`
	NumInvoices     int                `json:"num_invoices"`
	AnalysisResults map[string]Verdict `json:"analysis_results"`
}
