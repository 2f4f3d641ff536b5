package ingest

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/internal/types"
	"github.com/xhad/reimburse/pkg/dates"
	"github.com/xhad/reimburse/pkg/logger"
	"github.com/xhad/reimburse/pkg/processor"
)

const policySummaryLen = 300

// Upload is one file received from a client.
type Upload struct {
	Filename string
	Reader   io.Reader
}

type Request struct {
	EmployeeName string
	Policy       Upload
	Invoices     Upload
	// OnProgress, if set, is called after each invoice is settled.
	OnProgress func(filename string, verdict models.Verdict)
}

type OrchestratorConfig struct {
	UploadDir string
	Log       *logger.Logger
	// Now supplies the processing date used when an invoice carries none.
	Now func() time.Time
}

// Orchestrator runs one upload through extraction, classification and
// indexing.
type Orchestrator struct {
	config     OrchestratorConfig
	extractor  types.Extractor
	classifier types.Classifier
	indexer    types.Indexer
	processor  processor.Processor
	log        *logger.Logger
	newID      func() string
}

func NewWithConfig(config OrchestratorConfig, extractor types.Extractor, classifier types.Classifier, indexer types.Indexer, proc processor.Processor) *Orchestrator {
	if config.UploadDir == "" {
		config.UploadDir = "tmp_uploads"
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Log == nil {
		config.Log = logger.Nop()
	}

	return &Orchestrator{
		config:     config,
		extractor:  extractor,
		classifier: classifier,
		indexer:    indexer,
		processor:  proc,
		log:        config.Log.With("component", "ingest"),
		newID:      uuid.NewString,
	}
}

// Process analyzes every invoice in the bundle against the policy. Client
// mistakes come back as *apperr.Error with a 400 status; a failure on a
// single invoice is recorded in its verdict and never aborts the batch.
// Session files are left on disk.
func (o *Orchestrator) Process(ctx context.Context, req Request) (*models.BatchResult, error) {
	employee := strings.TrimSpace(req.EmployeeName)
	if employee == "" {
		return nil, apperr.Invalid("employee_name is required")
	}
	if req.Policy.Reader == nil {
		return nil, apperr.Invalid("policy_pdf is required")
	}
	if req.Invoices.Reader == nil {
		return nil, apperr.Invalid("invoices_zip is required")
	}

	sessionDir := filepath.Join(o.config.UploadDir, o.newID())
	log := o.log.With("session", filepath.Base(sessionDir), "employee_name", employee)

	policyPath, err := saveUpload(sessionDir, req.Policy, "policy.pdf")
	if err != nil {
		return nil, apperr.Invalid("Failed to save policy PDF: %v", err)
	}
	bundle := req.Invoices
	if filepath.Base(bundle.Filename) == filepath.Base(policyPath) {
		// keep the policy from being overwritten
		bundle.Filename = ""
	}
	bundlePath, err := saveUpload(sessionDir, bundle, "invoices.zip")
	if err != nil {
		return nil, apperr.Invalid("Failed to save invoice ZIP file: %v", err)
	}

	policyText := o.extractor.ExtractText(policyPath)
	if strings.TrimSpace(policyText) == "" {
		return nil, apperr.Invalid("The policy PDF appears to be empty or unreadable.")
	}

	invoices := o.extractor.ExtractBundle(bundlePath, filepath.Join(sessionDir, "invoices"))
	if len(invoices) == 0 {
		return nil, apperr.Invalid("No valid PDF invoices found in the ZIP file.")
	}
	log.Info("processing upload", "invoices", len(invoices))

	result := &models.BatchResult{
		EmployeeName:    employee,
		PolicySummary:   processor.Preview(policyText, policySummaryLen),
		AnalysisResults: make(map[string]models.Verdict, len(invoices)),
	}

	for _, inv := range invoices {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("upload processing interrupted: %w", err)
		}
		inv.Text = o.extractor.ExtractText(inv.Path)
		if strings.TrimSpace(inv.Text) == "" {
			log.Debug("skipping invoice without text", "invoice_file", inv.Filename)
			continue
		}

		verdict := o.analyze(ctx, log, employee, policyText, inv)
		result.AnalysisResults[inv.Filename] = verdict
		if req.OnProgress != nil {
			req.OnProgress(inv.Filename, verdict)
		}
	}
	result.NumInvoices = len(result.AnalysisResults)

	log.Info("upload processed", "analyzed", result.NumInvoices)
	return result, nil
}

func (o *Orchestrator) analyze(ctx context.Context, log *logger.Logger, employee, policyText string, inv models.InvoiceDocument) models.Verdict {
	verdict := o.classify(ctx, policyText, inv.Text)
	if !verdict.Status.Genuine() {
		log.Warn("invoice not classified", "invoice_file", inv.Filename, "reason", verdict.Reason)
		return verdict
	}

	date, ok := dates.Extract(inv.Text)
	if !ok {
		date = o.config.Now().Format(dates.ISOLayout)
	}

	md := models.RecordMetadata{
		EmployeeName: employee,
		InvoiceFile:  inv.Filename,
		Status:       verdict.Status,
		Reason:       verdict.Reason,
		Date:         date,
	}
	if err := o.indexer.Index(ctx, o.processor.Compose(inv.Text, verdict.Reason), md); err != nil {
		log.Error("failed to index invoice", "invoice_file", inv.Filename, "error", err)
		return models.ErrorVerdict("Failed to analyze invoice: %v", err)
	}
	return verdict
}

func (o *Orchestrator) classify(ctx context.Context, policyText, invoiceText string) (verdict models.Verdict) {
	defer func() {
		if r := recover(); r != nil {
			verdict = models.ErrorVerdict("Failed to analyze invoice: %v", r)
		}
	}()
	return o.classifier.Classify(ctx, policyText, invoiceText)
}

// saveUpload copies an upload into dir under its base name, or fallback
// when the client sent none.
func saveUpload(dir string, up Upload, fallback string) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	name := filepath.Base(strings.ReplaceAll(up.Filename, "\\", "/"))
	if name == "." || name == "/" || name == "" {
		name = fallback
	}
	dst := filepath.Join(dir, name)

	f, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, up.Reader); err != nil {
		f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return dst, nil
}
