package extractor

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/pkg/logger"
)

type ExtractorConfig struct {
	// MaxMemberBytes caps the decompressed size of a single bundle member.
	MaxMemberBytes int64
	Log            *logger.Logger
}

// Extractor pulls plain text out of PDFs and PDF members out of ZIP bundles.
// Nothing here returns an error: failures degrade to "" or an empty slice,
// which callers treat as the only signal that matters.
type Extractor struct {
	config ExtractorConfig
	log    *logger.Logger
}

func NewWithConfig(config ExtractorConfig) *Extractor {
	if config.MaxMemberBytes <= 0 {
		config.MaxMemberBytes = 64 << 20
	}
	if config.Log == nil {
		config.Log = logger.Nop()
	}
	return &Extractor{
		config: config,
		log:    config.Log.With("component", "extractor"),
	}
}

// ExtractText concatenates the text of every page in document order. Pages
// that cannot be decoded are skipped.
func (e *Extractor) ExtractText(filePath string) (text string) {
	defer func() {
		// the pdf parser panics on some malformed inputs
		if r := recover(); r != nil {
			e.log.Warn("pdf parser panicked", "file", filePath, "panic", r)
			text = ""
		}
	}()

	f, r, err := pdf.Open(filePath)
	if err != nil {
		e.log.Warn("error reading pdf file", "file", filePath, "error", err)
		return ""
	}
	defer f.Close()

	var sb strings.Builder
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= r.NumPage(); i++ {
		pageText, err := e.pageText(r, i, fonts)
		if err != nil {
			e.log.Warn("skipping unreadable page", "file", filePath, "page", i, "error", err)
			continue
		}
		sb.WriteString(pageText)
	}
	return sb.String()
}

func (e *Extractor) pageText(r *pdf.Reader, i int, fonts map[string]*pdf.Font) (text string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("decode page: %v", rec)
		}
	}()

	p := r.Page(i)
	if p.V.IsNull() {
		return "", fmt.Errorf("page has no content")
	}
	for _, name := range p.Fonts() {
		if _, ok := fonts[name]; !ok {
			f := p.Font(name)
			fonts[name] = &f
		}
	}
	return p.GetPlainText(fonts)
}

// ExtractBundle writes every .pdf member of the ZIP at archivePath into
// destDir and returns them in archive order. Members are flattened to their
// base name; on a name collision the later member wins. Text is left empty
// for the caller to fill with ExtractText.
func (e *Extractor) ExtractBundle(archivePath, destDir string) []models.InvoiceDocument {
	zr, err := zip.OpenReader(archivePath)
	if err != nil && !errors.Is(err, zip.ErrInsecurePath) {
		e.log.Warn("not a valid zip archive", "file", archivePath, "error", err)
		return nil
	}
	defer zr.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		e.log.Warn("cannot create bundle directory", "dir", destDir, "error", err)
		return nil
	}

	var docs []models.InvoiceDocument
	index := make(map[string]int)
	for _, member := range zr.File {
		if member.FileInfo().IsDir() {
			continue
		}
		name := path.Base(strings.ReplaceAll(member.Name, `\`, "/"))
		if !strings.EqualFold(filepath.Ext(name), ".pdf") || name == "." || name == "/" {
			continue
		}

		dst := filepath.Join(destDir, name)
		if err := e.writeMember(member, dst); err != nil {
			e.log.Warn("skipping bundle member", "member", member.Name, "error", err)
			continue
		}

		doc := models.InvoiceDocument{Filename: name, Path: dst}
		if i, ok := index[name]; ok {
			docs[i] = doc
			continue
		}
		index[name] = len(docs)
		docs = append(docs, doc)
	}
	return docs
}

func (e *Extractor) writeMember(member *zip.File, dst string) error {
	if int64(member.UncompressedSize64) > e.config.MaxMemberBytes {
		return fmt.Errorf("member exceeds %d bytes", e.config.MaxMemberBytes)
	}

	src, err := member.Open()
	if err != nil {
		return fmt.Errorf("open member: %w", err)
	}
	defer src.Close()

	tmp := dst + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("create %s: %w", tmp, err)
	}

	n, err := io.Copy(out, io.LimitReader(src, e.config.MaxMemberBytes+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err == nil && n > e.config.MaxMemberBytes {
		err = fmt.Errorf("member exceeds %d bytes", e.config.MaxMemberBytes)
	}
	if err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("write %s: %w", dst, err)
	}
	return os.Rename(tmp, dst)
}
