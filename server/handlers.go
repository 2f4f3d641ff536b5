package server

import (
	"errors"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/pkg/ingest"
	"github.com/xhad/reimburse/pkg/rag"
)

func (s *Server) healthCheck(c *gin.Context) {
	c.String(http.StatusOK, "OK")
}

// handleUpload expects multipart fields employee_name, policy_pdf and
// invoices_zip.
func (s *Server) handleUpload(c *gin.Context) {
	limit := int64(s.config.MaxUploadMB) << 20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)

	if err := c.Request.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.fail(c, apperr.New(http.StatusRequestEntityTooLarge, "upload exceeds the size limit", err))
			return
		}
		s.fail(c, apperr.Invalid("invalid multipart upload: %v", err))
		return
	}

	policy, err := openFormFile(c, "policy_pdf")
	if err != nil {
		s.fail(c, err)
		return
	}
	defer policy.file.Close()

	invoices, err := openFormFile(c, "invoices_zip")
	if err != nil {
		s.fail(c, err)
		return
	}
	defer invoices.file.Close()

	result, err := s.analyzer.Process(c.Request.Context(), ingest.Request{
		EmployeeName: c.PostForm("employee_name"),
		Policy:       ingest.Upload{Filename: policy.name, Reader: policy.file},
		Invoices:     ingest.Upload{Filename: invoices.name, Reader: invoices.file},
	})
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

func (s *Server) handleQuery(c *gin.Context) {
	var q rag.Query
	if err := c.ShouldBindJSON(&q); err != nil {
		s.fail(c, apperr.Invalid("invalid request body: %v", err))
		return
	}

	answer, err := s.chatbot.Answer(c.Request.Context(), q)
	if err != nil {
		s.fail(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"response_markdown": answer})
}

type formFile struct {
	name string
	file multipart.File
}

func openFormFile(c *gin.Context, field string) (formFile, error) {
	header, err := c.FormFile(field)
	if err != nil {
		return formFile{}, apperr.Invalid("%s is required", field)
	}
	f, err := header.Open()
	if err != nil {
		return formFile{}, apperr.Invalid("failed to read %s: %v", field, err)
	}
	return formFile{name: header.Filename, file: f}, nil
}
