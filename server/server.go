package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/xhad/reimburse/internal/apperr"
	"github.com/xhad/reimburse/internal/models"
	"github.com/xhad/reimburse/pkg/ingest"
	"github.com/xhad/reimburse/pkg/logger"
	"github.com/xhad/reimburse/pkg/rag"
)

// Analyzer processes one reimbursement upload.
type Analyzer interface {
	Process(ctx context.Context, req ingest.Request) (*models.BatchResult, error)
}

// Answerer answers questions over indexed invoices.
type Answerer interface {
	Answer(ctx context.Context, q rag.Query) (string, error)
	AnswerStream(ctx context.Context, q rag.Query, onChunk func(chunk string) error) error
}

type Config struct {
	Addr        string
	MaxUploadMB int
	// AllowOrigins restricts CORS and websocket origins; empty allows any.
	AllowOrigins []string
}

type Server struct {
	config   Config
	analyzer Analyzer
	chatbot  Answerer
	log      *logger.Logger
	router   *gin.Engine
}

func New(config Config, analyzer Analyzer, chatbot Answerer, log *logger.Logger) *Server {
	if config.Addr == "" {
		config.Addr = ":8080"
	}
	if config.MaxUploadMB <= 0 {
		config.MaxUploadMB = 128
	}
	if log == nil {
		log = logger.Nop()
	}

	r := gin.New()
	r.Use(gin.Recovery(), RequestLogger(log), CORS(config.AllowOrigins))

	s := &Server{
		config:   config,
		analyzer: analyzer,
		chatbot:  chatbot,
		log:      log.With("component", "server"),
		router:   r,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	s.router.POST("/analyze/upload", s.handleUpload)
	s.router.POST("/chatbot/query", s.handleQuery)
	s.router.GET("/chatbot/ws", s.handleWebSocket)
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.config.Addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("starting HTTP server", "addr", s.config.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		s.log.Info("shutting down HTTP server")
		return srv.Shutdown(shutdownCtx)
	}
}

// fail writes err as {"error": msg}. Internal details are logged, not sent.
func (s *Server) fail(c *gin.Context, err error) {
	appErr := apperr.MapError(err)
	if appErr.Status >= http.StatusInternalServerError {
		s.log.Error("request failed", "path", c.FullPath(), "error", err)
	}
	c.AbortWithStatusJSON(appErr.Status, gin.H{"error": appErr.Message})
}
