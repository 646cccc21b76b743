package handler

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/render"
	"go.uber.org/zap"

	syncapp "github.com/qbsync/backend/internal/application/sync"
	"github.com/qbsync/backend/internal/domain/bulk"
	csvimport "github.com/qbsync/backend/internal/infrastructure/import"
	"github.com/qbsync/backend/internal/infrastructure/logger"
	"github.com/qbsync/backend/internal/interfaces/http/dto"
	"github.com/qbsync/backend/internal/interfaces/http/middleware"
)

// DefaultMaxUploadSize is the largest file POST /upload accepts
const DefaultMaxUploadSize int64 = 10 << 20

// UploadsDirName is the staging subdirectory of the input directory. The
// watcher only lists regular files, so staged uploads are never picked up
// twice.
const UploadsDirName = ".uploads"

//go:embed templates/index.html
var templateFS embed.FS

var indexTemplate = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// FileProcessor runs one file through the sync pipeline
type FileProcessor interface {
	ProcessFile(ctx context.Context, path string, source bulk.ImportSource) (*syncapp.Result, error)
}

// UploadHandler serves the upload form and accepts billing exports
type UploadHandler struct {
	BaseHandler
	processor FileProcessor
	stageDir  string
	maxSize   int64
	logger    *zap.Logger
}

// NewUploadHandler creates an UploadHandler staging files under
// inputDir/.uploads. A non-positive maxSize selects DefaultMaxUploadSize.
// A nil processor answers uploads with 503.
func NewUploadHandler(processor FileProcessor, inputDir string, maxSize int64, logger *zap.Logger) *UploadHandler {
	if maxSize <= 0 {
		maxSize = DefaultMaxUploadSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UploadHandler{
		processor: processor,
		stageDir:  filepath.Join(inputDir, UploadsDirName),
		maxSize:   maxSize,
		logger:    logger,
	}
}

// MaxSize returns the upload limit in bytes
func (h *UploadHandler) MaxSize() int64 {
	return h.maxSize
}

type indexPage struct {
	UploadPath  string
	LoginPath   string
	HistoryPath string
	Extensions  string
	Accept      string
	MaxSizeMB   int64
}

// Index renders the upload form
func (h *UploadHandler) Index(c *gin.Context) {
	c.Render(http.StatusOK, render.HTML{
		Template: indexTemplate,
		Name:     "index.html",
		Data: indexPage{
			UploadPath:  "/upload",
			LoginPath:   "/login",
			HistoryPath: "/history",
			Extensions:  strings.Join(csvimport.SupportedExtensions, ", "),
			Accept:      strings.Join(csvimport.SupportedExtensions, ","),
			MaxSizeMB:   h.maxSize >> 20,
		},
	})
}

// Upload stages the posted file and runs it through the pipeline. A file
// that the pipeline rejects still answers 200 with success=false; only bad
// requests and infrastructure failures use error statuses.
func (h *UploadHandler) Upload(c *gin.Context) {
	ctx := c.Request.Context()
	log := logger.FromContext(ctx, h.logger)

	header, err := c.FormFile("file")
	if err != nil {
		switch {
		case isBodyTooLarge(err):
			h.uploadError(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge,
				fmt.Sprintf("File exceeds maximum allowed size of %d bytes", h.maxSize))
		case errors.Is(err, http.ErrMissingFile), errors.Is(err, http.ErrNotMultipart):
			h.uploadError(c, http.StatusBadRequest, dto.ErrCodeFileRequired, "No file uploaded")
		default:
			h.uploadError(c, http.StatusBadRequest, dto.ErrCodeBadRequest, "Invalid multipart form")
		}
		return
	}

	name := filepath.Base(header.Filename)
	if name == "." || name == string(filepath.Separator) || name == "" {
		h.uploadError(c, http.StatusBadRequest, dto.ErrCodeFileRequired, "No file uploaded")
		return
	}
	if header.Size > h.maxSize {
		h.uploadError(c, http.StatusRequestEntityTooLarge, dto.ErrCodeRequestTooLarge,
			fmt.Sprintf("File exceeds maximum allowed size of %d bytes", h.maxSize))
		return
	}
	if !csvimport.IsSupported(name) {
		h.uploadError(c, http.StatusBadRequest, dto.ErrCodeUnsupportedFile,
			fmt.Sprintf("Unsupported file type %q; expected one of %s", filepath.Ext(name),
				strings.Join(csvimport.SupportedExtensions, ", ")))
		return
	}

	if err := os.MkdirAll(h.stageDir, 0o755); err != nil {
		log.Error("Failed to create upload directory", zap.String("dir", h.stageDir), zap.Error(err))
		h.uploadError(c, http.StatusInternalServerError, dto.ErrCodeInternal, "Failed to store upload")
		return
	}
	dir, err := os.MkdirTemp(h.stageDir, "upload-")
	if err != nil {
		log.Error("Failed to create staging directory", zap.Error(err))
		h.uploadError(c, http.StatusInternalServerError, dto.ErrCodeInternal, "Failed to store upload")
		return
	}
	defer func() {
		if err := os.RemoveAll(dir); err != nil {
			log.Warn("Failed to remove staging directory", zap.String("dir", dir), zap.Error(err))
		}
	}()

	path := filepath.Join(dir, name)
	if err := c.SaveUploadedFile(header, path); err != nil {
		log.Error("Failed to save upload", zap.String("file", name), zap.Error(err))
		h.uploadError(c, http.StatusInternalServerError, dto.ErrCodeInternal, "Failed to store upload")
		return
	}
	log.Info("Received upload", zap.String("file", name), zap.Int64("size", header.Size))

	if h.processor == nil {
		h.uploadError(c, http.StatusServiceUnavailable, dto.ErrCodeNotConfigured,
			"QuickBooks is not configured")
		return
	}
	res, err := h.processor.ProcessFile(ctx, path, bulk.ImportSourceUpload)
	if res == nil {
		log.Error("Pipeline returned no result", zap.String("file", name), zap.Error(err))
		h.uploadError(c, http.StatusInternalServerError, dto.ErrCodeInternal, "Failed to process file")
		return
	}

	resp := newUploadResponse(res)
	if err != nil {
		resp.Error = &dto.ErrorInfo{
			Code:      dto.ErrCodeInternal,
			Message:   "Failed to move processed file",
			RequestID: middleware.GetRequestID(c),
		}
		c.JSON(http.StatusInternalServerError, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *UploadHandler) uploadError(c *gin.Context, status int, code, message string) {
	c.JSON(status, dto.NewUploadError(code, message, middleware.GetRequestID(c)))
}

// isBodyTooLarge reports whether err comes from an http.MaxBytesReader.
// Multipart parsing does not always wrap the reader error, hence the
// message check.
func isBodyTooLarge(err error) bool {
	var maxErr *http.MaxBytesError
	if errors.As(err, &maxErr) {
		return true
	}
	return strings.Contains(err.Error(), "request body too large")
}

func newUploadResponse(res *syncapp.Result) dto.UploadResponse {
	logs := res.Logs
	if logs == nil {
		logs = []string{}
	}
	txs := make([]dto.TransactionResult, 0, len(res.Transactions))
	for _, t := range res.Transactions {
		txs = append(txs, dto.TransactionResult{
			InvoiceNo:  t.InvoiceNo,
			Kind:       t.Kind,
			Customer:   t.Customer,
			Lines:      t.Lines,
			Total:      t.Total,
			Outcome:    string(t.Outcome),
			DocumentID: t.DocumentID,
			Error:      t.Error,
		})
	}
	return dto.UploadResponse{
		Success:      res.Success,
		Logs:         logs,
		FileName:     res.FileName,
		Destination:  destinationFolder(res.Destination),
		HistoryID:    res.HistoryID,
		Posted:       res.Posted,
		Skipped:      res.Skipped,
		Failed:       res.Failed,
		Transactions: txs,
	}
}

// destinationFolder reports the routing folder without exposing server paths
func destinationFolder(dest string) string {
	if dest == "" {
		return ""
	}
	return filepath.Base(filepath.Dir(dest))
}
