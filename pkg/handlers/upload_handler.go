package handlers

import (
	"errors"
	"io"
	"net/http"
	"sort"

	"go.uber.org/zap"

	"github.com/ekaya-inc/substation-labeler/pkg/auth"
	"github.com/ekaya-inc/substation-labeler/pkg/services"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 32 << 20

// UploadLogResponse for GET /api/uploads/{uploadId}/log
type UploadLogResponse struct {
	UploadID string   `json:"upload_id"`
	Lines    []string `json:"lines"`
}

// UploadHandler accepts a raster plus shapefile archives.
type UploadHandler struct {
	uploadService services.UploadService
	maxBytes      int64
	logger        *zap.Logger
}

// NewUploadHandler creates a new upload handler. maxUploadMB caps the request body.
func NewUploadHandler(uploadService services.UploadService, maxUploadMB int64, logger *zap.Logger) *UploadHandler {
	return &UploadHandler{
		uploadService: uploadService,
		maxBytes:      maxUploadMB << 20,
		logger:        logger,
	}
}

// RegisterRoutes registers the upload handler's routes on the given mux.
func (h *UploadHandler) RegisterRoutes(mux *http.ServeMux, authMiddleware *auth.Middleware, scope ScopeMiddleware) {
	mux.HandleFunc("POST /api/uploads", authMiddleware.RequireAuth(scope(h.Upload)))
	mux.HandleFunc("GET /api/uploads/{uploadId}/log", authMiddleware.RequireAuth(h.Log))
}

// Upload handles POST /api/uploads
// The body is multipart/form-data. Every file part is considered regardless of
// field name: exactly one .tif/.tiff raster plus any number of .zip archives.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	who, ok := requireIdentity(w, r, h.logger)
	if !ok {
		return
	}

	if h.maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			if err := ErrorResponse(w, http.StatusRequestEntityTooLarge, "upload_too_large", "Upload exceeds the size limit"); err != nil {
				h.logger.Error("Failed to write error response", zap.Error(err))
			}
			return
		}
		h.logger.Debug("Invalid multipart body", zap.Error(err))
		if err := ErrorResponse(w, http.StatusBadRequest, "invalid_request", "Expected multipart/form-data"); err != nil {
			h.logger.Error("Failed to write error response", zap.Error(err))
		}
		return
	}
	defer func() {
		if err := r.MultipartForm.RemoveAll(); err != nil {
			h.logger.Warn("Failed to remove multipart temp files", zap.Error(err))
		}
	}()

	selection, err := services.ValidateSelection(filesFromForm(r))
	if err != nil {
		writeServiceError(w, h.logger, "upload", err)
		return
	}

	result, err := h.uploadService.Ingest(r.Context(), who, selection)
	if err != nil {
		writeServiceError(w, h.logger, "upload", err)
		return
	}

	writeSuccess(w, http.StatusCreated, result, h.logger)
}

// filesFromForm lists every uploaded file, ordered by field name and then by
// position within the field.
func filesFromForm(r *http.Request) []services.UploadFile {
	if r.MultipartForm == nil {
		return nil
	}
	fields := make([]string, 0, len(r.MultipartForm.File))
	for field := range r.MultipartForm.File {
		fields = append(fields, field)
	}
	sort.Strings(fields)

	var files []services.UploadFile
	for _, field := range fields {
		for _, fh := range r.MultipartForm.File[field] {
			files = append(files, services.UploadFile{
				Name: fh.Filename,
				Size: fh.Size,
				Open: func() (io.ReadCloser, error) { return fh.Open() },
			})
		}
	}
	return files
}

// Log handles GET /api/uploads/{uploadId}/log
func (h *UploadHandler) Log(w http.ResponseWriter, r *http.Request) {
	uploadID, ok := ParseUploadID(w, r, h.logger)
	if !ok {
		return
	}

	lines, err := h.uploadService.Log(r.Context(), uploadID)
	if err != nil {
		writeServiceError(w, h.logger, "upload log", err)
		return
	}

	writeSuccess(w, http.StatusOK, UploadLogResponse{UploadID: uploadID.String(), Lines: lines}, h.logger)
}
