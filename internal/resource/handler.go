package resource

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"resource-service/common/apperror"
	"resource-service/common/httputil"
	"resource-service/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

// multipartMemory is how much of a multipart body is held in memory before
// spilling to temporary files.
const multipartMemory = 8 << 20

type Handler struct {
	service        Service
	validate       *validator.Validate
	maxUploadBytes int64
	logger         *slog.Logger
}

func NewHandler(service Service, maxUploadBytes int64, logger *slog.Logger) *Handler {
	return &Handler{
		service:        service,
		validate:       httputil.NewValidator(),
		maxUploadBytes: maxUploadBytes,
		logger:         logger,
	}
}

func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/upload", h.Upload)
	r.Get("/resources", h.ListForBatch)
	r.Delete("/delete-batch", h.DeleteBatch)
	r.Delete("/delete-resource", h.DeleteResource)
}

func (h *Handler) RegisterStudentRoutes(r chi.Router) {
	r.Get("/resources", h.ListForStudent)
	r.Get("/resource-encrypted/{resourceId}", h.SignedURL)
	r.Get("/resource/{id}/file", h.Preview)
}

func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.RespondWithError(w, apperror.Validation("file too large"))
			return
		}
		httputil.RespondWithError(w, apperror.Validation("invalid multipart form"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	batchID, err := strconv.ParseInt(r.FormValue("batchId"), 10, 64)
	if err != nil || batchID <= 0 {
		httputil.RespondWithError(w, apperror.Validation("batchId is required"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.RespondWithError(w, apperror.Validation("file is required"))
		return
	}
	defer file.Close()

	res, err := h.service.Upload(r.Context(), UploadInput{
		BatchID:  batchID,
		Title:    r.FormValue("title"),
		Filename: header.Filename,
		Size:     header.Size,
		Body:     file,
	})
	if err != nil {
		h.handleServiceError(w, r, "upload resource", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, UploadResponse{ResourceID: res.ID, Title: res.Title})
}

func (h *Handler) ListForBatch(w http.ResponseWriter, r *http.Request) {
	batchID, err := strconv.ParseInt(r.URL.Query().Get("batch_id"), 10, 64)
	if err != nil || batchID <= 0 {
		httputil.RespondWithError(w, apperror.Validation("batch_id is required"))
		return
	}

	listings, err := h.service.ListForBatch(r.Context(), batchID)
	if err != nil {
		h.handleServiceError(w, r, "list batch resources", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, listings)
}

func (h *Handler) DeleteBatch(w http.ResponseWriter, r *http.Request) {
	var req DeleteBatchRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	deleted, err := h.service.DeleteBatch(r.Context(), req.BatchID)
	if err != nil {
		h.handleServiceError(w, r, "delete batch", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, DeleteBatchResponse{
		Message:          "Batch deleted successfully",
		DeletedResources: deleted,
	})
}

func (h *Handler) DeleteResource(w http.ResponseWriter, r *http.Request) {
	var req DeleteResourceRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.service.Delete(r.Context(), req.ResourceID); err != nil {
		h.handleServiceError(w, r, "delete resource", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Resource deleted successfully"})
}

func (h *Handler) ListForStudent(w http.ResponseWriter, r *http.Request) {
	studentID, ok := token.SubjectFromContext(r.Context())
	if !ok {
		httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	listings, err := h.service.ListForStudent(r.Context(), studentID)
	if err != nil {
		h.handleServiceError(w, r, "list student resources", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, listings)
}

func (h *Handler) SignedURL(w http.ResponseWriter, r *http.Request) {
	studentID, ok := token.SubjectFromContext(r.Context())
	if !ok {
		httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	resourceID, err := pathID(r, "resourceId")
	if err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	signed, err := h.service.SignedURL(r.Context(), studentID, resourceID)
	if err != nil {
		h.handleServiceError(w, r, "sign resource url", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, signed)
}

func (h *Handler) Preview(w http.ResponseWriter, r *http.Request) {
	studentID, ok := token.SubjectFromContext(r.Context())
	if !ok {
		httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	resourceID, err := pathID(r, "id")
	if err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	preview, err := h.service.OpenPreview(r.Context(), studentID, resourceID)
	if err != nil {
		h.handleServiceError(w, r, "open preview", err)
		return
	}
	defer preview.Body.Close()

	w.Header().Set("Content-Type", preview.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Content-Disposition", "inline")
	if preview.ContentLength > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(preview.ContentLength, 10))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, preview.Body); err != nil {
		h.logger.ErrorContext(r.Context(), "preview stream interrupted", "resource_id", resourceID, "error", err)
	}
}

func pathID(r *http.Request, param string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, param), 10, 64)
	if err != nil || id <= 0 {
		return 0, apperror.Validation("invalid resource id")
	}
	return id, nil
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperror.KindOf(err) == apperror.KindDependency {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.RespondWithError(w, err)
}
