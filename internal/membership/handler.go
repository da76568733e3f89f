package membership

import (
	"log/slog"
	"net/http"

	"resource-service/common/apperror"
	"resource-service/common/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type AddStudentRequest struct {
	BatchID   int64 `json:"batchId" validate:"required,gt=0"`
	StudentID int64 `json:"studentId" validate:"required,gt=0"`
}

type AddResourceRequest struct {
	BatchID    int64 `json:"batchId" validate:"required,gt=0"`
	ResourceID int64 `json:"resourceId" validate:"required,gt=0"`
}

type AssignBatchesRequest struct {
	StudentID int64   `json:"studentId" validate:"required,gt=0"`
	BatchIDs  []int64 `json:"batchIds" validate:"required,dive,gt=0"`
}

type Handler struct {
	graph    *Graph
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(graph *Graph, logger *slog.Logger) *Handler {
	return &Handler{
		graph:    graph,
		validate: httputil.NewValidator(),
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/add-student-to-batch", h.AddStudentToBatch)
	r.Put("/assign-batches", h.AssignBatches)
	r.Post("/add-resource-to-batch", h.AddResourceToBatch)
}

func (h *Handler) AddStudentToBatch(w http.ResponseWriter, r *http.Request) {
	var req AddStudentRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.graph.AddStudentToBatch(r.Context(), req.BatchID, req.StudentID); err != nil {
		h.respondError(w, r, "add student to batch", err)
		return
	}

	h.logger.InfoContext(r.Context(), "student added to batch", "batch_id", req.BatchID, "student_id", req.StudentID)
	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Student added to batch"})
}

func (h *Handler) AssignBatches(w http.ResponseWriter, r *http.Request) {
	var req AssignBatchesRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.graph.AssignStudentToBatches(r.Context(), req.StudentID, req.BatchIDs); err != nil {
		h.respondError(w, r, "assign batches", err)
		return
	}

	h.logger.InfoContext(r.Context(), "student batches replaced", "student_id", req.StudentID, "batch_count", len(req.BatchIDs))
	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Batches assigned"})
}

func (h *Handler) AddResourceToBatch(w http.ResponseWriter, r *http.Request) {
	var req AddResourceRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.graph.AddResourceToBatch(r.Context(), req.BatchID, req.ResourceID); err != nil {
		h.respondError(w, r, "add resource to batch", err)
		return
	}

	h.logger.InfoContext(r.Context(), "resource shared with batch", "batch_id", req.BatchID, "resource_id", req.ResourceID)
	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Resource added to batch"})
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperror.KindOf(err) == apperror.KindDependency {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.RespondWithError(w, err)
}
