package batch

import (
	"log/slog"
	"net/http"
	"strings"

	"resource-service/common/apperror"
	"resource-service/common/httputil"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	repo     Repository
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(repo Repository, logger *slog.Logger) *Handler {
	return &Handler{
		repo:     repo,
		validate: httputil.NewValidator(),
		logger:   logger,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/create-batch", h.Create)
	r.Get("/batches", h.List)
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		httputil.RespondWithError(w, apperror.Validation("title is required"))
		return
	}

	batch, err := h.repo.Create(r.Context(), &Batch{Title: title})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to create batch", "error", err)
		httputil.RespondWithError(w, err)
		return
	}

	h.logger.InfoContext(r.Context(), "batch created", "batch_id", batch.ID)
	httputil.RespondWithJSON(w, http.StatusCreated, batch)
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	batches, err := h.repo.GetAll(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to list batches", "error", err)
		httputil.RespondWithError(w, err)
		return
	}
	if batches == nil {
		batches = []Batch{}
	}
	httputil.RespondWithJSON(w, http.StatusOK, batches)
}
