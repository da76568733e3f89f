package student

import (
	"log/slog"
	"net/http"
	"strconv"

	"resource-service/common/apperror"
	"resource-service/common/httputil"
	"resource-service/internal/export"
	"resource-service/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
)

type Handler struct {
	service  Service
	validate *validator.Validate
	logger   *slog.Logger
}

func NewHandler(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service:  service,
		validate: httputil.NewValidator(),
		logger:   logger,
	}
}

func (h *Handler) RegisterAdminRoutes(r chi.Router) {
	r.Post("/enroll-student", h.Enroll)
	r.Put("/set-student-password", h.SetPassword)
	r.Put("/set-student-device-limit", h.SetDeviceLimit)
	r.Get("/students", h.List)
	r.Get("/students-by-batch", h.ListByBatch)
	r.Put("/reset-password", h.AdminResetPassword)
}

func (h *Handler) RegisterStudentRoutes(r chi.Router) {
	r.Put("/change-password", h.ChangePassword)
	r.Put("/reset-password", h.SelfResetPassword)
}

func (h *Handler) Enroll(w http.ResponseWriter, r *http.Request) {
	var req EnrollRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	resp, err := h.service.Enroll(r.Context(), req)
	if err != nil {
		h.handleServiceError(w, r, "enroll student", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusCreated, resp)
}

func (h *Handler) SetPassword(w http.ResponseWriter, r *http.Request) {
	var req SetPasswordRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.service.SetPassword(r.Context(), req.StudentID, req.NewPassword); err != nil {
		h.handleServiceError(w, r, "set student password", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Password updated successfully"})
}

func (h *Handler) SetDeviceLimit(w http.ResponseWriter, r *http.Request) {
	var req SetDeviceLimitRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.service.SetDeviceLimit(r.Context(), req.StudentID, req.DeviceLimit); err != nil {
		h.handleServiceError(w, r, "set device limit", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, map[string]interface{}{
		"message":     "Device limit updated successfully",
		"deviceLimit": req.DeviceLimit,
	})
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	students, err := h.service.List(r.Context())
	if err != nil {
		h.handleServiceError(w, r, "list students", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, students)
}

// ListByBatch lists members of batch_id, or every student when it is omitted.
func (h *Handler) ListByBatch(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("batch_id")
	if raw == "" {
		h.List(w, r)
		return
	}

	batchID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || batchID <= 0 {
		httputil.RespondWithError(w, apperror.Validation("invalid batch_id"))
		return
	}

	students, err := h.service.ListByBatch(r.Context(), batchID)
	if err != nil {
		h.handleServiceError(w, r, "list students by batch", err)
		return
	}
	httputil.RespondWithJSON(w, http.StatusOK, students)
}

func (h *Handler) AdminResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}
	h.resetPassword(w, r, req.StudentID)
}

func (h *Handler) SelfResetPassword(w http.ResponseWriter, r *http.Request) {
	studentID, ok := token.SubjectFromContext(r.Context())
	if !ok {
		httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	h.resetPassword(w, r, studentID)
}

func (h *Handler) resetPassword(w http.ResponseWriter, r *http.Request, studentID int64) {
	creds, err := h.service.ResetPassword(r.Context(), studentID)
	if err != nil {
		h.handleServiceError(w, r, "reset password", err)
		return
	}

	rows := []export.PasswordRow{{Name: creds.Name, Email: creds.Email, Password: creds.Password}}
	if err := export.WriteAttachment(w, export.ResetFilename(creds.Email), rows); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to write password sheet", "student_id", studentID, "error", err)
	}
}

func (h *Handler) ChangePassword(w http.ResponseWriter, r *http.Request) {
	studentID, ok := token.SubjectFromContext(r.Context())
	if !ok {
		httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	var req ChangePasswordRequest
	if err := httputil.DecodeAndValidate(r, h.validate, &req); err != nil {
		httputil.RespondWithError(w, err)
		return
	}

	if err := h.service.ChangePassword(r.Context(), studentID, req.OldPassword, req.NewPassword); err != nil {
		h.handleServiceError(w, r, "change password", err)
		return
	}

	httputil.RespondWithJSON(w, http.StatusOK, map[string]string{"message": "Password changed successfully"})
}

func (h *Handler) handleServiceError(w http.ResponseWriter, r *http.Request, op string, err error) {
	if apperror.KindOf(err) == apperror.KindDependency {
		h.logger.ErrorContext(r.Context(), op+" failed", "error", err)
	}
	httputil.RespondWithError(w, err)
}
