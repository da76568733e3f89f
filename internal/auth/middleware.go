package auth

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"resource-service/common/httputil"
	"resource-service/internal/token"
)

type TokenVerifier interface {
	Verify(tokenString string) (*token.Claims, error)
}

type LivenessChecker interface {
	IsLive(ctx context.Context, studentID int64, deviceID, token string) (bool, error)
}

func unauthorized(w http.ResponseWriter) {
	httputil.RespondWithMessage(w, http.StatusUnauthorized, "unauthorized")
}

// bearerToken extracts the token from an "Authorization: Bearer <token>" header.
func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, value, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	value = strings.TrimSpace(value)
	return value, value != ""
}

// VerifySignature is the first predicate: the bearer token must carry a valid
// signature and an unexpired claim set. Verified claims are put on the context.
func VerifySignature(verifier TokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, ok := bearerToken(r)
			if !ok {
				logger.DebugContext(r.Context(), "missing bearer token", "path", r.URL.Path)
				unauthorized(w)
				return
			}

			claims, err := verifier.Verify(raw)
			if err != nil {
				logger.DebugContext(r.Context(), "token rejected", "path", r.URL.Path)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r.WithContext(token.WithClaims(r.Context(), claims)))
		})
	}
}

// RequireLiveDevice is the second predicate: a student token must still be the
// live session of its device. Admin tokens pass through. It must run after
// VerifySignature.
func RequireLiveDevice(devices LivenessChecker, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := token.FromContext(r.Context())
			if !ok {
				unauthorized(w)
				return
			}
			if claims.Role != token.RoleStudent {
				next.ServeHTTP(w, r)
				return
			}

			raw, ok := bearerToken(r)
			if !ok {
				unauthorized(w)
				return
			}
			studentID, err := claims.SubjectID()
			if err != nil {
				unauthorized(w)
				return
			}

			live, err := devices.IsLive(r.Context(), studentID, claims.DeviceID, raw)
			if err != nil {
				logger.ErrorContext(r.Context(), "device liveness check failed", "student_id", studentID, "error", err)
				unauthorized(w)
				return
			}
			if !live {
				logger.DebugContext(r.Context(), "session no longer live", "student_id", studentID, "device_id", claims.DeviceID)
				unauthorized(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
