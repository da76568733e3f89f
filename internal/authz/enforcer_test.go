package authz

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"resource-service/common/logger"
	"resource-service/internal/token"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnforcer_Enforce(t *testing.T) {
	e, err := NewEnforcer(DefaultPolicies, logger.Discard())
	require.NoError(t, err)

	tests := []struct {
		name   string
		role   token.Role
		path   string
		method string
		want   bool
	}{
		{"admin on admin route", token.RoleAdmin, "/admin/upload", http.MethodPost, true},
		{"admin on nested admin route", token.RoleAdmin, "/admin/students-by-batch", http.MethodGet, true},
		{"admin on student route", token.RoleAdmin, "/student/resources", http.MethodGet, false},
		{"student on student route", token.RoleStudent, "/student/resource/1/file", http.MethodGet, true},
		{"student on admin route", token.RoleStudent, "/admin/delete-batch", http.MethodDelete, false},
		{"unknown role", token.Role("guest"), "/student/resources", http.MethodGet, false},
		{"unlisted method", token.RoleStudent, "/student/resources", http.MethodPatch, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := e.Enforce(tt.role, tt.path, tt.method)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEnforcer_Middleware(t *testing.T) {
	e, err := NewEnforcer(DefaultPolicies, logger.Discard())
	require.NoError(t, err)

	handler := e.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	serve := func(claims *token.Claims, path string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if claims != nil {
			req = req.WithContext(token.WithClaims(req.Context(), claims))
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusOK, serve(&token.Claims{Role: token.RoleAdmin}, "/admin/batches").Code)

	rec := serve(&token.Claims{Role: token.RoleStudent, DeviceID: "phone"}, "/admin/batches")
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.JSONEq(t, `{"error":"forbidden"}`, rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, serve(nil, "/admin/batches").Code)
}
