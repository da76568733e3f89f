package batch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"resource-service/common/logger"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
)

type fakeRepo struct {
	created []Batch
	listErr error
}

func (f *fakeRepo) Create(_ context.Context, b *Batch) (*Batch, error) {
	b.ID = int64(len(f.created) + 1)
	f.created = append(f.created, *b)
	return b, nil
}

func (f *fakeRepo) GetAll(context.Context) ([]Batch, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	return f.created, nil
}

func (f *fakeRepo) GetByID(context.Context, int64) (*Batch, error)            { return nil, ErrBatchNotFound }
func (f *fakeRepo) RequireAll(context.Context, []int64) error                 { return nil }
func (f *fakeRepo) Titles(context.Context, []int64) (map[int64]string, error) { return nil, nil }
func (f *fakeRepo) Lock(context.Context, bun.IDB, int64) error                { return nil }
func (f *fakeRepo) Delete(context.Context, bun.IDB, int64) error              { return nil }

func setupRouter(repo Repository) *chi.Mux {
	r := chi.NewRouter()
	NewHandler(repo, logger.Discard()).RegisterRoutes(r)
	return r
}

func TestHandler_Create(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantBody   string
	}{
		{name: "created", body: `{"title":"  Morning  "}`, wantStatus: http.StatusCreated, wantBody: `"title":"Morning"`},
		{name: "missing title", body: `{}`, wantStatus: http.StatusBadRequest, wantBody: "title is required"},
		{name: "blank title", body: `{"title":"   "}`, wantStatus: http.StatusBadRequest, wantBody: "title is required"},
		{name: "malformed", body: `{`, wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			router := setupRouter(&fakeRepo{})
			req := httptest.NewRequest(http.MethodPost, "/create-batch", bytes.NewBufferString(tt.body))
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)

			assert.Equal(t, tt.wantStatus, w.Code)
			if tt.wantBody != "" {
				assert.Contains(t, w.Body.String(), tt.wantBody)
			}
		})
	}
}

func TestHandler_List(t *testing.T) {
	t.Run("empty list is an array", func(t *testing.T) {
		w := httptest.NewRecorder()
		setupRouter(&fakeRepo{}).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batches", nil))
		require.Equal(t, http.StatusOK, w.Code)
		assert.JSONEq(t, "[]", w.Body.String())
	})

	t.Run("database failure is hidden", func(t *testing.T) {
		w := httptest.NewRecorder()
		setupRouter(&fakeRepo{listErr: errors.New("connection refused")}).
			ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/batches", nil))
		assert.Equal(t, http.StatusInternalServerError, w.Code)
		assert.NotContains(t, w.Body.String(), "connection refused")
	})
}
