package resource

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"resource-service/common/logger"
	"resource-service/internal/token"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func asStudent(id int64) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := &token.Claims{
				Role:             token.RoleStudent,
				DeviceID:         "laptop",
				RegisteredClaims: jwt.RegisteredClaims{Subject: strconv.FormatInt(id, 10)},
			}
			next.ServeHTTP(w, r.WithContext(token.WithClaims(r.Context(), claims)))
		})
	}
}

func setupRouter(f *fixture, studentID int64, maxUpload int64) *chi.Mux {
	h := NewHandler(f.service, maxUpload, logger.Discard())
	r := chi.NewRouter()
	r.Route("/admin", h.RegisterAdminRoutes)
	r.Route("/student", func(r chi.Router) {
		r.Use(asStudent(studentID))
		h.RegisterStudentRoutes(r)
	})
	return r
}

func multipartUpload(t *testing.T, fields map[string]string, filename string, data []byte) (*bytes.Buffer, string) {
	t.Helper()
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if filename != "" {
		part, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = part.Write(data)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestHandler_Upload(t *testing.T) {
	t.Run("created", func(t *testing.T) {
		f := newFixture(1)
		router := setupRouter(f, 10, 1<<20)

		body, contentType := multipartUpload(t, map[string]string{"batchId": "1", "title": "Syllabus"}, "s.pdf", pdfBytes)
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		require.Equal(t, http.StatusCreated, rec.Code)
		var resp UploadResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "Syllabus", resp.Title)
		assert.NotZero(t, resp.ResourceID)
	})

	t.Run("missing file", func(t *testing.T) {
		f := newFixture(1)
		router := setupRouter(f, 10, 1<<20)

		body, contentType := multipartUpload(t, map[string]string{"batchId": "1"}, "", nil)
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Contains(t, rec.Body.String(), "file is required")
	})

	t.Run("unknown batch", func(t *testing.T) {
		f := newFixture(1)
		router := setupRouter(f, 10, 1<<20)

		body, contentType := multipartUpload(t, map[string]string{"batchId": "9"}, "s.pdf", pdfBytes)
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("too large", func(t *testing.T) {
		f := newFixture(1)
		router := setupRouter(f, 10, 64)

		body, contentType := multipartUpload(t, map[string]string{"batchId": "1"}, "big.pdf", bytes.Repeat([]byte("x"), 4096))
		req := httptest.NewRequest(http.MethodPost, "/admin/upload", body)
		req.Header.Set("Content-Type", contentType)
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, req)

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Zero(t, f.blobs.Len())
	})
}

func TestHandler_DeleteBatch(t *testing.T) {
	f := newFixture(1)
	res := f.upload(t, 1, "a.pdf", pdfBytes)
	router := setupRouter(f, 10, 1<<20)

	req := httptest.NewRequest(http.MethodDelete, "/admin/delete-batch", strings.NewReader(`{"batchId":1}`))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	var resp DeleteBatchResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
	assert.Equal(t, []int64{res.ID}, resp.DeletedResources)

	req = httptest.NewRequest(http.MethodDelete, "/admin/delete-batch", strings.NewReader(`{"batchId":1}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/delete-batch", strings.NewReader(`{}`))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_DeleteResource(t *testing.T) {
	f := newFixture(1)
	res := f.upload(t, 1, "a.pdf", pdfBytes)
	router := setupRouter(f, 10, 1<<20)

	body := `{"resourceId":` + strconv.FormatInt(res.ID, 10) + `}`
	req := httptest.NewRequest(http.MethodDelete, "/admin/delete-resource", strings.NewReader(body))
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/admin/delete-resource", strings.NewReader(body))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_StudentRoutes(t *testing.T) {
	f := newFixture(1, 2)
	f.store.enroll(10, 1)
	pdf := f.upload(t, 1, "a.pdf", pdfBytes)
	other := f.upload(t, 2, "b.pdf", pdfBytes)
	text := f.upload(t, 1, "c.txt", []byte("notes"))
	router := setupRouter(f, 10, 1<<20)

	get := func(path string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		return rec
	}

	t.Run("list", func(t *testing.T) {
		rec := get("/student/resources")
		require.Equal(t, http.StatusOK, rec.Code)
		var listings []Listing
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&listings))
		assert.ElementsMatch(t, []int64{pdf.ID, text.ID}, listingIDs(listings))
	})

	t.Run("signed url", func(t *testing.T) {
		rec := get("/student/resource-encrypted/" + strconv.FormatInt(pdf.ID, 10))
		require.Equal(t, http.StatusOK, rec.Code)
		var signed SignedURL
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&signed))
		assert.Equal(t, 300, signed.ExpiresIn)

		assert.Equal(t, http.StatusForbidden, get("/student/resource-encrypted/"+strconv.FormatInt(other.ID, 10)).Code)
		assert.Equal(t, http.StatusNotFound, get("/student/resource-encrypted/777").Code)
		assert.Equal(t, http.StatusBadRequest, get("/student/resource-encrypted/abc").Code)
	})

	t.Run("preview", func(t *testing.T) {
		rec := get("/student/resource/" + strconv.FormatInt(pdf.ID, 10) + "/file")
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))
		assert.Equal(t, "no-store", rec.Header().Get("Cache-Control"))
		assert.Equal(t, "inline", rec.Header().Get("Content-Disposition"))
		assert.Equal(t, pdfBytes, rec.Body.Bytes())

		assert.Equal(t, http.StatusForbidden, get("/student/resource/"+strconv.FormatInt(text.ID, 10)+"/file").Code)
		assert.Equal(t, http.StatusForbidden, get("/student/resource/"+strconv.FormatInt(other.ID, 10)+"/file").Code)
		assert.Equal(t, http.StatusNotFound, get("/student/resource/777/file").Code)
	})

	t.Run("preview stream failure", func(t *testing.T) {
		f.blobs.FailGet = true
		defer func() { f.blobs.FailGet = false }()

		rec := get("/student/resource/" + strconv.FormatInt(pdf.ID, 10) + "/file")
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}
