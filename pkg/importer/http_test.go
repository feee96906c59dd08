package importer

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/storage"
	"github.com/stretchr/testify/require"
)

func newRouter(t *testing.T, maxBody int64) (*mux.Router, *harness) {
	t.Helper()
	h := newHarness(t, storage.NewMemoryStore())
	router := mux.NewRouter()
	NewHTTPHandler(h.svc, maxBody).Register(router.PathPrefix("/api/v1").Subrouter())
	return router, h
}

func uploadRequest(t *testing.T, user, source, fileName, body string, extra map[string]string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("data_source", source))
	for k, v := range extra {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", fileName)
	require.NoError(t, err)
	_, err = fw.Write([]byte(body))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/imports", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if user != "" {
		req.Header.Set(UserIDHeader, user)
	}
	return req
}

func TestHTTPUploadAndStatus(t *testing.T) {
	router, _ := newRouter(t, 1<<20)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "42", "fitbit", "fitbit.json", fitbitSteps(10, 20, 30), nil))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	var job health.ImportJob
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))
	require.Equal(t, health.StatusSuccess, job.Status)
	require.EqualValues(t, 3, job.RecordsProcessed)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+job.ID, nil)
	req.Header.Set(UserIDHeader, "42")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/imports/"+job.ID, nil)
	req.Header.Set(UserIDHeader, "43")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)

	req = httptest.NewRequest(http.MethodGet, "/api/v1/imports/unknown", nil)
	req.Header.Set(UserIDHeader, "42")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNotFound, rr.Code)
}

func TestHTTPDeleteImport(t *testing.T) {
	router, h := newRouter(t, 1<<20)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "42", "fitbit", "fitbit.json", fitbitSteps(10), nil))
	require.Equal(t, http.StatusCreated, rr.Code)
	var job health.ImportJob
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &job))

	req := httptest.NewRequest(http.MethodDelete, "/api/v1/imports/"+job.ID, nil)
	req.Header.Set(UserIDHeader, "42")
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Zero(t, countsFor(t, h.store, job.ID)[health.MetricActivity])
}

func TestHTTPUploadErrors(t *testing.T) {
	router, _ := newRouter(t, 4096)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "", "fitbit", "fitbit.json", fitbitSteps(1), nil))
	require.Equal(t, http.StatusUnauthorized, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "42", "fitbit", "notes.txt", "hello", nil))
	require.Equal(t, http.StatusBadRequest, rr.Code)
	require.Contains(t, rr.Body.String(), "not allowed")

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "42", "custom", "c.csv", "a,b\n", map[string]string{"field_mapping": "[1,2]"}))
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "42", "fitbit", "big.json", strings.Repeat("x", 8192), nil))
	require.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)

	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, uploadRequest(t, "42", "custom", "c.csv", "type,timestamp\nsteps,2023-05-01T08:00:00Z\n", nil))
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	var body struct {
		Error  string            `json:"error"`
		Import *health.ImportJob `json:"import"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	require.NotNil(t, body.Import)
	require.Equal(t, health.StatusFailed, body.Import.Status)
}
