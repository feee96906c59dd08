package importer

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/healthtrack/platform/pkg/common/logger"
	"github.com/healthtrack/platform/pkg/health"
	"github.com/healthtrack/platform/pkg/parsers"
)

const (
	UserIDHeader = "X-User-ID"

	multipartMemory = 8 << 20
)

type HTTPHandler struct {
	service *Service
	maxBody int64
}

func NewHTTPHandler(service *Service, maxBody int64) *HTTPHandler {
	return &HTTPHandler{service: service, maxBody: maxBody}
}

func (h *HTTPHandler) Register(router *mux.Router) {
	router.HandleFunc("/imports", h.handleUpload).Methods(http.MethodPost)
	router.HandleFunc("/imports/{id}", h.handleStatus).Methods(http.MethodGet)
	router.HandleFunc("/imports/{id}", h.handleDelete).Methods(http.MethodDelete)
}

type errorBody struct {
	Error  string            `json:"error"`
	Import *health.ImportJob `json:"import,omitempty"`
}

func (h *HTTPHandler) handleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid "+UserIDHeader, http.StatusUnauthorized)
		return
	}
	if h.maxBody > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxBody)
	}

	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			http.Error(w, "upload exceeds size limit", http.StatusRequestEntityTooLarge)
			return
		}
		logger.Log.WithError(err).Warn("invalid upload form")
		http.Error(w, "invalid multipart upload", http.StatusBadRequest)
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "file field required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	req := UploadRequest{
		UserID:         userID,
		DataSource:     r.FormValue("data_source"),
		FileName:       header.Filename,
		Body:           file,
		MappingProfile: r.FormValue("mapping_profile"),
	}
	if raw := strings.TrimSpace(r.FormValue("field_mapping")); raw != "" {
		var mapping parsers.FieldMapping
		if err := json.Unmarshal([]byte(raw), &mapping); err != nil {
			http.Error(w, "field_mapping must be a JSON object of strings", http.StatusBadRequest)
			return
		}
		req.FieldMapping = mapping
	}

	job, err := h.service.ProcessUpload(r.Context(), req)
	if err != nil {
		switch {
		case health.IsFileValidationError(err), errors.Is(err, ErrMissingUser):
			writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error(), Import: job})
		default:
			logger.Log.WithError(err).Error("import failed")
			writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error(), Import: job})
		}
		return
	}

	writeJSON(w, http.StatusCreated, job)
}

func (h *HTTPHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *HTTPHandler) handleDelete(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownedJob(w, r)
	if !ok {
		return
	}
	if err := h.service.DeleteImport(r.Context(), job.ID); err != nil {
		if errors.Is(err, health.ErrJobNotFound) {
			http.Error(w, "import not found", http.StatusNotFound)
			return
		}
		logger.Log.WithError(err).Error("failed to delete import")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ownedJob loads the job named in the path and hides jobs of other users.
func (h *HTTPHandler) ownedJob(w http.ResponseWriter, r *http.Request) (*health.ImportJob, bool) {
	userID, ok := userFromRequest(r)
	if !ok {
		http.Error(w, "missing or invalid "+UserIDHeader, http.StatusUnauthorized)
		return nil, false
	}

	job, err := h.service.Status(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		if errors.Is(err, health.ErrJobNotFound) {
			http.Error(w, "import not found", http.StatusNotFound)
			return nil, false
		}
		logger.Log.WithError(err).Error("failed to fetch import status")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return nil, false
	}
	if job.UserID != userID {
		http.Error(w, "import not found", http.StatusNotFound)
		return nil, false
	}
	return job, true
}

func userFromRequest(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(r.Header.Get(UserIDHeader)), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
