package http

import (
	"io"
	"net/http"
	"strconv"

	"github.com/datagen/datagen/internal/catalog"
	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/exports"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/validation"
	"github.com/datagen/datagen/pkg/types"
)

// ExportRequest is a generate request to be produced into object storage.
type ExportRequest struct {
	types.GenerateRequest

	// Compress overrides the configured default when set
	Compress *bool `json:"compress,omitempty"`
}

// ExportListResponse is the response of GET /v1/exports.
type ExportListResponse struct {
	Jobs      []*catalog.Job `json:"jobs"`
	RequestID string         `json:"request_id"`
}

// ExportsHandler serves the export job endpoints. A nil manager means
// exports are disabled and every endpoint answers 503.
type ExportsHandler struct {
	validator *validation.Validator
	manager   *exports.Manager
	logger    *logging.Logger
}

// NewExportsHandler creates a new exports handler.
func NewExportsHandler(validator *validation.Validator, manager *exports.Manager) *ExportsHandler {
	return &ExportsHandler{
		validator: validator,
		manager:   manager,
		logger:    logging.NewLogger("HttpApi"),
	}
}

// Register adds the export routes to mux, each wrapped by middleware.
func (h *ExportsHandler) Register(mux *http.ServeMux, middleware func(http.Handler) http.Handler) {
	mux.Handle("POST /v1/exports", middleware(http.HandlerFunc(h.Submit)))
	mux.Handle("GET /v1/exports", middleware(http.HandlerFunc(h.List)))
	mux.Handle("GET /v1/exports/{id}", middleware(http.HandlerFunc(h.Get)))
	mux.Handle("GET /v1/exports/{id}/download", middleware(http.HandlerFunc(h.Download)))
}

func (h *ExportsHandler) disabled(w http.ResponseWriter, requestID string) bool {
	if h.manager != nil {
		return false
	}
	writeDatagenError(w, dgerrors.NewExportError(dgerrors.CodeExportsDisabled, "exports are disabled", nil), requestID)
	return true
}

// Submit handles POST /v1/exports.
func (h *ExportsHandler) Submit(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.disabled(w, requestID) {
		return
	}

	var req ExportRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDatagenError(w, err, requestID)
		return
	}
	genReq, err := h.validator.Validate(req.GenerateRequest)
	if err != nil {
		writeDatagenError(w, err, requestID)
		return
	}

	job, err := h.manager.Submit(r.Context(), genReq, req.Compress)
	if err != nil {
		h.logger.Errorf("export submit [%s]: %v", requestID, err)
		writeDatagenError(w, err, requestID)
		return
	}

	w.Header().Set("Location", "/v1/exports/"+job.ID)
	writeJSON(w, http.StatusAccepted, job)
}

// List handles GET /v1/exports. It accepts the status and limit query parameters.
func (h *ExportsHandler) List(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.disabled(w, requestID) {
		return
	}

	opts := catalog.ListOptions{Status: catalog.JobStatus(r.URL.Query().Get("status"))}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		n, err := strconv.Atoi(limit)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer", requestID)
			return
		}
		opts.Limit = n
	}

	jobs, err := h.manager.List(r.Context(), opts)
	if err != nil {
		writeDatagenError(w, err, requestID)
		return
	}
	if jobs == nil {
		jobs = []*catalog.Job{}
	}
	writeJSON(w, http.StatusOK, ExportListResponse{Jobs: jobs, RequestID: requestID})
}

// Get handles GET /v1/exports/{id}.
func (h *ExportsHandler) Get(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.disabled(w, requestID) {
		return
	}

	job, err := h.manager.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDatagenError(w, err, requestID)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// Download handles GET /v1/exports/{id}/download by streaming the stored object.
func (h *ExportsHandler) Download(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())
	if h.disabled(w, requestID) {
		return
	}

	dl, err := h.manager.Open(r.Context(), r.PathValue("id"))
	if err != nil {
		writeDatagenError(w, err, requestID)
		return
	}
	defer dl.Close()

	hdr := w.Header()
	if dl.Job.Compressed {
		hdr.Set("Content-Type", "application/x-snappy-framed")
	} else {
		hdr.Set("Content-Type", dl.Format.ContentType)
	}
	hdr.Set("Content-Disposition", `attachment; filename="`+dl.Filename+`"`)
	hdr.Set("Content-Length", strconv.FormatInt(dl.Object.Size, 10))
	etag := dl.Object.ETag
	if etag == "" {
		etag = dl.Job.ETag
	}
	if etag != "" {
		hdr.Set("ETag", `"`+etag+`"`)
	}
	if dl.Job.Checksum != "" {
		hdr.Set("X-Checksum-Murmur3", dl.Job.Checksum)
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, dl); err != nil {
		h.logger.Warnf("export %s download [%s] cut short: %v", dl.Job.ID, requestID, err)
	}
}
