package http

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/goccy/go-json"

	dgerrors "github.com/datagen/datagen/internal/errors"
	"github.com/datagen/datagen/internal/logging"
	"github.com/datagen/datagen/internal/stream"
	"github.com/datagen/datagen/internal/validation"
	"github.com/datagen/datagen/pkg/types"
)

// MaxRequestBodySize caps the size of a request body.
const MaxRequestBodySize = 1 << 20

// GenerateHandler handles POST /v1/generate requests by streaming the
// requested dataset as the response body.
type GenerateHandler struct {
	validator  *validation.Validator
	synth      stream.Synthesizer
	opts       stream.Options
	bufferSize int
	logger     *logging.Logger
}

// NewGenerateHandler creates a new generate handler. bufferSize is the
// response write buffer in bytes.
func NewGenerateHandler(validator *validation.Validator, synth stream.Synthesizer, opts stream.Options, bufferSize int) *GenerateHandler {
	if bufferSize <= 0 {
		bufferSize = 32 * 1024
	}
	logger := logging.NewLogger("HttpApi")
	if opts.Logger == nil {
		opts.Logger = logger
	}
	return &GenerateHandler{
		validator:  validator,
		synth:      synth,
		opts:       opts,
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// ServeHTTP handles the generate HTTP request.
func (h *GenerateHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	requestID := GetRequestID(r.Context())

	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", requestID)
		return
	}

	var req types.GenerateRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeDatagenError(w, err, requestID)
		return
	}

	req, err := h.validator.Validate(req)
	if err != nil {
		writeDatagenError(w, err, requestID)
		return
	}

	format, _ := stream.FormatFor(req.FileType)
	sink := stream.NewResponseSink(w, format, h.bufferSize)
	session, err := stream.NewSession(req, h.synth, sink, h.opts)
	if err != nil {
		writeDatagenError(w, err, requestID)
		return
	}

	// The status line is committed with the first flushed bytes, so
	// failures from here on can only cut the body short.
	if err := session.Run(r.Context()); err != nil {
		stats := session.Stats()
		if errors.Is(err, context.Canceled) {
			h.logger.Warnf("generate %s [%s]: client went away after %d of %d records",
				session.ID(), requestID, stats.Records, stats.Target)
			return
		}
		h.logger.Errorf("generate %s [%s]: stream aborted after %d of %d records: %v",
			session.ID(), requestID, stats.Records, stats.Target, err)
	}
}

// decodeBody decodes a JSON request body into v.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	body := http.MaxBytesReader(w, r.Body, MaxRequestBodySize)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return dgerrors.NewValidationError(dgerrors.CodeMalformedRequest, "request body is empty")
		}
		return dgerrors.Wrap(dgerrors.ErrCategoryValidation, dgerrors.CodeMalformedRequest,
			"invalid request body: "+err.Error(), err)
	}
	return nil
}
