package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"github.com/zombor/pricescan/internal/failure"
	"github.com/zombor/pricescan/internal/pipeline"
	"github.com/zombor/pricescan/internal/scheduler"
)

// maxFormSize bounds multipart uploads; high-resolution phone photos are large
const maxFormSize = int64(50 << 20)

type errorResponse struct {
	Error       string           `json:"error"`
	Kind        failure.Kind     `json:"kind,omitempty"`
	Code        failure.Code     `json:"code,omitempty"`
	Suggestions []failure.Action `json:"suggestions,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Error encoding response", "error", err)
	}
}

func writeJSONError(w http.ResponseWriter, status int, resp errorResponse) {
	writeJSON(w, status, resp)
}

// writeFailure maps a pipeline failure onto a status code and body
func writeFailure(w http.ResponseWriter, err error) {
	fe := failure.Classify(err)
	writeJSONError(w, statusFor(fe), errorResponse{
		Error:       fe.Error(),
		Kind:        fe.Kind,
		Code:        fe.Code,
		Suggestions: fe.Suggestions(),
	})
}

func statusFor(fe *failure.Error) int {
	switch fe.Code {
	case failure.CodeTimeout:
		return http.StatusGatewayTimeout
	case failure.CodeServiceUnavailable, failure.CodeNetworkUnavailable, failure.CodeLowMemory:
		return http.StatusServiceUnavailable
	case failure.CodeCancelled:
		return http.StatusConflict
	case failure.CodeInsufficientSections:
		return http.StatusBadRequest
	case failure.CodeTooLarge:
		return http.StatusRequestEntityTooLarge
	}
	switch fe.Kind {
	case failure.KindImage, failure.KindRecognition, failure.KindLongReceipt:
		return http.StatusUnprocessableEntity
	}
	return http.StatusInternalServerError
}

// processOptions reads the optional priority and tier form fields
func processOptions(r *http.Request) ([]pipeline.ProcessOption, error) {
	var opts []pipeline.ProcessOption
	if v := r.FormValue("priority"); v != "" {
		p, err := scheduler.ParsePriority(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithPriority(p))
	}
	if v := r.FormValue("tier"); v != "" {
		t, err := scheduler.ParseTier(v)
		if err != nil {
			return nil, err
		}
		opts = append(opts, pipeline.WithTier(t))
	}
	return opts, nil
}

func (s *Server) parseForm(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		slog.Error("Error parsing multipart form", "error", err)
		msg := "Error parsing form"
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			msg = "File is too large. Maximum size is 50MB. Please compress or resize your image."
		}
		writeJSONError(w, http.StatusBadRequest, errorResponse{Error: msg})
		return false
	}
	return true
}

// saveUpload stores one multipart file and returns its path
func (s *Server) saveUpload(header *multipart.FileHeader) (string, error) {
	f, err := header.Open()
	if err != nil {
		return "", err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	return s.uploads.Save(header.Filename, data)
}

// handleScanReceipt scans one uploaded receipt image
func (s *Server) handleScanReceipt(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}

	_, header, err := r.FormFile("file")
	if err != nil {
		slog.Error("Error getting file from form", "error", err)
		writeJSONError(w, http.StatusBadRequest, errorResponse{Error: "No file was selected. Please choose a file to upload."})
		return
	}

	opts, err := processOptions(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	path, err := s.saveUpload(header)
	if err != nil {
		slog.Error("Error saving upload", "filename", header.Filename, "error", err)
		writeJSONError(w, http.StatusInternalServerError, errorResponse{Error: "Error reading file. Please try again."})
		return
	}

	result, err := s.scanner.ProcessSingleReceipt(r.Context(), path, opts...)
	if err != nil {
		slog.Error("Error processing receipt", "filename", header.Filename, "error", err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleScanLongReceipt scans a receipt uploaded as ordered sections
func (s *Server) handleScanLongReceipt(w http.ResponseWriter, r *http.Request) {
	if !s.parseForm(w, r) {
		return
	}

	opts, err := processOptions(r)
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	headers := r.MultipartForm.File["files"]
	paths := make([]string, 0, len(headers))
	for _, header := range headers {
		path, err := s.saveUpload(header)
		if err != nil {
			slog.Error("Error saving upload", "filename", header.Filename, "error", err)
			writeJSONError(w, http.StatusInternalServerError, errorResponse{Error: "Error reading file. Please try again."})
			return
		}
		paths = append(paths, path)
	}

	result, err := s.scanner.ProcessLongReceipt(r.Context(), paths, opts...)
	if err != nil {
		slog.Error("Error processing long receipt", "sections", len(paths), "error", err)
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCacheSize(w http.ResponseWriter, r *http.Request) {
	size, err := s.scanner.CacheSize(r.Context())
	if err != nil {
		writeFailure(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"size": size})
}

func (s *Server) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if err := s.scanner.ClearCache(r.Context()); err != nil {
		slog.Error("Error clearing cache", "error", err)
		writeFailure(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCancelAll(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]int{"cancelled": s.scanner.CancelAllOperations()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
