package server

import (
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"TrackHub/core/chunk"
	"TrackHub/core/pipeline"
	"TrackHub/core/publish"
	"TrackHub/core/stream"
	"TrackHub/errs"
	"TrackHub/logger"
	"TrackHub/metrics"

	"github.com/gorilla/mux"
)

// UploadHandler stages the chunk files of one upload session.
//
// Form fields: trackId, trackName (one per file, optional) and files.
func (h *Handler) UploadHandler(w http.ResponseWriter, r *http.Request) {
	if h.maxUpload > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	}
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		status := http.StatusBadRequest
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			status = http.StatusRequestEntityTooLarge
		}
		writeError(w, r, status, errs.Invalid("parse multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	trackID := strings.TrimSpace(r.FormValue("trackId"))
	names := r.MultipartForm.Value["trackName"]
	files := r.MultipartForm.File["files"]

	uploads := make([]chunk.Upload, 0, len(files))
	for i, fh := range files {
		uploads = append(uploads, chunk.Upload{
			Name: chunkName(names, i, fh),
			Size: fh.Size,
			Open: openPart(fh),
		})
	}

	stored, err := h.pipeline.Upload(r.Context(), OwnerIDFromContext(r.Context()), trackID, uploads)
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"message":   "Track uploaded successfully",
		"trackId":   trackID,
		"trackName": stored[0],
		"chunks":    stored,
	})
}

// chunkName prefers the i-th trackName value and falls back to the
// multipart filename.
func chunkName(names []string, i int, fh *multipart.FileHeader) string {
	if i < len(names) {
		if n := strings.TrimSpace(names[i]); n != "" {
			return n
		}
	}
	return filepath.Base(fh.Filename)
}

func openPart(fh *multipart.FileHeader) func() (io.ReadCloser, error) {
	return func() (io.ReadCloser, error) {
		return fh.Open()
	}
}

// MergeHandler assembles, transcodes and publishes a staged upload.
func (h *Handler) MergeHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := pipeline.MergeRequest{
		TrackID:    strings.TrimSpace(q.Get("trackId")),
		Title:      strings.TrimSpace(q.Get("trackName")),
		CategoryID: strings.TrimSpace(q.Get("categoryId")),
		OwnerID:    OwnerIDFromContext(r.Context()),
	}
	if req.TrackID == "" || req.Title == "" || req.CategoryID == "" {
		writeError(w, r, http.StatusBadRequest, errs.Invalid("trackId, trackName, and categoryId are required"))
		return
	}

	thumb, err := h.readThumbnail(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err)
		return
	}
	req.Thumbnail = thumb

	track, err := h.pipeline.Merge(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		if errors.Is(err, chunk.ErrNoChunks) {
			status = http.StatusBadRequest
		}
		writeError(w, r, status, err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// readThumbnail returns the optional "thumbnail" form file.
func (h *Handler) readThumbnail(r *http.Request) (*publish.Thumbnail, error) {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
		return nil, nil
	}
	if err := r.ParseMultipartForm(h.maxMemory); err != nil {
		return nil, errs.Invalid("parse multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	file, fh, err := r.FormFile("thumbnail")
	if errors.Is(err, http.ErrMissingFile) {
		return nil, nil
	}
	if err != nil {
		return nil, errs.Invalid("read thumbnail: %v", err)
	}
	defer file.Close()

	var src io.Reader = file
	if limit := h.pipeline.MaxThumbnail; limit > 0 {
		// one extra byte lets Validate see the overflow
		src = io.LimitReader(file, limit+1)
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, errs.Invalid("read thumbnail: %v", err)
	}
	return &publish.Thumbnail{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Data:        data,
	}, nil
}

// GetTrackHandler returns the metadata row of a published track.
func (h *Handler) GetTrackHandler(w http.ResponseWriter, r *http.Request) {
	track, err := h.pipeline.Track(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, r, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, track)
}

// StreamHandler serves a published media object with range support.
func (h *Handler) StreamHandler(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	defer func() {
		metrics.StreamResponses.WithLabelValues(strconv.Itoa(rec.status)).Inc()
	}()

	filePath := r.URL.Query().Get("filePath")
	if filePath == "" {
		writeError(rec, r, http.StatusBadRequest, errs.Invalid("filePath is required"))
		return
	}

	if err := h.streamer.Serve(rec, r, filePath); err != nil {
		status := statusFor(err)
		if errors.Is(err, stream.ErrMalformedRange) {
			status = http.StatusInternalServerError
		}
		writeError(rec, r, status, err)
		return
	}
	logger.Debug("流式传输完成",
		logger.String("filePath", filePath),
		logger.String("range", r.Header.Get("Range")),
		logger.Int("status", rec.status))
}

type statusRecorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (s *statusRecorder) WriteHeader(code int) {
	if !s.wroteHeader {
		s.status = code
		s.wroteHeader = true
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	s.wroteHeader = true
	return s.ResponseWriter.Write(b)
}
