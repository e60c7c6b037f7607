// Package stream serves stored media with HTTP byte-range support.
package stream

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"TrackHub/errs"
	"TrackHub/logger"
	"TrackHub/storage"
)

// ContentType is sent for every streamed file.
const ContentType = "audio/mpeg"

// ErrMalformedRange is returned for a Range header that cannot be parsed.
var ErrMalformedRange = fmt.Errorf("%w: malformed range header", errs.ErrInvalidInput)

// RangeNotSatisfiableError reports a well-formed range outside the object.
type RangeNotSatisfiableError struct {
	Size int64
}

func (e *RangeNotSatisfiableError) Error() string {
	return fmt.Sprintf("range not satisfiable for size %d", e.Size)
}

// ByteRange is an inclusive span.
type ByteRange struct {
	Start, End int64
}

// Length returns the number of bytes in the span.
func (b ByteRange) Length() int64 { return b.End - b.Start + 1 }

// ContentRange formats the Content-Range header value.
func (b ByteRange) ContentRange(size int64) string {
	return fmt.Sprintf("bytes %d-%d/%d", b.Start, b.End, size)
}

// ParseRange parses a single "bytes=<start>-<end?>" or "bytes=-<suffix>"
// header against an object of the given size. The end defaults to size-1
// and is clamped to it.
func ParseRange(header string, size int64) (ByteRange, error) {
	set, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	if strings.Contains(set, ",") {
		return ByteRange{}, fmt.Errorf("%w: multiple ranges are not supported", ErrMalformedRange)
	}
	startStr, endStr, ok := strings.Cut(strings.TrimSpace(set), "-")
	if !ok {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}

	if startStr == "" {
		n, err := parseOffset(endStr)
		if err != nil {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if n == 0 || size == 0 {
			return ByteRange{}, &RangeNotSatisfiableError{Size: size}
		}
		if n > size {
			n = size
		}
		return ByteRange{Start: size - n, End: size - 1}, nil
	}

	start, err := parseOffset(startStr)
	if err != nil {
		return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
	}
	end := size - 1
	if endStr != "" {
		end, err = parseOffset(endStr)
		if err != nil {
			return ByteRange{}, fmt.Errorf("%w: %q", ErrMalformedRange, header)
		}
		if end > size-1 {
			end = size - 1
		}
	}
	if start >= size || start > end {
		return ByteRange{}, &RangeNotSatisfiableError{Size: size}
	}
	return ByteRange{Start: start, End: end}, nil
}

func parseOffset(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, errors.New("empty offset")
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("invalid offset %q", s)
		}
	}
	return strconv.ParseInt(s, 10, 64)
}

// Streamer serves objects from one bucket.
type Streamer struct {
	store  storage.Store
	bucket string
}

// NewStreamer 创建流媒体服务
func NewStreamer(store storage.Store, bucket string) *Streamer {
	return &Streamer{store: store, bucket: bucket}
}

// Serve writes filePath to w, honoring a Range header on r. It returns an
// error only when nothing has been written yet, so the caller can still
// choose the status code.
func (s *Streamer) Serve(w http.ResponseWriter, r *http.Request, filePath string) error {
	key, err := storage.CleanKey(filePath)
	if err != nil {
		return err
	}

	info, err := s.store.Stat(r.Context(), s.bucket, key)
	if err != nil {
		return err
	}
	size := info.Size

	h := w.Header()
	h.Set("Content-Type", ContentType)
	h.Set("Accept-Ranges", "bytes")

	rangeHeader := r.Header.Get("Range")
	if rangeHeader == "" {
		return s.write(w, r, key, http.StatusOK, ByteRange{Start: 0, End: size - 1}, size)
	}

	br, err := ParseRange(rangeHeader, size)
	if err != nil {
		var unsat *RangeNotSatisfiableError
		if errors.As(err, &unsat) {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", size))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return nil
		}
		h.Del("Accept-Ranges")
		h.Del("Content-Type")
		return err
	}
	h.Set("Content-Range", br.ContentRange(size))
	return s.write(w, r, key, http.StatusPartialContent, br, size)
}

func (s *Streamer) write(w http.ResponseWriter, r *http.Request, key string, status int, br ByteRange, size int64) error {
	length := br.Length()
	if size == 0 {
		length = 0
	}
	w.Header().Set("Content-Length", strconv.FormatInt(length, 10))

	if r.Method == http.MethodHead || length == 0 {
		w.WriteHeader(status)
		return nil
	}

	body, err := s.store.GetRange(r.Context(), s.bucket, key, br.Start, length)
	if err != nil {
		w.Header().Del("Content-Length")
		w.Header().Del("Content-Range")
		return err
	}
	defer body.Close()

	w.WriteHeader(status)
	n, err := io.CopyN(w, body, length)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("流式传输中断",
			logger.String("key", key),
			logger.Int64("written", n),
			logger.Int64("expected", length),
			logger.ErrorField(err))
	}
	return nil
}
