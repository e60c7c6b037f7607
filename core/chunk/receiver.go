package chunk

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"TrackHub/errs"
	"TrackHub/logger"

	"golang.org/x/sync/errgroup"
)

// tempPrefix marks in-flight writes inside a staging directory.
const tempPrefix = ".recv-"

// maxParallelWrites bounds concurrent chunk writes per call.
const maxParallelWrites = 4

// Upload is one chunk handed to the receiver.
type Upload struct {
	Name string
	Size int64 // declared size, -1 if unknown
	Open func() (io.ReadCloser, error)
}

// Receiver writes uploaded chunks into per-track staging directories.
type Receiver struct {
	stagingDir string
	maxFiles   int
	maxSize    int64
}

// NewReceiver 创建分片接收器
func NewReceiver(stagingDir string, maxFiles int, maxSize int64) *Receiver {
	return &Receiver{stagingDir: stagingDir, maxFiles: maxFiles, maxSize: maxSize}
}

// StagingPath returns the staging directory for trackID.
func StagingPath(stagingDir, trackID string) string {
	return filepath.Join(stagingDir, trackID)
}

// Receive stages every upload under the track's staging directory and
// returns the stored names. A chunk with an existing name is overwritten.
func (r *Receiver) Receive(ctx context.Context, trackID string, uploads []Upload) ([]string, error) {
	if err := ValidateTrackID(trackID); err != nil {
		return nil, err
	}
	if len(uploads) == 0 {
		return nil, errs.Invalid("no chunk files supplied")
	}
	if r.maxFiles > 0 && len(uploads) > r.maxFiles {
		return nil, errs.Invalid("too many chunk files: %d > %d", len(uploads), r.maxFiles)
	}

	seen := make(map[string]bool, len(uploads))
	for _, u := range uploads {
		if err := ValidateName(u.Name); err != nil {
			return nil, err
		}
		if seen[u.Name] {
			return nil, errs.Invalid("chunk %q supplied twice", u.Name)
		}
		seen[u.Name] = true
		if r.maxSize > 0 && u.Size > r.maxSize {
			return nil, errs.Invalid("chunk %q exceeds %d bytes", u.Name, r.maxSize)
		}
		if u.Open == nil {
			return nil, errs.Invalid("chunk %q has no content", u.Name)
		}
	}

	dir := StagingPath(r.stagingDir, trackID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errs.IO("create staging directory", err)
	}

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelWrites)
	for _, u := range uploads {
		u := u
		g.Go(func() error {
			return r.store(gctx, dir, u)
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(uploads))
	for _, u := range uploads {
		names = append(names, u.Name)
	}
	logger.Info("分片已接收",
		logger.String("trackId", trackID),
		logger.Strings("chunks", names),
		logger.Duration("elapsed", time.Since(start)))
	return names, nil
}

// store copies one upload into a temp file and renames it into place.
func (r *Receiver) store(ctx context.Context, dir string, u Upload) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	src, err := u.Open()
	if err != nil {
		return errs.IO("open upload "+u.Name, err)
	}
	defer src.Close()

	tmp, err := os.CreateTemp(dir, tempPrefix+"*")
	if err != nil {
		return errs.IO("create temp chunk", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	var reader io.Reader = src
	if r.maxSize > 0 {
		reader = io.LimitReader(src, r.maxSize+1)
	}
	n, err := io.Copy(tmp, reader)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errs.IO("write chunk "+u.Name, err)
	}
	if r.maxSize > 0 && n > r.maxSize {
		return errs.Invalid("chunk %q exceeds %d bytes", u.Name, r.maxSize)
	}

	if err := os.Rename(tmpName, filepath.Join(dir, u.Name)); err != nil {
		return errs.IO(fmt.Sprintf("commit chunk %s", u.Name), err)
	}
	return nil
}
