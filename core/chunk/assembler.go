package chunk

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"time"

	"TrackHub/errs"
	"TrackHub/logger"
)

var (
	// ErrNoChunks is returned when a track has no staged chunks.
	ErrNoChunks = fmt.Errorf("%w: no track chunks found to merge", errs.ErrNotFound)
	// ErrDuplicatePart is returned when two staged names share a part index.
	ErrDuplicatePart = fmt.Errorf("%w: duplicate part index", errs.ErrInvalidInput)
)

// Assembler concatenates staged chunks into one file.
type Assembler struct {
	stagingDir  string
	workDir     string
	primaryExts []string
}

// NewAssembler 创建分片合并器
func NewAssembler(stagingDir, workDir string, primaryExts []string) *Assembler {
	return &Assembler{stagingDir: stagingDir, workDir: workDir, primaryExts: primaryExts}
}

// WorkPath returns the directory holding intermediate files for trackID.
func (a *Assembler) WorkPath(trackID string) string {
	return filepath.Join(a.workDir, trackID)
}

// Assemble merges every staged chunk of trackID in ascending part order and
// returns the merged file path. The staging directory is removed once it has
// been read, whatever the outcome.
func (a *Assembler) Assemble(ctx context.Context, trackID string) (string, error) {
	if err := ValidateTrackID(trackID); err != nil {
		return "", err
	}
	dir := StagingPath(a.stagingDir, trackID)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("%w: staging directory for %s does not exist", ErrNoChunks, trackID)
		}
		return "", errs.IO("read staging directory", err)
	}
	defer func() {
		if rerr := os.RemoveAll(dir); rerr != nil {
			logger.Warn("清理分片目录失败",
				logger.String("trackId", trackID),
				logger.ErrorField(rerr))
		}
	}()

	parts, err := a.orderedParts(entries)
	if err != nil {
		return "", fmt.Errorf("track %s: %w", trackID, err)
	}

	outDir := a.WorkPath(trackID)
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return "", errs.IO("create work directory", err)
	}
	mergedPath := filepath.Join(outDir, parts[0].Base)

	start := time.Now()
	written, err := concat(ctx, dir, mergedPath, parts)
	if err != nil {
		os.Remove(mergedPath)
		return "", err
	}

	logger.Info("分片合并完成",
		logger.String("trackId", trackID),
		logger.String("mergedPath", mergedPath),
		logger.Int("chunks", len(parts)),
		logger.Int64("bytes", written),
		logger.Duration("elapsed", time.Since(start)))
	return mergedPath, nil
}

// orderedParts filters entries to chunk files and sorts them by index.
func (a *Assembler) orderedParts(entries []os.DirEntry) ([]Part, error) {
	var parts []Part
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		p, ok := ParsePartName(e.Name(), a.primaryExts)
		if !ok {
			continue
		}
		if !validBase(p.Base) {
			return nil, errs.Invalid("chunk %q has no usable base name", p.Name)
		}
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return nil, ErrNoChunks
	}

	sort.SliceStable(parts, func(i, j int) bool { return parts[i].Index < parts[j].Index })
	for i := 1; i < len(parts); i++ {
		if parts[i].Index == parts[i-1].Index {
			return nil, fmt.Errorf("%w %d: %s and %s", ErrDuplicatePart, parts[i].Index, parts[i-1].Name, parts[i].Name)
		}
	}
	return parts, nil
}

// concat drains each chunk fully into out before opening the next one.
func concat(ctx context.Context, dir, mergedPath string, parts []Part) (int64, error) {
	out, err := os.OpenFile(mergedPath, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return 0, errs.IO("create merged file", err)
	}

	var total int64
	for _, p := range parts {
		if err := ctx.Err(); err != nil {
			out.Close()
			return 0, err
		}
		n, err := copyFile(out, filepath.Join(dir, p.Name))
		if err != nil {
			out.Close()
			return 0, errs.IO("append chunk "+p.Name, err)
		}
		total += n
	}

	if err := out.Sync(); err != nil {
		out.Close()
		return 0, errs.IO("sync merged file", err)
	}
	if err := out.Close(); err != nil {
		return 0, errs.IO("close merged file", err)
	}
	return total, nil
}

func copyFile(dst io.Writer, path string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return io.Copy(dst, f)
}
