package storage

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"strings"

	"TrackHub/errs"
)

// LocalStore keeps objects on the local filesystem. Each bucket is a
// directory under basePath.
type LocalStore struct {
	basePath string
}

// NewLocalStore creates a new local storage adapter.
func NewLocalStore(basePath string) (*LocalStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}
	abs, err := filepath.Abs(basePath)
	if err != nil {
		return nil, fmt.Errorf("resolve base path: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create base directory: %w", err)
	}
	return &LocalStore{basePath: abs}, nil
}

func (l *LocalStore) fullPath(bucket, key string) (string, error) {
	if bucket == "" || strings.ContainsAny(bucket, `/\`) || bucket == "." || bucket == ".." {
		return "", errs.Invalid("invalid bucket %q", bucket)
	}
	cleaned, err := CleanKey(key)
	if err != nil {
		return "", err
	}
	return filepath.Join(l.basePath, bucket, filepath.FromSlash(cleaned)), nil
}

// Put writes data to a temporary file and renames it into place.
func (l *LocalStore) Put(ctx context.Context, bucket, key string, data io.Reader, size int64, contentType string) error {
	dst, err := l.fullPath(bucket, key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return errs.IO("create object directory", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dst), ".upload-*")
	if err != nil {
		return errs.IO("create temp object", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := io.Copy(tmp, readerWithContext(ctx, data))
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return errs.IO("write object "+key, err)
	}
	if size >= 0 && n != size {
		return errs.Invalid("object %s: wrote %d bytes, expected %d", key, n, size)
	}
	if err := os.Rename(tmpName, dst); err != nil {
		return errs.IO("commit object "+key, err)
	}
	return nil
}

// Stat returns file metadata for key.
func (l *LocalStore) Stat(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	p, err := l.fullPath(bucket, key)
	if err != nil {
		return ObjectInfo{}, err
	}
	info, err := os.Stat(p)
	if err != nil || info.IsDir() {
		if err == nil || errors.Is(err, fs.ErrNotExist) {
			return ObjectInfo{}, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return ObjectInfo{}, errs.IO("stat object "+key, err)
	}
	return l.objectInfo(bucket, p, info), nil
}

// GetRange opens the file and limits the reader to the requested span.
func (l *LocalStore) GetRange(ctx context.Context, bucket, key string, offset, length int64) (io.ReadCloser, error) {
	p, err := l.fullPath(bucket, key)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(p)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s/%s", ErrObjectNotFound, bucket, key)
		}
		return nil, errs.IO("open object "+key, err)
	}
	if offset > 0 {
		if _, err := f.Seek(offset, io.SeekStart); err != nil {
			f.Close()
			return nil, errs.IO("seek object "+key, err)
		}
	}
	if length < 0 {
		return f, nil
	}
	return &limitedFile{Reader: io.LimitReader(f, length), f: f}, nil
}

// List walks the bucket directory.
func (l *LocalStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	root, err := l.fullPath(bucket, "_")
	if err != nil {
		return nil, err
	}
	root = filepath.Dir(root)

	var objects []ObjectInfo
	err = filepath.WalkDir(root, func(p string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			if errors.Is(walkErr, fs.ErrNotExist) {
				return nil
			}
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".upload-") {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		objects = append(objects, l.objectInfo(bucket, p, info))
		return nil
	})
	if err != nil {
		return nil, errs.IO("list "+bucket+"/"+prefix, err)
	}
	return objects, nil
}

// Delete removes files and then prunes empty parent directories.
func (l *LocalStore) Delete(ctx context.Context, bucket string, keys ...string) error {
	bucketDir := filepath.Join(l.basePath, bucket)
	for _, key := range keys {
		p, err := l.fullPath(bucket, key)
		if err != nil {
			return err
		}
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return errs.IO("delete object "+key, err)
		}
		for dir := filepath.Dir(p); dir != bucketDir && strings.HasPrefix(dir, bucketDir); dir = filepath.Dir(dir) {
			if os.Remove(dir) != nil {
				break
			}
		}
	}
	return nil
}

// EnsureBucket creates the bucket directory.
func (l *LocalStore) EnsureBucket(ctx context.Context, bucket string) error {
	p, err := l.fullPath(bucket, "_")
	if err != nil {
		return err
	}
	return errs.IO("create bucket "+bucket, os.MkdirAll(filepath.Dir(p), 0o755))
}

// Type returns "local".
func (l *LocalStore) Type() string { return "local" }

func (l *LocalStore) objectInfo(bucket, p string, info fs.FileInfo) ObjectInfo {
	rel, _ := filepath.Rel(filepath.Join(l.basePath, bucket), p)
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%d", rel, info.Size(), info.ModTime().UnixNano())))
	return ObjectInfo{
		Key:          filepath.ToSlash(rel),
		Size:         info.Size(),
		LastModified: info.ModTime(),
		ContentType:  mime.TypeByExtension(filepath.Ext(p)),
		ETag:         hex.EncodeToString(sum[:]),
	}
}

type limitedFile struct {
	io.Reader
	f *os.File
}

func (l *limitedFile) Close() error { return l.f.Close() }

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func readerWithContext(ctx context.Context, r io.Reader) io.Reader {
	return &ctxReader{ctx: ctx, r: r}
}

func (c *ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}
