package chunk

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"TrackHub/core/lock"
	"TrackHub/errs"
	"TrackHub/logger"
	"TrackHub/metrics"

	"github.com/fsnotify/fsnotify"
)

// Janitor removes upload sessions that stopped receiving chunks. An
// abandoned session never reaches the assembler, so nothing else deletes it.
type Janitor struct {
	stagingDir string
	ttl        time.Duration
	locker     lock.Locker
	now        func() time.Time

	mu       sync.Mutex
	activity map[string]time.Time
}

// NewJanitor creates a Janitor. locker may be nil; when set, a session is
// only removed while its merge lock is free.
func NewJanitor(stagingDir string, ttl time.Duration, locker lock.Locker) *Janitor {
	return &Janitor{
		stagingDir: stagingDir,
		ttl:        ttl,
		locker:     locker,
		now:        time.Now,
		activity:   make(map[string]time.Time),
	}
}

// Touch records activity for trackID.
func (j *Janitor) Touch(trackID string) {
	j.mu.Lock()
	j.activity[trackID] = j.now()
	j.mu.Unlock()
}

// lastActivity is the later of the recorded activity and the newest mtime
// inside the session directory.
func (j *Janitor) lastActivity(trackID, dir string) time.Time {
	j.mu.Lock()
	last := j.activity[trackID]
	j.mu.Unlock()

	if info, err := os.Stat(dir); err == nil && info.ModTime().After(last) {
		last = info.ModTime()
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return last
	}
	for _, e := range entries {
		if info, err := e.Info(); err == nil && info.ModTime().After(last) {
			last = info.ModTime()
		}
	}
	return last
}

// Sweep deletes sessions idle for longer than the TTL and returns their ids.
func (j *Janitor) Sweep(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(j.stagingDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errs.IO("read staging root", err)
	}

	cutoff := j.now().Add(-j.ttl)
	var removed []string
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		trackID := e.Name()
		dir := filepath.Join(j.stagingDir, trackID)
		if j.lastActivity(trackID, dir).After(cutoff) {
			continue
		}
		if ok := j.removeSession(ctx, trackID, dir); ok {
			removed = append(removed, trackID)
		}
	}
	return removed, nil
}

func (j *Janitor) removeSession(ctx context.Context, trackID, dir string) bool {
	if j.locker != nil {
		lctx, cancel := context.WithTimeout(ctx, time.Second)
		unlock, err := j.locker.Lock(lctx, trackID)
		cancel()
		if err != nil {
			logger.Debug("会话正在合并，跳过清理", logger.String("trackId", trackID))
			return false
		}
		defer unlock()
	}

	if err := os.RemoveAll(dir); err != nil {
		logger.Warn("清理过期分片会话失败",
			logger.String("trackId", trackID),
			logger.ErrorField(err))
		return false
	}
	j.mu.Lock()
	delete(j.activity, trackID)
	j.mu.Unlock()
	metrics.SessionsSwept.Inc()

	logger.Info("已清理过期分片会话", logger.String("trackId", trackID))
	return true
}

// Run watches the staging root with fsnotify and sweeps every interval
// until ctx is done.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) error {
	if err := os.MkdirAll(j.stagingDir, 0o755); err != nil {
		return errs.IO("create staging root", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(j.stagingDir); err != nil {
		return err
	}
	// fsnotify is not recursive; watch existing sessions too
	if entries, err := os.ReadDir(j.stagingDir); err == nil {
		for _, e := range entries {
			if e.IsDir() {
				_ = watcher.Add(filepath.Join(j.stagingDir, e.Name()))
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	logger.Info("分片清理任务已启动",
		logger.String("stagingDir", j.stagingDir),
		logger.Duration("ttl", j.ttl))

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			j.handleEvent(watcher, event)
		case werr, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("文件监听错误", logger.ErrorField(werr))
		case <-ticker.C:
			if _, err := j.Sweep(ctx); err != nil {
				logger.Error("清理过期分片会话失败", logger.ErrorField(err))
			}
		}
	}
}

func (j *Janitor) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	rel, err := filepath.Rel(j.stagingDir, event.Name)
	if err != nil || rel == "." {
		return
	}
	trackID := rel
	if d := filepath.Dir(rel); d != "." {
		trackID = d
	}

	if event.Op&fsnotify.Remove != 0 && trackID == rel {
		j.mu.Lock()
		delete(j.activity, trackID)
		j.mu.Unlock()
		return
	}
	if event.Op&fsnotify.Create != 0 && trackID == rel {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = watcher.Add(event.Name)
		}
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) != 0 {
		j.Touch(trackID)
	}
}
