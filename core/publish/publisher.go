// Package publish uploads finished track artifacts to the object store and
// records the track row.
package publish

import (
	"bytes"
	"context"
	"fmt"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"time"

	"TrackHub/core/audio"
	"TrackHub/errs"
	"TrackHub/logger"
	"TrackHub/model"
	"TrackHub/repository"
	"TrackHub/storage"
)

// MediaContentType is the content type of every published media object.
const MediaContentType = "audio/aac"

// Thumbnail is an optional cover image supplied with a merge request.
type Thumbnail struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Validate checks the content type and size of the image.
func (t *Thumbnail) Validate(maxSize int64) error {
	if len(t.Data) == 0 {
		return errs.Invalid("thumbnail is empty")
	}
	mediaType, _, err := mime.ParseMediaType(t.ContentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return errs.Invalid("only image files are allowed for thumbnails")
	}
	if maxSize > 0 && int64(len(t.Data)) > maxSize {
		return errs.Invalid("thumbnail exceeds %d bytes", maxSize)
	}
	return nil
}

// Ext returns the lowercase file extension without the dot, "jpg" when the
// filename has none.
func (t *Thumbnail) Ext() string {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(t.Filename)), ".")
	if ext == "" || strings.ContainsAny(ext, `/\`) {
		return "jpg"
	}
	return ext
}

// Request carries everything needed to publish one track.
type Request struct {
	TrackID    string
	Title      string
	CategoryID string
	OwnerID    string
	Duration   float64
	MediaPath  string // local transcoded file
	Thumbnail  *Thumbnail
}

// MediaKey is the object key of a track's media file.
func MediaKey(trackID string) string {
	return fmt.Sprintf("%s/%s.%s", trackID, trackID, audio.DeliveryExt)
}

// ThumbnailKey is the object key of a track's thumbnail.
func ThumbnailKey(trackID, ext string) string {
	return fmt.Sprintf("%s/thumbnail.%s", trackID, ext)
}

// Publisher moves final bytes to object storage and materializes the track row.
type Publisher struct {
	store           storage.Store
	repo            repository.TrackRepository
	trackBucket     string
	thumbnailBucket string
	maxThumbnail    int64
}

// NewPublisher 创建发布器
func NewPublisher(store storage.Store, repo repository.TrackRepository, trackBucket, thumbnailBucket string, maxThumbnail int64) *Publisher {
	return &Publisher{
		store:           store,
		repo:            repo,
		trackBucket:     trackBucket,
		thumbnailBucket: thumbnailBucket,
		maxThumbnail:    maxThumbnail,
	}
}

type uploaded struct {
	bucket, key string
}

// Publish uploads the thumbnail (if any) and the media file, then creates
// the track row. When the row cannot be written the uploaded objects are
// deleted again.
func (p *Publisher) Publish(ctx context.Context, req Request) (*model.Track, error) {
	start := time.Now()
	var done []uploaded

	var thumbnailPath string
	if req.Thumbnail != nil {
		if err := req.Thumbnail.Validate(p.maxThumbnail); err != nil {
			return nil, err
		}
		key, err := p.replaceThumbnail(ctx, req.TrackID, req.Thumbnail)
		if err != nil {
			return nil, err
		}
		thumbnailPath = key
		done = append(done, uploaded{p.thumbnailBucket, key})
	}

	mediaKey, err := p.uploadMedia(ctx, req.TrackID, req.MediaPath)
	if err != nil {
		p.compensate(req.TrackID, done)
		return nil, err
	}
	done = append(done, uploaded{p.trackBucket, mediaKey})

	track := &model.Track{
		ID:            req.TrackID,
		Title:         req.Title,
		Duration:      req.Duration,
		FilePath:      mediaKey,
		ThumbnailPath: thumbnailPath,
		OwnerID:       req.OwnerID,
		CategoryID:    req.CategoryID,
	}
	if err := p.repo.Create(ctx, track); err != nil {
		p.compensate(req.TrackID, done)
		return nil, errs.External("save track metadata", err)
	}

	logger.Info("曲目发布成功",
		logger.String("trackId", req.TrackID),
		logger.String("filePath", mediaKey),
		logger.String("thumbnailPath", thumbnailPath),
		logger.Duration("elapsed", time.Since(start)))
	return track, nil
}

// replaceThumbnail deletes every object under the track's thumbnail prefix
// and uploads the new image.
func (p *Publisher) replaceThumbnail(ctx context.Context, trackID string, th *Thumbnail) (string, error) {
	existing, err := p.store.List(ctx, p.thumbnailBucket, trackID+"/")
	if err != nil {
		return "", fmt.Errorf("failed to list thumbnails: %w", err)
	}
	if len(existing) > 0 {
		keys := make([]string, 0, len(existing))
		for _, obj := range existing {
			keys = append(keys, obj.Key)
		}
		if err := p.store.Delete(ctx, p.thumbnailBucket, keys...); err != nil {
			return "", fmt.Errorf("failed to delete old thumbnail: %w", err)
		}
		logger.Debug("已删除旧封面",
			logger.String("trackId", trackID),
			logger.Strings("keys", keys))
	}

	key := ThumbnailKey(trackID, th.Ext())
	if err := p.store.Put(ctx, p.thumbnailBucket, key, bytes.NewReader(th.Data), int64(len(th.Data)), th.ContentType); err != nil {
		return "", fmt.Errorf("failed to upload new thumbnail: %w", err)
	}
	return key, nil
}

func (p *Publisher) uploadMedia(ctx context.Context, trackID, mediaPath string) (string, error) {
	f, err := os.Open(mediaPath)
	if err != nil {
		return "", errs.IO("open transcoded file", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", errs.IO("stat transcoded file", err)
	}

	key := MediaKey(trackID)
	if err := p.store.Put(ctx, p.trackBucket, key, f, info.Size(), MediaContentType); err != nil {
		return "", fmt.Errorf("failed to upload track: %w", err)
	}
	return key, nil
}

// compensate removes objects uploaded by a publish whose later step
// failed. Failures are logged only.
func (p *Publisher) compensate(trackID string, done []uploaded) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, u := range done {
		if err := p.store.Delete(ctx, u.bucket, u.key); err != nil {
			logger.Error("回滚已上传对象失败",
				logger.String("trackId", trackID),
				logger.String("bucket", u.bucket),
				logger.String("key", u.key),
				logger.ErrorField(err))
			continue
		}
		logger.Warn("已回滚上传对象",
			logger.String("trackId", trackID),
			logger.String("bucket", u.bucket),
			logger.String("key", u.key))
	}
}
