// Package pipeline ties the chunk receiver, assembler, transcoder and
// publisher together behind a per-track lock.
package pipeline

import (
	"context"
	"errors"
	"os"
	"strings"
	"time"

	"TrackHub/core/audio"
	"TrackHub/core/chunk"
	"TrackHub/core/lock"
	"TrackHub/core/publish"
	"TrackHub/errs"
	"TrackHub/logger"
	"TrackHub/metrics"
	"TrackHub/model"
	"TrackHub/repository"
)

// Stage names used in progress events and metrics.
const (
	StageUpload    = "upload"
	StageAssemble  = "assemble"
	StageTranscode = "transcode"
	StagePublish   = "publish"
	StageDone      = "done"
)

// Event status values.
const (
	StatusStarted   = "started"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

// Event is one progress notification for a track.
type Event struct {
	TrackID string    `json:"trackId"`
	Stage   string    `json:"stage"`
	Status  string    `json:"status"`
	Message string    `json:"message,omitempty"`
	Time    time.Time `json:"time"`
}

// Notifier receives progress events. Implementations must not block.
type Notifier interface {
	Notify(Event)
}

type nopNotifier struct{}

func (nopNotifier) Notify(Event) {}

// MergeRequest starts assembly of a staged upload.
type MergeRequest struct {
	TrackID    string
	Title      string
	CategoryID string
	OwnerID    string
	Thumbnail  *publish.Thumbnail
}

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Receiver     *chunk.Receiver
	Assembler    *chunk.Assembler
	Transcoder   audio.Transcoder
	Publisher    *publish.Publisher
	Repo         repository.TrackRepository
	Locker       lock.Locker
	Janitor      *chunk.Janitor // optional
	Notifier     Notifier       // optional
	MaxThumbnail int64
}

// Pipeline runs uploads and merges.
type Pipeline struct {
	Deps
}

// New 创建上传流水线
func New(deps Deps) *Pipeline {
	if deps.Notifier == nil {
		deps.Notifier = nopNotifier{}
	}
	return &Pipeline{Deps: deps}
}

// Upload stages chunks for trackID.
func (p *Pipeline) Upload(ctx context.Context, ownerID, trackID string, uploads []chunk.Upload) ([]string, error) {
	if ownerID == "" {
		return nil, errs.ErrUnauthorized
	}
	start := time.Now()
	names, err := p.Receiver.Receive(ctx, trackID, uploads)
	metrics.ObserveStage(StageUpload, start, err)
	if err != nil {
		return nil, err
	}

	metrics.ChunksReceived.Add(float64(len(uploads)))
	for _, u := range uploads {
		if u.Size > 0 {
			metrics.ChunkBytes.Add(float64(u.Size))
		}
	}
	if p.Janitor != nil {
		p.Janitor.Touch(trackID)
	}
	p.emit(trackID, StageUpload, StatusCompleted, strings.Join(names, ","))
	return names, nil
}

func (r MergeRequest) validate(maxThumbnail int64) error {
	if r.OwnerID == "" {
		return errs.ErrUnauthorized
	}
	if err := chunk.ValidateTrackID(r.TrackID); err != nil {
		return err
	}
	if strings.TrimSpace(r.Title) == "" || strings.TrimSpace(r.CategoryID) == "" {
		return errs.Invalid("trackId, trackName, and categoryId are required")
	}
	if r.Thumbnail != nil {
		return r.Thumbnail.Validate(maxThumbnail)
	}
	return nil
}

// Merge assembles, transcodes and publishes one track. Concurrent merges of
// the same track are serialized and a second merge of a finished track
// fails with a conflict.
func (p *Pipeline) Merge(ctx context.Context, req MergeRequest) (track *model.Track, err error) {
	defer func() {
		metrics.MergeTotal.WithLabelValues(resultLabel(err)).Inc()
	}()

	if err := req.validate(p.MaxThumbnail); err != nil {
		return nil, err
	}

	unlock, err := p.Locker.Lock(ctx, req.TrackID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	metrics.InflightMerges.Inc()
	defer metrics.InflightMerges.Dec()

	exists, err := p.Repo.ExistsByID(ctx, req.TrackID)
	if err != nil {
		return nil, errs.External("check track", err)
	}
	if exists {
		return nil, errs.Conflictf("track %s already exists", req.TrackID)
	}

	log := logger.L().With(logger.String("trackId", req.TrackID))
	begin := time.Now()

	defer func() {
		if rerr := os.RemoveAll(p.Assembler.WorkPath(req.TrackID)); rerr != nil {
			log.Warn("清理工作目录失败", logger.ErrorField(rerr))
		}
	}()

	mergedPath, err := p.stage(req.TrackID, StageAssemble, func() (string, error) {
		return p.Assembler.Assemble(ctx, req.TrackID)
	})
	if err != nil {
		return nil, err
	}

	var result audio.Result
	_, err = p.stage(req.TrackID, StageTranscode, func() (string, error) {
		var terr error
		result, terr = p.Transcoder.Transcode(ctx, mergedPath)
		metrics.TranscodeOutcomes.WithLabelValues(result.Outcome.String()).Inc()
		return result.OutputPath, terr
	})
	if err != nil {
		return nil, err
	}
	// merged input is no longer needed
	if mergedPath != result.OutputPath {
		os.Remove(mergedPath)
	}

	_, err = p.stage(req.TrackID, StagePublish, func() (string, error) {
		var perr error
		track, perr = p.Publisher.Publish(ctx, publish.Request{
			TrackID:    req.TrackID,
			Title:      req.Title,
			CategoryID: req.CategoryID,
			OwnerID:    req.OwnerID,
			Duration:   result.Duration,
			MediaPath:  result.OutputPath,
			Thumbnail:  req.Thumbnail,
		})
		return "", perr
	})
	if err != nil {
		return nil, err
	}

	p.emit(req.TrackID, StageDone, StatusCompleted, track.FilePath)
	log.Info("曲目合并流程完成",
		logger.Float64("duration", track.Duration),
		logger.Duration("elapsed", time.Since(begin)))
	return track, nil
}

// stage runs fn with progress events, metrics and logging around it.
func (p *Pipeline) stage(trackID, name string, fn func() (string, error)) (string, error) {
	p.emit(trackID, name, StatusStarted, "")
	start := time.Now()
	out, err := fn()
	metrics.ObserveStage(name, start, err)
	if err != nil {
		p.emit(trackID, name, StatusFailed, err.Error())
		logger.Error("流水线阶段失败",
			logger.String("trackId", trackID),
			logger.String("stage", name),
			logger.ErrorField(err))
		return "", err
	}
	p.emit(trackID, name, StatusCompleted, "")
	logger.Info("流水线阶段完成",
		logger.String("trackId", trackID),
		logger.String("stage", name),
		logger.Duration("elapsed", time.Since(start)))
	return out, nil
}

func (p *Pipeline) emit(trackID, stage, status, msg string) {
	p.Notifier.Notify(Event{TrackID: trackID, Stage: stage, Status: status, Message: msg, Time: time.Now()})
}

// Track fetches a published track.
func (p *Pipeline) Track(ctx context.Context, id string) (*model.Track, error) {
	if err := chunk.ValidateTrackID(id); err != nil {
		return nil, err
	}
	track, err := p.Repo.GetByID(ctx, id)
	if err != nil {
		return nil, errs.External("get track", err)
	}
	if track == nil {
		return nil, errs.NotFound("track %s not found", id)
	}
	return track, nil
}

func resultLabel(err error) string {
	if err == nil {
		return "ok"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if c := errs.Category(err); c != nil {
		return strings.ReplaceAll(c.Error(), " ", "_")
	}
	return "error"
}
