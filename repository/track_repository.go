package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TrackHub/model"

	"gorm.io/gorm"
)

// TrackRepository defines the interface for track data operations.
type TrackRepository interface {
	Create(ctx context.Context, track *model.Track) error
	// GetByID returns nil, nil when the track does not exist.
	GetByID(ctx context.Context, id string) (*model.Track, error)
	ExistsByID(ctx context.Context, id string) (bool, error)
}

// gormTrackRepository GORM 实现
type gormTrackRepository struct {
	db *gorm.DB
}

// NewGormTrackRepository 创建 GORM 曲目仓库
func NewGormTrackRepository(db *gorm.DB) TrackRepository {
	return &gormTrackRepository{db: db}
}

// Create adds a new track row. CreatedAt is filled when zero.
func (r *gormTrackRepository) Create(ctx context.Context, track *model.Track) error {
	if track == nil {
		return fmt.Errorf("track must not be nil")
	}
	if track.CreatedAt.IsZero() {
		track.CreatedAt = time.Now()
	}
	if err := r.db.WithContext(ctx).Create(track).Error; err != nil {
		return fmt.Errorf("failed to create track %s: %w", track.ID, err)
	}
	return nil
}

// GetByID 根据ID获取曲目
func (r *gormTrackRepository) GetByID(ctx context.Context, id string) (*model.Track, error) {
	var track model.Track
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&track).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get track %s: %w", id, err)
	}
	return &track, nil
}

// ExistsByID 检查曲目ID是否存在
func (r *gormTrackRepository) ExistsByID(ctx context.Context, id string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&model.Track{}).
		Where("id = ?", id).
		Count(&count).Error
	return count > 0, err
}
