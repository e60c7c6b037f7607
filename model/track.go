package model

import "time"

// Track represents a published audio track.
// The ID is the identifier the client chose when it started the chunked
// upload, so the upload session, the object keys and the row share one key.
type Track struct {
	ID            string    `json:"id" gorm:"primaryKey;size:36"`
	Title         string    `json:"title" gorm:"size:255;not null"`
	Duration      float64   `json:"duration"`                               // Duration in seconds
	FilePath      string    `json:"filePath" gorm:"size:767;not null"`      // media object key in the track bucket
	ThumbnailPath string    `json:"thumbnailPath" gorm:"size:767"`          // thumbnail object key, empty if none
	OwnerID       string    `json:"ownerId" gorm:"size:64;index;not null"`  // owning profile
	CategoryID    string    `json:"categoryId" gorm:"size:64;index;not null"`
	ViewCount     int64     `json:"viewCount" gorm:"default:0"`
	CreatedAt     time.Time `json:"createdAt"`
}

// TableName 指定表名
func (Track) TableName() string {
	return "tracks"
}
