package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ImageMetadata struct {
	Format string `json:"format,omitempty"`
}

type Image struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	Filename       string `gorm:"column:filename;type:varchar(255);not null" json:"filename"`
	StoredFilename string `gorm:"column:stored_filename;type:varchar(255);not null;uniqueIndex" json:"stored_filename"`
	MimeType       string `gorm:"column:mime_type;type:varchar(64);not null;index" json:"mime_type"`
	Size           int64  `gorm:"column:size;not null" json:"size"`
	Width          int    `gorm:"column:width" json:"width"`
	Height         int    `gorm:"column:height" json:"height"`
	ThumbnailKey   string `gorm:"column:thumbnail_key;type:varchar(255);not null;default:''" json:"thumbnail_key"`

	Description string        `gorm:"column:description;type:text" json:"description"`
	Tags        []string      `gorm:"column:tags;type:text;serializer:json" json:"tags"`
	Metadata    ImageMetadata `gorm:"column:metadata;type:text;serializer:json" json:"metadata"`

	UploadIP string `gorm:"column:upload_ip;type:varchar(64);not null;default:''" json:"-"`
	IsPublic bool   `gorm:"column:is_public;not null;index" json:"is_public"`

	ViewCount     int `gorm:"column:view_count;not null;default:0" json:"view_count"`
	DownloadCount int `gorm:"column:download_count;not null;default:0" json:"download_count"`

	CategoryID *string `gorm:"column:category_id;type:varchar(36);index" json:"category_id"`

	CreatedAt time.Time `gorm:"index" json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Image) TableName() string {
	return "image"
}

// BeforeCreate assigns a UUID primary key.
func (i *Image) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.NewString()
	}
	return nil
}
