package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

type ShareType string

const (
	ShareSingle  ShareType = "single"
	ShareBatch   ShareType = "batch"
	ShareGallery ShareType = "gallery"
)

// MaxAccessLogEntries caps the access history kept per link.
const MaxAccessLogEntries = 100

// Valid reports whether t is a known share type.
func (t ShareType) Valid() bool {
	switch t {
	case ShareSingle, ShareBatch, ShareGallery:
		return true
	}
	return false
}

type AccessEntry struct {
	AccessedAt time.Time `json:"accessed_at"`
	IP         string    `json:"ip"`
	UserAgent  string    `json:"user_agent"`
}

type ShareLink struct {
	ID    string `gorm:"primaryKey;type:varchar(36)" json:"id"`
	Token string `gorm:"column:token;type:varchar(64);uniqueIndex;not null" json:"token"`

	ImageID   *string   `gorm:"column:image_id;type:varchar(36);index" json:"image_id,omitempty"`
	ImageIDs  []string  `gorm:"column:image_ids;type:text;serializer:json" json:"image_ids,omitempty"`
	ShareType ShareType `gorm:"column:share_type;type:varchar(16);not null" json:"share_type"`

	Title       string `gorm:"column:title;type:varchar(255);not null;default:''" json:"title"`
	Description string `gorm:"column:description;type:text" json:"description"`

	PasswordHash *string    `gorm:"column:password;type:varchar(255)" json:"-"`
	ExpiresAt    *time.Time `gorm:"column:expires_at;index" json:"expires_at"`
	MaxViews     *int       `gorm:"column:max_views" json:"max_views"`

	ViewCount     int `gorm:"column:view_count;not null;default:0" json:"view_count"`
	DownloadCount int `gorm:"column:download_count;not null;default:0" json:"download_count"`

	// bool columns carry no default tag so that false survives Create.
	IsActive      bool `gorm:"column:is_active;not null;index" json:"is_active"`
	AllowDownload bool `gorm:"column:allow_download;not null" json:"allow_download"`

	CreatorIP      string     `gorm:"column:creator_ip;type:varchar(64);not null;default:''" json:"-"`
	LastAccessedAt *time.Time `gorm:"column:last_accessed_at" json:"last_accessed_at"`

	AccessLog []AccessEntry `gorm:"-" json:"-"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (ShareLink) TableName() string {
	return "share_link"
}

// BeforeCreate assigns a UUID primary key.
func (s *ShareLink) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.NewString()
	}
	return nil
}

// TargetRefs returns the image ids the link grants access to, in share order.
func (s *ShareLink) TargetRefs() []string {
	if s.ShareType == ShareSingle {
		if s.ImageID == nil {
			return nil
		}
		return []string{*s.ImageID}
	}
	return s.ImageIDs
}

// HasTarget reports whether imageID is one of the link's targets.
func (s *ShareLink) HasTarget(imageID string) bool {
	for _, id := range s.TargetRefs() {
		if id == imageID {
			return true
		}
	}
	return false
}

func (s *ShareLink) HasPassword() bool {
	return s.PasswordHash != nil && *s.PasswordHash != ""
}

// IsExpired reports whether now is strictly after the expiry time.
func (s *ShareLink) IsExpired(now time.Time) bool {
	return s.ExpiresAt != nil && now.After(*s.ExpiresAt)
}

func (s *ShareLink) IsViewLimitReached() bool {
	return s.MaxViews != nil && s.ViewCount >= *s.MaxViews
}

// CanAccess is true for an active link that is neither expired nor exhausted.
func (s *ShareLink) CanAccess(now time.Time) bool {
	return s.IsActive && !s.IsExpired(now) && !s.IsViewLimitReached()
}

// RecordView mirrors a persisted view claim on the in-memory link.
func (s *ShareLink) RecordView(now time.Time) {
	at := now
	s.LastAccessedAt = &at
	s.ViewCount++
}

func (s *ShareLink) RecordDownload() {
	s.DownloadCount++
}

// AppendAccess adds an entry and evicts the oldest ones beyond MaxAccessLogEntries.
func (s *ShareLink) AppendAccess(now time.Time, ip, userAgent string) {
	s.AccessLog = append(s.AccessLog, AccessEntry{AccessedAt: now, IP: ip, UserAgent: userAgent})
	if over := len(s.AccessLog) - MaxAccessLogEntries; over > 0 {
		s.AccessLog = append([]AccessEntry(nil), s.AccessLog[over:]...)
	}
}
