package model

import "time"

// ShareAccessLog stores successful accesses to share links.
type ShareAccessLog struct {
	ID uint64 `gorm:"primaryKey"`

	ShareLinkID string `gorm:"column:share_link_id;type:varchar(36);not null;index"`

	IP        string `gorm:"column:ip;type:varchar(64);not null;default:''"`
	UserAgent string `gorm:"column:user_agent;type:text"`

	AccessedAt time.Time `gorm:"column:accessed_at;not null"`
}

// TableName returns the database table name.
func (ShareAccessLog) TableName() string {
	return "share_access_log"
}

// Entry converts the row into its in-memory form.
func (l ShareAccessLog) Entry() AccessEntry {
	return AccessEntry{AccessedAt: l.AccessedAt, IP: l.IP, UserAgent: l.UserAgent}
}
