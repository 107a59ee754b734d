package model

import "time"

const (
	TaskPending   = "pending"
	TaskRunning   = "running"
	TaskRetrying  = "retrying"
	TaskCompleted = "completed"
	TaskFailed    = "failed"
)

type ThumbnailTask struct {
	ID uint64 `gorm:"primaryKey;autoIncrement" json:"id"`

	ImageID string `gorm:"column:image_id;type:varchar(36);index;not null" json:"image_id"`

	Status      string     `gorm:"column:status;type:varchar(32);index;not null" json:"status"`
	ErrorMsg    string     `gorm:"column:error_msg;type:text" json:"error_msg"`
	RetryCount  int        `gorm:"column:retry_count;default:0" json:"retry_count"`
	NextRetryAt *time.Time `gorm:"column:next_retry_at" json:"next_retry_at"`
	StartedAt   *time.Time `gorm:"column:started_at" json:"started_at"`
	FinishedAt  *time.Time `gorm:"column:finished_at" json:"finished_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (ThumbnailTask) TableName() string {
	return "thumbnail_task"
}
