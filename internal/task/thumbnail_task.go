package task

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"Go_Pic/model"

	"gorm.io/gorm"
)

// ThumbnailMessage is the payload sent to the worker.
type ThumbnailMessage struct {
	TaskID  uint64 `json:"task_id"`
	ImageID string `json:"image_id"`
	Attempt int    `json:"attempt"`
}

type Publisher interface {
	PublishTask(ctx context.Context, body []byte) error
}

// Generator renders the thumbnail of one image.
type Generator interface {
	Generate(ctx context.Context, imageID string) (string, error)
}

type Manager struct {
	db        *gorm.DB
	publisher Publisher
	generator Generator
	now       func() time.Time
}

func NewManager(db *gorm.DB, publisher Publisher, generator Generator) *Manager {
	return &Manager{db: db, publisher: publisher, generator: generator, now: time.Now}
}

// Enqueue records a pending thumbnail task and publishes it.
func (m *Manager) Enqueue(ctx context.Context, imageID string) error {
	_, err := m.Create(ctx, imageID)
	return err
}

// Create creates and publishes a thumbnail task.
func (m *Manager) Create(ctx context.Context, imageID string) (*model.ThumbnailTask, error) {
	t := &model.ThumbnailTask{
		ImageID: imageID,
		Status:  model.TaskPending,
	}
	if err := m.db.WithContext(ctx).Create(t).Error; err != nil {
		return nil, err
	}
	body, err := json.Marshal(ThumbnailMessage{TaskID: t.ID, ImageID: imageID})
	if err != nil {
		_ = m.MarkFailed(ctx, t.ID, err)
		return nil, err
	}
	if m.publisher == nil {
		err := errors.New("task publisher unavailable")
		_ = m.MarkFailed(ctx, t.ID, err)
		return nil, err
	}
	if err := m.publisher.PublishTask(ctx, body); err != nil {
		_ = m.MarkFailed(ctx, t.ID, err)
		return nil, err
	}
	return t, nil
}

// ListForImage lists the newest tasks of an image.
func (m *Manager) ListForImage(ctx context.Context, imageID string, limit int) ([]model.ThumbnailTask, error) {
	if limit <= 0 {
		limit = 20
	}
	var tasks []model.ThumbnailTask
	err := m.db.WithContext(ctx).
		Where("image_id = ?", imageID).
		Order("created_at DESC").
		Order("id DESC").
		Limit(limit).
		Find(&tasks).Error
	return tasks, err
}

// Process executes a thumbnail task. Tasks that are already taken or finished are skipped.
func (m *Manager) Process(ctx context.Context, taskID uint64) error {
	var t model.ThumbnailTask
	if err := m.db.WithContext(ctx).Where("id = ?", taskID).First(&t).Error; err != nil {
		return err
	}
	if t.Status == model.TaskCompleted {
		return nil
	}
	startedAt := m.now()
	res := m.db.WithContext(ctx).Model(&model.ThumbnailTask{}).
		Where("id = ? AND status IN ?", taskID, []string{model.TaskPending, model.TaskRetrying}).
		Updates(map[string]interface{}{
			"status":     model.TaskRunning,
			"started_at": &startedAt,
			"error_msg":  "",
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return nil
	}

	if _, err := m.generator.Generate(ctx, t.ImageID); err != nil {
		return err
	}

	finishedAt := m.now()
	return m.db.WithContext(ctx).Model(&model.ThumbnailTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":      model.TaskCompleted,
			"finished_at": &finishedAt,
		}).Error
}

// MarkRetrying records a failed attempt that will be retried at nextRetryAt.
func (m *Manager) MarkRetrying(ctx context.Context, taskID uint64, attempt int, procErr error, nextRetryAt time.Time) error {
	return m.db.WithContext(ctx).Model(&model.ThumbnailTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":        model.TaskRetrying,
			"error_msg":     procErr.Error(),
			"retry_count":   attempt,
			"next_retry_at": &nextRetryAt,
		}).Error
}

// MarkFailed records a task as permanently failed.
func (m *Manager) MarkFailed(ctx context.Context, taskID uint64, procErr error) error {
	finishedAt := m.now()
	return m.db.WithContext(ctx).Model(&model.ThumbnailTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"status":      model.TaskFailed,
			"error_msg":   procErr.Error(),
			"finished_at": &finishedAt,
		}).Error
}

// IDLister pages through image ids in ascending order.
type IDLister interface {
	ListIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// EnqueueAll queues a thumbnail task for every image, batch ids at a time.
// It returns how many tasks were queued before any error.
func (m *Manager) EnqueueAll(ctx context.Context, images IDLister, batch int) (int, error) {
	if batch <= 0 {
		batch = 100
	}
	queued := 0
	after := ""
	for {
		ids, err := images.ListIDs(ctx, after, batch)
		if err != nil {
			return queued, err
		}
		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				return queued, err
			}
			if err := m.Enqueue(ctx, id); err != nil {
				return queued, err
			}
			queued++
		}
		if len(ids) < batch {
			return queued, nil
		}
		after = ids[len(ids)-1]
	}
}
