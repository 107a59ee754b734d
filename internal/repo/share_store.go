package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"Go_Pic/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrDuplicateKey   = errors.New("duplicate key")
	ErrUnknownCounter = errors.New("unknown counter")
)

var shareCounters = map[string]struct{}{
	"view_count":     {},
	"download_count": {},
}

type ShareStore struct {
	db *gorm.DB
}

func NewShareStore(db *gorm.DB) *ShareStore {
	return &ShareStore{db: db}
}

// Create inserts a link in a single statement. A token collision returns ErrDuplicateKey.
func (s *ShareStore) Create(ctx context.Context, link *model.ShareLink) error {
	err := s.db.WithContext(ctx).Create(link).Error
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// FindByToken returns nil when no link has the token.
func (s *ShareStore) FindByToken(ctx context.Context, token string) (*model.ShareLink, error) {
	return s.findOne(ctx, "token = ?", token)
}

// FindByID returns nil when the link does not exist.
func (s *ShareStore) FindByID(ctx context.Context, id string) (*model.ShareLink, error) {
	return s.findOne(ctx, "id = ?", id)
}

func (s *ShareStore) findOne(ctx context.Context, query string, arg interface{}) (*model.ShareLink, error) {
	var link model.ShareLink
	err := s.db.WithContext(ctx).Where(query, arg).First(&link).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &link, nil
}

// IncrementCounter adds one to a counter column at the database.
func (s *ShareStore) IncrementCounter(ctx context.Context, id, field string) error {
	if _, ok := shareCounters[field]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCounter, field)
	}
	return s.db.WithContext(ctx).Model(&model.ShareLink{}).
		Where("id = ?", id).
		UpdateColumn(field, gorm.Expr(field+" + 1")).Error
}

// ClaimView increments view_count only while the link is still accessible at now.
// It reports false when the guard rejected the claim.
func (s *ShareStore) ClaimView(ctx context.Context, id string, now time.Time) (bool, error) {
	res := s.db.WithContext(ctx).Model(&model.ShareLink{}).
		Where("id = ? AND is_active = ?", id, true).
		Where("(expires_at IS NULL OR expires_at >= ?)", now).
		Where("(max_views IS NULL OR view_count < max_views)").
		UpdateColumns(map[string]interface{}{
			"view_count":       gorm.Expr("view_count + 1"),
			"last_accessed_at": now,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// AppendAccess records one access and trims the link's history to the newest capacity rows.
func (s *ShareStore) AppendAccess(ctx context.Context, id string, entry model.AccessEntry, capacity int) error {
	if capacity <= 0 {
		capacity = model.MaxAccessLogEntries
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var owner model.ShareLink
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Select("id").
			Where("id = ?", id).
			First(&owner).Error; err != nil {
			return err
		}
		row := &model.ShareAccessLog{
			ShareLinkID: id,
			IP:          entry.IP,
			UserAgent:   entry.UserAgent,
			AccessedAt:  entry.AccessedAt,
		}
		if err := tx.Create(row).Error; err != nil {
			return err
		}
		var cutoff []uint64
		if err := tx.Model(&model.ShareAccessLog{}).
			Where("share_link_id = ?", id).
			Order("id DESC").
			Offset(capacity).
			Limit(1).
			Pluck("id", &cutoff).Error; err != nil {
			return err
		}
		if len(cutoff) == 0 {
			return nil
		}
		return tx.Where("share_link_id = ? AND id <= ?", id, cutoff[0]).
			Delete(&model.ShareAccessLog{}).Error
	})
}

// ListAccessLog returns the link's history, oldest first.
func (s *ShareStore) ListAccessLog(ctx context.Context, id string) ([]model.AccessEntry, error) {
	var rows []model.ShareAccessLog
	if err := s.db.WithContext(ctx).
		Where("share_link_id = ?", id).
		Order("id ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	entries := make([]model.AccessEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.Entry())
	}
	return entries, nil
}

// List pages through links. orderBy must already be a known column.
func (s *ShareStore) List(ctx context.Context, page, limit int, orderBy string, desc bool) ([]model.ShareLink, int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).Model(&model.ShareLink{}).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var links []model.ShareLink
	err := s.db.WithContext(ctx).
		Order(clause.OrderByColumn{Column: clause.Column{Name: orderBy}, Desc: desc}).
		Offset((page - 1) * limit).
		Limit(limit).
		Find(&links).Error
	if err != nil {
		return nil, 0, err
	}
	return links, total, nil
}

func (s *ShareStore) SetActive(ctx context.Context, id string, active bool) error {
	return s.db.WithContext(ctx).Model(&model.ShareLink{}).
		Where("id = ?", id).
		Update("is_active", active).Error
}

// Delete removes a link and its access history.
func (s *ShareStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return deleteShareLinks(tx, []string{id})
	})
}

func deleteShareLinks(tx *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := tx.Where("share_link_id IN ?", ids).Delete(&model.ShareAccessLog{}).Error; err != nil {
		return err
	}
	return tx.Where("id IN ?", ids).Delete(&model.ShareLink{}).Error
}
