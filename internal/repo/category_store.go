package repo

import (
	"context"
	"errors"
	"fmt"

	"Go_Pic/model"

	"gorm.io/gorm"
)

type CategoryStore struct {
	db *gorm.DB
}

func NewCategoryStore(db *gorm.DB) *CategoryStore {
	return &CategoryStore{db: db}
}

// Create inserts a category. A name clash returns ErrDuplicateKey.
func (s *CategoryStore) Create(ctx context.Context, c *model.Category) error {
	err := s.db.WithContext(ctx).Create(c).Error
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// FindByID returns nil when the category does not exist.
func (s *CategoryStore) FindByID(ctx context.Context, id string) (*model.Category, error) {
	var c model.Category
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&c).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ExistsByName reports whether another category (not excludeID) already uses name.
func (s *CategoryStore) ExistsByName(ctx context.Context, name, excludeID string) (bool, error) {
	var count int64
	query := s.db.WithContext(ctx).Model(&model.Category{}).Where("name = ?", name)
	if excludeID != "" {
		query = query.Where("id <> ?", excludeID)
	}
	if err := query.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// ListActive returns active categories ordered by sort_order then name.
func (s *CategoryStore) ListActive(ctx context.Context) ([]model.Category, error) {
	var categories []model.Category
	err := s.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("sort_order ASC").
		Order("name ASC").
		Find(&categories).Error
	return categories, err
}

func (s *CategoryStore) Children(ctx context.Context, parentID string) ([]model.Category, error) {
	var children []model.Category
	err := s.db.WithContext(ctx).
		Where("parent_id = ?", parentID).
		Order("sort_order ASC").
		Order("name ASC").
		Find(&children).Error
	return children, err
}

func (s *CategoryStore) CountChildren(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Category{}).Where("parent_id = ?", id).Count(&count).Error
	return count, err
}

func (s *CategoryStore) CountImages(ctx context.Context, id string) (int64, error) {
	var count int64
	err := s.db.WithContext(ctx).Model(&model.Image{}).Where("category_id = ?", id).Count(&count).Error
	return count, err
}

// Save writes the named columns of c.
func (s *CategoryStore) Save(ctx context.Context, c *model.Category, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	err := s.db.WithContext(ctx).Model(c).Select(columns).Updates(c).Error
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

func (s *CategoryStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&model.Category{}).Error
}
