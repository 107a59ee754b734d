package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"Go_Pic/internal/logging"
	"Go_Pic/internal/repo"
	"Go_Pic/model"
	"Go_Pic/utils"
)

var (
	ErrCategoryNameTaken   = errors.New("category name already exists")
	ErrCategoryHasChildren = errors.New("category has child categories")
	ErrCategoryHasImages   = errors.New("category still has images")
	ErrInvalidParent       = errors.New("invalid parent category")
	ErrInvalidCategory     = errors.New("invalid category")
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

type CategoryStore interface {
	Create(ctx context.Context, c *model.Category) error
	FindByID(ctx context.Context, id string) (*model.Category, error)
	ExistsByName(ctx context.Context, name, excludeID string) (bool, error)
	ListActive(ctx context.Context) ([]model.Category, error)
	Children(ctx context.Context, parentID string) ([]model.Category, error)
	CountChildren(ctx context.Context, id string) (int64, error)
	CountImages(ctx context.Context, id string) (int64, error)
	Save(ctx context.Context, c *model.Category, columns ...string) error
	Delete(ctx context.Context, id string) error
}

type CategoryImageSource interface {
	CountByCategory(ctx context.Context) (map[string]int64, error)
	List(ctx context.Context, f repo.ImageFilter) ([]model.Image, int64, error)
}

type CategoryService struct {
	store    CategoryStore
	images   CategoryImageSource
	cache    utils.Cache
	logger   *logging.Logger
	cacheTTL time.Duration
}

func NewCategoryService(store CategoryStore, images CategoryImageSource, cache utils.Cache, logger *logging.Logger) *CategoryService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &CategoryService{
		store:    store,
		images:   images,
		cache:    cache,
		logger:   logger,
		cacheTTL: 10 * time.Minute,
	}
}

// Tree returns the active categories as a forest. Nodes whose parent is inactive or gone become roots.
func (s *CategoryService) Tree(ctx context.Context) ([]*model.Category, error) {
	return utils.Remember(ctx, s.cache, utils.CacheKeyCategoryTree, s.cacheTTL, s.buildTree)
}

func (s *CategoryService) buildTree(ctx context.Context) ([]*model.Category, error) {
	categories, err := s.store.ListActive(ctx)
	if err != nil {
		return nil, storageErr("list categories", err)
	}
	counts, err := s.images.CountByCategory(ctx)
	if err != nil {
		return nil, storageErr("count category images", err)
	}

	nodes := make(map[string]*model.Category, len(categories))
	for i := range categories {
		c := &categories[i]
		c.ImageCount = counts[c.ID]
		nodes[c.ID] = c
	}
	roots := make([]*model.Category, 0)
	for i := range categories {
		c := &categories[i]
		if c.ParentID != nil {
			if parent, ok := nodes[*c.ParentID]; ok && parent != c {
				parent.Children = append(parent.Children, c)
				continue
			}
		}
		roots = append(roots, c)
	}
	return roots, nil
}

func (s *CategoryService) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, utils.CacheKeyCategoryTree); err != nil {
		s.logger.Warn(ctx, "invalidate category tree failed", "error", err.Error())
	}
}

func (s *CategoryService) find(ctx context.Context, id string) (*model.Category, error) {
	c, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("find category", err)
	}
	if c == nil {
		return nil, ErrCategoryNotFound
	}
	return c, nil
}

type CategoryDetail struct {
	*model.Category
	Parent   *model.Category  `json:"parent"`
	Children []model.Category `json:"children"`
}

// Get returns a category with its parent and direct children.
func (s *CategoryService) Get(ctx context.Context, id string) (*CategoryDetail, error) {
	c, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	detail := &CategoryDetail{Category: c}
	if c.ParentID != nil {
		parent, err := s.store.FindByID(ctx, *c.ParentID)
		if err != nil {
			return nil, storageErr("find parent category", err)
		}
		detail.Parent = parent
	}
	children, err := s.store.Children(ctx, id)
	if err != nil {
		return nil, storageErr("list child categories", err)
	}
	if children == nil {
		children = []model.Category{}
	}
	detail.Children = children
	count, err := s.store.CountImages(ctx, id)
	if err != nil {
		return nil, storageErr("count category images", err)
	}
	c.ImageCount = count
	return detail, nil
}

type CategoryInput struct {
	Name        string
	Description string
	Color       string
	Icon        string
	ParentID    string
	SortOrder   int
}

func (s *CategoryService) checkName(ctx context.Context, name, excludeID string) error {
	taken, err := s.store.ExistsByName(ctx, name, excludeID)
	if err != nil {
		return storageErr("check category name", err)
	}
	if taken {
		return ErrCategoryNameTaken
	}
	return nil
}

func (s *CategoryService) Create(ctx context.Context, in CategoryInput) (*model.Category, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidCategory)
	}
	color := in.Color
	if color == "" {
		color = model.DefaultCategoryColor
	}
	if !colorPattern.MatchString(color) {
		return nil, fmt.Errorf("%w: color must look like #RRGGBB", ErrInvalidCategory)
	}
	if err := s.checkName(ctx, name, ""); err != nil {
		return nil, err
	}
	c := &model.Category{
		Name:        name,
		Description: in.Description,
		Color:       color,
		Icon:        in.Icon,
		SortOrder:   in.SortOrder,
		IsActive:    true,
	}
	if in.ParentID != "" {
		if _, err := s.find(ctx, in.ParentID); err != nil {
			if errors.Is(err, ErrCategoryNotFound) {
				return nil, ErrInvalidParent
			}
			return nil, err
		}
		parent := in.ParentID
		c.ParentID = &parent
	}
	if err := s.store.Create(ctx, c); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			return nil, ErrCategoryNameTaken
		}
		return nil, storageErr("create category", err)
	}
	s.invalidate(ctx)
	s.logger.Info(ctx, "category created", "category_id", c.ID)
	return c, nil
}

// CategoryUpdate lists the mutable fields of a category. An empty ParentID moves it to the root.
type CategoryUpdate struct {
	Name        *string
	Description *string
	Color       *string
	Icon        *string
	ParentID    *string
	SortOrder   *int
	IsActive    *bool
}

// wouldCycle reports whether parentID is id or one of its descendants.
func (s *CategoryService) wouldCycle(ctx context.Context, id, parentID string) (bool, error) {
	seen := map[string]struct{}{}
	for cur := parentID; cur != ""; {
		if cur == id {
			return true, nil
		}
		if _, ok := seen[cur]; ok {
			return true, nil
		}
		seen[cur] = struct{}{}
		c, err := s.store.FindByID(ctx, cur)
		if err != nil {
			return false, err
		}
		if c == nil || c.ParentID == nil {
			return false, nil
		}
		cur = *c.ParentID
	}
	return false, nil
}

func (s *CategoryService) Update(ctx context.Context, id string, in CategoryUpdate) (*model.Category, error) {
	c, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	var columns []string
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: name is required", ErrInvalidCategory)
		}
		if name != c.Name {
			if err := s.checkName(ctx, name, id); err != nil {
				return nil, err
			}
		}
		c.Name = name
		columns = append(columns, "name")
	}
	if in.Description != nil {
		c.Description = *in.Description
		columns = append(columns, "description")
	}
	if in.Color != nil {
		if !colorPattern.MatchString(*in.Color) {
			return nil, fmt.Errorf("%w: color must look like #RRGGBB", ErrInvalidCategory)
		}
		c.Color = *in.Color
		columns = append(columns, "color")
	}
	if in.Icon != nil {
		c.Icon = *in.Icon
		columns = append(columns, "icon")
	}
	if in.ParentID != nil {
		if *in.ParentID == "" {
			c.ParentID = nil
		} else {
			if _, err := s.find(ctx, *in.ParentID); err != nil {
				if errors.Is(err, ErrCategoryNotFound) {
					return nil, ErrInvalidParent
				}
				return nil, err
			}
			cycle, err := s.wouldCycle(ctx, id, *in.ParentID)
			if err != nil {
				return nil, storageErr("check category parent", err)
			}
			if cycle {
				return nil, ErrInvalidParent
			}
			parent := *in.ParentID
			c.ParentID = &parent
		}
		columns = append(columns, "parent_id")
	}
	if in.SortOrder != nil {
		c.SortOrder = *in.SortOrder
		columns = append(columns, "sort_order")
	}
	if in.IsActive != nil {
		c.IsActive = *in.IsActive
		columns = append(columns, "is_active")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidCategory)
	}
	if err := s.store.Save(ctx, c, columns...); err != nil {
		if errors.Is(err, repo.ErrDuplicateKey) {
			return nil, ErrCategoryNameTaken
		}
		return nil, storageErr("update category", err)
	}
	s.invalidate(ctx)
	return c, nil
}

// Delete removes an empty leaf category.
func (s *CategoryService) Delete(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	children, err := s.store.CountChildren(ctx, id)
	if err != nil {
		return storageErr("count child categories", err)
	}
	if children > 0 {
		return ErrCategoryHasChildren
	}
	images, err := s.store.CountImages(ctx, id)
	if err != nil {
		return storageErr("count category images", err)
	}
	if images > 0 {
		return ErrCategoryHasImages
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storageErr("delete category", err)
	}
	s.invalidate(ctx)
	s.logger.Info(ctx, "category deleted", "category_id", id)
	return nil
}

// Images pages through the public images of a category.
func (s *CategoryService) Images(ctx context.Context, id string, page, limit int, sortBy, sortOrder string) (*ImageList, error) {
	if _, err := s.find(ctx, id); err != nil {
		return nil, err
	}
	page, limit = normalizePage(page, limit, 100)
	column, desc := sanitizeOrder(imageOrderBy, sortBy, sortOrder)
	images, total, err := s.images.List(ctx, repo.ImageFilter{
		Page:       page,
		Limit:      limit,
		OrderBy:    column,
		Desc:       desc,
		CategoryID: id,
		PublicOnly: true,
	})
	if err != nil {
		return nil, storageErr("list category images", err)
	}
	if images == nil {
		images = []model.Image{}
	}
	return &ImageList{Images: images, Pagination: newPagination(page, limit, total)}, nil
}
