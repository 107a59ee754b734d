package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"Go_Pic/model"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var imageCounters = map[string]struct{}{
	"view_count":     {},
	"download_count": {},
}

type ImageFilter struct {
	Page       int
	Limit      int
	OrderBy    string
	Desc       bool
	Search     string
	MimeType   string
	CategoryID string
	Tags       []string
	PublicOnly bool

	CreatedFrom *time.Time
	CreatedTo   *time.Time
	SizeMin     *int64
	SizeMax     *int64
	WidthMin    *int
	WidthMax    *int
	HeightMin   *int
	HeightMax   *int
}

type TagCount struct {
	Tag   string `json:"tag"`
	Count int64  `json:"count"`
}

type MimeTypeCount struct {
	MimeType string `json:"mime_type"`
	Count    int64  `json:"count"`
}

type ImageStats struct {
	TotalImages    int64           `json:"total_images"`
	TotalSize      int64           `json:"total_size"`
	TotalViews     int64           `json:"total_views"`
	TotalDownloads int64           `json:"total_downloads"`
	PublicImages   int64           `json:"public_images"`
	ByMimeType     []MimeTypeCount `json:"by_mime_type"`
}

type ImageStore struct {
	db *gorm.DB
}

func NewImageStore(db *gorm.DB) *ImageStore {
	return &ImageStore{db: db}
}

func (s *ImageStore) Create(ctx context.Context, img *model.Image) error {
	err := s.db.WithContext(ctx).Create(img).Error
	if IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	return err
}

// FindByID returns nil when the image does not exist.
func (s *ImageStore) FindByID(ctx context.Context, id string) (*model.Image, error) {
	var img model.Image
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&img).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &img, nil
}

// ResolveMany loads the images that still exist among ids, in no particular order.
func (s *ImageStore) ResolveMany(ctx context.Context, ids []string) ([]model.Image, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var images []model.Image
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&images).Error; err != nil {
		return nil, err
	}
	return images, nil
}

func escapeLike(v string) string {
	r := strings.NewReplacer("!", "!!", "%", "!%", "_", "!_")
	return r.Replace(v)
}

// jsonMemberPattern matches v as an element of a JSON string array. The element is encoded
// with json.Marshal, as the serializer does, so escaped runes like \u0026 line up.
func jsonMemberPattern(v string) string {
	encoded, err := json.Marshal(v)
	if err != nil {
		return `%"` + escapeLike(v) + `"%`
	}
	return "%" + escapeLike(string(encoded)) + "%"
}

func (s *ImageStore) filtered(ctx context.Context, f ImageFilter) *gorm.DB {
	query := s.db.WithContext(ctx).Model(&model.Image{})
	if f.PublicOnly {
		query = query.Where("is_public = ?", true)
	}
	if search := strings.TrimSpace(f.Search); search != "" {
		pattern := "%" + escapeLike(search) + "%"
		query = query.Where(`(filename LIKE ? ESCAPE '!' OR description LIKE ? ESCAPE '!')`, pattern, pattern)
	}
	if f.MimeType != "" {
		query = query.Where("mime_type = ?", f.MimeType)
	}
	if f.CategoryID != "" {
		query = query.Where("category_id = ?", f.CategoryID)
	}
	if len(f.Tags) > 0 {
		// any-of: an image matches when it carries at least one of the tags
		conds := make([]string, 0, len(f.Tags))
		args := make([]interface{}, 0, len(f.Tags))
		for _, tag := range f.Tags {
			conds = append(conds, `tags LIKE ? ESCAPE '!'`)
			args = append(args, jsonMemberPattern(tag))
		}
		query = query.Where("("+strings.Join(conds, " OR ")+")", args...)
	}
	if f.CreatedFrom != nil {
		query = query.Where("created_at >= ?", *f.CreatedFrom)
	}
	if f.CreatedTo != nil {
		query = query.Where("created_at <= ?", *f.CreatedTo)
	}
	if f.SizeMin != nil {
		query = query.Where("size >= ?", *f.SizeMin)
	}
	if f.SizeMax != nil {
		query = query.Where("size <= ?", *f.SizeMax)
	}
	if f.WidthMin != nil {
		query = query.Where("width >= ?", *f.WidthMin)
	}
	if f.WidthMax != nil {
		query = query.Where("width <= ?", *f.WidthMax)
	}
	if f.HeightMin != nil {
		query = query.Where("height >= ?", *f.HeightMin)
	}
	if f.HeightMax != nil {
		query = query.Where("height <= ?", *f.HeightMax)
	}
	return query
}

// List pages through images matching f. f.OrderBy must already be a known column.
func (s *ImageStore) List(ctx context.Context, f ImageFilter) ([]model.Image, int64, error) {
	var total int64
	if err := s.filtered(ctx, f).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var images []model.Image
	err := s.filtered(ctx, f).
		Order(clause.OrderByColumn{Column: clause.Column{Name: f.OrderBy}, Desc: f.Desc}).
		Offset((f.Page - 1) * f.Limit).
		Limit(f.Limit).
		Find(&images).Error
	if err != nil {
		return nil, 0, err
	}
	return images, total, nil
}

// Save writes the named columns of img.
func (s *ImageStore) Save(ctx context.Context, img *model.Image, columns ...string) error {
	if len(columns) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(img).Select(columns).Updates(img).Error
}

func (s *ImageStore) SetThumbnail(ctx context.Context, id, key string) error {
	return s.db.WithContext(ctx).Model(&model.Image{}).
		Where("id = ?", id).
		Update("thumbnail_key", key).Error
}

// IncrementCounters adds one to field on every image in ids.
func (s *ImageStore) IncrementCounters(ctx context.Context, ids []string, field string) error {
	if _, ok := imageCounters[field]; !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCounter, field)
	}
	if len(ids) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).Model(&model.Image{}).
		Where("id IN ?", ids).
		UpdateColumn(field, gorm.Expr(field+" + 1")).Error
}

// Delete removes the image row together with everything that points at it. Single-image
// share links are deleted; multi-image links lose the reference and are deleted once empty.
func (s *ImageStore) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var doomed []string
		if err := tx.Model(&model.ShareLink{}).
			Where("share_type = ? AND image_id = ?", model.ShareSingle, id).
			Pluck("id", &doomed).Error; err != nil {
			return err
		}

		var multi []model.ShareLink
		if err := tx.Where("share_type <> ? AND image_ids LIKE ? ESCAPE '!'", model.ShareSingle, jsonMemberPattern(id)).
			Find(&multi).Error; err != nil {
			return err
		}
		for i := range multi {
			link := &multi[i]
			kept := make([]string, 0, len(link.ImageIDs))
			for _, ref := range link.ImageIDs {
				if ref != id {
					kept = append(kept, ref)
				}
			}
			if len(kept) == len(link.ImageIDs) {
				continue
			}
			if len(kept) == 0 {
				doomed = append(doomed, link.ID)
				continue
			}
			link.ImageIDs = kept
			if err := tx.Model(link).Select("image_ids").Updates(link).Error; err != nil {
				return err
			}
		}
		if err := deleteShareLinks(tx, doomed); err != nil {
			return err
		}
		if err := tx.Where("image_id = ?", id).Delete(&model.ThumbnailTask{}).Error; err != nil {
			return err
		}
		return tx.Where("id = ?", id).Delete(&model.Image{}).Error
	})
}

func (s *ImageStore) Stats(ctx context.Context) (*ImageStats, error) {
	var totals struct {
		TotalImages    int64
		TotalSize      int64
		TotalViews     int64
		TotalDownloads int64
		PublicImages   int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Image{}).
		Select(`COUNT(*) AS total_images,
			COALESCE(SUM(size), 0) AS total_size,
			COALESCE(SUM(view_count), 0) AS total_views,
			COALESCE(SUM(download_count), 0) AS total_downloads,
			COALESCE(SUM(CASE WHEN is_public THEN 1 ELSE 0 END), 0) AS public_images`).
		Scan(&totals).Error; err != nil {
		return nil, err
	}
	var byMime []MimeTypeCount
	if err := s.db.WithContext(ctx).Model(&model.Image{}).
		Select("mime_type, COUNT(*) AS count").
		Group("mime_type").
		Order("count DESC").
		Scan(&byMime).Error; err != nil {
		return nil, err
	}
	return &ImageStats{
		TotalImages:    totals.TotalImages,
		TotalSize:      totals.TotalSize,
		TotalViews:     totals.TotalViews,
		TotalDownloads: totals.TotalDownloads,
		PublicImages:   totals.PublicImages,
		ByMimeType:     byMime,
	}, nil
}

// ListIDs pages through image ids in id order, starting after afterID.
func (s *ImageStore) ListIDs(ctx context.Context, afterID string, limit int) ([]string, error) {
	var ids []string
	query := s.db.WithContext(ctx).Model(&model.Image{})
	if afterID != "" {
		query = query.Where("id > ?", afterID)
	}
	err := query.Order("id ASC").Limit(limit).Pluck("id", &ids).Error
	return ids, err
}

// CountByCategory returns image counts keyed by category id.
func (s *ImageStore) CountByCategory(ctx context.Context) (map[string]int64, error) {
	var rows []struct {
		CategoryID string
		Count      int64
	}
	if err := s.db.WithContext(ctx).Model(&model.Image{}).
		Select("category_id, COUNT(*) AS count").
		Where("category_id IS NOT NULL").
		Group("category_id").
		Scan(&rows).Error; err != nil {
		return nil, err
	}
	counts := make(map[string]int64, len(rows))
	for _, row := range rows {
		counts[row.CategoryID] = row.Count
	}
	return counts, nil
}

// TagCounts tallies the tags of public images, most used first.
func (s *ImageStore) TagCounts(ctx context.Context) ([]TagCount, error) {
	var images []model.Image
	if err := s.db.WithContext(ctx).
		Select("id", "tags").
		Where("is_public = ?", true).
		Find(&images).Error; err != nil {
		return nil, err
	}
	counts := map[string]int64{}
	for _, img := range images {
		for _, tag := range img.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				counts[tag]++
			}
		}
	}
	out := make([]TagCount, 0, len(counts))
	for tag, n := range counts {
		out = append(out, TagCount{Tag: tag, Count: n})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Tag < out[j].Tag
	})
	return out, nil
}
