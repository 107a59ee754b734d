package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"
	"time"

	"Go_Pic/config"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/repo"
	"Go_Pic/internal/storage"
	"Go_Pic/model"
	"Go_Pic/utils"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
)

var (
	ErrImageNotFound      = errors.New("image not found")
	ErrImageNotPublic     = errors.New("image is not public")
	ErrNoFiles            = errors.New("no files uploaded")
	ErrTooManyFiles       = errors.New("too many files")
	ErrFileTooLarge       = errors.New("file too large")
	ErrUnsupportedType    = errors.New("unsupported file type")
	ErrNoImages           = errors.New("no images selected")
	ErrTooManyImages      = errors.New("too many images selected")
	ErrThumbnailNotReady  = errors.New("thumbnail not ready")
	ErrCategoryNotFound   = errors.New("category not found")
	ErrInvalidImageUpdate = errors.New("invalid image update")
)

type ImageStore interface {
	Create(ctx context.Context, img *model.Image) error
	FindByID(ctx context.Context, id string) (*model.Image, error)
	ResolveMany(ctx context.Context, ids []string) ([]model.Image, error)
	List(ctx context.Context, f repo.ImageFilter) ([]model.Image, int64, error)
	Save(ctx context.Context, img *model.Image, columns ...string) error
	IncrementCounters(ctx context.Context, ids []string, field string) error
	Delete(ctx context.Context, id string) error
	Stats(ctx context.Context) (*repo.ImageStats, error)
	TagCounts(ctx context.Context) ([]repo.TagCount, error)
}

type CategoryLookup interface {
	FindByID(ctx context.Context, id string) (*model.Category, error)
}

// ThumbnailQueue schedules thumbnail generation for an image.
type ThumbnailQueue interface {
	Enqueue(ctx context.Context, imageID string) error
}

type ImageDeps struct {
	Store      ImageStore
	Categories CategoryLookup
	Objects    storage.Store
	Thumbnails ThumbnailQueue
	Logger     *logging.Logger
}

type ImageService struct {
	store      ImageStore
	categories CategoryLookup
	objects    storage.Store
	thumbnails ThumbnailQueue
	logger     *logging.Logger

	maxBytes      int64
	maxFiles      int
	allowedTypes  []string
	batchMax      int
	presignExpiry time.Duration

	now func() time.Time
}

func NewImageService(cfg config.Config, deps ImageDeps) *ImageService {
	logger := deps.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &ImageService{
		store:         deps.Store,
		categories:    deps.Categories,
		objects:       deps.Objects,
		thumbnails:    deps.Thumbnails,
		logger:        logger,
		maxBytes:      cfg.UploadMaxBytes,
		maxFiles:      cfg.UploadMaxFiles,
		allowedTypes:  cfg.UploadAllowedTypes,
		batchMax:      cfg.BatchDownloadMax,
		presignExpiry: cfg.PresignExpiry,
		now:           time.Now,
	}
}

type UploadFile struct {
	Filename string
	Size     int64
	Content  io.ReadSeeker
}

// UploadMeta is applied to every file of one upload request.
type UploadMeta struct {
	Description string
	Tags        []string
	CategoryID  string
	UploadIP    string
}

type UploadFailure struct {
	Filename string `json:"filename"`
	Error    string `json:"error"`
}

type UploadResult struct {
	Images []model.Image    `json:"images"`
	Errors []UploadFailure `json:"errors,omitempty"`
}

// ParseTags accepts a JSON array or a comma separated list.
func ParseTags(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	var parsed []string
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		parsed = strings.Split(raw, ",")
	}
	out := make([]string, 0, len(parsed))
	for _, tag := range parsed {
		if tag = strings.TrimSpace(tag); tag != "" {
			out = append(out, tag)
		}
	}
	return out
}

func (s *ImageService) allowed(mime *mimetype.MIME) bool {
	for _, t := range s.allowedTypes {
		if mime.Is(t) {
			return true
		}
	}
	return false
}

// Upload stores every acceptable file. A failing file is reported and the rest carry on.
func (s *ImageService) Upload(ctx context.Context, files []UploadFile, meta UploadMeta) (*UploadResult, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	if s.maxFiles > 0 && len(files) > s.maxFiles {
		return nil, fmt.Errorf("%w: at most %d", ErrTooManyFiles, s.maxFiles)
	}
	var categoryID *string
	if meta.CategoryID != "" {
		if err := s.requireCategory(ctx, meta.CategoryID); err != nil {
			return nil, err
		}
		id := meta.CategoryID
		categoryID = &id
	}
	result := &UploadResult{Images: []model.Image{}}
	for _, file := range files {
		img, err := s.uploadOne(ctx, file, meta, categoryID)
		if err != nil {
			if errors.Is(err, ErrStorage) {
				s.logger.Error(ctx, "upload failed", "filename", file.Filename, "error", err.Error())
			}
			result.Errors = append(result.Errors, UploadFailure{Filename: file.Filename, Error: err.Error()})
			continue
		}
		result.Images = append(result.Images, *img)
	}
	return result, nil
}

func (s *ImageService) uploadOne(ctx context.Context, file UploadFile, meta UploadMeta, categoryID *string) (*model.Image, error) {
	if s.maxBytes > 0 && file.Size > s.maxBytes {
		return nil, ErrFileTooLarge
	}
	mime, err := mimetype.DetectReader(file.Content)
	if err != nil {
		return nil, fmt.Errorf("detect type: %w", err)
	}
	if !s.allowed(mime) {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, mime.String())
	}
	if _, err := file.Content.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	cfg, format, err := image.DecodeConfig(file.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: unreadable image", ErrUnsupportedType)
	}
	if _, err := file.Content.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}

	key := fmt.Sprintf("%s/%s%s", s.now().Format("2006-01"), uuid.NewString(), mime.Extension())
	contentType := strings.SplitN(mime.String(), ";", 2)[0]
	if err := s.objects.PutObject(ctx, key, file.Content, file.Size, storage.PutOptions{ContentType: contentType}); err != nil {
		return nil, storageErr("store image", err)
	}

	img := &model.Image{
		Filename:       utils.SanitizeUploadName(file.Filename),
		StoredFilename: key,
		MimeType:       contentType,
		Size:           file.Size,
		Width:          cfg.Width,
		Height:         cfg.Height,
		Description:    meta.Description,
		Tags:           meta.Tags,
		Metadata:       model.ImageMetadata{Format: format},
		UploadIP:       meta.UploadIP,
		IsPublic:       true,
		CategoryID:     categoryID,
	}
	if img.Tags == nil {
		img.Tags = []string{}
	}
	if err := s.store.Create(ctx, img); err != nil {
		if rmErr := s.objects.RemoveObject(ctx, key); rmErr != nil {
			s.logger.Warn(ctx, "remove orphan object failed", "key", key, "error", rmErr.Error())
		}
		return nil, storageErr("create image", err)
	}
	if s.thumbnails != nil {
		if err := s.thumbnails.Enqueue(ctx, img.ID); err != nil {
			s.logger.Warn(ctx, "queue thumbnail failed", "image_id", img.ID, "error", err.Error())
		}
	}
	s.logger.Info(ctx, "image uploaded", "image_id", img.ID, "mime_type", contentType, "size", file.Size)
	return img, nil
}

type ImageQuery struct {
	Page       int
	Limit      int
	SortBy     string
	SortOrder  string
	Search     string
	MimeType   string
	CategoryID string
	Tags       []string

	DateFrom  *time.Time
	DateTo    *time.Time
	SizeMin   *int64
	SizeMax   *int64
	WidthMin  *int
	WidthMax  *int
	HeightMin *int
	HeightMax *int
}

type ImageList struct {
	Images     []model.Image `json:"images"`
	Pagination Pagination    `json:"pagination"`
}

// List pages through public images.
func (s *ImageService) List(ctx context.Context, q ImageQuery) (*ImageList, error) {
	page, limit := normalizePage(q.Page, q.Limit, 100)
	column, desc := sanitizeOrder(imageOrderBy, q.SortBy, q.SortOrder)
	images, total, err := s.store.List(ctx, repo.ImageFilter{
		Page:        page,
		Limit:       limit,
		OrderBy:     column,
		Desc:        desc,
		Search:      q.Search,
		MimeType:    q.MimeType,
		CategoryID:  q.CategoryID,
		Tags:        q.Tags,
		PublicOnly:  true,
		CreatedFrom: q.DateFrom,
		CreatedTo:   q.DateTo,
		SizeMin:     q.SizeMin,
		SizeMax:     q.SizeMax,
		WidthMin:    q.WidthMin,
		WidthMax:    q.WidthMax,
		HeightMin:   q.HeightMin,
		HeightMax:   q.HeightMax,
	})
	if err != nil {
		return nil, storageErr("list images", err)
	}
	if images == nil {
		images = []model.Image{}
	}
	return &ImageList{Images: images, Pagination: newPagination(page, limit, total)}, nil
}

func (s *ImageService) find(ctx context.Context, id string) (*model.Image, error) {
	img, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, storageErr("find image", err)
	}
	if img == nil {
		return nil, ErrImageNotFound
	}
	return img, nil
}

func (s *ImageService) findPublic(ctx context.Context, id string) (*model.Image, error) {
	img, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	if !img.IsPublic {
		return nil, ErrImageNotPublic
	}
	return img, nil
}

// Get returns a public image and counts the view.
func (s *ImageService) Get(ctx context.Context, id string) (*model.Image, error) {
	img, err := s.findPublic(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := s.store.IncrementCounters(ctx, []string{id}, "view_count"); err != nil {
		return nil, storageErr("count image view", err)
	}
	img.ViewCount++
	return img, nil
}

// ImageUpdate lists the mutable fields of an image. Nil fields are left alone.
// An empty CategoryID clears the category.
type ImageUpdate struct {
	Description *string
	Tags        *[]string
	IsPublic    *bool
	CategoryID  *string
}

func (s *ImageService) requireCategory(ctx context.Context, id string) error {
	cat, err := s.categories.FindByID(ctx, id)
	if err != nil {
		return storageErr("find category", err)
	}
	if cat == nil {
		return ErrCategoryNotFound
	}
	return nil
}

func (s *ImageService) Update(ctx context.Context, id string, in ImageUpdate) (*model.Image, error) {
	img, err := s.find(ctx, id)
	if err != nil {
		return nil, err
	}
	var columns []string
	if in.Description != nil {
		img.Description = *in.Description
		columns = append(columns, "description")
	}
	if in.Tags != nil {
		tags := make([]string, 0, len(*in.Tags))
		for _, tag := range *in.Tags {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
		img.Tags = tags
		columns = append(columns, "tags")
	}
	if in.IsPublic != nil {
		img.IsPublic = *in.IsPublic
		columns = append(columns, "is_public")
	}
	if in.CategoryID != nil {
		if *in.CategoryID == "" {
			img.CategoryID = nil
		} else {
			if err := s.requireCategory(ctx, *in.CategoryID); err != nil {
				return nil, err
			}
			cat := *in.CategoryID
			img.CategoryID = &cat
		}
		columns = append(columns, "category_id")
	}
	if len(columns) == 0 {
		return nil, fmt.Errorf("%w: nothing to update", ErrInvalidImageUpdate)
	}
	if err := s.store.Save(ctx, img, columns...); err != nil {
		return nil, storageErr("update image", err)
	}
	s.logger.Info(ctx, "image updated", "image_id", id, "fields", strings.Join(columns, ","))
	return img, nil
}

// Delete removes the record and its share references, then the stored objects.
func (s *ImageService) Delete(ctx context.Context, id string) error {
	img, err := s.find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return storageErr("delete image", err)
	}
	keys := []string{img.StoredFilename}
	if img.ThumbnailKey != "" {
		keys = append(keys, img.ThumbnailKey)
	}
	for _, key := range keys {
		if err := s.objects.RemoveObject(ctx, key); err != nil && !storage.IsNotFound(err) {
			s.logger.Warn(ctx, "remove image object failed", "key", key, "error", err.Error())
		}
	}
	s.logger.Info(ctx, "image deleted", "image_id", id)
	return nil
}

func (s *ImageService) Stats(ctx context.Context) (*repo.ImageStats, error) {
	stats, err := s.store.Stats(ctx)
	if err != nil {
		return nil, storageErr("image stats", err)
	}
	return stats, nil
}

func (s *ImageService) TagCounts(ctx context.Context) ([]repo.TagCount, error) {
	counts, err := s.store.TagCounts(ctx)
	if err != nil {
		return nil, storageErr("count tags", err)
	}
	return counts, nil
}

// Download returns a public image for streaming and counts the download.
func (s *ImageService) Download(ctx context.Context, id string) (*model.Image, error) {
	img, err := s.findPublic(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.objects.StatObject(ctx, img.StoredFilename); err != nil {
		if storage.IsNotFound(err) {
			return nil, ErrImageNotFound
		}
		return nil, storageErr("stat image", err)
	}
	if err := s.store.IncrementCounters(ctx, []string{id}, "download_count"); err != nil {
		return nil, storageErr("count image download", err)
	}
	img.DownloadCount++
	return img, nil
}

// DownloadBatch selects the public images among ids whose objects still exist.
func (s *ImageService) DownloadBatch(ctx context.Context, ids []string) ([]model.Image, error) {
	ids = dedupe(ids)
	if len(ids) == 0 {
		return nil, ErrNoImages
	}
	if s.batchMax > 0 && len(ids) > s.batchMax {
		return nil, fmt.Errorf("%w: at most %d", ErrTooManyImages, s.batchMax)
	}
	found, err := s.store.ResolveMany(ctx, ids)
	if err != nil {
		return nil, storageErr("resolve images", err)
	}
	byID := make(map[string]model.Image, len(found))
	for _, img := range found {
		if img.IsPublic {
			byID[img.ID] = img
		}
	}
	images := make([]model.Image, 0, len(ids))
	for _, id := range ids {
		img, ok := byID[id]
		if !ok {
			continue
		}
		if _, err := s.objects.StatObject(ctx, img.StoredFilename); err != nil {
			if storage.IsNotFound(err) {
				s.logger.Warn(ctx, "image object missing", "image_id", id)
				continue
			}
			return nil, storageErr("stat image", err)
		}
		images = append(images, img)
	}
	if len(images) == 0 {
		return nil, ErrImageNotFound
	}
	if err := s.store.IncrementCounters(ctx, imageIDs(images), "download_count"); err != nil {
		return nil, storageErr("count image downloads", err)
	}
	for i := range images {
		images[i].DownloadCount++
	}
	return images, nil
}

func (s *ImageService) Open(ctx context.Context, img model.Image) (io.ReadCloser, storage.ObjectInfo, error) {
	return s.objects.GetObject(ctx, img.StoredFilename)
}

// ThumbnailURL presigns the thumbnail of a public image.
func (s *ImageService) ThumbnailURL(ctx context.Context, id string) (string, error) {
	img, err := s.findPublic(ctx, id)
	if err != nil {
		return "", err
	}
	if img.ThumbnailKey == "" {
		return "", ErrThumbnailNotReady
	}
	url, err := s.objects.PresignedGetObjectWithResponse(ctx, img.ThumbnailKey, s.presignExpiry, map[string]string{
		"response-content-type": "image/jpeg",
	})
	if err != nil {
		return "", storageErr("presign thumbnail", err)
	}
	return url, nil
}

// OriginalURL presigns the original of a public image as an attachment.
func (s *ImageService) OriginalURL(ctx context.Context, id string) (string, error) {
	img, err := s.findPublic(ctx, id)
	if err != nil {
		return "", err
	}
	url, err := s.objects.PresignedGetObjectWithResponse(ctx, img.StoredFilename, s.presignExpiry, map[string]string{
		"response-content-type":        img.MimeType,
		"response-content-disposition": fmt.Sprintf("attachment; filename=%q", utils.SanitizeHeaderFilename(img.Filename)),
	})
	if err != nil {
		return "", storageErr("presign image", err)
	}
	return url, nil
}

// RegenerateThumbnail queues a new thumbnail task for the image.
func (s *ImageService) RegenerateThumbnail(ctx context.Context, id string) error {
	if _, err := s.find(ctx, id); err != nil {
		return err
	}
	if s.thumbnails == nil {
		return storageErr("queue thumbnail", errors.New("thumbnail queue unavailable"))
	}
	if err := s.thumbnails.Enqueue(ctx, id); err != nil {
		return storageErr("queue thumbnail", err)
	}
	return nil
}
