package service

import (
	"bytes"
	"context"
	"fmt"
	"image/jpeg"
	"io"
	"path"
	"strings"

	"Go_Pic/config"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/storage"
	"Go_Pic/model"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// MakeThumbnail fits the image inside size x size without enlarging it and encodes it as JPEG.
func MakeThumbnail(r io.Reader, size, quality int) ([]byte, error) {
	src, err := imaging.Decode(r, imaging.AutoOrientation(true))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}
	dst := src
	b := src.Bounds()
	if b.Dx() > size || b.Dy() > size {
		dst = imaging.Fit(src, size, size, imaging.Lanczos)
	}
	var buf bytes.Buffer
	if err := imaging.Encode(&buf, dst, imaging.JPEG, imaging.JPEGQuality(quality)); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

// ThumbnailKey derives the thumbnail object key from an original key.
func ThumbnailKey(key string) string {
	return strings.TrimSuffix(key, path.Ext(key)) + "_thumb.jpg"
}

type ThumbnailImages interface {
	FindByID(ctx context.Context, id string) (*model.Image, error)
	SetThumbnail(ctx context.Context, id, key string) error
}

type Thumbnailer struct {
	images  ThumbnailImages
	objects storage.Store
	logger  *logging.Logger
	size    int
	quality int
}

func NewThumbnailer(cfg config.Config, images ThumbnailImages, objects storage.Store, logger *logging.Logger) *Thumbnailer {
	if logger == nil {
		logger = logging.Discard()
	}
	size := cfg.ThumbnailSize
	if size <= 0 {
		size = 300
	}
	quality := cfg.ThumbnailQuality
	if quality <= 0 || quality > 100 {
		quality = jpeg.DefaultQuality
	}
	return &Thumbnailer{images: images, objects: objects, logger: logger, size: size, quality: quality}
}

// Generate renders and stores the thumbnail of imageID and returns its key.
func (t *Thumbnailer) Generate(ctx context.Context, imageID string) (string, error) {
	img, err := t.images.FindByID(ctx, imageID)
	if err != nil {
		return "", storageErr("find image", err)
	}
	if img == nil {
		return "", ErrImageNotFound
	}
	reader, _, err := t.objects.GetObject(ctx, img.StoredFilename)
	if err != nil {
		if storage.IsNotFound(err) {
			return "", ErrImageNotFound
		}
		return "", storageErr("read original", err)
	}
	defer reader.Close()

	data, err := MakeThumbnail(reader, t.size, t.quality)
	if err != nil {
		return "", err
	}
	key := ThumbnailKey(img.StoredFilename)
	if err := t.objects.PutObject(ctx, key, bytes.NewReader(data), int64(len(data)), storage.PutOptions{ContentType: "image/jpeg"}); err != nil {
		return "", storageErr("store thumbnail", err)
	}
	if err := t.images.SetThumbnail(ctx, imageID, key); err != nil {
		return "", storageErr("save thumbnail key", err)
	}
	t.logger.Info(ctx, "thumbnail generated", "image_id", imageID, "key", key, "bytes", len(data))
	return key, nil
}
