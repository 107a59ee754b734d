package handler

import (
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	"Go_Pic/internal/dto"
	"Go_Pic/internal/logging"
	"Go_Pic/internal/service"
	"Go_Pic/internal/storage"
	"Go_Pic/model"
	"Go_Pic/utils"

	"github.com/gin-gonic/gin"
)

type ImageHandler struct {
	images *service.ImageService
	logger *logging.Logger
}

func NewImageHandler(images *service.ImageService, logger *logging.Logger) *ImageHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ImageHandler{images: images, logger: logger}
}

func (h *ImageHandler) open(c *gin.Context) opener {
	ctx := c.Request.Context()
	return func(img model.Image) (io.ReadCloser, storage.ObjectInfo, error) {
		return h.images.Open(ctx, img)
	}
}

// parseDate accepts RFC 3339 timestamps or plain dates. A plain end date covers the whole day.
func parseDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return &t, nil
	}
	t, err := time.ParseInLocation("2006-01-02", raw, time.Local)
	if err != nil {
		return nil, fmt.Errorf("invalid date %q", raw)
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return &t, nil
}

// List serves both the plain listing and the advanced search.
func (h *ImageHandler) List(c *gin.Context) {
	var q dto.ImageListQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	from, err := parseDate(q.DateFrom, false)
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	to, err := parseDate(q.DateTo, true)
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, err.Error())
		return
	}
	search := q.Search
	if search == "" {
		search = q.Q
	}
	list, err := h.images.List(c.Request.Context(), service.ImageQuery{
		Page:       q.Page,
		Limit:      q.Limit,
		SortBy:     q.SortBy,
		SortOrder:  q.SortOrder,
		Search:     search,
		MimeType:   q.MimeType,
		CategoryID: q.CategoryID,
		Tags:       service.ParseTags(q.Tags),
		DateFrom:   from,
		DateTo:     to,
		SizeMin:    q.SizeMin,
		SizeMax:    q.SizeMax,
		WidthMin:   q.WidthMin,
		WidthMax:   q.WidthMax,
		HeightMin:  q.HeightMin,
		HeightMax:  q.HeightMax,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, list)
}

// Upload stores the files of the multipart field "images".
func (h *ImageHandler) Upload(c *gin.Context) {
	form, err := c.MultipartForm()
	if err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid multipart form")
		return
	}
	headers := form.File["images"]
	if len(headers) == 0 {
		utils.Fail(c, http.StatusBadRequest, "please choose images to upload")
		return
	}

	files := make([]service.UploadFile, 0, len(headers))
	opened := make([]multipart.File, 0, len(headers))
	defer func() {
		for _, f := range opened {
			_ = f.Close()
		}
	}()
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			utils.Fail(c, http.StatusBadRequest, "cannot read "+fh.Filename)
			return
		}
		opened = append(opened, f)
		files = append(files, service.UploadFile{Filename: fh.Filename, Size: fh.Size, Content: f})
	}

	res, err := h.images.Upload(c.Request.Context(), files, service.UploadMeta{
		Description: c.PostForm("description"),
		Tags:        service.ParseTags(c.PostForm("tags")),
		CategoryID:  strings.TrimSpace(c.PostForm("categoryId")),
		UploadIP:    c.ClientIP(),
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if len(res.Images) == 0 {
		utils.FailWith(c, http.StatusBadRequest, "no image was uploaded", gin.H{"errors": res.Errors})
		return
	}
	utils.Created(c, res, fmt.Sprintf("uploaded %d images", len(res.Images)))
}

func (h *ImageHandler) Get(c *gin.Context) {
	img, err := h.images.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, img)
}

// Update applies a typed partial update.
func (h *ImageHandler) Update(c *gin.Context) {
	var req dto.UpdateImageRequest
	if err := bindStrict(c, &req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	img, err := h.images.Update(c.Request.Context(), c.Param("id"), service.ImageUpdate{
		Description: req.Description,
		Tags:        req.Tags,
		IsPublic:    req.IsPublic,
		CategoryID:  req.CategoryID,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, img)
}

func (h *ImageHandler) Delete(c *gin.Context) {
	if err := h.images.Delete(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Message(c, "image deleted")
}

func (h *ImageHandler) Stats(c *gin.Context) {
	stats, err := h.images.Stats(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, stats)
}

// Tags returns tag usage counts, most used first.
func (h *ImageHandler) Tags(c *gin.Context) {
	counts, err := h.images.TagCounts(c.Request.Context())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, counts)
}

func (h *ImageHandler) Download(c *gin.Context) {
	img, err := h.images.Download(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	streamImage(c, h.open(c), *img)
}

// DownloadBatch streams the selected public images as a zip.
func (h *ImageHandler) DownloadBatch(c *gin.Context) {
	var req dto.BatchDownloadRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	images, err := h.images.DownloadBatch(c.Request.Context(), req.ImageIDs)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	streamZip(c, h.logger, h.open(c), images, fmt.Sprintf("images-%d.zip", time.Now().UnixMilli()))
}

// Thumbnail redirects to a presigned thumbnail URL.
func (h *ImageHandler) Thumbnail(c *gin.Context) {
	url, err := h.images.ThumbnailURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.Redirect(http.StatusFound, url)
}

// URL returns a presigned download URL of the original.
func (h *ImageHandler) URL(c *gin.Context) {
	url, err := h.images.OriginalURL(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, gin.H{"url": url})
}

func (h *ImageHandler) RegenerateThumbnail(c *gin.Context) {
	if err := h.images.RegenerateThumbnail(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"success": true, "message": "thumbnail regeneration queued"})
}
