package handler

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"Go_Pic/internal/logging"
	"Go_Pic/internal/service"
	"Go_Pic/internal/storage"
	"Go_Pic/model"
	"Go_Pic/utils"

	"github.com/gin-gonic/gin"
	"github.com/gin-gonic/gin/binding"
)

// reasonStatus maps a share denial onto an HTTP status.
func reasonStatus(r service.Reason) int {
	switch r {
	case service.ReasonNotFound:
		return http.StatusNotFound
	case service.ReasonExpired, service.ReasonViewLimitReached, service.ReasonInactive, service.ReasonDownloadNotPermitted:
		return http.StatusForbidden
	case service.ReasonPasswordRequired, service.ReasonPasswordMismatch:
		return http.StatusUnauthorized
	case service.ReasonInvalidTarget:
		return http.StatusBadRequest
	}
	return http.StatusOK
}

func denyShare(c *gin.Context, r service.Reason) {
	status := reasonStatus(r)
	if status == http.StatusUnauthorized {
		utils.FailWith(c, status, r.Message(), gin.H{"requirePassword": true, "reason": string(r)})
		return
	}
	utils.FailWith(c, status, r.Message(), gin.H{"reason": string(r)})
}

var errStatus = []struct {
	err    error
	status int
}{
	{service.ErrShareNotFound, http.StatusNotFound},
	{service.ErrImageNotFound, http.StatusNotFound},
	{service.ErrCategoryNotFound, http.StatusNotFound},
	{service.ErrThumbnailNotReady, http.StatusNotFound},
	{service.ErrImageNotPublic, http.StatusForbidden},
	{service.ErrInvalidShareInput, http.StatusBadRequest},
	{service.ErrNoFiles, http.StatusBadRequest},
	{service.ErrTooManyFiles, http.StatusBadRequest},
	{service.ErrNoImages, http.StatusBadRequest},
	{service.ErrTooManyImages, http.StatusBadRequest},
	{service.ErrInvalidImageUpdate, http.StatusBadRequest},
	{service.ErrInvalidCategory, http.StatusBadRequest},
	{service.ErrInvalidParent, http.StatusBadRequest},
	{service.ErrCategoryNameTaken, http.StatusBadRequest},
	{service.ErrCategoryHasChildren, http.StatusBadRequest},
	{service.ErrCategoryHasImages, http.StatusBadRequest},
}

// writeError turns a service error into a response. Unknown errors become a generic 500.
func writeError(c *gin.Context, logger *logging.Logger, err error) {
	for _, e := range errStatus {
		if errors.Is(err, e.err) {
			utils.Fail(c, e.status, err.Error())
			return
		}
	}
	logger.Error(c.Request.Context(), "request failed",
		"method", c.Request.Method,
		"path", c.FullPath(),
		"error", err.Error(),
	)
	utils.Fail(c, http.StatusInternalServerError, "internal server error")
}

// bindStrict decodes a JSON body, rejecting unknown fields, then runs binding validation.
func bindStrict(c *gin.Context, obj interface{}) error {
	if c.Request.Body == nil {
		return errors.New("empty body")
	}
	dec := json.NewDecoder(c.Request.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(obj); err != nil {
		return err
	}
	return binding.Validator.ValidateStruct(obj)
}

func parsePositiveInt(raw string, fallback int) int {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	return value
}

type opener func(img model.Image) (io.ReadCloser, storage.ObjectInfo, error)

// streamImage writes a single image as an attachment.
func streamImage(c *gin.Context, open opener, img model.Image) {
	object, info, err := open(img)
	if err != nil {
		if storage.IsNotFound(err) {
			utils.Fail(c, http.StatusNotFound, "image file not found")
			return
		}
		utils.Fail(c, http.StatusInternalServerError, "download failed")
		return
	}
	defer object.Close()

	contentType := img.MimeType
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, utils.SanitizeHeaderFilename(img.Filename)))
	c.Header("Content-Type", contentType)
	c.Header("Content-Length", strconv.FormatInt(info.Size, 10))
	c.Status(http.StatusOK)
	_, _ = io.Copy(c.Writer, object)
}

// entryNames gives every image a distinct flat zip entry name.
func entryNames(images []model.Image) []string {
	used := make(map[string]bool, len(images))
	names := make([]string, 0, len(images))
	for _, img := range images {
		name := utils.SanitizeArchiveName(img.Filename)
		ext := path.Ext(name)
		base := strings.TrimSuffix(name, ext)
		candidate := name
		for n := 1; used[candidate]; n++ {
			candidate = fmt.Sprintf("%s (%d)%s", base, n, ext)
		}
		used[candidate] = true
		names = append(names, candidate)
	}
	return names
}

// streamZip writes images as a zip archive. Objects that vanish mid-way are skipped.
func streamZip(c *gin.Context, logger *logging.Logger, open opener, images []model.Image, name string) {
	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, utils.SanitizeHeaderFilename(name)))
	c.Header("Content-Type", "application/zip")
	c.Status(http.StatusOK)

	zipWriter := zip.NewWriter(c.Writer)
	defer zipWriter.Close()

	names := entryNames(images)
	for i, img := range images {
		object, _, err := open(img)
		if err != nil {
			logger.Warn(c.Request.Context(), "skip archive entry", "image_id", img.ID, "error", err.Error())
			continue
		}
		writer, err := zipWriter.Create(names[i])
		if err != nil {
			_ = object.Close()
			return
		}
		if _, err := io.Copy(writer, object); err != nil {
			_ = object.Close()
			return
		}
		_ = object.Close()
	}
}
