package handler

import (
	"fmt"
	"io"
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

type ShareHandler struct {
	shares *service.ShareService
	logger *logging.Logger
}

func NewShareHandler(shares *service.ShareService, logger *logging.Logger) *ShareHandler {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ShareHandler{shares: shares, logger: logger}
}

// Create creates a share link.
func (h *ShareHandler) Create(c *gin.Context) {
	var req dto.CreateShareRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	link, reason, err := h.shares.CreateShare(c.Request.Context(), service.CreateShareInput{
		ImageID:        strings.TrimSpace(req.ImageID),
		ImageIDs:       req.ImageIDs,
		ShareType:      model.ShareType(req.ShareType),
		Title:          req.Title,
		Description:    req.Description,
		Password:       req.Password,
		ExpiresInHours: req.ExpiresIn,
		MaxViews:       req.MaxViews,
		AllowDownload:  req.AllowDownload,
		CreatorIP:      c.ClientIP(),
		NotifyEmails:   req.NotifyEmails,
	})
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !reason.Allowed() {
		denyShare(c, reason)
		return
	}
	utils.Created(c, dto.NewCreateShareResponse(link, h.shares.ShareURL(link)), "share link created")
}

// Access opens a share link and counts one view.
func (h *ShareHandler) Access(c *gin.Context) {
	var q dto.ShareAccessQuery
	_ = c.ShouldBindQuery(&q)
	res, err := h.shares.ResolveAccess(c.Request.Context(), c.Param("token"), q.Password, c.ClientIP(), c.Request.UserAgent())
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !res.Reason.Allowed() {
		denyShare(c, res.Reason)
		return
	}
	utils.Success(c, dto.ShareAccessResponse{ShareInfo: res.Share, Images: res.Images})
}

// Download streams one shared image, or all of them as a zip.
func (h *ShareHandler) Download(c *gin.Context) {
	var q dto.ShareAccessQuery
	_ = c.ShouldBindQuery(&q)
	ctx := c.Request.Context()
	res, err := h.shares.ResolveDownload(ctx, c.Param("token"), q.Password, strings.TrimSpace(q.ImageID))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	if !res.Reason.Allowed() {
		denyShare(c, res.Reason)
		return
	}
	open := func(img model.Image) (io.ReadCloser, storage.ObjectInfo, error) {
		return h.shares.OpenImage(ctx, img)
	}
	if len(res.Images) == 1 {
		streamImage(c, open, res.Images[0])
		return
	}
	title := res.Share.Title
	if title == "" {
		title = "images"
	}
	streamZip(c, h.logger, open, res.Images, fmt.Sprintf("%s-%d.zip", title, time.Now().UnixMilli()))
}

// List pages through all share links.
func (h *ShareHandler) List(c *gin.Context) {
	var q dto.PageQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid query: "+err.Error())
		return
	}
	list, err := h.shares.ListShares(c.Request.Context(), q.Page, q.Limit, q.SortBy, q.SortOrder)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, list)
}

func (h *ShareHandler) Get(c *gin.Context) {
	view, err := h.shares.GetShare(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, view)
}

// Update revokes or reactivates a share link.
func (h *ShareHandler) Update(c *gin.Context) {
	var req dto.UpdateShareRequest
	if err := bindStrict(c, &req); err != nil {
		utils.Fail(c, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	view, err := h.shares.SetShareActive(c.Request.Context(), c.Param("id"), *req.IsActive)
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Success(c, view)
}

func (h *ShareHandler) Delete(c *gin.Context) {
	if err := h.shares.DeleteShare(c.Request.Context(), c.Param("id")); err != nil {
		writeError(c, h.logger, err)
		return
	}
	utils.Message(c, "share link deleted")
}

// AccessLog returns the recent accesses of a share link.
func (h *ShareHandler) AccessLog(c *gin.Context) {
	entries, err := h.shares.ListAccessLog(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, h.logger, err)
		return
	}
	limit := parsePositiveInt(c.Query("limit"), model.MaxAccessLogEntries)
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	utils.Success(c, gin.H{"items": entries})
}
