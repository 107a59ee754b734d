package dto

import (
	"time"

	"Go_Pic/internal/service"
	"Go_Pic/model"
)

// CreateShareResponse is returned once a share link is created.
type CreateShareResponse struct {
	ID            string          `json:"id"`
	Token         string          `json:"token"`
	ShareURL      string          `json:"shareUrl"`
	ShareType     model.ShareType `json:"shareType"`
	Title         string          `json:"title"`
	Description   string          `json:"description"`
	HasPassword   bool            `json:"hasPassword"`
	ExpiresAt     *time.Time      `json:"expiresAt"`
	MaxViews      *int            `json:"maxViews"`
	AllowDownload bool            `json:"allowDownload"`
	ImageCount    int             `json:"imageCount"`
}

func NewCreateShareResponse(link *model.ShareLink, url string) CreateShareResponse {
	return CreateShareResponse{
		ID:            link.ID,
		Token:         link.Token,
		ShareURL:      url,
		ShareType:     link.ShareType,
		Title:         link.Title,
		Description:   link.Description,
		HasPassword:   link.HasPassword(),
		ExpiresAt:     link.ExpiresAt,
		MaxViews:      link.MaxViews,
		AllowDownload: link.AllowDownload,
		ImageCount:    len(link.TargetRefs()),
	}
}

type ShareAccessResponse struct {
	ShareInfo *service.ShareInfo `json:"shareInfo"`
	Images    []model.Image      `json:"images"`
}
