package dto

type CreateShareRequest struct {
	ImageID       string   `json:"imageId"`
	ImageIDs      []string `json:"imageIds"`
	ShareType     string   `json:"shareType"`
	Title         string   `json:"title" binding:"max=255"`
	Description   string   `json:"description"`
	Password      string   `json:"password" binding:"max=72"`
	ExpiresIn     int      `json:"expiresIn" binding:"gte=0,lte=876000"`
	MaxViews      *int     `json:"maxViews" binding:"omitempty,gte=0"`
	AllowDownload *bool    `json:"allowDownload"`
	NotifyEmails  []string `json:"notifyEmails" binding:"omitempty,max=20,dive,email"`
}

type ShareAccessQuery struct {
	Password string `form:"password"`
	ImageID  string `form:"imageId"`
}

type PageQuery struct {
	Page      int    `form:"page"`
	Limit     int    `form:"limit"`
	SortBy    string `form:"sortBy"`
	SortOrder string `form:"sortOrder"`
}

type UpdateShareRequest struct {
	IsActive *bool `json:"isActive" binding:"required"`
}

// ImageListQuery covers both the plain listing and the advanced search.
type ImageListQuery struct {
	PageQuery
	Search     string `form:"search"`
	Q          string `form:"q"`
	MimeType   string `form:"mimeType"`
	CategoryID string `form:"categoryId"`
	Tags       string `form:"tags"`
	DateFrom   string `form:"dateFrom"`
	DateTo     string `form:"dateTo"`
	SizeMin    *int64 `form:"sizeMin" binding:"omitempty,gte=0"`
	SizeMax    *int64 `form:"sizeMax" binding:"omitempty,gte=0"`
	WidthMin   *int   `form:"widthMin" binding:"omitempty,gte=0"`
	WidthMax   *int   `form:"widthMax" binding:"omitempty,gte=0"`
	HeightMin  *int   `form:"heightMin" binding:"omitempty,gte=0"`
	HeightMax  *int   `form:"heightMax" binding:"omitempty,gte=0"`
}

// UpdateImageRequest is decoded strictly. Unknown fields are rejected.
type UpdateImageRequest struct {
	Description *string   `json:"description"`
	Tags        *[]string `json:"tags"`
	IsPublic    *bool     `json:"is_public"`
	CategoryID  *string   `json:"categoryId"`
}

type BatchDownloadRequest struct {
	ImageIDs []string `json:"imageIds"`
}

type CreateCategoryRequest struct {
	Name        string `json:"name" binding:"required,max=100"`
	Description string `json:"description"`
	Color       string `json:"color"`
	Icon        string `json:"icon" binding:"max=50"`
	ParentID    string `json:"parent_id"`
	SortOrder   int    `json:"sort_order"`
}

// UpdateCategoryRequest is decoded strictly. Unknown fields are rejected.
type UpdateCategoryRequest struct {
	Name        *string `json:"name"`
	Description *string `json:"description"`
	Color       *string `json:"color"`
	Icon        *string `json:"icon"`
	ParentID    *string `json:"parent_id"`
	SortOrder   *int    `json:"sort_order"`
	IsActive    *bool   `json:"is_active"`
}
