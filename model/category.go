package model

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

const DefaultCategoryColor = "#3B82F6"

type Category struct {
	ID string `gorm:"primaryKey;type:varchar(36)" json:"id"`

	Name        string  `gorm:"column:name;type:varchar(100);not null;uniqueIndex" json:"name"`
	Description string  `gorm:"column:description;type:text" json:"description"`
	Color       string  `gorm:"column:color;type:varchar(7);not null;default:'#3B82F6'" json:"color"`
	Icon        string  `gorm:"column:icon;type:varchar(50);not null;default:''" json:"icon"`
	ParentID    *string `gorm:"column:parent_id;type:varchar(36);index" json:"parent_id"`
	SortOrder   int     `gorm:"column:sort_order;not null;default:0" json:"sort_order"`
	IsActive    bool    `gorm:"column:is_active;not null" json:"is_active"`

	ImageCount int64       `gorm:"-" json:"image_count"`
	Children   []*Category `gorm:"-" json:"children,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name.
func (Category) TableName() string {
	return "category"
}

// BeforeCreate assigns a UUID primary key.
func (c *Category) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	return nil
}
