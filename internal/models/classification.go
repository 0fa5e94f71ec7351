package models

import (
	"time"

	"gorm.io/gorm"

	"github.com/docstack/docstack/internal/utils"
)

// Correspondent is the counterparty a document came from. Mail rules may
// create these on the fly from sender addresses.
type Correspondent struct {
	ID        string         `gorm:"column:id;type:varchar(50);primaryKey"`
	Name      string         `gorm:"column:name;type:varchar(255);uniqueIndex;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Correspondent) TableName() string {
	return "correspondents"
}

func (c *Correspondent) BeforeCreate(tx *gorm.DB) error {
	if c.ID == "" {
		c.ID = utils.GenerateNanoIDWithPrefix("corr", 21)
	}
	c.CreatedAt = utils.Now()
	return nil
}

type Tag struct {
	ID        string         `gorm:"column:id;type:varchar(50);primaryKey"`
	Name      string         `gorm:"column:name;type:varchar(255);uniqueIndex;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Tag) TableName() string {
	return "tags"
}

func (t *Tag) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = utils.GenerateNanoIDWithPrefix("tag", 21)
	}
	t.CreatedAt = utils.Now()
	return nil
}

type DocumentType struct {
	ID        string         `gorm:"column:id;type:varchar(50);primaryKey"`
	Name      string         `gorm:"column:name;type:varchar(255);uniqueIndex;not null"`
	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (DocumentType) TableName() string {
	return "document_types"
}

func (d *DocumentType) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.GenerateNanoIDWithPrefix("dtype", 21)
	}
	d.CreatedAt = utils.Now()
	return nil
}
