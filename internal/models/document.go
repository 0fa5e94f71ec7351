package models

import (
	"time"

	"github.com/lib/pq"
	"gorm.io/gorm"

	"github.com/docstack/docstack/internal/utils"
)

const (
	ArchiveSerialNumberMin int64 = 0
	ArchiveSerialNumberMax int64 = 0xFF_FF_FF_FF
)

// Document is a consumed document: its extracted text, its checksums and the
// file names it occupies under the originals/archive/thumbnail directories.
type Document struct {
	ID       string `gorm:"column:id;type:varchar(50);primaryKey"`
	Title    string `gorm:"column:title;type:varchar(255);index"`
	Content  string `gorm:"column:content;type:text"`
	MimeType string `gorm:"column:mime_type;type:varchar(100);not null"`

	// Checksum is the MD5 of the original file; ArchiveChecksum of the
	// generated archive file. Both participate in duplicate detection.
	Checksum        string  `gorm:"column:checksum;type:varchar(32);uniqueIndex;not null"`
	ArchiveChecksum *string `gorm:"column:archive_checksum;type:varchar(32);index"`

	CorrespondentID *string        `gorm:"column:correspondent_id;type:varchar(50);index"`
	DocumentTypeID  *string        `gorm:"column:document_type_id;type:varchar(50);index"`
	TagIDs          pq.StringArray `gorm:"column:tag_ids;type:text[]"`
	OwnerID         *string        `gorm:"column:owner_id;type:varchar(50);index"`

	// ArchiveSerialNumber is the operator-assigned sequential identifier,
	// optionally read from a barcode.
	ArchiveSerialNumber *int64 `gorm:"column:archive_serial_number;uniqueIndex"`

	OriginalFilename string  `gorm:"column:original_filename;type:varchar(1024)"`
	Filename         string  `gorm:"column:filename;type:varchar(1024)"`
	ArchiveFilename  *string `gorm:"column:archive_filename;type:varchar(1024)"`
	ThumbnailFilename string `gorm:"column:thumbnail_filename;type:varchar(1024)"`

	Created  time.Time `gorm:"column:created;type:timestamp;index"`
	Modified time.Time `gorm:"column:modified;type:timestamp"`
	Added    time.Time `gorm:"column:added;type:timestamp;index"`

	CreatedAt time.Time      `gorm:"column:created_at;type:timestamp;default:current_timestamp"`
	UpdatedAt time.Time      `gorm:"column:updated_at;type:timestamp;default:current_timestamp"`
	DeletedAt gorm.DeletedAt `gorm:"column:deleted_at;index"`
}

func (Document) TableName() string {
	return "documents"
}

func (d *Document) BeforeCreate(tx *gorm.DB) error {
	if d.ID == "" {
		d.ID = utils.GenerateNanoIDWithPrefix("doc", 21)
	}
	now := utils.Now()
	if d.Added.IsZero() {
		d.Added = now
	}
	if d.Modified.IsZero() {
		d.Modified = now
	}
	d.CreatedAt = now
	return nil
}
