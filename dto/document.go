package dto

import (
	"path/filepath"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/pkg/errors"

	"github.com/docstack/docstack/internal/enum"
)

// DocumentDescriptor describes one incoming file. The path is always
// absolute and the mime type is resolved exactly once, at construction;
// a descriptor that crosses a task boundary is already fully populated.
type DocumentDescriptor struct {
	Source       enum.DocumentSource `json:"source"`
	OriginalFile string              `json:"originalFile"`
	MimeType     string              `json:"mimeType"`
}

func NewDocumentDescriptor(source enum.DocumentSource, path string) (DocumentDescriptor, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return DocumentDescriptor{}, errors.Wrap(err, "resolving document path")
	}

	mime, err := mimetype.DetectFile(abs)
	if err != nil {
		return DocumentDescriptor{}, errors.Wrapf(err, "detecting mime type of %s", abs)
	}

	return DocumentDescriptor{
		Source:       source,
		OriginalFile: abs,
		MimeType:     mime.String(),
	}, nil
}

// MetadataOverrides carries caller-supplied document fields. Nil means
// "unset, derive from content"; a present zero value is a deliberate
// override. After handoff only the barcode stage may populate the ASN.
type MetadataOverrides struct {
	Filename        *string    `json:"filename,omitempty"`
	Title           *string    `json:"title,omitempty"`
	CorrespondentID *string    `json:"correspondentId,omitempty"`
	DocumentTypeID  *string    `json:"documentTypeId,omitempty"`
	TagIDs          []string   `json:"tagIds,omitempty"`
	Created         *time.Time `json:"created,omitempty"`
	ASN             *int64     `json:"asn,omitempty"`
	OwnerID         *string    `json:"ownerId,omitempty"`
}
