package consumer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/docstack/docstack/dto"
	"github.com/docstack/docstack/interfaces"
	"github.com/docstack/docstack/internal/models"
	"github.com/docstack/docstack/internal/utils"
)

func TestDateFromFilename(t *testing.T) {
	tests := []struct {
		name     string
		filename string
		want     string
	}{
		{"dashed date", "2023-04-15 invoice.pdf", "2023-04-15"},
		{"compact date", "20230415_scan.pdf", "2023-04-15"},
		{"date in the middle", "invoice 2021-11-03 acme.pdf", "2021-11-03"},
		{"no date", "invoice.pdf", ""},
		{"implausible year", "1850-01-01 deed.pdf", ""},
		{"invalid month", "2023-13-01 scan.pdf", ""},
		{"future date", "2099-01-01 scan.pdf", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dateFromFilename(tt.filename)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			assert.NotNil(t, got)
			assert.Equal(t, tt.want, got.Format("2006-01-02"))
		})
	}
}

func TestResolveCreated_OverrideWins(t *testing.T) {
	s := &ConsumerService{}
	override := time.Date(2020, 6, 1, 12, 0, 0, 0, time.UTC)

	created := s.resolveCreated(
		dto.DocumentDescriptor{OriginalFile: "/nonexistent"},
		dto.MetadataOverrides{Created: &override},
		"2023-04-15 scan.pdf",
		&interfaces.ParseResult{Created: utils.NowPtr()},
	)

	assert.Equal(t, override, created)
}

func TestResolveCreated_FilenameBeatsParser(t *testing.T) {
	s := &ConsumerService{}
	parserDate := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	created := s.resolveCreated(
		dto.DocumentDescriptor{OriginalFile: "/nonexistent"},
		dto.MetadataOverrides{},
		"2023-04-15 scan.pdf",
		&interfaces.ParseResult{Created: &parserDate},
	)

	assert.Equal(t, "2023-04-15", created.Format("2006-01-02"))
}

func TestResolveCreated_ParserDate(t *testing.T) {
	s := &ConsumerService{}
	parserDate := time.Date(2019, 1, 1, 0, 0, 0, 0, time.UTC)

	created := s.resolveCreated(
		dto.DocumentDescriptor{OriginalFile: "/nonexistent"},
		dto.MetadataOverrides{},
		"scan.pdf",
		&interfaces.ParseResult{Created: &parserDate},
	)

	assert.Equal(t, parserDate, created)
}

func TestDisplayName(t *testing.T) {
	s := &ConsumerService{}
	descriptor := dto.DocumentDescriptor{OriginalFile: "/var/consume/scan.pdf"}

	assert.Equal(t, "scan.pdf", s.displayName(descriptor, dto.MetadataOverrides{}))
	assert.Equal(t, "invoice.pdf", s.displayName(descriptor, dto.MetadataOverrides{
		Filename: utils.Ptr("invoice.pdf"),
	}))
	assert.Equal(t, "scan.pdf", s.displayName(descriptor, dto.MetadataOverrides{
		Filename: utils.Ptr(""),
	}))
}

func TestResolveTitle(t *testing.T) {
	s := &ConsumerService{}

	assert.Equal(t, "scan", s.resolveTitle(dto.MetadataOverrides{}, "scan.pdf"))
	assert.Equal(t, "My Invoice", s.resolveTitle(dto.MetadataOverrides{
		Title: utils.Ptr("My Invoice"),
	}, "scan.pdf"))
}

func TestIndexEntry(t *testing.T) {
	asn := int64(42)
	doc := &models.Document{
		ID:                  "doc_abc",
		Title:               "Invoice",
		Content:             "total due",
		MimeType:            "application/pdf",
		TagIDs:              []string{"tag_1", "tag_2"},
		CorrespondentID:     utils.Ptr("corr_1"),
		ArchiveSerialNumber: &asn,
	}

	entry := indexEntry(doc)

	assert.Equal(t, "doc_abc", entry.ID)
	assert.Equal(t, "Invoice", entry.Title)
	assert.Equal(t, "corr_1", entry.CorrespondentID)
	assert.Equal(t, "", entry.DocumentTypeID)
	assert.Equal(t, "", entry.OwnerID)
	assert.Equal(t, []string{"tag_1", "tag_2"}, []string(entry.TagIDs))
	assert.Equal(t, &asn, entry.ArchiveSerialNumber)
}
