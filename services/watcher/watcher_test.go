package watcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIgnored(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/consume/scan.pdf", false},
		{"/consume/Invoice 2023.PDF", false},
		{"/consume/.hidden.pdf", true},
		{"/consume/~lock.pdf", true},
		{"/consume/upload.tmp", true},
		{"/consume/download.part", true},
		{"/consume/download.crdownload", true},
		{"/consume/.scan.pdf.swp", true},
		{"/consume/scan.SWP", true},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, ignored(tt.path))
		})
	}
}
