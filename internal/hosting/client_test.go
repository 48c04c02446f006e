package hosting

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractPRNumber(t *testing.T) {
	tests := []struct {
		url  string
		want int
	}{
		{"https://github.com/owner/repo/pull/42", 42},
		{"https://github.com/owner/repo/pull/1", 1},
		{"https://github.com/owner/repo/pull/42#issuecomment-1", 42},
		{"https://github.com/owner/repo", 0},
		{"", 0},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ExtractPRNumber(tt.url), tt.url)
	}
}

func TestLastNonEmptyLine(t *testing.T) {
	out := "Creating pull request for feature/001-add-auth\n\nhttps://github.com/o/r/pull/7\n\n"
	assert.Equal(t, "https://github.com/o/r/pull/7", lastNonEmptyLine(out))
	assert.Equal(t, "", lastNonEmptyLine("  \n \n"))
}
