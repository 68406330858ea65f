package fetch

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSnakeCase(t *testing.T) {
	assert.Equal(t, "sunday_talk", SnakeCase("Sunday Talk"))
	assert.Equal(t, "a_b_c", SnakeCase("  A!! b--C  "))
	assert.Equal(t, "", SnakeCase("!!!"))
}

func TestFileName(t *testing.T) {
	assert.Equal(t, "20250620_opening_sunday_talk.mp4", FileName("2025-06-20", "Opening", "Sunday Talk"))
	assert.Equal(t, "sunday_talk.mp4", FileName("", "", "Sunday Talk"))
	assert.Equal(t, "video.mp4", FileName("", "", ""))
}
