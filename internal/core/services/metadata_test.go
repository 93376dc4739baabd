package services

import (
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/tubeflow/tubeflow/internal/core/domain"
)

func TestMetadataBuilder_TitleFromFilename(t *testing.T) {
	b := NewMetadataBuilder("private")

	meta := b.Build("/videos/input/sunset_over_mountains.mp4", nil)
	assert.Equal(t, "Sunset Over Mountains", meta.Title)
	assert.Equal(t, "private", meta.Privacy)
	assert.Equal(t, "Science & Technology", meta.Category)
	assert.Contains(t, meta.Description, "sunset_over_mountains.mp4")
}

func TestMetadataBuilder_CustomValuesWin(t *testing.T) {
	b := NewMetadataBuilder("private")

	meta := b.Build("clip.mp4", &domain.VideoMetadata{
		Title:       "My Title",
		Description: "My description",
		Category:    "Entertainment",
		Privacy:     "unlisted",
	})
	assert.Equal(t, "My Title", meta.Title)
	assert.Equal(t, "My description", meta.Description)
	assert.Equal(t, "Entertainment", meta.Category)
	assert.Equal(t, "unlisted", meta.Privacy)
}

func TestMetadataBuilder_PromptKeywordsBecomeTags(t *testing.T) {
	b := NewMetadataBuilder("private")

	meta := b.Build("clip.mp4", &domain.VideoMetadata{
		Prompt: "a neon city at night in the rain",
	})
	assert.Contains(t, meta.Tags, "neon")
	assert.Contains(t, meta.Tags, "city")
	assert.Contains(t, meta.Tags, "night")
	assert.Contains(t, meta.Tags, "rain")
	assert.NotContains(t, meta.Tags, "the", "short words are skipped")
	assert.Contains(t, meta.Description, "a neon city at night in the rain")
}

func TestMetadataBuilder_LimitsEnforced(t *testing.T) {
	b := NewMetadataBuilder("private")

	longTitle := strings.Repeat("x", 200)
	manyTags := make([]string, 30)
	for i := range manyTags {
		manyTags[i] = "tag"
	}

	meta := b.Build("clip.mp4", &domain.VideoMetadata{
		Title:       longTitle,
		Description: strings.Repeat("d", 6000),
		Tags:        manyTags,
		Category:    "Not A Real Category",
	})
	assert.Len(t, meta.Title, maxTitleLen)
	assert.True(t, strings.HasSuffix(meta.Title, "..."))
	assert.Len(t, meta.Description, maxDescriptionLen)
	assert.Len(t, meta.Tags, maxTags)
	assert.Equal(t, "Science & Technology", meta.Category, "unknown category falls back")
}

func TestMetadataBuilder_TruncationKeepsRunesIntact(t *testing.T) {
	b := NewMetadataBuilder("private")

	// Multi-byte runes straddle the byte limit; the cut must land on a
	// rune boundary, not mid-sequence.
	meta := b.Build("clip.mp4", &domain.VideoMetadata{
		Title:       strings.Repeat("é", 80),
		Description: strings.Repeat("日本語", 2000),
	})
	assert.LessOrEqual(t, len(meta.Title), maxTitleLen)
	assert.True(t, utf8.ValidString(meta.Title))
	assert.True(t, strings.HasSuffix(meta.Title, "..."))
	assert.LessOrEqual(t, len(meta.Description), maxDescriptionLen)
	assert.True(t, utf8.ValidString(meta.Description))
}

func TestMetadataBuilder_DefaultTagsAlwaysPresent(t *testing.T) {
	b := NewMetadataBuilder("")

	meta := b.Build("clip.mp4", nil)
	assert.Equal(t, "private", meta.Privacy)
	for _, tag := range []string{"AI Generated", "Sora AI", "Automated Upload"} {
		assert.Contains(t, meta.Tags, tag)
	}
}
