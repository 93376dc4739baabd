package services

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/tubeflow/tubeflow/internal/core/domain"
)

// Platform limits for video metadata.
const (
	maxTitleLen       = 100
	maxDescriptionLen = 5000
	maxTags           = 15
)

var defaultTags = []string{"AI Generated", "Sora AI", "Automated Upload"}

var validCategories = map[string]struct{}{
	"Film & Animation": {}, "Autos & Vehicles": {}, "Music": {},
	"Pets & Animals": {}, "Sports": {}, "Travel & Events": {},
	"Gaming": {}, "People & Blogs": {}, "Comedy": {},
	"Entertainment": {}, "News & Politics": {}, "Howto & Style": {},
	"Education": {}, "Science & Technology": {}, "Nonprofits & Activism": {},
}

// MetadataBuilder fills in the metadata an upload needs, deriving
// anything the caller did not supply from the filename and prompt.
type MetadataBuilder struct {
	defaultPrivacy string
}

func NewMetadataBuilder(defaultPrivacy string) *MetadataBuilder {
	if defaultPrivacy == "" {
		defaultPrivacy = "private"
	}
	return &MetadataBuilder{defaultPrivacy: defaultPrivacy}
}

// Build returns complete metadata for the file, custom values winning
// over derived ones. Limits are enforced on the result.
func (b *MetadataBuilder) Build(filePath string, custom *domain.VideoMetadata) domain.VideoMetadata {
	meta := domain.VideoMetadata{
		Title:    titleFromFilename(filePath),
		Tags:     append([]string(nil), defaultTags...),
		Category: "Science & Technology",
		Privacy:  b.defaultPrivacy,
	}

	prompt := ""
	if custom != nil {
		prompt = custom.Prompt
		if custom.Title != "" {
			meta.Title = custom.Title
		}
		if custom.Description != "" {
			meta.Description = custom.Description
		}
		if len(custom.Tags) > 0 {
			meta.Tags = append(meta.Tags, custom.Tags...)
		}
		if custom.Category != "" {
			meta.Category = custom.Category
		}
		if custom.Privacy != "" {
			meta.Privacy = custom.Privacy
		}
		meta.Prompt = custom.Prompt
	}

	if meta.Description == "" {
		meta.Description = buildDescription(filePath, prompt)
	}
	if prompt != "" {
		meta.Tags = append(meta.Tags, promptKeywords(prompt)...)
	}

	return clampMetadata(meta)
}

func titleFromFilename(filePath string) string {
	stem := strings.TrimSuffix(filepath.Base(filePath), filepath.Ext(filePath))
	words := strings.Fields(strings.ReplaceAll(stem, "_", " "))
	for i, w := range words {
		w = strings.ToLower(w)
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}

func buildDescription(filePath string, prompt string) string {
	var sb strings.Builder
	sb.WriteString("This video was generated with AI and uploaded automatically.\n\n")
	if prompt != "" {
		fmt.Fprintf(&sb, "Original prompt: %s\n", prompt)
	}
	fmt.Fprintf(&sb, "Generated: %s\n", time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(&sb, "File: %s\n\n", filepath.Base(filePath))
	sb.WriteString("#AIGenerated #SoraAI #AutomatedUpload #AIVideo")
	return sb.String()
}

// promptKeywords pulls the longer words out of the prompt for tagging.
func promptKeywords(prompt string) []string {
	var out []string
	for _, w := range strings.Fields(strings.ToLower(prompt)) {
		if len(w) > 3 {
			out = append(out, w)
		}
		if len(out) == 10 {
			break
		}
	}
	return out
}

func clampMetadata(meta domain.VideoMetadata) domain.VideoMetadata {
	meta.Title = truncateWithEllipsis(meta.Title, maxTitleLen)
	meta.Description = truncateWithEllipsis(meta.Description, maxDescriptionLen)
	if len(meta.Tags) > maxTags {
		meta.Tags = meta.Tags[:maxTags]
	}
	if _, ok := validCategories[meta.Category]; !ok {
		meta.Category = "Science & Technology"
	}
	return meta
}

// truncateWithEllipsis caps s at max bytes, backing up so the cut never
// lands inside a multi-byte rune.
func truncateWithEllipsis(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
