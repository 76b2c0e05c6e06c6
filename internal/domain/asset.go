package domain

import (
	"strings"
	"time"
)

// FetchResult is the body of a successful fetch and its declared content type.
type FetchResult struct {
	Body        []byte
	ContentType string
	// Source is the URL that produced the body.
	Source string
}

// PrimaryType returns the lowercase primary component of the content type
// ("image" for "image/png; charset=..."). Empty when unknown.
func (r *FetchResult) PrimaryType() string {
	major, _ := SplitContentType(r.ContentType)
	return major
}

// SplitContentType splits a media type into its primary and sub components,
// dropping parameters.
func SplitContentType(contentType string) (string, string) {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	major, minor, _ := strings.Cut(ct, "/")
	return major, minor
}

// Category names an asset folder in the archive.
type Category string

// Archive categories.
const (
	CategoryMetadata  Category = "metadata"
	CategoryImage     Category = "image"
	CategoryVideo     Category = "video"
	CategoryAudio     Category = "audio"
	CategoryAnimation Category = "animation"
	CategoryThumbnail Category = "thumbnail"
	CategoryFile      Category = "file"
)

// Folder returns the plural folder name used in keys ("images", "videos").
func (c Category) Folder() string {
	if c == CategoryMetadata {
		return "metadata"
	}
	return string(c) + "s"
}

// CategoryForType maps a primary content type to the category its body is
// archived under when it is not metadata.
func CategoryForType(primary string) Category {
	switch primary {
	case "image":
		return CategoryImage
	case "video":
		return CategoryVideo
	case "audio":
		return CategoryAudio
	case "", "application", "text":
		return CategoryFile
	default:
		return Category(primary)
	}
}

// Variant names a derived rendition of an image.
type Variant string

// Image variants.
const (
	VariantFull      Variant = "full"
	VariantThumbnail Variant = "200px"
)

// AssetRecord describes one object written to the archive. Both aliases of
// an artifact produce one record each.
type AssetRecord struct {
	TokenID     string
	Category    Category
	Variant     string
	Key         string
	ContentType string
	Size        int64
	SHA256      string
	Source      string
	ArchivedAt  time.Time
}
