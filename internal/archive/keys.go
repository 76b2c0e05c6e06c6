package archive

import (
	"net/url"
	"path"
	"strings"

	"xrpl-nft-archiver/internal/domain"
)

const assetsRoot = "assets"

// MetadataKeys returns the extensionless and extensioned metadata keys.
func MetadataKeys(tokenID string) [2]string {
	base := assetsRoot + "/metadata/" + tokenID + "/metadata"
	return [2]string{base, base + ".json"}
}

// ImageKeys returns both aliases of an image variant.
func ImageKeys(tokenID string, variant domain.Variant, ext string) [2]string {
	base := assetsRoot + "/images/" + tokenID + "/" + string(variant) + "/image"
	return [2]string{base, withExt(base, ext)}
}

// FileKeys returns both aliases of a generic typed file, e.g.
// assets/videos/{id}/video and assets/videos/{id}/video.mp4.
func FileKeys(tokenID string, category domain.Category, ext string) [2]string {
	base := assetsRoot + "/" + category.Folder() + "/" + tokenID + "/" + string(category)
	return [2]string{base, withExt(base, ext)}
}

func withExt(base, ext string) string {
	if ext == "" {
		return base
	}
	return base + "." + ext
}

var extensions = map[string]string{
	"image/jpeg":               "jpg",
	"image/jpg":                "jpg",
	"image/png":                "png",
	"image/gif":                "gif",
	"image/webp":               "webp",
	"image/svg+xml":            "svg",
	"image/bmp":                "bmp",
	"image/tiff":               "tiff",
	"image/avif":               "avif",
	"video/mp4":                "mp4",
	"video/webm":               "webm",
	"video/quicktime":          "mov",
	"video/ogg":                "ogv",
	"audio/mpeg":               "mp3",
	"audio/mp3":                "mp3",
	"audio/wav":                "wav",
	"audio/x-wav":              "wav",
	"audio/wave":               "wav",
	"audio/ogg":                "ogg",
	"audio/flac":               "flac",
	"audio/aac":                "aac",
	"model/gltf-binary":        "glb",
	"model/gltf+json":          "gltf",
	"application/json":         "json",
	"application/pdf":          "pdf",
	"application/zip":          "zip",
	"text/plain":               "txt",
	"text/html":                "html",
	"text/csv":                 "csv",
	"application/octet-stream": "",
}

// Extension picks a file extension for a body. The declared content type
// wins; otherwise the extension of the source URL path is used, then the
// media subtype when it is a plain token. Falls back to "bin".
func Extension(contentType, source string) string {
	major, minor := domain.SplitContentType(contentType)
	mediaType := major + "/" + minor
	if ext, ok := extensions[mediaType]; ok && ext != "" {
		return ext
	}

	if ext := urlExtension(source); ext != "" {
		return ext
	}

	if _, known := extensions[mediaType]; !known && isToken(minor) {
		return minor
	}
	return "bin"
}

func urlExtension(source string) string {
	if source == "" {
		return ""
	}
	p := source
	if u, err := url.Parse(source); err == nil {
		p = u.Path
	}
	ext := strings.ToLower(strings.TrimPrefix(path.Ext(p), "."))
	if len(ext) > 5 || !isToken(ext) {
		return ""
	}
	return ext
}

func isToken(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if (r < 'a' || r > 'z') && (r < '0' || r > '9') {
			return false
		}
	}
	return true
}
