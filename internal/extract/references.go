package extract

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/archive"
	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/logging"
)

// reference is a recognized metadata field.
type reference struct {
	category domain.Category
	names    []string
	fetch    bool
}

// references lists the recognized fields in scan order. Audio, thumbnail
// and file references are logged only.
var references = []reference{
	{category: domain.CategoryImage, names: []string{"image", "image_url"}, fetch: true},
	{category: domain.CategoryVideo, names: []string{"video", "video_url"}, fetch: true},
	{category: domain.CategoryAnimation, names: []string{"animation", "animation_url"}, fetch: true},
	{category: domain.CategoryAudio, names: []string{"audio", "audio_url"}},
	{category: domain.CategoryThumbnail, names: []string{"thumbnail", "thumbnail_url"}},
	{category: domain.CategoryFile, names: []string{"file", "file_url"}},
}

// scanReferences fetches and archives the media referenced by doc. Each
// distinct pointer is fetched once per run.
func (e *Engine) scanReferences(ctx context.Context, report *Report, doc map[string]any) {
	if doc == nil {
		return
	}
	log := logging.FromContext(ctx)

	seen := map[string]bool{report.Pointer: true}
	if content, ok := doc["content"].(string); ok {
		seen[identity.NormalizeReference(content)] = true
	}

	for _, ref := range references {
		for _, name := range ref.names {
			raw, ok := doc[name].(string)
			if !ok || strings.TrimSpace(raw) == "" {
				continue
			}
			pointer := referencePointer(raw)

			if !ref.fetch {
				log.Info("metadata reference not archived",
					zap.String("field", name),
					zap.String("reference", pointer),
				)
				continue
			}
			if seen[pointer] {
				continue
			}
			seen[pointer] = true

			category := ref.category
			e.secondary(ctx, report, name, pointer, func(sub *domain.FetchResult) ([]archive.Artifact, error) {
				if category == domain.CategoryImage && sub.PrimaryType() == "image" {
					return e.writer.WriteImage(ctx, report.TokenID, sub.Body, sub.ContentType, pointer)
				}
				if category == domain.CategoryImage {
					category = domain.CategoryForType(sub.PrimaryType())
				}
				return e.writer.WriteFile(ctx, report.TokenID, category, sub.Body, sub.ContentType, pointer)
			})
		}
	}
}

// secondary fetches pointer and hands the result to write. Failures and
// panics are recorded on the report and logged.
func (e *Engine) secondary(ctx context.Context, report *Report, field, pointer string, write func(*domain.FetchResult) ([]archive.Artifact, error)) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v\n%s", r, debug.Stack())
			}
		}()

		if strings.HasPrefix(pointer, "data:") {
			return errUnsupportedReference
		}
		sub, err := e.fetcher.Fetch(ctx, pointer, nil)
		if err != nil {
			return err
		}
		if sub == nil {
			return ErrNoMetadataFound
		}
		artifacts, err := write(sub)
		report.Artifacts = append(report.Artifacts, artifacts...)
		return err
	}()
	if err == nil {
		return
	}

	secErr := &SecondaryAssetError{Field: field, Pointer: pointer, Err: err}
	report.Secondary = append(report.Secondary, secErr)
	e.metrics.SecondaryError(field)
	logging.FromContext(ctx).Warn("secondary asset failed",
		zap.String("token_id", report.TokenID),
		zap.String("field", field),
		zap.String("pointer", pointer),
		zap.Error(err),
	)
}

// referencePointer normalizes a metadata reference. data: URIs keep their
// scheme so they can be reported as unsupported.
func referencePointer(raw string) string {
	return identity.NormalizeReference(raw)
}
