// Package archive persists extracted artifacts under the archive key layout.
// Every artifact is written twice: under an extensionless key and under the
// same key with an extension.
package archive

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"go.uber.org/zap"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/imaging"
	"xrpl-nft-archiver/internal/logging"
	"xrpl-nft-archiver/internal/observability"
	"xrpl-nft-archiver/internal/storage"
)

// Writer writes artifacts to an object store and records them in an
// optional asset index.
type Writer struct {
	store     storage.ObjectStore
	index     storage.AssetIndex
	metrics   *observability.Metrics
	now       func() time.Time
	maxPixels int64
}

// Option configures a Writer.
type Option func(*Writer)

// WithAssetIndex records every written key in idx. Index failures are
// logged and never fail the write.
func WithAssetIndex(idx storage.AssetIndex) Option {
	return func(w *Writer) {
		w.index = idx
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(w *Writer) {
		w.metrics = m
	}
}

// WithMaxImagePixels caps the declared size of images decoded for
// thumbnails.
func WithMaxImagePixels(n int64) Option {
	return func(w *Writer) {
		w.maxPixels = n
	}
}

// WithClock overrides the archived_at clock.
func WithClock(now func() time.Time) Option {
	return func(w *Writer) {
		w.now = now
	}
}

// NewWriter creates a Writer over store.
func NewWriter(store storage.ObjectStore, opts ...Option) *Writer {
	w := &Writer{
		store:     store,
		now:       time.Now,
		maxPixels: imaging.DefaultMaxPixels,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Artifact is one written object.
type Artifact struct {
	Key         string
	Category    domain.Category
	Variant     string
	ContentType string
	Size        int
}

// WriteMetadata stores body unchanged under both metadata keys.
func (w *Writer) WriteMetadata(ctx context.Context, tokenID string, body []byte, source string) ([]Artifact, error) {
	keys := MetadataKeys(tokenID)
	return w.writePair(ctx, tokenID, domain.CategoryMetadata, "", keys, body, "application/json", source)
}

// WriteImage stores the original image under full/ and a 200px PNG
// thumbnail under 200px/. Nothing is written when the body does not decode.
func (w *Writer) WriteImage(ctx context.Context, tokenID string, body []byte, contentType, source string) ([]Artifact, error) {
	rendition, err := imaging.PrepareWithLimit(body, w.maxPixels)
	if err != nil {
		return nil, err
	}

	ext := Extension(contentType, source)
	if ext == "bin" && rendition.Format != "" {
		ext = formatExtension(rendition.Format)
	}
	if contentType == "" {
		contentType = "image/" + rendition.Format
	}

	full, err := w.writePair(ctx, tokenID, domain.CategoryImage, string(domain.VariantFull),
		ImageKeys(tokenID, domain.VariantFull, ext), rendition.Full, contentType, source)
	if err != nil {
		return full, err
	}

	thumb, err := w.writePair(ctx, tokenID, domain.CategoryImage, string(domain.VariantThumbnail),
		ImageKeys(tokenID, domain.VariantThumbnail, "png"), rendition.Thumbnail, "image/png", source)
	return append(full, thumb...), err
}

// WriteFile stores a generic typed body under
// assets/{category}s/{token_id}/{category}[.ext].
func (w *Writer) WriteFile(ctx context.Context, tokenID string, category domain.Category, body []byte, contentType, source string) ([]Artifact, error) {
	keys := FileKeys(tokenID, category, Extension(contentType, source))
	return w.writePair(ctx, tokenID, category, "", keys, body, contentType, source)
}

// HasMetadata reports whether either metadata alias exists.
func (w *Writer) HasMetadata(ctx context.Context, tokenID string) (bool, error) {
	keys := MetadataKeys(tokenID)
	for _, key := range []string{keys[1], keys[0]} {
		ok, err := w.store.Exists(ctx, key)
		if err != nil {
			return false, fmt.Errorf("probe %s: %w", key, err)
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (w *Writer) writePair(ctx context.Context, tokenID string, category domain.Category, variant string, keys [2]string, body []byte, contentType, source string) ([]Artifact, error) {
	if tokenID == "" {
		return nil, storage.ErrInvalidInput
	}

	sum := sha256.Sum256(body)
	digest := hex.EncodeToString(sum[:])
	now := w.now().UTC()

	written := make([]Artifact, 0, len(keys))
	for _, key := range keys {
		if err := w.store.Put(ctx, key, body, contentType); err != nil {
			return written, fmt.Errorf("write %s: %w", key, err)
		}
		written = append(written, Artifact{
			Key:         key,
			Category:    category,
			Variant:     variant,
			ContentType: contentType,
			Size:        len(body),
		})
		w.record(ctx, &domain.AssetRecord{
			TokenID:     tokenID,
			Category:    category,
			Variant:     variant,
			Key:         key,
			ContentType: contentType,
			Size:        int64(len(body)),
			SHA256:      digest,
			Source:      source,
			ArchivedAt:  now,
		})
		// Extensionless and extensioned keys coincide when ext is empty.
		if keys[0] == keys[1] {
			break
		}
	}

	w.metrics.ArtifactWritten(string(category), len(written))
	return written, nil
}

func (w *Writer) record(ctx context.Context, rec *domain.AssetRecord) {
	if w.index == nil {
		return
	}
	if err := w.index.Upsert(ctx, rec); err != nil {
		logging.FromContext(ctx).Warn("asset index upsert failed",
			zap.String("key", rec.Key),
			zap.Error(err),
		)
	}
}

func formatExtension(format string) string {
	if format == "jpeg" {
		return "jpg"
	}
	return format
}
