// Package extract classifies fetched content and archives it, together with
// the assets referenced one hop deep from the metadata document.
package extract

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"xrpl-nft-archiver/internal/archive"
	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/identity"
	"xrpl-nft-archiver/internal/observability"
)

// Fetcher resolves a pointer to content. A nil result without error means
// every attempt failed.
type Fetcher interface {
	Fetch(ctx context.Context, pointer string, headers http.Header) (*domain.FetchResult, error)
}

// Archiver persists artifacts.
type Archiver interface {
	WriteMetadata(ctx context.Context, tokenID string, body []byte, source string) ([]archive.Artifact, error)
	WriteImage(ctx context.Context, tokenID string, body []byte, contentType, source string) ([]archive.Artifact, error)
	WriteFile(ctx context.Context, tokenID string, category domain.Category, body []byte, contentType, source string) ([]archive.Artifact, error)
}

// Report summarizes one extraction.
type Report struct {
	TokenID     string
	Pointer     string
	ContentType string
	// Metadata is the archived metadata document.
	Metadata  []byte
	Artifacts []archive.Artifact
	Secondary []*SecondaryAssetError
}

// Engine runs extractions.
type Engine struct {
	fetcher Fetcher
	writer  Archiver
	metrics *observability.Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithMetrics sets the metrics sink.
func WithMetrics(m *observability.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an Engine.
func New(fetcher Fetcher, writer Archiver, opts ...Option) *Engine {
	e := &Engine{fetcher: fetcher, writer: writer}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Extract fetches pointer, archives the primary artifact and metadata, then
// the secondary references. Secondary failures land in the report.
func (e *Engine) Extract(ctx context.Context, tokenID, pointer string) (*Report, error) {
	report := &Report{TokenID: tokenID, Pointer: pointer}

	res, err := e.fetcher.Fetch(ctx, pointer, nil)
	if err != nil {
		return report, err
	}
	if res == nil {
		return report, fmt.Errorf("%w: %s", ErrNoMetadataFound, pointer)
	}
	report.ContentType = res.ContentType

	var doc map[string]any
	switch primary := res.PrimaryType(); primary {
	case "application", "text", "":
		doc, err = e.extractDocument(ctx, report, res)
	case "image":
		doc, err = e.extractImage(ctx, report, res)
	default:
		doc, err = e.extractMedia(ctx, report, res, primary)
	}
	if err != nil {
		return report, err
	}

	e.scanReferences(ctx, report, doc)
	return report, nil
}

// extractDocument archives a JSON metadata body byte-for-byte and its
// nested content pointer.
func (e *Engine) extractDocument(ctx context.Context, report *Report, res *domain.FetchResult) (map[string]any, error) {
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(res.Body))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || doc == nil {
		if err == nil {
			err = errors.New("not a json object")
		}
		return nil, fmt.Errorf("%w: metadata %s: %v", ErrDecode, report.Pointer, err)
	}

	if err := e.writeMetadata(ctx, report, res.Body); err != nil {
		return nil, err
	}

	if content, ok := doc["content"].(string); ok && strings.TrimSpace(content) != "" {
		ref := identity.NormalizeReference(content)
		e.secondary(ctx, report, "content", ref, func(sub *domain.FetchResult) ([]archive.Artifact, error) {
			if sub.PrimaryType() == "image" {
				return e.writer.WriteImage(ctx, report.TokenID, sub.Body, sub.ContentType, ref)
			}
			return e.writer.WriteFile(ctx, report.TokenID, domain.CategoryForType(sub.PrimaryType()), sub.Body, sub.ContentType, ref)
		})
	}
	return doc, nil
}

// extractImage archives the pointer as an image and synthesizes
// {"image": pointer} as metadata.
func (e *Engine) extractImage(ctx context.Context, report *Report, res *domain.FetchResult) (map[string]any, error) {
	artifacts, err := e.writer.WriteImage(ctx, report.TokenID, res.Body, res.ContentType, report.Pointer)
	report.Artifacts = append(report.Artifacts, artifacts...)
	if err != nil {
		return nil, fmt.Errorf("%w: image %s: %v", ErrDecode, report.Pointer, err)
	}
	return e.synthesize(ctx, report, "image")
}

// extractMedia archives any other primary type as a generic file.
func (e *Engine) extractMedia(ctx context.Context, report *Report, res *domain.FetchResult, primary string) (map[string]any, error) {
	category := domain.CategoryForType(primary)
	artifacts, err := e.writer.WriteFile(ctx, report.TokenID, category, res.Body, res.ContentType, report.Pointer)
	report.Artifacts = append(report.Artifacts, artifacts...)
	if err != nil {
		return nil, err
	}
	return e.synthesize(ctx, report, primary)
}

func (e *Engine) synthesize(ctx context.Context, report *Report, field string) (map[string]any, error) {
	doc := map[string]any{field: report.Pointer}
	body, err := json.Marshal(doc)
	if err != nil {
		return nil, err
	}
	if err := e.writeMetadata(ctx, report, body); err != nil {
		return nil, err
	}
	return doc, nil
}

func (e *Engine) writeMetadata(ctx context.Context, report *Report, body []byte) error {
	artifacts, err := e.writer.WriteMetadata(ctx, report.TokenID, body, report.Pointer)
	report.Artifacts = append(report.Artifacts, artifacts...)
	if err != nil {
		return err
	}
	report.Metadata = body
	return nil
}
