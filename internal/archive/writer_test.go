package archive

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-nft-archiver/internal/domain"
	"xrpl-nft-archiver/internal/imaging"
	"xrpl-nft-archiver/internal/storage/memory"
)

const tokenID = "000803E8CE8FCF6DC1F9C9A3E6F2A9C4B6A3DB1DE2BF7B8C0000002BD"

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 10, G: 120, B: 240, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func fixedClock() time.Time {
	return time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
}

func TestWriteMetadata_BothKeysByteIdentical(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store)
	ctx := context.Background()

	body := []byte(`{"name":"Punk #1",  "image":"ipfs://bafy/1.png"}`)
	artifacts, err := w.WriteMetadata(ctx, tokenID, body, "ipfs://bafy/1.json")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	for _, key := range MetadataKeys(tokenID) {
		got, err := store.Get(ctx, key)
		require.NoError(t, err, key)
		assert.Equal(t, body, got, key)
		assert.Equal(t, "application/json", store.ContentType(key))
	}
	assert.Equal(t, "assets/metadata/"+tokenID+"/metadata", artifacts[0].Key)
	assert.Equal(t, "assets/metadata/"+tokenID+"/metadata.json", artifacts[1].Key)
}

func TestWriteMetadata_Idempotent(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store)
	ctx := context.Background()

	body := []byte(`{"image":"ipfs://X"}`)
	_, err := w.WriteMetadata(ctx, tokenID, body, "")
	require.NoError(t, err)
	_, err = w.WriteMetadata(ctx, tokenID, body, "")
	require.NoError(t, err)

	assert.Equal(t, 2, store.Len())
	for _, key := range MetadataKeys(tokenID) {
		got, err := store.Get(ctx, key)
		require.NoError(t, err)
		assert.Equal(t, body, got)
	}
}

func TestWriteImage_FullAndThumbnail(t *testing.T) {
	store := memory.NewObjectStore()
	idx := memory.NewAssetIndex()
	w := NewWriter(store, WithAssetIndex(idx), WithClock(fixedClock))
	ctx := context.Background()

	body := pngBytes(t, 400, 800)
	artifacts, err := w.WriteImage(ctx, tokenID, body, "image/png", "https://example.com/a.png")
	require.NoError(t, err)
	require.Len(t, artifacts, 4)

	keys, err := store.List(ctx, "assets/images/"+tokenID+"/")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"assets/images/" + tokenID + "/200px/image",
		"assets/images/" + tokenID + "/200px/image.png",
		"assets/images/" + tokenID + "/full/image",
		"assets/images/" + tokenID + "/full/image.png",
	}, keys)

	full, err := store.Get(ctx, "assets/images/"+tokenID+"/full/image.png")
	require.NoError(t, err)
	assert.Equal(t, body, full)

	thumbBody, err := store.Get(ctx, "assets/images/"+tokenID+"/200px/image")
	require.NoError(t, err)
	thumb, format, err := image.Decode(bytes.NewReader(thumbBody))
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, imaging.ThumbnailHeight, thumb.Bounds().Dy())
	assert.Equal(t, 100, thumb.Bounds().Dx())

	records, err := idx.GetByToken(ctx, tokenID)
	require.NoError(t, err)
	require.Len(t, records, 4)
	for _, r := range records {
		assert.Equal(t, domain.CategoryImage, r.Category)
		assert.Len(t, r.SHA256, 64)
		assert.True(t, fixedClock().Equal(r.ArchivedAt))
	}
}

func TestWriteImage_ExtensionFromDecodedFormat(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store)
	ctx := context.Background()

	_, err := w.WriteImage(ctx, tokenID, pngBytes(t, 10, 10), "application/octet-stream", "ipfs://bafy")
	require.NoError(t, err)

	ok, err := store.Exists(ctx, "assets/images/"+tokenID+"/full/image.png")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestWriteImage_UndecodableWritesNothing(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store)

	_, err := w.WriteImage(context.Background(), tokenID, []byte("<svg/>"), "image/svg+xml", "")
	assert.ErrorIs(t, err, imaging.ErrUnsupportedImage)
	assert.Equal(t, 0, store.Len())
}

func TestWriteImage_OverPixelCapWritesNothing(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store, WithMaxImagePixels(50))

	_, err := w.WriteImage(context.Background(), tokenID, pngBytes(t, 10, 10), "image/png", "ipfs://bafy")
	assert.ErrorIs(t, err, imaging.ErrImageTooLarge)
	assert.Equal(t, 0, store.Len())
}

func TestWriteFile_AnimationGIF(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store)
	ctx := context.Background()

	body := []byte("GIF89a....")
	artifacts, err := w.WriteFile(ctx, tokenID, domain.CategoryAnimation, body, "image/gif", "ipfs://bafy/anim.gif")
	require.NoError(t, err)
	require.Len(t, artifacts, 2)
	assert.Equal(t, "assets/animations/"+tokenID+"/animation", artifacts[0].Key)
	assert.Equal(t, "assets/animations/"+tokenID+"/animation.gif", artifacts[1].Key)
}

func TestHasMetadata(t *testing.T) {
	store := memory.NewObjectStore()
	w := NewWriter(store)
	ctx := context.Background()

	ok, err := w.HasMetadata(ctx, tokenID)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.Put(ctx, MetadataKeys(tokenID)[0], []byte(`{}`), "application/json"))
	ok, err = w.HasMetadata(ctx, tokenID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestExtension(t *testing.T) {
	tests := []struct {
		contentType string
		source      string
		want        string
	}{
		{"image/jpeg", "", "jpg"},
		{"video/mp4; codecs=avc1", "", "mp4"},
		{"audio/mpeg", "", "mp3"},
		{"application/octet-stream", "https://x.io/clip.MOV", "mov"},
		{"", "ipfs://bafy/track.flac", "flac"},
		{"video/x-matroska", "", "bin"},
		{"video/mpeg", "", "mpeg"},
		{"", "ipfs://bafy", "bin"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Extension(tt.contentType, tt.source), "%s %s", tt.contentType, tt.source)
	}
}
