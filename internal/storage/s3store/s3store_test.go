package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"xrpl-nft-archiver/internal/storage"
)

// fakeS3 is an in-process S3 API with a small page size to exercise pagination.
type fakeS3 struct {
	mu       sync.Mutex
	objects  map[string][]byte
	types    map[string]string
	pageSize int
	failPut  error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}, pageSize: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failPut != nil {
		return nil, f.failPut
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[aws.ToString(in.Key)] = body
	f.types[aws.ToString(in.Key)] = aws.ToString(in.ContentType)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("missing")}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[aws.ToString(in.Key)]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if tok := aws.ToString(in.ContinuationToken); tok != "" {
		fmt.Sscanf(tok, "%d", &start)
	}
	end := start + f.pageSize
	if end > len(keys) {
		end = len(keys)
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(end < len(keys))}
	for _, k := range keys[start:end] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if end < len(keys) {
		out.NextContinuationToken = aws.String(fmt.Sprintf("%d", end))
	}
	return out, nil
}

func TestStore_PutGetExistsDelete(t *testing.T) {
	api := newFakeS3()
	store := NewWithClient(api, "bucket", "")
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "assets/metadata/T/metadata.json", []byte(`{}`), "application/json"))
	assert.Equal(t, "application/json", api.types["assets/metadata/T/metadata.json"])

	body, err := store.Get(ctx, "assets/metadata/T/metadata.json")
	require.NoError(t, err)
	assert.Equal(t, `{}`, string(body))

	ok, err := store.Exists(ctx, "assets/metadata/T/metadata.json")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, store.Delete(ctx, "assets/metadata/T/metadata.json"))

	ok, err = store.Exists(ctx, "assets/metadata/T/metadata.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.Get(ctx, "assets/metadata/T/metadata.json")
	assert.True(t, errors.Is(err, storage.ErrNotFound))
}

func TestStore_ListPaginatesAndStripsPrefix(t *testing.T) {
	api := newFakeS3()
	store := NewWithClient(api, "bucket", "env/")
	ctx := context.Background()

	for _, id := range []string{"E", "A", "C", "B", "D"} {
		require.NoError(t, store.Put(ctx, "notfound/"+id+".json", []byte("{}"), "application/json"))
	}
	require.NoError(t, store.Put(ctx, "done/A.json", []byte("{}"), "application/json"))

	assert.Contains(t, api.objects, "env/notfound/A.json")

	keys, err := store.List(ctx, "notfound/")
	require.NoError(t, err)
	assert.Equal(t, []string{"notfound/A.json", "notfound/B.json", "notfound/C.json", "notfound/D.json", "notfound/E.json"}, keys)
}

func TestStore_PutError(t *testing.T) {
	api := newFakeS3()
	api.failPut = errors.New("access denied")
	store := NewWithClient(api, "bucket", "")

	err := store.Put(context.Background(), "k", []byte("v"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")

	assert.True(t, errors.Is(store.Put(context.Background(), "", nil, ""), storage.ErrInvalidInput))
}

func TestNew_RequiresBucket(t *testing.T) {
	_, err := New(context.Background(), Config{})
	assert.Error(t, err)
}
