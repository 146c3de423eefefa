package objectstore

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cognicore/yelpetl/pkg/yelp/internalerr"
)

func TestDirPutGet(t *testing.T) {
	ctx := context.Background()
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "yelp/tacos-Torrance-3.json", []byte(`[]`)))
	got, err := d.Get(ctx, "yelp/tacos-Torrance-3.json")
	require.NoError(t, err)
	assert.Equal(t, `[]`, string(got))

	ok, err := d.Exists(ctx, "yelp/tacos-Torrance-3.json")
	require.NoError(t, err)
	assert.True(t, ok)

	// Overwrite replaces the content.
	require.NoError(t, d.Put(ctx, "yelp/tacos-Torrance-3.json", []byte(`[{}]`)))
	got, _ = d.Get(ctx, "yelp/tacos-Torrance-3.json")
	assert.Equal(t, `[{}]`, string(got))
}

func TestDirMissing(t *testing.T) {
	ctx := context.Background()
	d, err := NewDir(t.TempDir())
	require.NoError(t, err)

	_, err = d.Get(ctx, "nope.json")
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
	ok, err := d.Exists(ctx, "nope.json")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestDirKeysStayInsideRoot(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	d, err := NewDir(root)
	require.NoError(t, err)

	require.NoError(t, d.Put(ctx, "../../escape.json", []byte(`x`)))
	got, err := d.Get(ctx, "escape.json")
	require.NoError(t, err)
	assert.Equal(t, "x", string(got))

	_, err = d.Get(ctx, "/")
	assert.ErrorIs(t, err, internalerr.ErrInvalidInput)
}

func TestNewDirRejectsEmpty(t *testing.T) {
	_, err := NewDir(" ")
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	b, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.objects[*in.Bucket+"/"+*in.Key] = b
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	b, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(b))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.objects[*in.Bucket+"/"+*in.Key]; !ok {
		return nil, &types.NotFound{}
	}
	return &s3.HeadObjectOutput{}, nil
}

func TestS3WithFakeClient(t *testing.T) {
	ctx := context.Background()
	st := &S3{Client: &fakeS3{objects: map[string][]byte{}}, Bucket: "raw"}

	require.NoError(t, st.Put(ctx, "yelp/a.json", []byte(`[1]`)))
	got, err := st.Get(ctx, "yelp/a.json")
	require.NoError(t, err)
	assert.Equal(t, `[1]`, string(got))

	ok, err := st.Exists(ctx, "yelp/a.json")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = st.Exists(ctx, "yelp/b.json")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = st.Get(ctx, "yelp/b.json")
	assert.ErrorIs(t, err, internalerr.ErrNotFound)
}

func TestNewS3RequiresBucket(t *testing.T) {
	_, err := NewS3(context.Background(), "", "us-west-2")
	assert.ErrorIs(t, err, internalerr.ErrInvalidConfig)
}
