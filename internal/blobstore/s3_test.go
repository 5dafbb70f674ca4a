package blobstore

import (
	"bytes"
	"context"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awss3 "github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 is an in-memory bucket honouring If-None-Match on put.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	pageLen int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: make(map[string][]byte), pageLen: 2}
}

func (f *fakeS3) PutObject(_ context.Context, in *awss3.PutObjectInput, _ ...func(*awss3.Options)) (*awss3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := aws.ToString(in.Key)
	if _, ok := f.objects[key]; ok && aws.ToString(in.IfNoneMatch) == "*" {
		return nil, &smithy.GenericAPIError{Code: "PreconditionFailed", Message: "At least one of the pre-conditions you specified did not hold"}
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[key] = data
	return &awss3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *awss3.GetObjectInput, _ ...func(*awss3.Options)) (*awss3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	data, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{Message: aws.String("The specified key does not exist.")}
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *awss3.DeleteObjectInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, aws.ToString(in.Key))
	return &awss3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) DeleteObjects(_ context.Context, in *awss3.DeleteObjectsInput, _ ...func(*awss3.Options)) (*awss3.DeleteObjectsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range in.Delete.Objects {
		delete(f.objects, aws.ToString(id.Key))
	}
	return &awss3.DeleteObjectsOutput{}, nil
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *awss3.ListObjectsV2Input, _ ...func(*awss3.Options)) (*awss3.ListObjectsV2Output, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) && k > aws.ToString(in.ContinuationToken) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	out := &awss3.ListObjectsV2Output{}
	if len(keys) > f.pageLen {
		keys = keys[:f.pageLen]
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String(keys[len(keys)-1])
	}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func TestS3PutGet(t *testing.T) {
	fake := newFakeS3()
	store := NewS3WithClient(fake, "media", "files")
	ctx := context.Background()

	n, err := store.Put(ctx, 9, "1000_doc.pdf", strings.NewReader("pdf-bytes"), 9)
	require.NoError(t, err)
	assert.Equal(t, int64(9), n)
	assert.Equal(t, []string{"files/owner_9/1000_doc.pdf"}, fake.keys())

	rc, err := store.Get(ctx, 9, "1000_doc.pdf")
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	assert.Equal(t, "pdf-bytes", string(data))
}

func TestS3PutExisting(t *testing.T) {
	store := NewS3WithClient(newFakeS3(), "media", "")
	ctx := context.Background()

	_, err := store.Put(ctx, 1, "1000_a.txt", strings.NewReader("a"), 1)
	require.NoError(t, err)
	_, err = store.Put(ctx, 1, "1000_a.txt", strings.NewReader("b"), 1)
	assert.ErrorIs(t, err, ErrExists)
}

func TestS3GetMissing(t *testing.T) {
	store := NewS3WithClient(newFakeS3(), "media", "")
	_, err := store.Get(context.Background(), 1, "1000_none.bin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestS3DeleteNamespacePaginates(t *testing.T) {
	fake := newFakeS3()
	store := NewS3WithClient(fake, "media", "")
	ctx := context.Background()

	for _, name := range []string{"1_a.bin", "2_b.bin", "3_c.bin", "4_d.bin", "5_e.bin"} {
		_, err := store.Put(ctx, 1, name, strings.NewReader(name), -1)
		require.NoError(t, err)
	}
	_, err := store.Put(ctx, 10, "1_other.bin", strings.NewReader("x"), 1)
	require.NoError(t, err)

	require.NoError(t, store.DeleteNamespace(ctx, 1))
	assert.Equal(t, []string{"owner_10/1_other.bin"}, fake.keys())

	require.NoError(t, store.Delete(ctx, 10, "1_other.bin"))
	require.NoError(t, store.Delete(ctx, 10, "1_other.bin"))
	assert.Empty(t, fake.keys())
}
