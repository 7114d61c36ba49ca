package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob" // file:// driver
	_ "gocloud.dev/blob/gcsblob"  // GCS driver
	_ "gocloud.dev/blob/memblob"  // mem:// driver
	_ "gocloud.dev/blob/s3blob"   // S3 driver
	"gocloud.dev/gcerrors"
)

// BlobStore keeps objects in a gocloud.dev bucket.
// Works with GCS, AWS S3, Backblaze B2, Cloudflare R2, MinIO and fileblob.
type BlobStore struct {
	bucket  *blob.Bucket
	baseURI string
}

// NewBlobStore opens any gocloud.dev bucket URL.
func NewBlobStore(ctx context.Context, bucketURL string) (*BlobStore, error) {
	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open bucket %s: %w", bucketURL, err)
	}
	return NewBlobStoreFromBucket(bucket, bucketURL), nil
}

// NewBlobStoreFromBucket wraps an already opened bucket. The store takes
// ownership and closes it on Close.
func NewBlobStoreFromBucket(bucket *blob.Bucket, baseURI string) *BlobStore {
	if i := strings.Index(baseURI, "?"); i >= 0 {
		baseURI = baseURI[:i]
	}
	return &BlobStore{
		bucket:  bucket,
		baseURI: strings.TrimSuffix(baseURI, "/"),
	}
}

// NewS3Store creates a new S3-compatible store.
// endpoint can be empty for AWS S3, or a custom URL for B2/R2/MinIO.
func NewS3Store(ctx context.Context, bucketName, prefix, endpoint, region string) (*BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("S3 bucket required")
	}

	bucketURL := fmt.Sprintf("s3://%s", bucketName)

	params := url.Values{}
	if region != "" {
		params.Set("region", region)
	}
	if endpoint != "" {
		params.Set("endpoint", endpoint)
		params.Set("s3ForcePathStyle", "true")
	}
	if len(params) > 0 {
		bucketURL = bucketURL + "?" + params.Encode()
	}

	bucket, err := blob.OpenBucket(ctx, bucketURL)
	if err != nil {
		return nil, fmt.Errorf("open S3 bucket %s: %w", bucketName, err)
	}
	return prefixed(bucket, fmt.Sprintf("s3://%s", bucketName), prefix), nil
}

// NewGCSStore creates a new GCS store.
func NewGCSStore(ctx context.Context, bucketName, prefix string) (*BlobStore, error) {
	if bucketName == "" {
		return nil, fmt.Errorf("GCS bucket required")
	}

	bucket, err := blob.OpenBucket(ctx, fmt.Sprintf("gs://%s", bucketName))
	if err != nil {
		return nil, fmt.Errorf("open GCS bucket %s: %w", bucketName, err)
	}
	return prefixed(bucket, fmt.Sprintf("gs://%s", bucketName), prefix), nil
}

func prefixed(bucket *blob.Bucket, base, prefix string) *BlobStore {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return NewBlobStoreFromBucket(bucket, base)
	}
	return NewBlobStoreFromBucket(blob.PrefixedBucket(bucket, prefix+"/"), base+"/"+prefix)
}

// Put writes data with a single blob write; object stores publish the
// object only when the writer closes successfully.
func (s *BlobStore) Put(ctx context.Context, key string, data []byte) error {
	if err := s.bucket.WriteAll(ctx, key, data, nil); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// PutIfAbsent uses a conditional write.
func (s *BlobStore) PutIfAbsent(ctx context.Context, key string, data []byte) error {
	err := s.bucket.WriteAll(ctx, key, data, &blob.WriterOptions{IfNotExist: true})
	if err != nil {
		if gcerrors.Code(err) == gcerrors.FailedPrecondition {
			return fmt.Errorf("%s: %w", key, ErrExists)
		}
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

// Get reads an object.
func (s *BlobStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.bucket.ReadAll(ctx, key)
	if err != nil {
		if gcerrors.Code(err) == gcerrors.NotFound {
			return nil, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return nil, fmt.Errorf("read %s: %w", key, err)
	}
	return data, nil
}

// Exists checks if an object exists.
func (s *BlobStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.bucket.Exists(ctx, key)
}

// List returns all keys with the given prefix.
func (s *BlobStore) List(ctx context.Context, prefix string) ([]string, error) {
	var keys []string

	iter := s.bucket.List(&blob.ListOptions{
		Prefix: prefix,
	})

	for {
		obj, err := iter.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("list %s: %w", prefix, err)
		}
		if obj.IsDir || isTempKey(obj.Key) {
			continue
		}
		keys = append(keys, obj.Key)
	}

	sort.Strings(keys)
	return keys, nil
}

// Delete removes an object. Missing objects are ignored.
func (s *BlobStore) Delete(ctx context.Context, key string) error {
	if err := s.bucket.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}

// URI returns the canonical URI for the given key.
func (s *BlobStore) URI(key string) string {
	return s.baseURI + "/" + key
}

// Close releases the bucket connection.
func (s *BlobStore) Close() error {
	if s.bucket != nil {
		return s.bucket.Close()
	}
	return nil
}

// Verify BlobStore implements Store.
var _ Store = (*BlobStore)(nil)
