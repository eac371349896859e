package images

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

var _ Store = (*GCSStore)(nil)

// GCSStore keeps images as objects in a Google Cloud Storage bucket.
type GCSStore struct {
	bucket     *gcs.BucketHandle
	bucketName string
	publicBase string
	client     *gcs.Client
}

// NewGCSStore connects to GCS. credentialsFile may be empty to use application default credentials.
// publicBase is the URL root objects are served from, e.g. https://storage.googleapis.com.
func NewGCSStore(ctx context.Context, bucketName, publicBase, credentialsFile string) (*GCSStore, error) {
	if bucketName == "" {
		return nil, errors.New("gcs image store requires images.gcs_bucket")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := gcs.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create gcs client: %w", err)
	}
	s := NewGCSBucketStore(client.Bucket(bucketName), bucketName, publicBase)
	s.client = client
	return s, nil
}

// NewGCSBucketStore wraps an existing bucket handle.
func NewGCSBucketStore(bucket *gcs.BucketHandle, bucketName, publicBase string) *GCSStore {
	return &GCSStore{
		bucket:     bucket,
		bucketName: bucketName,
		publicBase: strings.TrimRight(publicBase, "/"),
	}
}

// Put writes the object only if it does not exist yet; names are never reused.
func (s *GCSStore) Put(ctx context.Context, name string, data []byte, contentType string) (string, error) {
	if !validName(name) {
		return "", fmt.Errorf("invalid image name %q", name)
	}
	w := s.bucket.Object(name).If(gcs.Conditions{DoesNotExist: true}).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "public, max-age=31536000"
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("writing object %s: %w", name, err)
	}
	if err := w.Close(); err != nil {
		var e *googleapi.Error
		if errors.As(err, &e) && e.Code == http.StatusPreconditionFailed {
			return "", fmt.Errorf("object %s already exists", name)
		}
		return "", fmt.Errorf("writing object %s: %w", name, err)
	}
	return s.URL(name), nil
}

func (s *GCSStore) Delete(ctx context.Context, name string) error {
	err := s.bucket.Object(name).Delete(ctx)
	if errors.Is(err, gcs.ErrObjectNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("deleting object %s: %w", name, err)
	}
	return nil
}

func (s *GCSStore) List(ctx context.Context) ([]string, error) {
	var names []string
	iter := s.bucket.Objects(ctx, &gcs.Query{})
	for {
		attrs, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return names, nil
		}
		if err != nil {
			return nil, fmt.Errorf("listing objects: %w", err)
		}
		if validName(attrs.Name) {
			names = append(names, attrs.Name)
		}
	}
}

func (s *GCSStore) URL(name string) string {
	return s.publicBase + "/" + s.bucketName + "/" + name
}

func (s *GCSStore) NameFromURL(url string) (string, bool) {
	name, ok := strings.CutPrefix(url, s.publicBase+"/"+s.bucketName+"/")
	if !ok || !validName(name) {
		return "", false
	}
	return name, true
}

// Close releases the client created by NewGCSStore.
func (s *GCSStore) Close() error {
	if s.client == nil {
		return nil
	}
	return s.client.Close()
}
