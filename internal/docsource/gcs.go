package docsource

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCSSource mirrors PDF objects from a bucket prefix into the local
// documents directory before a run. Objects already present locally are
// not fetched again, so a sync is as idempotent as the ingestion that
// follows it.
type GCSSource struct {
	bucket string
	prefix string
}

// NewGCSSource creates a source for gs://bucket/prefix.
func NewGCSSource(bucket, prefix string) *GCSSource {
	return &GCSSource{bucket: bucket, prefix: prefix}
}

// Sync downloads missing PDFs into destDir and returns how many it fetched.
func (s *GCSSource) Sync(ctx context.Context, destDir string) (int, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return 0, fmt.Errorf("Sync: create storage client: %w", err)
	}
	defer client.Close()

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return 0, fmt.Errorf("Sync: create dest dir %q: %w", destDir, err)
	}

	bkt := client.Bucket(s.bucket)
	it := bkt.Objects(ctx, &storage.Query{Prefix: s.prefix})

	fetched := 0
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fetched, fmt.Errorf("Sync: listing gs://%s/%s: %w", s.bucket, s.prefix, err)
		}

		name := path.Base(attrs.Name)
		if !strings.EqualFold(path.Ext(name), ".pdf") {
			continue
		}
		dest := filepath.Join(destDir, name)
		if _, err := os.Stat(dest); err == nil {
			continue
		}

		if err := s.download(ctx, bkt, attrs.Name, dest); err != nil {
			return fetched, err
		}
		fetched++
	}

	return fetched, nil
}

func (s *GCSSource) download(ctx context.Context, bkt *storage.BucketHandle, object, dest string) error {
	r, err := bkt.Object(object).NewReader(ctx)
	if err != nil {
		return fmt.Errorf("open GCS object reader for %q: %w", object, err)
	}
	defer r.Close()

	f, err := os.Create(dest)
	if err != nil {
		return fmt.Errorf("create %q: %w", dest, err)
	}
	defer f.Close()

	if _, err := io.Copy(f, r); err != nil {
		// Remove the partial file so a retry does not skip it.
		os.Remove(dest)
		return fmt.Errorf("download %q: %w", object, err)
	}
	return nil
}
