//go:build gcp

package blob

import (
	"context"
	"fmt"
	"os"
)

func newGCSStoreFromEnv(ctx context.Context) (Store, error) {
	bucket := os.Getenv("BLOB_GCS_BUCKET")
	if bucket == "" {
		return nil, fmt.Errorf("BLOB_GCS_BUCKET is required for GCS storage")
	}
	return NewGCSStore(ctx, GCSStoreConfig{
		Bucket: bucket,
		Prefix: os.Getenv("BLOB_GCS_PREFIX"),
	})
}
