package blob

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
)

// StoreType selects the content-store backend.
type StoreType string

const (
	StoreTypeFS          StoreType = "fs"
	StoreTypeEncryptedFS StoreType = "fs-encrypted"
	StoreTypeS3          StoreType = "s3"
	StoreTypeGCS         StoreType = "gcs"
	StoreTypeMemory      StoreType = "memory"
)

// NewStoreFromEnv creates a content store based on environment variables.
//
// Environment variables:
//   - BLOB_STORAGE_TYPE: "fs" (default), "fs-encrypted", "s3", "gcs", "memory"
//   - BLOB_DATA_DIR: base directory for filesystem stores (default: "data/blobs")
//   - BLOB_MASTER_KEY: hex-encoded 32-byte key (required for fs-encrypted)
//
// For S3:
//   - AWS_REGION or BLOB_S3_REGION
//   - BLOB_S3_BUCKET (required)
//   - BLOB_S3_ENDPOINT (optional, for MinIO/LocalStack)
//   - BLOB_S3_PREFIX (optional)
//
// For GCS (requires -tags gcp):
//   - BLOB_GCS_BUCKET (required)
//   - BLOB_GCS_PREFIX (optional)
func NewStoreFromEnv(ctx context.Context) (Store, error) {
	storeType := StoreType(os.Getenv("BLOB_STORAGE_TYPE"))
	if storeType == "" {
		storeType = StoreTypeFS
	}

	dataDir := os.Getenv("BLOB_DATA_DIR")
	if dataDir == "" {
		dataDir = "data/blobs"
	}

	switch storeType {
	case StoreTypeFS:
		return NewFileStore(dataDir)

	case StoreTypeEncryptedFS:
		keyHex := os.Getenv("BLOB_MASTER_KEY")
		if keyHex == "" {
			return nil, fmt.Errorf("BLOB_MASTER_KEY is required for encrypted storage")
		}
		key, err := hex.DecodeString(keyHex)
		if err != nil {
			return nil, fmt.Errorf("BLOB_MASTER_KEY must be hex: %w", err)
		}
		return NewEncryptedFileStore(dataDir, key)

	case StoreTypeS3:
		bucket := os.Getenv("BLOB_S3_BUCKET")
		if bucket == "" {
			return nil, fmt.Errorf("BLOB_S3_BUCKET is required for S3 storage")
		}
		region := os.Getenv("BLOB_S3_REGION")
		if region == "" {
			region = os.Getenv("AWS_REGION")
		}
		return NewS3Store(ctx, S3StoreConfig{
			Bucket:   bucket,
			Region:   region,
			Endpoint: os.Getenv("BLOB_S3_ENDPOINT"),
			Prefix:   os.Getenv("BLOB_S3_PREFIX"),
		})

	case StoreTypeGCS:
		return newGCSStoreFromEnv(ctx)

	case StoreTypeMemory:
		return NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unknown blob storage type %q", storeType)
	}
}
