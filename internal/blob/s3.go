package blob

import (
	"context"

	infraS3 "fieldtrial/internal/infra/blob/s3"
)

// S3Config re-exports the S3 backend configuration.
type S3Config = infraS3.Config

// NewS3 constructs an S3-backed Store from cfg.
func NewS3(ctx context.Context, cfg S3Config) (Store, error) {
	s, err := infraS3.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// OpenFromEnv constructs an S3 store from FIELDTRIAL_BLOB_S3_BUCKET,
// FIELDTRIAL_BLOB_S3_REGION, FIELDTRIAL_BLOB_S3_ENDPOINT and
// FIELDTRIAL_BLOB_S3_PATH_STYLE.
func OpenFromEnv(ctx context.Context) (Store, error) {
	s, err := infraS3.OpenFromEnv(ctx)
	if err != nil {
		return nil, err
	}
	return s, nil
}

// NewMockS3ForTests exposes the in-process S3 fake for cross-package tests.
func NewMockS3ForTests() Store { return infraS3.NewMockForTests() }
