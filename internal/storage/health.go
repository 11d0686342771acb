package storage

import (
	"context"
	"fmt"
)

// HealthCheck verifies the bucket is reachable.
func (s *S3Store) HealthCheck(ctx context.Context) error {
	ctx, cancel := s.withMetadataTimeout(ctx)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("s3 bucket check: %w", err)
	}
	if !exists {
		return fmt.Errorf("s3 bucket %s missing", s.bucket)
	}
	return nil
}
