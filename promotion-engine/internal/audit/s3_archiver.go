package audit

import (
	"bytes"
	"context"
	"fmt"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/intakecalc/platform/promotion-engine/internal/canonical"
	"github.com/intakecalc/platform/promotion-engine/internal/models"
)

// Archiver stores an immutable snapshot of the payload written by an attempt.
type Archiver interface {
	ArchivePayload(ctx context.Context, promotionID string, p models.DestinationPayload) (string, error)
}

type uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// S3Archiver writes canonical payload JSON to keys like
//
//	<prefix>/promotions/YYYY/MM/DD/<prospectID>/<promotionID>.json
type S3Archiver struct {
	bucket   string
	prefix   string
	uploader uploader
}

// NewS3Archiver loads AWS configuration from the environment.
func NewS3Archiver(ctx context.Context, bucket, prefix string) (*S3Archiver, error) {
	if bucket == "" {
		return nil, fmt.Errorf("bucket required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &S3Archiver{
		bucket:   bucket,
		prefix:   prefix,
		uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
	}, nil
}

func (s *S3Archiver) ObjectKey(promotionID string, p models.DestinationPayload) string {
	year, month, day := p.Metadata.PromotionTimestamp.UTC().Date()
	return path.Join(s.prefix, "promotions",
		fmt.Sprintf("%04d", year),
		fmt.Sprintf("%02d", int(month)),
		fmt.Sprintf("%02d", day),
		p.Metadata.ProspectID,
		promotionID+".json",
	)
}

func (s *S3Archiver) ArchivePayload(ctx context.Context, promotionID string, p models.DestinationPayload) (string, error) {
	body, err := canonical.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("canonicalize payload: %w", err)
	}
	key := s.ObjectKey(promotionID, p)
	_, err = s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:               aws.String(s.bucket),
		Key:                  aws.String(key),
		Body:                 bytes.NewReader(body),
		ContentType:          aws.String("application/json"),
		ServerSideEncryption: s3types.ServerSideEncryptionAes256,
		Metadata: map[string]string{
			"content-hash":   p.Metadata.ContentHash,
			"blueprint-hash": p.Metadata.BlueprintVersionHash,
		},
	})
	if err != nil {
		return "", fmt.Errorf("s3 upload failed: %w", err)
	}
	return key, nil
}
