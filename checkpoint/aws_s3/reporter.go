package aws_s3

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"go.uber.org/zap"

	"github.com/RiemaLabs/modular-block-committer/checkpoint"
)

const DefaultTimeout = 30 * time.Second

type Config struct {
	Enabled   bool   `json:"enabled" toml:"enabled"`
	Bucket    string `json:"bucket" toml:"bucket"`
	Region    string `json:"region" toml:"region"`
	AccessKey string `json:"accessKey" toml:"accessKey"`
	SecretKey string `json:"secretKey" toml:"secretKey"`
	Timeout   string `json:"timeout" toml:"timeout"`
}

// Uploader is the part of the S3 upload manager used by the reporter.
type Uploader interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// Reporter archives every recorded submission as a JSON checkpoint object.
type Reporter struct {
	uploader Uploader
	bucket   string
	timeout  time.Duration
	id       *checkpoint.CommitterIdentification
	log      *zap.SugaredLogger
}

func NewReporter(ctx context.Context, cfg Config, id *checkpoint.CommitterIdentification, lggr *zap.SugaredLogger) (*Reporter, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
		config.WithRegion(cfg.Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create aws config: %w", err)
	}
	return NewReporterWithUploader(manager.NewUploader(s3.NewFromConfig(awsCfg)), cfg, id, lggr), nil
}

func NewReporterWithUploader(uploader Uploader, cfg Config, id *checkpoint.CommitterIdentification, lggr *zap.SugaredLogger) *Reporter {
	timeout, err := time.ParseDuration(cfg.Timeout)
	if err != nil || timeout <= 0 {
		timeout = DefaultTimeout
	}
	if lggr == nil {
		lggr = zap.NewNop().Sugar()
	}
	return &Reporter{
		uploader: uploader,
		bucket:   cfg.Bucket,
		timeout:  timeout,
		id:       id,
		log:      lggr.Named("aws_s3"),
	}
}

func ObjectKey(c checkpoint.Checkpoint) string {
	return fmt.Sprintf("checkpoint-%s-%s-%s.json", c.Name, c.Height, c.Hash)
}

func (r *Reporter) Archive(ctx context.Context, submission checkpoint.Submission) error {
	c := checkpoint.NewCheckpoint(r.id, submission.Block)
	body, err := checkpoint.EncodeCheckpoint(c)
	if err != nil {
		return checkpoint.OtherError(err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	objectKey := ObjectKey(c)
	_, err = r.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(r.bucket),
		Key:         aws.String(objectKey),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
		Metadata: map[string]string{
			"submittal-height": submission.SubmittalHeight.String(),
		},
	})
	if err != nil {
		return checkpoint.NetworkError(fmt.Errorf("uploading %s: %w", objectKey, err))
	}
	r.log.Infow("Checkpoint uploaded to S3", "key", objectKey)
	return nil
}
