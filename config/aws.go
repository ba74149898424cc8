package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/go-playground/validator/v10"
)

// BillingConfig carries everything the billing pipeline needs to reach AWS:
// the CUR delivery bucket, the Cost Explorer / Organizations credentials and
// the local staging directories. Components receive it at construction and
// never read process-wide settings themselves.
type BillingConfig struct {
	BucketName      string `validate:"required"`
	BucketRegion    string `validate:"required"`
	BucketPrefix    string `validate:"required"`
	AccessKeyID     string `validate:"required"`
	SecretAccessKey string `validate:"required"`

	// Scratch directories for fetched .gz files and extracted CSVs.
	DownloadDir  string `validate:"required"`
	ExtractedDir string `validate:"required"`
}

// LoadBillingConfig reads the billing configuration from the environment and
// validates it. Missing credentials or bucket settings are fatal here, before
// any component is constructed.
func LoadBillingConfig() (*BillingConfig, error) {
	baseDir := os.Getenv("BILLING_STAGING_DIR")
	if baseDir == "" {
		baseDir = "."
	}

	cfg := &BillingConfig{
		BucketName:      os.Getenv("BUCKET_NAME"),
		BucketRegion:    os.Getenv("BUCKET_REGION"),
		BucketPrefix:    os.Getenv("BUCKET_PREFIX"),
		AccessKeyID:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
		DownloadDir:     filepath.Join(baseDir, "gz_downloads"),
		ExtractedDir:    filepath.Join(baseDir, "extracted_csvs"),
	}

	if err := validator.New().Struct(cfg); err != nil {
		return nil, fmt.Errorf("missing AWS credentials or configurations: %w", err)
	}
	return cfg, nil
}

// AWSConfig builds an aws-sdk-go-v2 config from the static credentials in the
// billing configuration.
func (c *BillingConfig) AWSConfig(ctx context.Context, region string) (aws.Config, error) {
	if region == "" {
		region = c.BucketRegion
	}
	return awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(c.AccessKeyID, c.SecretAccessKey, ""),
		),
	)
}
