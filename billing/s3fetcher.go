package billing

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/sirupsen/logrus"

	"github.com/cloudfocus/tbilling_backend/config"
	"github.com/cloudfocus/tbilling_backend/utils"
)

// S3API is the slice of the S3 client the fetcher uses.
type S3API interface {
	ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// S3FileFetcher locates and downloads compressed CUR exports from the
// billing bucket. All settings come from the billing configuration passed at
// construction; it never reads ambient state.
type S3FileFetcher struct {
	client       S3API
	bucketName   string
	bucketPrefix string
	logger       *logrus.Logger
}

// NewS3FileFetcher builds a fetcher from validated billing configuration.
func NewS3FileFetcher(ctx context.Context, cfg *config.BillingConfig) (*S3FileFetcher, error) {
	awsCfg, err := cfg.AWSConfig(ctx, cfg.BucketRegion)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
	}
	return &S3FileFetcher{
		client:       s3.NewFromConfig(awsCfg),
		bucketName:   cfg.BucketName,
		bucketPrefix: cfg.BucketPrefix,
		logger:       config.GetLogger(),
	}, nil
}

// PeriodPrefix builds the CUR delivery prefix for the previous full calendar
// month: <bucket-prefix>/<YYYYMMDD>-<YYYYMMDD>/.
func (f *S3FileFetcher) PeriodPrefix(today time.Time) string {
	start, end := utils.BillingPeriod(today)
	return fmt.Sprintf("%s/%s-%s/", f.bucketPrefix, start.Format("20060102"), end.Format("20060102"))
}

// ListFiles returns every object key under the given prefix. An empty
// listing is not an error.
func (f *S3FileFetcher) ListFiles(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	var continuationToken *string
	for {
		out, err := f.client.ListObjectsV2(ctx, &s3.ListObjectsV2Input{
			Bucket:            aws.String(f.bucketName),
			Prefix:            aws.String(prefix),
			ContinuationToken: continuationToken,
		})
		if err != nil {
			return nil, fmt.Errorf("error listing files under %s: %w", prefix, err)
		}
		for _, obj := range out.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
		if out.IsTruncated == nil || !*out.IsTruncated {
			break
		}
		continuationToken = out.NextContinuationToken
	}

	if len(keys) == 0 {
		f.logger.WithField("prefix", prefix).Warn("no files found")
	} else {
		f.logger.WithFields(logrus.Fields{"prefix": prefix, "count": len(keys)}).Info("found billing files")
	}
	return keys, nil
}

// DownloadFile fetches one object into localDir, named by its basename.
func (f *S3FileFetcher) DownloadFile(ctx context.Context, key, localDir string) (string, error) {
	if err := os.MkdirAll(localDir, 0o755); err != nil {
		return "", err
	}
	localFilename := filepath.Join(localDir, filepath.Base(key))

	obj, err := f.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(f.bucketName),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", fmt.Errorf("error downloading %s: %w", key, err)
	}
	defer obj.Body.Close()

	out, err := os.Create(localFilename)
	if err != nil {
		return "", err
	}
	defer out.Close()

	if _, err := io.Copy(out, obj.Body); err != nil {
		return "", fmt.Errorf("error writing %s: %w", localFilename, err)
	}

	f.logger.WithField("file", localFilename).Info("file downloaded successfully")
	return localFilename, nil
}

// GetCurrentMonthGzFiles lists the previous month's CUR prefix, filters to
// .gz objects and downloads them into downloadDir. A single failed download
// is logged and skipped; the batch continues.
func GetCurrentMonthGzFiles(ctx context.Context, fetcher *S3FileFetcher, today time.Time, downloadDir string) ([]string, error) {
	logger := config.GetLogger()

	prefix := fetcher.PeriodPrefix(today)
	logger.WithField("prefix", prefix).Info("looking for billing files")

	allFiles, err := fetcher.ListFiles(ctx, prefix)
	if err != nil {
		return nil, err
	}

	var gzFiles []string
	for _, key := range allFiles {
		if strings.HasSuffix(key, ".gz") {
			gzFiles = append(gzFiles, key)
		}
	}
	if len(gzFiles) == 0 {
		logger.Warn("no .gz files found")
		return nil, nil
	}

	var downloaded []string
	for _, key := range gzFiles {
		local, err := fetcher.DownloadFile(ctx, key, downloadDir)
		if err != nil {
			config.LogError(logger, "billing", "GetCurrentMonthGzFiles", "download", key, err)
			continue
		}
		downloaded = append(downloaded, local)
	}
	return downloaded, nil
}
