package billing

import (
	"compress/gzip"
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudfocus/tbilling_backend/config"
)

// GetThisMonthCSVBills fetches the previous month's .gz billing files and
// extracts them into cfg.ExtractedDir. Each compressed file is deleted as
// soon as it has been extracted; a file that fails to extract is logged and
// left in place, and the rest of the batch continues. Returns the paths of
// every successfully extracted CSV.
func GetThisMonthCSVBills(ctx context.Context, fetcher *S3FileFetcher, cfg *config.BillingConfig, today time.Time) ([]string, error) {
	logger := config.GetLogger()

	if err := os.MkdirAll(cfg.DownloadDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(cfg.ExtractedDir, 0o755); err != nil {
		return nil, err
	}

	downloaded, err := GetCurrentMonthGzFiles(ctx, fetcher, today, cfg.DownloadDir)
	if err != nil {
		return nil, err
	}
	if len(downloaded) == 0 {
		logger.Warn("no .gz files downloaded")
		return nil, nil
	}

	logger.WithField("count", len(downloaded)).Info("downloaded .gz files, extracting")

	var extracted []string
	for _, gzFile := range downloaded {
		if !strings.HasSuffix(gzFile, ".gz") {
			logger.WithField("file", gzFile).Warn("skipping non-gz file")
			continue
		}

		csvPath := filepath.Join(cfg.ExtractedDir, strings.TrimSuffix(filepath.Base(gzFile), ".gz"))
		if err := gunzipFile(gzFile, csvPath); err != nil {
			config.LogError(logger, "billing", "GetThisMonthCSVBills", "extract", gzFile, err)
			continue
		}
		extracted = append(extracted, csvPath)

		// Delete the compressed source immediately; no retry on failure.
		if err := os.Remove(gzFile); err != nil {
			config.LogError(logger, "billing", "GetThisMonthCSVBills", "cleanup", gzFile, err)
		}
	}

	if len(extracted) == 0 {
		logger.Error("no CSV files were extracted")
		return nil, nil
	}
	return extracted, nil
}

func gunzipFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	gz, err := gzip.NewReader(in)
	if err != nil {
		return err
	}
	defer gz.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, gz); err != nil {
		os.Remove(dst)
		return err
	}
	return nil
}
