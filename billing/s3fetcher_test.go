package billing

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloudfocus/tbilling_backend/config"
)

// mockS3 serves canned objects and records list pagination.
type mockS3 struct {
	objects map[string][]byte // key -> body
	pages   [][]string        // keys returned per ListObjectsV2 page
	listErr error
	getErr  map[string]error

	listCalls int
}

func (m *mockS3) ListObjectsV2(ctx context.Context, params *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	page := m.listCalls
	m.listCalls++

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	if page < len(m.pages) {
		for _, key := range m.pages[page] {
			out.Contents = append(out.Contents, s3types.Object{Key: aws.String(key)})
		}
	}
	if page < len(m.pages)-1 {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("token")
	}
	return out, nil
}

func (m *mockS3) GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	key := aws.ToString(params.Key)
	if err, ok := m.getErr[key]; ok {
		return nil, err
	}
	body, ok := m.objects[key]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(body))}, nil
}

func newTestFetcher(client S3API) *S3FileFetcher {
	return &S3FileFetcher{
		client:       client,
		bucketName:   "billing-bucket",
		bucketPrefix: "reports/hourly",
		logger:       config.GetLogger(),
	}
}

func TestPeriodPrefix(t *testing.T) {
	f := newTestFetcher(&mockS3{})

	// Mid-March resolves to the full February period.
	today := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	assert.Equal(t, "reports/hourly/20250201-20250301/", f.PeriodPrefix(today))

	// January rolls back across the year boundary.
	today = time.Date(2025, 1, 2, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, "reports/hourly/20241201-20250101/", f.PeriodPrefix(today))
}

func TestListFiles_Paginates(t *testing.T) {
	client := &mockS3{pages: [][]string{
		{"reports/a.csv.gz", "reports/b.csv.gz"},
		{"reports/c.json"},
	}}
	f := newTestFetcher(client)

	keys, err := f.ListFiles(context.Background(), "reports/")
	require.NoError(t, err)
	assert.Equal(t, []string{"reports/a.csv.gz", "reports/b.csv.gz", "reports/c.json"}, keys)
	assert.Equal(t, 2, client.listCalls)
}

func TestListFiles_EmptyIsNotAnError(t *testing.T) {
	f := newTestFetcher(&mockS3{pages: [][]string{{}}})

	keys, err := f.ListFiles(context.Background(), "reports/")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestDownloadFile(t *testing.T) {
	client := &mockS3{objects: map[string][]byte{
		"reports/20250201-20250301/bill-1.csv.gz": []byte("payload"),
	}}
	f := newTestFetcher(client)
	dir := t.TempDir()

	local, err := f.DownloadFile(context.Background(), "reports/20250201-20250301/bill-1.csv.gz", dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "bill-1.csv.gz"), local)

	data, err := os.ReadFile(local)
	require.NoError(t, err)
	assert.Equal(t, "payload", string(data))
}

func TestGetCurrentMonthGzFiles_FiltersAndSkipsFailures(t *testing.T) {
	today := time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC)
	prefix := "reports/hourly/20250201-20250301/"

	client := &mockS3{
		pages: [][]string{{
			prefix + "bill-1.csv.gz",
			prefix + "bill-2.csv.gz",
			prefix + "manifest.json",
		}},
		objects: map[string][]byte{
			prefix + "bill-1.csv.gz": []byte("one"),
		},
		getErr: map[string]error{
			prefix + "bill-2.csv.gz": errors.New("AccessDenied"),
		},
	}
	f := newTestFetcher(client)
	dir := t.TempDir()

	downloaded, err := GetCurrentMonthGzFiles(context.Background(), f, today, dir)
	require.NoError(t, err)
	require.Len(t, downloaded, 1)
	assert.Equal(t, filepath.Join(dir, "bill-1.csv.gz"), downloaded[0])
}

func TestGetCurrentMonthGzFiles_NoGzObjects(t *testing.T) {
	client := &mockS3{pages: [][]string{{"reports/hourly/20250201-20250301/manifest.json"}}}
	f := newTestFetcher(client)

	downloaded, err := GetCurrentMonthGzFiles(context.Background(), f, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), t.TempDir())
	require.NoError(t, err)
	assert.Empty(t, downloaded)
}

// gzipBytes compresses b for use as a mock object body.
func gzipBytes(t *testing.T, b []byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	_, err := gz.Write(b)
	require.NoError(t, err)
	require.NoError(t, gz.Close())
	return buf.Bytes()
}
