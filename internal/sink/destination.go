package sink

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"cloud.google.com/go/storage"
)

const (
	gcsScheme        = "gs://"
	ndjsonMediaType  = "application/x-ndjson"
	stdoutIdentifier = "-"
)

// IsGCS reports whether target names a Cloud Storage object.
func IsGCS(target string) bool {
	return strings.HasPrefix(target, gcsScheme)
}

// ParseGCSURI splits gs://bucket/object into its parts.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !IsGCS(uri) {
		return "", "", fmt.Errorf("not a gs:// uri: %q", uri)
	}
	rest := strings.TrimPrefix(uri, gcsScheme)
	bucket, object, _ = strings.Cut(rest, "/")
	if bucket == "" {
		return "", "", errors.New("bucket name is required")
	}
	if strings.TrimSpace(object) == "" {
		return "", "", errors.New("object name is required")
	}
	return bucket, object, nil
}

// OpenFile creates or truncates the local file at path, creating parent
// directories as needed. "-" writes to stdout.
func OpenFile(path string) (io.WriteCloser, error) {
	if path == stdoutIdentifier {
		return nopCloser{os.Stdout}, nil
	}
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("output path is required")
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create output dir %s: %w", dir, err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create output %s: %w", path, err)
	}
	return f, nil
}

// OpenGCS returns a writer that replaces the object named by uri when closed.
// Canceling ctx aborts the upload.
func OpenGCS(ctx context.Context, client *storage.Client, uri string) (io.WriteCloser, error) {
	if client == nil {
		return nil, errors.New("storage client is required")
	}
	bucket, object, err := ParseGCSURI(uri)
	if err != nil {
		return nil, err
	}
	writer := client.Bucket(bucket).Object(object).NewWriter(ctx)
	writer.ContentType = ndjsonMediaType
	return writer, nil
}

type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }
