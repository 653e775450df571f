package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	kerrors "scan-kiosk/internal/errors"
)

// DiskStore keeps objects under a local directory, served back over HTTP
// from publicBase. Used on single-kiosk installs without a bucket.
type DiskStore struct {
	dir        string
	publicBase string
	now        func() time.Time
}

func NewDiskStore(dir, publicBase string) *DiskStore {
	return &DiskStore{dir: dir, publicBase: publicBase, now: time.Now}
}

// Dir is the root the HTTP file server should expose.
func (s *DiskStore) Dir() string { return s.dir }

func (s *DiskStore) Upload(ctx context.Context, patientID string, index int, image []byte, mimeType string) (string, error) {
	return s.write(ctx, ImagePath(patientID, index, mimeType), image)
}

func (s *DiskStore) UploadDocument(ctx context.Context, patientID, fileName string, data []byte) (string, error) {
	return s.write(ctx, DocumentPath(patientID, fileName, s.now()), data)
}

func (s *DiskStore) write(ctx context.Context, objectPath string, data []byte) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	full := filepath.Join(s.dir, filepath.FromSlash(objectPath))
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", kerrors.Integration(serviceName, fmt.Errorf("mkdir: %w", err))
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", kerrors.Integration(serviceName, fmt.Errorf("write %s: %w", objectPath, err))
	}
	return publicURL(s.publicBase, objectPath), nil
}
