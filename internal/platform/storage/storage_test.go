package storage

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
)

func TestBucketClient_Upload(t *testing.T) {
	var gotPath, gotAuth, gotType string
	var gotBody []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		gotType = r.Header.Get("Content-Type")
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBucketClient(srv.URL, "kiosk", "secret", "https://cdn.example.com", time.Second, zap.NewNop())
	u, err := c.Upload(context.Background(), "p-1", 2, []byte("jpeg-bytes"), "image/jpeg")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/patients/p-1/image-3.jpg", u)
	assert.Equal(t, "/kiosk/patients/p-1/image-3.jpg", gotPath)
	assert.Equal(t, "Bearer secret", gotAuth)
	assert.Equal(t, "image/jpeg", gotType)
	assert.Equal(t, []byte("jpeg-bytes"), gotBody)
}

func TestBucketClient_UploadKeepsFrameType(t *testing.T) {
	var gotPath, gotType string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotType = r.Header.Get("Content-Type")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewBucketClient(srv.URL, "kiosk", "", "https://cdn.example.com", time.Second, zap.NewNop())
	u, err := c.Upload(context.Background(), "p-1", 0, []byte("png-bytes"), "image/png")

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/patients/p-1/image-1.png", u)
	assert.Equal(t, "/kiosk/patients/p-1/image-1.png", gotPath)
	assert.Equal(t, "image/png", gotType)
}

func TestImagePath(t *testing.T) {
	assert.Equal(t, "patients/p/image-1.jpg", ImagePath("p", 0, ""))
	assert.Equal(t, "patients/p/image-2.jpg", ImagePath("p", 1, "image/jpeg"))
	assert.Equal(t, "patients/p/image-3.png", ImagePath("p", 2, "image/png"))
	assert.Equal(t, "patients/p/image-1.webp", ImagePath("p", 0, "image/webp"))
}

func TestBucketClient_UploadDocumentEscapesName(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	c := NewBucketClient(srv.URL, "kiosk", "", "https://cdn.example.com/", time.Second, zap.NewNop())
	c.now = func() time.Time { return time.UnixMilli(1760000000000) }

	u, err := c.UploadDocument(context.Background(), "p-1", "Asha Rao_facial_2026-10-15.pdf", []byte("%PDF"))

	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/reports/p-1/pdf_1760000000000_Asha%20Rao_facial_2026-10-15.pdf", u)
}

func TestBucketClient_RetriesOnceOnServerError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewBucketClient(srv.URL, "kiosk", "", "https://cdn", time.Second, zap.NewNop())
	_, err := c.Upload(context.Background(), "p-1", 0, []byte("x"), "")

	require.Error(t, err)
	assert.True(t, kerrors.Is(err, kerrors.ErrIntegration))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestBucketClient_NoRetryOnClientError(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusForbidden)
	}))
	defer srv.Close()

	c := NewBucketClient(srv.URL, "kiosk", "", "https://cdn", time.Second, zap.NewNop())
	_, err := c.Upload(context.Background(), "p-1", 0, []byte("x"), "")

	assert.True(t, kerrors.Is(err, kerrors.ErrIntegration))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestDiskStore_Upload(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStore(dir, "http://localhost:8080/media")

	u, err := s.Upload(context.Background(), "p-7", 0, []byte("frame"), "")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/patients/p-7/image-1.jpg", u)

	data, err := os.ReadFile(filepath.Join(dir, "patients", "p-7", "image-1.jpg"))
	require.NoError(t, err)
	assert.Equal(t, []byte("frame"), data)
}

func TestDiskStore_UploadPNG(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStore(dir, "http://localhost:8080/media")

	u, err := s.Upload(context.Background(), "p-7", 1, []byte("png"), "image/png")
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/media/patients/p-7/image-2.png", u)

	_, err = os.Stat(filepath.Join(dir, "patients", "p-7", "image-2.png"))
	assert.NoError(t, err)
}

func TestDiskStore_UploadDocument(t *testing.T) {
	dir := t.TempDir()
	s := NewDiskStore(dir, "http://kiosk/media")
	s.now = func() time.Time { return time.UnixMilli(42) }

	u, err := s.UploadDocument(context.Background(), "p-7", "report.pdf", []byte("%PDF-1.3"))
	require.NoError(t, err)
	assert.Equal(t, "http://kiosk/media/reports/p-7/pdf_42_report.pdf", u)

	_, err = os.Stat(filepath.Join(dir, "reports", "p-7", "pdf_42_report.pdf"))
	assert.NoError(t, err)
}
