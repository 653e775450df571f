package storage

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
)

// BucketClient uploads objects to an HTTP object bucket with PUT and hands
// back their public URLs.
type BucketClient struct {
	httpClient *resty.Client
	bucket     string
	publicBase string
	logger     *zap.Logger
	now        func() time.Time
}

func NewBucketClient(endpoint, bucket, token, publicBase string, timeout time.Duration, logger *zap.Logger) *BucketClient {
	client := resty.New().
		SetBaseURL(endpoint).
		SetTimeout(timeout).
		SetRetryCount(1).
		SetRetryWaitTime(200 * time.Millisecond).
		SetRetryMaxWaitTime(time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		})
	if token != "" {
		client.SetAuthToken(token)
	}
	return &BucketClient{
		httpClient: client,
		bucket:     bucket,
		publicBase: publicBase,
		logger:     logger,
		now:        time.Now,
	}
}

func (c *BucketClient) Upload(ctx context.Context, patientID string, index int, image []byte, mimeType string) (string, error) {
	return c.put(ctx, ImagePath(patientID, index, mimeType), imageType(mimeType), image)
}

func (c *BucketClient) UploadDocument(ctx context.Context, patientID, fileName string, data []byte) (string, error) {
	return c.put(ctx, DocumentPath(patientID, fileName, c.now()), "application/pdf", data)
}

func (c *BucketClient) put(ctx context.Context, objectPath, contentType string, data []byte) (string, error) {
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Content-Type", contentType).
		SetBody(data).
		Put(publicURL("/"+c.bucket, objectPath))
	if err != nil {
		c.logger.Error("media upload failed", zap.String("object", objectPath), zap.Error(err))
		return "", kerrors.Integration(serviceName, fmt.Errorf("put %s: %w", objectPath, err))
	}
	if resp.IsError() {
		c.logger.Error("media store returned error",
			zap.String("object", objectPath),
			zap.Int("status_code", resp.StatusCode()),
		)
		return "", kerrors.Integration(serviceName, fmt.Errorf("put %s: status %s: %s", objectPath, resp.Status(), resp.String()))
	}

	u := publicURL(c.publicBase, objectPath)
	c.logger.Debug("media uploaded", zap.String("object", objectPath), zap.Int("bytes", len(data)))
	return u, nil
}
