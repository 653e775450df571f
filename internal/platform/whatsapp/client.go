// Package whatsapp delivers report documents through the WhatsApp Cloud API.
package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/scan"
)

const (
	serviceName    = "messaging"
	defaultBaseURL = "https://graph.facebook.com/v19.0"
)

// Delivery identifies a message accepted by the provider.
type Delivery struct {
	MessageID string `json:"messageId"`
	Recipient string `json:"recipient"`
}

type Client struct {
	httpClient    *resty.Client
	phoneNumberID string
	token         string
	logger        *zap.Logger
}

// NewClient builds a Cloud API client. Sends are not retried: the API has no
// idempotency key and a replayed request would deliver the document twice.
func NewClient(baseURL, token, phoneNumberID string, timeout time.Duration, logger *zap.Logger) *Client {
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	client := resty.New().
		SetBaseURL(baseURL).
		SetTimeout(timeout)
	if token != "" {
		client.SetAuthToken(token)
	}
	return &Client{
		httpClient:    client,
		phoneNumberID: phoneNumberID,
		token:         token,
		logger:        logger,
	}
}

// Configured reports whether credentials were supplied.
func (c *Client) Configured() bool {
	return c.phoneNumberID != "" && c.token != ""
}

// RecipientNumber formats a stored 10-digit phone number as an international
// number with the given country code, e.g. "+919876543210".
func RecipientNumber(countryCode, phone string) string {
	cc := scan.DigitsOnly(countryCode)
	digits := scan.DigitsOnly(phone)
	if cc != "" && len(digits) > scan.PhoneDigits && strings.HasPrefix(digits, cc) {
		return "+" + digits
	}
	return "+" + cc + digits
}

type documentMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	RecipientType    string          `json:"recipient_type"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Document         documentPayload `json:"document"`
}

type documentPayload struct {
	Link     string `json:"link"`
	Caption  string `json:"caption,omitempty"`
	Filename string `json:"filename,omitempty"`
}

type sendResponse struct {
	Messages []struct {
		ID string `json:"id"`
	} `json:"messages"`
}

type errorResponse struct {
	Error struct {
		Message string `json:"message"`
		Code    int    `json:"code"`
	} `json:"error"`
}

// SendDocument sends the document at url to recipient with a caption.
func (c *Client) SendDocument(ctx context.Context, recipient, url, caption, fileName string) (Delivery, error) {
	if !c.Configured() {
		return Delivery{}, kerrors.NewConfiguration("WhatsApp delivery is not configured")
	}
	to := strings.TrimPrefix(recipient, "+")
	if to == "" {
		return Delivery{}, kerrors.NewValidation("recipient phone number is missing", map[string]string{"phoneNumber": "required"})
	}

	var out sendResponse
	var apiErr errorResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(documentMessage{
			MessagingProduct: "whatsapp",
			RecipientType:    "individual",
			To:               to,
			Type:             "document",
			Document: documentPayload{
				Link:     url,
				Caption:  caption,
				Filename: fileName,
			},
		}).
		SetResult(&out).
		SetError(&apiErr).
		Post(fmt.Sprintf("/%s/messages", c.phoneNumberID))
	if err != nil {
		c.logger.Error("whatsapp send failed", zap.Error(err))
		return Delivery{}, kerrors.Integration(serviceName, fmt.Errorf("send document: %w", err))
	}
	if resp.IsError() {
		c.logger.Error("whatsapp api returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.Int("api_code", apiErr.Error.Code),
			zap.String("message", apiErr.Error.Message),
		)
		return Delivery{}, kerrors.Integration(serviceName, fmt.Errorf("send document: status %s: %s", resp.Status(), apiErr.Error.Message))
	}
	if len(out.Messages) == 0 || out.Messages[0].ID == "" {
		return Delivery{}, kerrors.Integration(serviceName, fmt.Errorf("send document: reply carried no message id"))
	}

	c.logger.Info("report delivered", zap.String("message_id", out.Messages[0].ID))
	return Delivery{MessageID: out.Messages[0].ID, Recipient: "+" + to}, nil
}
