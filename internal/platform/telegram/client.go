// Package telegram posts a copy of each delivered report to the clinic chat.
package telegram

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	kerrors "scan-kiosk/internal/errors"
)

const (
	apiBaseURL  = "https://api.telegram.org"
	serviceName = "clinic notification"
)

type Client struct {
	Token      string
	httpClient *resty.Client
}

func NewClient(token string, timeout time.Duration) *Client {
	return newClient(apiBaseURL, token, timeout)
}

func newClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		Token: token,
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(1).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() == 429 || r.StatusCode() >= 500
			}),
	}
}

type sendMessageReq struct {
	ChatID int64  `json:"chat_id"`
	Text   string `json:"text"`
}

type sendDocumentReq struct {
	ChatID   int64  `json:"chat_id"`
	Document string `json:"document"`
	Caption  string `json:"caption,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description"`
}

func (c *Client) SendMessage(ctx context.Context, chatID int64, text string) error {
	return c.call(ctx, "sendMessage", sendMessageReq{ChatID: chatID, Text: text})
}

// SendDocument asks Telegram to fetch the document from documentURL and post
// it to the chat.
func (c *Client) SendDocument(ctx context.Context, chatID int64, documentURL, caption string) error {
	return c.call(ctx, "sendDocument", sendDocumentReq{
		ChatID:   chatID,
		Document: documentURL,
		Caption:  caption,
	})
}

func (c *Client) call(ctx context.Context, method string, body any) error {
	var out apiResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		SetError(&out).
		Post(fmt.Sprintf("/bot%s/%s", c.Token, method))
	if err != nil {
		return kerrors.Integration(serviceName, fmt.Errorf("failed to call telegram %s: %w", method, err))
	}
	if resp.IsError() || !out.OK {
		// Read the description to see the error message from Telegram
		return kerrors.Integration(serviceName, fmt.Errorf("telegram api returned status: %s, description: %s", resp.Status(), out.Description))
	}
	return nil
}
