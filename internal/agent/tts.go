package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/go-resty/resty/v2"

	kerrors "scan-kiosk/internal/errors"
)

const elevenLabsAPIURL = "https://api.elevenlabs.io/v1"

// defaultVoiceID is a multilingual voice that handles Hindi well.
const defaultVoiceID = "21m00Tcm4TlvDq8ikWAM"

type ElevenLabsClient struct {
	apiKey     string
	voiceID    string
	httpClient *resty.Client
}

func NewElevenLabsClient(apiKey, voiceID string, timeout time.Duration) *ElevenLabsClient {
	return newElevenLabsClient(elevenLabsAPIURL, apiKey, voiceID, timeout)
}

func newElevenLabsClient(baseURL, apiKey, voiceID string, timeout time.Duration) *ElevenLabsClient {
	if voiceID == "" {
		voiceID = defaultVoiceID
	}
	return &ElevenLabsClient{
		apiKey:  apiKey,
		voiceID: voiceID,
		httpClient: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(timeout).
			SetRetryCount(1).
			SetRetryWaitTime(200 * time.Millisecond).
			SetRetryMaxWaitTime(time.Second).
			AddRetryCondition(func(r *resty.Response, err error) bool {
				return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
			}).
			SetHeader("xi-api-key", apiKey),
	}
}

type ttsRequest struct {
	Text          string `json:"text"`
	ModelID       string `json:"model_id"`
	VoiceSettings struct {
		Stability       float64 `json:"stability"`
		SimilarityBoost float64 `json:"similarity_boost"`
	} `json:"voice_settings"`
}

// Synthesize returns MPEG audio for text.
func (c *ElevenLabsClient) Synthesize(ctx context.Context, text string) ([]byte, error) {
	reqBody := ttsRequest{
		Text:    text,
		ModelID: "eleven_multilingual_v2",
	}
	reqBody.VoiceSettings.Stability = 0.5
	reqBody.VoiceSettings.SimilarityBoost = 0.75

	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetHeader("Accept", "audio/mpeg").
		SetBody(reqBody).
		Post("/text-to-speech/" + c.voiceID)
	if err != nil {
		return nil, kerrors.Integration("speech synthesis", err)
	}
	if resp.IsError() {
		return nil, kerrors.Integration("speech synthesis", fmt.Errorf("TTS API error: %s - %s", resp.Status(), truncate(resp.String(), 256)))
	}
	return resp.Body(), nil
}
