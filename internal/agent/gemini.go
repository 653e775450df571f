package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	kerrors "scan-kiosk/internal/errors"
	"scan-kiosk/internal/scan"
)

const visionService = "vision analysis"

type GeminiConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Timeout     time.Duration
	LiveTimeout time.Duration
}

// GeminiClient calls the generateContent endpoint for both the full
// three-image assessment and the advisory live-frame comment.
type GeminiClient struct {
	cfg        GeminiConfig
	httpClient *resty.Client
	logger     *zap.Logger
}

func NewGeminiClient(cfg GeminiConfig, logger *zap.Logger) *GeminiClient {
	client := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetRetryCount(1).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(2 * time.Second).
		AddRetryCondition(func(r *resty.Response, err error) bool {
			return err != nil || r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
		}).
		SetHeader("Content-Type", "application/json").
		SetHeader("Accept", "application/json")
	if cfg.APIKey != "" {
		client.SetHeader("x-goog-api-key", cfg.APIKey)
	}
	return &GeminiClient{cfg: cfg, httpClient: client, logger: logger}
}

// Configured reports whether the credential needed for analysis is present.
func (c *GeminiClient) Configured() bool {
	return c.cfg.APIKey != ""
}

type inlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type content struct {
	Parts []part `json:"parts"`
}

type generationConfig struct {
	ResponseMimeType string   `json:"responseMimeType"`
	Temperature      *float64 `json:"temperature,omitempty"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	Contents         []content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig"`
	SafetySettings   []safetySetting  `json:"safetySettings,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func imagePart(f scan.Frame) part {
	mime := f.MIMEType
	if mime == "" {
		mime = "image/jpeg"
	}
	return part{InlineData: &inlineData{MimeType: mime, Data: f.Base64()}}
}

// Analyze sends every frame with the service-specific profile and returns a
// complete assessment, or an error; never a partial result.
func (c *GeminiClient) Analyze(ctx context.Context, frames []scan.Frame, st scan.ServiceType) (scan.Assessment, error) {
	if !c.Configured() {
		return scan.Assessment{}, kerrors.NewConfiguration("AI configuration is missing, please contact support")
	}
	p, ok := profiles[st]
	if !ok {
		return scan.Assessment{}, kerrors.NewValidation("service type is missing, please start again", nil)
	}
	if len(frames) == 0 {
		return scan.Assessment{}, kerrors.NewValidation("no images to analyze", nil)
	}

	parts := make([]part, 0, len(frames)+2)
	parts = append(parts, part{Text: p.system})
	for _, f := range frames {
		parts = append(parts, imagePart(f))
	}
	parts = append(parts, part{Text: p.task})

	req := generateRequest{
		Contents:         []content{{Parts: parts}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json"},
	}

	ctx, cancel := withTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	c.logger.Info("requesting vision analysis",
		zap.String("service_type", string(st)),
		zap.Int("images", len(frames)),
	)

	text, err := c.generate(ctx, req)
	if err != nil {
		return scan.Assessment{}, err
	}
	a, err := scan.DecodeAssessment(st, []byte(stripFences(text)))
	if err != nil {
		c.logger.Error("malformed vision output", zap.Error(err))
		return scan.Assessment{}, kerrors.Integration(visionService, fmt.Errorf("malformed model output: %w", err))
	}

	c.logger.Info("vision analysis complete",
		zap.String("service_type", string(st)),
		zap.Int("score", a.ScoreValue()),
		zap.Int("findings", len(a.KeyProblemPoints)),
	)
	return a, nil
}

type liveResult struct {
	ExpressionText string `json:"expressionText"`
}

// AnalyzeLiveFrame returns a short advisory phrase. Malformed, empty and
// safety-filtered replies yield "" with no error.
func (c *GeminiClient) AnalyzeLiveFrame(ctx context.Context, frame scan.Frame, lc LiveContext) (string, error) {
	if !c.Configured() {
		return "", nil
	}
	temp := 0.7
	req := generateRequest{
		Contents: []content{{Parts: []part{
			{Text: livePrompt(lc)},
			imagePart(frame),
		}}},
		GenerationConfig: generationConfig{ResponseMimeType: "application/json", Temperature: &temp},
		SafetySettings: []safetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_ONLY_HIGH"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_ONLY_HIGH"},
		},
	}

	ctx, cancel := withTimeout(ctx, c.cfg.LiveTimeout)
	defer cancel()

	text, err := c.generate(ctx, req)
	if err != nil {
		if kerrors.Is(err, kerrors.ErrIntegration) && isEmptyReply(err) {
			return "", nil
		}
		return "", err
	}
	var res liveResult
	if err := json.Unmarshal([]byte(stripFences(text)), &res); err != nil {
		c.logger.Debug("live frame reply was not json", zap.Error(err))
		return "", nil
	}
	return strings.TrimSpace(res.ExpressionText), nil
}

// errEmptyReply marks a well-formed HTTP exchange with no usable candidate.
type errEmptyReply struct{ reason string }

func (e *errEmptyReply) Error() string { return "no usable candidate: " + e.reason }

func isEmptyReply(err error) bool {
	e, ok := kerrors.As(err)
	if !ok {
		return false
	}
	_, empty := e.Err.(*errEmptyReply)
	return empty
}

func (c *GeminiClient) generate(ctx context.Context, req generateRequest) (string, error) {
	var out generateResponse
	resp, err := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&out).
		Post(fmt.Sprintf("/models/%s:generateContent", c.cfg.Model))
	if err != nil {
		return "", kerrors.Integration(visionService, fmt.Errorf("generate content: %w", err))
	}
	if resp.IsError() {
		c.logger.Error("vision api returned error",
			zap.Int("status_code", resp.StatusCode()),
			zap.String("body", truncate(resp.String(), 512)),
		)
		return "", kerrors.Integration(visionService, fmt.Errorf("generate content: status %s", resp.Status()))
	}

	if out.PromptFeedback != nil && out.PromptFeedback.BlockReason != "" {
		return "", kerrors.Integration(visionService, &errEmptyReply{reason: "blocked: " + out.PromptFeedback.BlockReason})
	}
	if len(out.Candidates) == 0 {
		return "", kerrors.Integration(visionService, &errEmptyReply{reason: "no candidates"})
	}
	cand := out.Candidates[0]
	if cand.FinishReason == "SAFETY" {
		return "", kerrors.Integration(visionService, &errEmptyReply{reason: "safety"})
	}
	if len(cand.Content.Parts) == 0 || strings.TrimSpace(cand.Content.Parts[0].Text) == "" {
		return "", kerrors.Integration(visionService, &errEmptyReply{reason: "empty part"})
	}
	return cand.Content.Parts[0].Text, nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite instructions.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
