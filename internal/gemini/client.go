package gemini

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"glamour-studio/internal/media"
)

const (
	defaultImageModel = "gemini-2.5-flash-image"
	defaultVideoModel = "veo-3.1-fast-generate-preview"
)

const imageOnlyRetry = "\n\nReturn the result only as an edited image (inlineData). Do not write text, JSON or code."

type Options struct {
	APIKey       string
	BaseURL      string
	APIVersion   string
	ImageModel   string
	VideoModel   string
	PollInterval time.Duration
	HTTPClient   *http.Client
	Logger       *slog.Logger
}

type Client struct {
	apiKey       string
	baseURL      string
	apiVersion   string
	imageModel   string
	videoModel   string
	pollInterval time.Duration
	httpClient   *http.Client
	logger       *slog.Logger
}

func New(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com"
	}

	apiVersion := strings.TrimSpace(opts.APIVersion)
	if apiVersion == "" {
		apiVersion = "v1beta"
	}

	imageModel := strings.TrimSpace(opts.ImageModel)
	if imageModel == "" {
		imageModel = defaultImageModel
	}
	videoModel := strings.TrimSpace(opts.VideoModel)
	if videoModel == "" {
		videoModel = defaultVideoModel
	}

	pollInterval := opts.PollInterval
	if pollInterval <= 0 {
		pollInterval = 10 * time.Second
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Client{
		apiKey:       opts.APIKey,
		baseURL:      baseURL,
		apiVersion:   apiVersion,
		imageModel:   imageModel,
		videoModel:   videoModel,
		pollInterval: pollInterval,
		httpClient:   opts.HTTPClient,
		logger:       logger,
	}
}

// StartSession opens a conversation with the user's photo and the styling
// instruction.
func (c *Client) StartSession(ctx context.Context, req StartRequest) (Turn, error) {
	if strings.TrimSpace(req.ImageBase64) == "" {
		return Turn{}, errors.New("image is empty")
	}
	mimeType := strings.TrimSpace(req.MimeType)
	if mimeType == "" {
		mimeType = "image/jpeg"
	}

	user := Content{
		Role: "user",
		Parts: []Part{
			{InlineData: &Blob{Data: stripDataURLPrefix(req.ImageBase64), MimeType: mimeType}},
			{Text: strings.TrimSpace(req.Prompt)},
		},
	}
	return c.imageTurn(ctx, nil, user)
}

// ContinueSession appends one instruction to history. The history passed in
// is not modified.
func (c *Client) ContinueSession(ctx context.Context, history []Content, prompt string) (Turn, error) {
	if len(history) == 0 {
		return Turn{}, errors.New("history is empty")
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return Turn{}, errors.New("prompt is empty")
	}

	user := Content{Role: "user", Parts: []Part{{Text: prompt}}}
	return c.imageTurn(ctx, history, user)
}

func (c *Client) imageTurn(ctx context.Context, history []Content, user Content) (Turn, error) {
	contents := make([]Content, 0, len(history)+1)
	contents = append(contents, history...)
	contents = append(contents, user)

	req := generateContentRequest{
		Contents: contents,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"IMAGE", "TEXT"},
		},
	}

	resp, err := c.generateContent(ctx, c.imageModel, req)
	if err != nil {
		return Turn{}, err
	}

	if len(resp.images) == 0 {
		c.logger.Warn("model returned no image, retrying", "model", c.imageModel, "text_len", len(resp.text))

		retryUser := appendText(user, imageOnlyRetry)
		req.Contents = append(append([]Content(nil), history...), retryUser)
		retryResp, retryErr := c.generateContent(ctx, c.imageModel, req)
		if retryErr == nil && len(retryResp.images) > 0 {
			resp = retryResp
			user = retryUser
		} else {
			if text := strings.TrimSpace(resp.text); text != "" {
				return Turn{}, fmt.Errorf("model returned no image: %s", text)
			}
			return Turn{}, errors.New("model returned no image")
		}
	}

	out := make([]Content, 0, len(history)+2)
	out = append(out, history...)
	out = append(out, user, resp.model)

	return Turn{
		ImageURL: resp.images[0],
		History:  out,
	}, nil
}

func appendText(c Content, text string) Content {
	parts := make([]Part, 0, len(c.Parts))
	appended := false
	for _, p := range c.Parts {
		if !appended && p.Text != "" {
			p.Text = strings.TrimSpace(p.Text) + text
			appended = true
		}
		parts = append(parts, p)
	}
	if !appended {
		parts = append(parts, Part{Text: strings.TrimSpace(text)})
	}
	return Content{Role: c.Role, Parts: parts}
}

type imageResponse struct {
	text   string
	images []string
	model  Content
}

func (c *Client) generateContent(ctx context.Context, model string, payload generateContentRequest) (imageResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return imageResponse{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent", c.baseURL, c.apiVersion, model)
	rawBody, err := c.do(ctx, http.MethodPost, url, c.apiKey, body)
	if err != nil {
		return imageResponse{}, err
	}

	var decoded generateContentResponse
	if err := json.Unmarshal(rawBody, &decoded); err != nil {
		return imageResponse{}, fmt.Errorf("decode response: %w", err)
	}

	if len(decoded.Candidates) == 0 {
		if reason := decoded.PromptFeedback.BlockReason; reason != "" {
			return imageResponse{}, fmt.Errorf("request blocked: %s", reason)
		}
		return imageResponse{}, nil
	}

	reply := decoded.Candidates[0].Content
	if reply.Role == "" {
		reply.Role = "model"
	}
	text, images := extractParts(reply)

	return imageResponse{text: text, images: images, model: reply}, nil
}

func (c *Client) do(ctx context.Context, method, url, apiKey string, body []byte) ([]byte, error) {
	if c.httpClient == nil {
		return nil, errors.New("http client is nil")
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("content-type", "application/json")
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request: %w", err)
	}
	defer httpResp.Body.Close()

	rawBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if httpResp.StatusCode >= 400 {
		return nil, newAPIError(httpResp.StatusCode, httpResp.Status, rawBody)
	}
	return rawBody, nil
}

func newAPIError(statusCode int, status string, body []byte) *APIError {
	message := strings.TrimSpace(string(body))
	parsed := gjson.ParseBytes(body)
	if m := parsed.Get("error.message"); m.Exists() && m.String() != "" {
		message = m.String()
	}
	if s := parsed.Get("error.status"); s.Exists() && s.String() != "" {
		status = status + " " + s.String()
	}
	return &APIError{StatusCode: statusCode, Status: status, Message: message}
}

func extractParts(c Content) (string, []string) {
	var textBuilder strings.Builder
	var images []string

	for _, p := range c.Parts {
		if p.Thought {
			continue
		}
		if p.Text != "" {
			textBuilder.WriteString(p.Text)
		}
		if p.InlineData != nil && p.InlineData.Data != "" && p.InlineData.MimeType != "" {
			images = append(images, media.EncodeDataURL(p.InlineData.MimeType, p.InlineData.Data))
		}
	}

	return textBuilder.String(), images
}

type generateContentRequest struct {
	Contents         []Content        `json:"contents"`
	GenerationConfig generationConfig `json:"generationConfig,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string `json:"responseModalities,omitempty"`
}

type generateContentResponse struct {
	Candidates     []candidate    `json:"candidates"`
	PromptFeedback promptFeedback `json:"promptFeedback"`
}

type candidate struct {
	Content Content `json:"content"`
}

type promptFeedback struct {
	BlockReason string `json:"blockReason"`
}

func stripDataURLPrefix(value string) string {
	if strings.HasPrefix(value, "data:") {
		if idx := strings.IndexByte(value, ','); idx >= 0 {
			return value[idx+1:]
		}
	}
	return value
}
