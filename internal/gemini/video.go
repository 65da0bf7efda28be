package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"glamour-studio/internal/media"
)

// GenerateVideo animates an image with Veo. It starts a long-running
// operation, polls it until done and downloads the first sample.
func (c *Client) GenerateVideo(ctx context.Context, req VideoRequest) (Video, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return Video{}, errors.New("prompt is empty")
	}

	mimeType, data, err := media.ParseDataURL(req.ImageURL, "image/png")
	if err != nil {
		return Video{}, fmt.Errorf("video source image: %w", err)
	}

	apiKey := strings.TrimSpace(req.APIKey)
	if apiKey == "" {
		apiKey = c.apiKey
	}

	payload := predictRequest{
		Instances: []videoInstance{{
			Prompt: prompt,
			Image:  &videoImage{BytesBase64Encoded: data, MimeType: mimeType},
		}},
		Parameters: videoParameters{SampleCount: 1},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return Video{}, fmt.Errorf("marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/%s/models/%s:predictLongRunning", c.baseURL, c.apiVersion, c.videoModel)
	raw, err := c.do(ctx, http.MethodPost, url, apiKey, body)
	if err != nil {
		return Video{}, err
	}

	op := gjson.ParseBytes(raw)
	name := op.Get("name").String()
	if name == "" {
		return Video{}, errors.New("video operation has no name")
	}
	c.logger.Info("video operation started", "operation", name, "model", c.videoModel)

	for !op.Get("done").Bool() {
		select {
		case <-ctx.Done():
			return Video{}, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		raw, err = c.do(ctx, http.MethodGet, fmt.Sprintf("%s/%s/%s", c.baseURL, c.apiVersion, name), apiKey, nil)
		if err != nil {
			return Video{}, err
		}
		op = gjson.ParseBytes(raw)
		c.logger.Debug("video operation polled", "operation", name, "done", op.Get("done").Bool())
	}

	if opErr := op.Get("error"); opErr.Exists() {
		return Video{}, &APIError{
			StatusCode: operationHTTPStatus(opErr.Get("code").Int()),
			Status:     opErr.Get("status").String(),
			Message:    opErr.Get("message").String(),
		}
	}

	samples := op.Get("response.generateVideoResponse")
	uri := samples.Get("generatedSamples.0.video.uri").String()
	if uri == "" {
		if reason := samples.Get("raiMediaFilteredReasons.0").String(); reason != "" {
			return Video{}, fmt.Errorf("video filtered: %s", reason)
		}
		return Video{}, errors.New("video operation returned no video")
	}

	return c.downloadVideo(ctx, uri, apiKey)
}

func (c *Client) downloadVideo(ctx context.Context, uri, apiKey string) (Video, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return Video{}, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("x-goog-api-key", apiKey)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Video{}, fmt.Errorf("download video: %w", err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return Video{}, fmt.Errorf("read video: %w", err)
	}
	if httpResp.StatusCode >= 400 {
		return Video{}, newAPIError(httpResp.StatusCode, httpResp.Status, data)
	}

	mimeType := strings.TrimSpace(httpResp.Header.Get("content-type"))
	if idx := strings.IndexByte(mimeType, ';'); idx >= 0 {
		mimeType = strings.TrimSpace(mimeType[:idx])
	}
	if !strings.HasPrefix(mimeType, "video/") {
		mimeType = "video/mp4"
	}

	return Video{MimeType: mimeType, Data: data}, nil
}

// operationHTTPStatus maps google.rpc codes carried by failed operations.
func operationHTTPStatus(code int64) int {
	switch code {
	case 3:
		return http.StatusBadRequest
	case 5:
		return http.StatusNotFound
	case 7:
		return http.StatusForbidden
	case 8:
		return http.StatusTooManyRequests
	case 16:
		return http.StatusUnauthorized
	}
	return http.StatusInternalServerError
}

type predictRequest struct {
	Instances  []videoInstance `json:"instances"`
	Parameters videoParameters `json:"parameters"`
}

type videoInstance struct {
	Prompt string      `json:"prompt"`
	Image  *videoImage `json:"image,omitempty"`
}

type videoImage struct {
	BytesBase64Encoded string `json:"bytesBase64Encoded"`
	MimeType           string `json:"mimeType"`
}

type videoParameters struct {
	SampleCount int `json:"sampleCount,omitempty"`
}
