// Package qwen submits asynchronous image synthesis tasks to DashScope.
package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/providers"
)

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("qwen: api key is required")

// Options configures the DashScope client.
type Options struct {
	APIKey         string
	BaseURL        string
	Model          string
	PromptExtend   bool
	Watermark      bool
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the DashScope image synthesis API.
type Client struct {
	apiKey       string
	baseURL      string
	model        string
	promptExtend bool
	watermark    bool
	httpClient   *http.Client
	logger       *infra.Logger
}

type synthesisRequest struct {
	Model      string          `json:"model"`
	Input      synthesisInput  `json:"input"`
	Parameters synthesisParams `json:"parameters"`
}

type synthesisInput struct {
	Prompt         string `json:"prompt"`
	NegativePrompt string `json:"negative_prompt,omitempty"`
	RefImage       string `json:"ref_img,omitempty"`
}

type synthesisParams struct {
	Size         string `json:"size,omitempty"`
	N            int    `json:"n"`
	PromptExtend *bool  `json:"prompt_extend,omitempty"`
	Watermark    *bool  `json:"watermark,omitempty"`
}

type synthesisResponse struct {
	Output struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	RequestID string `json:"request_id"`
	Code      string `json:"code"`
	Message   string `json:"message"`
}

// NewClient constructs a client with sane defaults and injected dependencies.
func NewClient(opts Options) (*Client, error) {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://dashscope-intl.aliyuncs.com/api/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = "wanx2.1-t2i-turbo"
	}
	return &Client{
		apiKey:       strings.TrimSpace(opts.APIKey),
		baseURL:      baseURL,
		model:        model,
		promptExtend: opts.PromptExtend,
		watermark:    opts.Watermark,
		httpClient:   httpClient,
		logger:       infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// Model returns the configured model identifier.
func (c *Client) Model() string {
	return c.model
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit starts an asynchronous synthesis task. The first reference image,
// when present, conditions the output.
func (c *Client) Submit(ctx context.Context, req providers.TaskRequest) (string, error) {
	if !c.HasCredentials() {
		return "", domain.Wrap(domain.ErrProvider, "qwen", "submit", ErrMissingAPIKey)
	}
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", domain.Wrap(domain.ErrValidation, "qwen", "prompt is required", nil)
	}
	payload := synthesisRequest{
		Model: c.model,
		Input: synthesisInput{
			Prompt:         prompt,
			NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		},
		Parameters: synthesisParams{
			Size: AspectRatioSize(req.AspectRatio),
			N:    1,
		},
	}
	if len(req.ImageURLs) > 0 {
		payload.Input.RefImage = strings.TrimSpace(req.ImageURLs[0])
	}
	if extend := c.promptExtend; extend {
		payload.Parameters.PromptExtend = &extend
	}
	watermark := c.watermark
	payload.Parameters.Watermark = &watermark

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("qwen: encode request: %w", err)
	}
	endpoint := c.baseURL + "/services/aigc/text2image/image-synthesis"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	httpReq.Header.Set("X-DashScope-Async", "enable")

	raw, status, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	var decoded synthesisResponse
	decodeErr := json.Unmarshal(raw, &decoded)
	if status >= 300 {
		if decodeErr == nil && decoded.Message != "" {
			return "", domain.Wrap(domain.ErrProvider, "qwen", fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code), nil)
		}
		return "", domain.Wrap(domain.ErrProvider, "qwen", fmt.Sprintf("status %d: %s", status, strings.TrimSpace(string(raw))), nil)
	}
	if decodeErr != nil {
		return "", domain.Wrap(domain.ErrProvider, "qwen", "decode response", decodeErr)
	}
	if decoded.Code != "" {
		return "", domain.Wrap(domain.ErrProvider, "qwen", fmt.Sprintf("%s (%s)", decoded.Message, decoded.Code), nil)
	}
	taskID := strings.TrimSpace(decoded.Output.TaskID)
	if taskID == "" {
		return "", domain.Wrap(domain.ErrProvider, "qwen", "empty task id", nil)
	}
	c.logger.Debug().
		Str("model", c.model).
		Str("request_id", decoded.RequestID).
		Str("task_id", taskID).
		Str("reference", req.Reference).
		Msg("qwen: synthesis task submitted")
	return taskID, nil
}

// Poll returns the raw task payload; output.task_status and output.results
// are interpreted by the task status normalizer.
func (c *Client) Poll(ctx context.Context, taskID string) ([]byte, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, domain.Wrap(domain.ErrValidation, "qwen", "task id is required", nil)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/tasks/"+url.PathEscape(taskID), nil)
	if err != nil {
		return nil, fmt.Errorf("qwen: build request: %w", err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	raw, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.Wrap(domain.ErrProvider, "qwen", fmt.Sprintf("poll status %d: %s", status, strings.TrimSpace(string(raw))), nil)
	}
	return raw, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, domain.Wrap(domain.ErrProvider, "qwen", "http request", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, domain.Wrap(domain.ErrProvider, "qwen", "read response", err)
	}
	return raw, resp.StatusCode, nil
}

// AspectRatioSize maps an aspect ratio onto a DashScope size string.
func AspectRatioSize(aspect string) string {
	switch strings.TrimSpace(aspect) {
	case "16:9":
		return "1664*928"
	case "4:3":
		return "1472*1104"
	case "3:4":
		return "1140*1472"
	case "9:16":
		return "928*1664"
	default:
		return "1328*1328"
	}
}

var _ providers.TaskProvider = (*Client)(nil)
