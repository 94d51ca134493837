// Package taskapi talks to an asynchronous generation API that accepts a
// task, returns its id, and exposes a record endpoint for polling.
package taskapi

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
var ErrMissingAPIKey = errors.New("taskapi: api key is required")

// Options configures a Client bound to one stage.
type Options struct {
	APIKey         string
	BaseURL        string
	Stage          domain.Stage
	SubmitPath     string
	PollPath       string
	HTTPClient     *http.Client
	Logger         *infra.Logger
	RequestTimeout time.Duration
}

// Client submits and polls tasks of one stage.
type Client struct {
	apiKey     string
	baseURL    string
	stage      domain.Stage
	submitPath string
	pollPath   string
	httpClient *http.Client
	logger     *infra.Logger
}

var defaultPaths = map[domain.Stage][2]string{
	domain.StageImage: {"/api/v1/jobs/createTask", "/api/v1/jobs/recordInfo"},
	domain.StageVideo: {"/api/v1/veo/generate", "/api/v1/veo/record-info"},
	domain.StageMerge: {"/api/v1/merge/generate", "/api/v1/merge/record-info"},
}

type submitRequest struct {
	Model          string   `json:"model,omitempty"`
	Prompt         string   `json:"prompt,omitempty"`
	NegativePrompt string   `json:"negativePrompt,omitempty"`
	AspectRatio    string   `json:"aspectRatio,omitempty"`
	Quality        string   `json:"quality,omitempty"`
	Duration       int      `json:"duration,omitempty"`
	ImageURLs      []string `json:"imageUrls,omitempty"`
	VideoURLs      []string `json:"videoUrls,omitempty"`
	GenerationType string   `json:"generationType,omitempty"`
}

type submitResponse struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data struct {
		TaskID string `json:"taskId"`
	} `json:"data"`
}

// NewClient constructs a client with defaults for the stage's endpoints.
func NewClient(opts Options) (*Client, error) {
	paths, ok := defaultPaths[opts.Stage]
	if !ok {
		return nil, fmt.Errorf("taskapi: unsupported stage %q", opts.Stage)
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 45 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.kie.ai"
	}
	submitPath := strings.TrimSpace(opts.SubmitPath)
	if submitPath == "" {
		submitPath = paths[0]
	}
	pollPath := strings.TrimSpace(opts.PollPath)
	if pollPath == "" {
		pollPath = paths[1]
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		stage:      opts.Stage,
		submitPath: submitPath,
		pollPath:   pollPath,
		httpClient: httpClient,
		logger:     infra.LoggerOrDiscard(opts.Logger),
	}, nil
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Submit creates a task and returns its id.
func (c *Client) Submit(ctx context.Context, req providers.TaskRequest) (string, error) {
	if !c.HasCredentials() {
		return "", domain.Wrap(domain.ErrProvider, "taskapi", "submit", ErrMissingAPIKey)
	}
	payload := submitRequest{
		Model:          strings.TrimSpace(req.Model),
		Prompt:         strings.TrimSpace(req.Prompt),
		NegativePrompt: strings.TrimSpace(req.NegativePrompt),
		AspectRatio:    req.AspectRatio,
		Quality:        req.Quality,
		Duration:       req.DurationSeconds,
		ImageURLs:      req.ImageURLs,
		VideoURLs:      req.VideoURLs,
	}
	switch c.stage {
	case domain.StageVideo:
		payload.GenerationType = generationType(len(req.ImageURLs))
	case domain.StageMerge:
		if len(req.VideoURLs) == 0 && len(req.ImageURLs) == 0 {
			return "", domain.Wrap(domain.ErrValidation, "taskapi", "merge requires clips or frames", nil)
		}
	default:
		if payload.Prompt == "" {
			return "", domain.Wrap(domain.ErrValidation, "taskapi", "prompt is required", nil)
		}
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("taskapi: encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+c.submitPath, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("taskapi: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	raw, status, err := c.do(httpReq)
	if err != nil {
		return "", err
	}
	if status >= 300 {
		return "", domain.Wrap(domain.ErrProvider, "taskapi", fmt.Sprintf("submit status %d: %s", status, snippet(raw)), nil)
	}
	var decoded submitResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", domain.Wrap(domain.ErrProvider, "taskapi", "decode submit response", err)
	}
	if decoded.Code != 0 && decoded.Code != http.StatusOK {
		return "", domain.Wrap(domain.ErrProvider, "taskapi", fmt.Sprintf("submit rejected (%d): %s", decoded.Code, decoded.Msg), nil)
	}
	taskID := strings.TrimSpace(decoded.Data.TaskID)
	if taskID == "" {
		return "", domain.Wrap(domain.ErrProvider, "taskapi", "empty task id", nil)
	}
	c.logger.Debug().
		Str("stage", string(c.stage)).
		Str("task_id", taskID).
		Str("reference", req.Reference).
		Msg("taskapi: task submitted")
	return taskID, nil
}

// Poll returns the raw record payload of a task.
func (c *Client) Poll(ctx context.Context, taskID string) ([]byte, error) {
	taskID = strings.TrimSpace(taskID)
	if taskID == "" {
		return nil, domain.Wrap(domain.ErrValidation, "taskapi", "task id is required", nil)
	}
	endpoint := c.baseURL + c.pollPath + "?taskId=" + url.QueryEscape(taskID)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("taskapi: build request: %w", err)
	}
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	raw, status, err := c.do(httpReq)
	if err != nil {
		return nil, err
	}
	if status >= 300 {
		return nil, domain.Wrap(domain.ErrProvider, "taskapi", fmt.Sprintf("poll status %d: %s", status, snippet(raw)), nil)
	}
	return raw, nil
}

func (c *Client) do(req *http.Request) ([]byte, int, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, domain.Wrap(domain.ErrProvider, "taskapi", "http request", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, 0, domain.Wrap(domain.ErrProvider, "taskapi", "read response", err)
	}
	return raw, resp.StatusCode, nil
}

func generationType(frames int) string {
	switch {
	case frames >= 2:
		return "FIRST_AND_LAST_FRAMES_2_VIDEO"
	case frames == 1:
		return "REFERENCE_2_VIDEO"
	default:
		return "TEXT_2_VIDEO"
	}
}

func snippet(raw []byte) string {
	s := strings.TrimSpace(string(raw))
	if len(s) > 200 {
		s = s[:200]
	}
	return s
}

var _ providers.TaskProvider = (*Client)(nil)
