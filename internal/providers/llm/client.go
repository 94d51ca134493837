// Package llm analyzes inputs and drafts generation prompts through a chat
// completions API in JSON mode, falling back to Static on any failure.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"genflow/internal/domain/jsoncfg"
	"genflow/internal/providers"
)

type Options struct {
	APIKey     string
	Model      string
	BaseURL    string
	HTTPClient *http.Client
	Fallback   Fallback
	OnFallback func(reason string, err error)
}

// Fallback is what the client degrades to.
type Fallback interface {
	providers.Analyzer
	providers.PromptDrafter
}

type Client struct {
	apiKey     string
	model      string
	baseURL    string
	client     *http.Client
	fallback   Fallback
	onFallback func(reason string, err error)
}

const defaultTimeout = 20 * time.Second

const defaultModel = "gpt-4o-mini"

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float64       `json:"temperature,omitempty"`
	ResponseFormat *chatFormat   `json:"response_format,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatFormat struct {
	Type string `json:"type"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

func NewClient(opts Options) *Client {
	baseURL := strings.TrimRight(opts.BaseURL, "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	model := strings.TrimSpace(opts.Model)
	if model == "" {
		model = defaultModel
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: defaultTimeout}
	}
	fallback := opts.Fallback
	if fallback == nil {
		fallback = NewStatic()
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		model:      model,
		baseURL:    baseURL,
		client:     client,
		fallback:   fallback,
		onFallback: opts.OnFallback,
	}
}

func (c *Client) Analyze(ctx context.Context, req providers.AnalyzeRequest) (jsoncfg.Analysis, error) {
	if c.apiKey == "" {
		return c.analyzeFallback(ctx, req, "missing_api_key", nil)
	}
	text, reason, err := c.complete(ctx, 0.3, buildAnalyzePayload(req))
	if err != nil {
		return c.analyzeFallback(ctx, req, reason, err)
	}
	parsed, err := parseModelPayload[jsoncfg.Analysis](text)
	if err != nil {
		return c.analyzeFallback(ctx, req, "parse_payload", err)
	}
	if strings.TrimSpace(parsed.Summary) == "" {
		return c.analyzeFallback(ctx, req, "empty_summary", errors.New("summary missing"))
	}
	return parsed, nil
}

func (c *Client) Draft(ctx context.Context, req providers.DraftRequest) (jsoncfg.Prompts, error) {
	if c.apiKey == "" {
		return c.draftFallback(ctx, req, "missing_api_key", nil)
	}
	text, reason, err := c.complete(ctx, 0.7, buildDraftPayload(req))
	if err != nil {
		return c.draftFallback(ctx, req, reason, err)
	}
	parsed, err := parseModelPayload[jsoncfg.Prompts](text)
	if err != nil {
		return c.draftFallback(ctx, req, "parse_payload", err)
	}
	if parsed.Empty() {
		return c.draftFallback(ctx, req, "empty_prompts", errors.New("prompts missing"))
	}
	return parsed, nil
}

// complete returns the first choice's content, or a fallback reason and error.
func (c *Client) complete(ctx context.Context, temperature float64, user string) (string, string, error) {
	payload := chatRequest{
		Model:          c.model,
		Temperature:    temperature,
		ResponseFormat: &chatFormat{Type: "json_object"},
		Messages: []chatMessage{
			{Role: "system", Content: "You are a creative director for short marketing videos. Respond only with valid JSON."},
			{Role: "user", Content: user},
		},
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		return "", "encode_request", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", &buf)
	if err != nil {
		return "", "build_request", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	resp, err := c.client.Do(httpReq)
	if err != nil {
		return "", "http_request", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode >= 300 {
		return "", fmt.Sprintf("http_%d", resp.StatusCode), fmt.Errorf("llm status %d", resp.StatusCode)
	}
	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", "decode_response", err
	}
	if len(out.Choices) == 0 {
		return "", "empty_choices", errors.New("no choices")
	}
	text := strings.TrimSpace(out.Choices[0].Message.Content)
	if text == "" {
		return "", "empty_response", errors.New("empty response")
	}
	return text, "", nil
}

func (c *Client) analyzeFallback(ctx context.Context, req providers.AnalyzeRequest, reason string, err error) (jsoncfg.Analysis, error) {
	c.emitFallback(reason, err)
	return c.fallback.Analyze(ctx, req)
}

func (c *Client) draftFallback(ctx context.Context, req providers.DraftRequest, reason string, err error) (jsoncfg.Prompts, error) {
	c.emitFallback(reason, err)
	return c.fallback.Draft(ctx, req)
}

func (c *Client) emitFallback(reason string, err error) {
	if c.onFallback != nil {
		c.onFallback(reason, err)
	}
}

func buildAnalyzePayload(req providers.AnalyzeRequest) string {
	in := req.Inputs
	sb := &strings.Builder{}
	sb.WriteString(`Analyze the inputs of a short video project. Respond strictly with JSON matching {"summary":string,"audience":string,"highlights":string[],"style":string}. `)
	fmt.Fprintf(sb, "Use locale '%s'. kind=%s, brief=%q, character=%q, competitor_video=%q, source_images=%d.",
		coalesce(in.Locale, jsoncfg.DefaultLocale), req.Kind, in.Brief, in.CharacterDescription, in.CompetitorVideoURL, len(in.ImageURLs))
	return sb.String()
}

func buildDraftPayload(req providers.DraftRequest) string {
	in := req.Inputs
	sb := &strings.Builder{}
	sb.WriteString(`Write generation prompts for a cover image and an image-to-video clip. Respond strictly with JSON matching {"cover_prompt":string,"video_prompt":string,"negative_prompt":string}. `)
	fmt.Fprintf(sb, "Use locale '%s'. kind=%s, brief=%q, character=%q, aspect_ratio=%s, duration_seconds=%d.",
		coalesce(in.Locale, jsoncfg.DefaultLocale), req.Kind, in.Brief, in.CharacterDescription, req.Config.AspectRatio, req.Config.DurationSeconds)
	if req.Analysis != nil {
		fmt.Fprintf(sb, " Analysis: summary=%q, audience=%q, style=%q, highlights=%q.",
			req.Analysis.Summary, req.Analysis.Audience, req.Analysis.Style, strings.Join(req.Analysis.Highlights, "; "))
	}
	return sb.String()
}

func parseModelPayload[T any](raw string) (T, error) {
	var zero T
	cleaned := extractJSONFragment(raw)
	if cleaned == "" {
		return zero, errors.New("empty payload")
	}
	var decoded T
	if err := json.Unmarshal([]byte(cleaned), &decoded); err != nil {
		return zero, err
	}
	return decoded, nil
}

func extractJSONFragment(raw string) string {
	text := strings.TrimSpace(raw)
	if text == "" {
		return ""
	}
	text = trimCodeFence(text)
	start := strings.IndexAny(text, "{[")
	end := strings.LastIndexAny(text, "]}")
	if start >= 0 && end >= start {
		text = text[start : end+1]
	}
	return strings.TrimSpace(text)
}

func trimCodeFence(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	trimmed = strings.TrimPrefix(trimmed, "```json")
	trimmed = strings.TrimPrefix(trimmed, "```JSON")
	trimmed = strings.TrimPrefix(trimmed, "```")
	trimmed = strings.TrimSpace(trimmed)
	if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	return strings.TrimSpace(trimmed)
}

var (
	_ providers.Analyzer      = (*Client)(nil)
	_ providers.PromptDrafter = (*Client)(nil)
)
