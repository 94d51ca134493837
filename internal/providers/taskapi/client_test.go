package taskapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genflow/internal/domain"
	"genflow/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func jsonResponse(status int, body string) *http.Response {
	return &http.Response{
		StatusCode: status,
		Header:     http.Header{"Content-Type": []string{"application/json"}},
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

func newTestClient(t *testing.T, stage domain.Stage, fn roundTripFunc) *Client {
	t.Helper()
	c, err := NewClient(Options{
		APIKey:     "test-key",
		BaseURL:    "https://tasks.test/",
		Stage:      stage,
		HTTPClient: &http.Client{Transport: fn},
	})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	return c
}

func TestSubmitVideoPayload(t *testing.T) {
	var captured map[string]any
	var path, auth string
	c := newTestClient(t, domain.StageVideo, func(r *http.Request) (*http.Response, error) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		raw, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(raw, &captured); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		return jsonResponse(http.StatusOK, `{"code":200,"msg":"success","data":{"taskId":"veo-123"}}`), nil
	})

	id, err := c.Submit(context.Background(), providers.TaskRequest{
		Model:       "veo3_fast",
		Prompt:      "steam rises from the cup",
		AspectRatio: "9:16",
		ImageURLs:   []string{"https://cdn/first.png", "https://cdn/last.png"},
	})
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if id != "veo-123" {
		t.Fatalf("task id = %q", id)
	}
	if path != "/api/v1/veo/generate" {
		t.Fatalf("path = %q", path)
	}
	if auth != "Bearer test-key" {
		t.Fatalf("authorization = %q", auth)
	}
	if captured["generationType"] != "FIRST_AND_LAST_FRAMES_2_VIDEO" {
		t.Fatalf("generationType = %v", captured["generationType"])
	}
	if urls, ok := captured["imageUrls"].([]any); !ok || len(urls) != 2 {
		t.Fatalf("imageUrls = %v", captured["imageUrls"])
	}
}

func TestSubmitRejectedByEnvelopeCode(t *testing.T) {
	c := newTestClient(t, domain.StageImage, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusOK, `{"code":402,"msg":"insufficient balance"}`), nil
	})
	_, err := c.Submit(context.Background(), providers.TaskRequest{Prompt: "cover"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "insufficient balance") {
		t.Fatalf("error = %v", err)
	}
}

func TestSubmitHTTPError(t *testing.T) {
	c := newTestClient(t, domain.StageImage, func(r *http.Request) (*http.Response, error) {
		return jsonResponse(http.StatusInternalServerError, `oops`), nil
	})
	if _, err := c.Submit(context.Background(), providers.TaskRequest{Prompt: "cover"}); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestSubmitWithoutKey(t *testing.T) {
	c, err := NewClient(Options{Stage: domain.StageImage})
	if err != nil {
		t.Fatalf("NewClient returned error: %v", err)
	}
	if _, err := c.Submit(context.Background(), providers.TaskRequest{Prompt: "x"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestPollReturnsRawPayload(t *testing.T) {
	body := `{"code":200,"data":{"taskId":"t1","state":"success","resultJson":"{\"resultUrls\":[\"https://cdn/out.png\"]}"}}`
	var query string
	c := newTestClient(t, domain.StageImage, func(r *http.Request) (*http.Response, error) {
		query = r.URL.RawQuery
		return jsonResponse(http.StatusOK, body), nil
	})
	raw, err := c.Poll(context.Background(), "t1")
	if err != nil {
		t.Fatalf("Poll returned error: %v", err)
	}
	if string(raw) != body {
		t.Fatalf("raw = %s", raw)
	}
	if query != "taskId=t1" {
		t.Fatalf("query = %q", query)
	}
}

func TestNewClientRejectsUnknownStage(t *testing.T) {
	if _, err := NewClient(Options{Stage: "audio"}); err == nil {
		t.Fatalf("expected error for unknown stage")
	}
}
