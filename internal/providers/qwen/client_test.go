package qwen

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genflow/internal/domain"
	"genflow/internal/providers"
	"genflow/internal/taskstatus"
)

func TestSubmitSynthesisPayload(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, err := NewClient(Options{
		APIKey:       "test",
		PromptExtend: true,
		HTTPClient:   &http.Client{Transport: transport},
	})
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	transport.setJSONResponse("/api/v1/services/aigc/text2image/image-synthesis", map[string]any{
		"output":     map[string]any{"task_id": "ds-1", "task_status": "PENDING"},
		"request_id": "req-123",
	})

	id, err := client.Submit(context.Background(), providers.TaskRequest{
		Stage:       domain.StageImage,
		Prompt:      "a latte on a wooden table",
		AspectRatio: "9:16",
		ImageURLs:   []string{"https://cdn.example.com/ref.png"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if id != "ds-1" {
		t.Fatalf("task id = %q, want ds-1", id)
	}
	if transport.lastHeader.Get("X-DashScope-Async") != "enable" {
		t.Fatalf("async header missing")
	}

	var payload map[string]any
	if err := json.Unmarshal(transport.lastBody, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload["model"] != "wanx2.1-t2i-turbo" {
		t.Fatalf("model = %v", payload["model"])
	}
	input := payload["input"].(map[string]any)
	if input["ref_img"] != "https://cdn.example.com/ref.png" {
		t.Fatalf("ref_img = %v", input["ref_img"])
	}
	params := payload["parameters"].(map[string]any)
	if params["size"] != "928*1664" {
		t.Fatalf("size = %v, want 928*1664", params["size"])
	}
	if params["prompt_extend"] != true {
		t.Fatalf("prompt_extend = %v", params["prompt_extend"])
	}
	if params["watermark"] != false {
		t.Fatalf("watermark = %v", params["watermark"])
	}
}

func TestSubmitErrorEnvelope(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{APIKey: "test", HTTPClient: &http.Client{Transport: transport}})
	transport.responses["/api/v1/services/aigc/text2image/image-synthesis"] = responseStub{
		status: http.StatusBadRequest,
		body:   []byte(`{"code":"InvalidParameter","message":"prompt too long"}`),
	}
	_, err := client.Submit(context.Background(), providers.TaskRequest{Prompt: "x"})
	if !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
	if !strings.Contains(err.Error(), "prompt too long (InvalidParameter)") {
		t.Fatalf("error = %v", err)
	}
}

func TestSubmitRequiresCredentials(t *testing.T) {
	client, _ := NewClient(Options{})
	if _, err := client.Submit(context.Background(), providers.TaskRequest{Prompt: "x"}); !errors.Is(err, ErrMissingAPIKey) {
		t.Fatalf("expected ErrMissingAPIKey, got %v", err)
	}
}

func TestPollPayloadNormalizes(t *testing.T) {
	transport := &captureTransport{responses: map[string]responseStub{}}
	client, _ := NewClient(Options{APIKey: "test", HTTPClient: &http.Client{Transport: transport}})
	transport.setJSONResponse("https://dashscope-intl.aliyuncs.com/api/v1/tasks/ds-1", map[string]any{
		"output": map[string]any{
			"task_id":     "ds-1",
			"task_status": "SUCCEEDED",
			"results":     []any{map[string]any{"url": "https://dashscope.example.com/out.png"}},
		},
	})

	raw, err := client.Poll(context.Background(), "ds-1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	res := taskstatus.Normalize(domain.StageImage, raw)
	if res.State != taskstatus.Success || res.URL != "https://dashscope.example.com/out.png" {
		t.Fatalf("normalized = %+v", res)
	}
}

func TestAspectRatioSize(t *testing.T) {
	cases := map[string]string{
		"16:9": "1664*928",
		"9:16": "928*1664",
		"1:1":  "1328*1328",
		"":     "1328*1328",
	}
	for in, want := range cases {
		if got := AspectRatioSize(in); got != want {
			t.Fatalf("AspectRatioSize(%q) = %q, want %q", in, got, want)
		}
	}
}

type captureTransport struct {
	responses  map[string]responseStub
	lastBody   []byte
	lastHeader http.Header
}

type responseStub struct {
	status int
	header http.Header
	body   []byte
}

func (c *captureTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	c.lastHeader = req.Header.Clone()
	if req.Method == http.MethodPost {
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return nil, err
		}
		req.Body.Close()
		c.lastBody = body
		if stub, ok := c.responses[req.URL.Path]; ok {
			return stub.toResponse(), nil
		}
	}
	if req.Method == http.MethodGet {
		if stub, ok := c.responses[req.URL.String()]; ok {
			return stub.toResponse(), nil
		}
	}
	return &http.Response{
		StatusCode: http.StatusNotFound,
		Body:       io.NopCloser(strings.NewReader("not found")),
	}, nil
}

func (c *captureTransport) setJSONResponse(path string, payload any) {
	body, _ := json.Marshal(payload)
	c.responses[path] = responseStub{
		status: http.StatusOK,
		header: http.Header{"Content-Type": []string{"application/json"}},
		body:   body,
	}
}

func (s responseStub) toResponse() *http.Response {
	header := http.Header{}
	for k, values := range s.header {
		cloned := make([]string, len(values))
		copy(cloned, values)
		header[k] = cloned
	}
	return &http.Response{
		StatusCode: s.status,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(s.body)),
	}
}
