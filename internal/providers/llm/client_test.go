package llm

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
	"genflow/internal/providers"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func chatReply(content string) *http.Response {
	body, _ := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": content}}},
	})
	return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(strings.NewReader(string(body)))}
}

func TestDraftParsesFencedJSON(t *testing.T) {
	var model string
	client := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			var req chatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			model = req.Model
			return chatReply("```json\n{\"cover_prompt\":\"latte art close-up\",\"video_prompt\":\"steam swirls\"}\n```"), nil
		})},
	})
	got, err := client.Draft(context.Background(), providers.DraftRequest{Kind: domain.WorkflowKindSingle})
	if err != nil {
		t.Fatalf("Draft returned error: %v", err)
	}
	if got.CoverPrompt != "latte art close-up" || got.VideoPrompt != "steam swirls" {
		t.Fatalf("prompts = %+v", got)
	}
	if model != defaultModel {
		t.Fatalf("model = %q, want %q", model, defaultModel)
	}
}

func TestAnalyzeFallsBackOnTransportError(t *testing.T) {
	var reason string
	client := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return nil, errors.New("boom")
		})},
		OnFallback: func(r string, err error) { reason = r },
	})
	got, err := client.Analyze(context.Background(), providers.AnalyzeRequest{
		Kind:   domain.WorkflowKindSingle,
		Inputs: jsoncfg.Inputs{Brief: "artisan coffee beans. roasted daily"},
	})
	if err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if reason != "http_request" {
		t.Fatalf("fallback reason = %q, want http_request", reason)
	}
	if got.Summary != "Artisan Coffee Beans" {
		t.Fatalf("summary = %q", got.Summary)
	}
}

func TestDraftFallsBackWithoutKey(t *testing.T) {
	var reason string
	client := NewClient(Options{OnFallback: func(r string, err error) { reason = r }})
	got, err := client.Draft(context.Background(), providers.DraftRequest{
		Kind:   domain.WorkflowKindCharacter,
		Inputs: jsoncfg.Inputs{CharacterDescription: "a friendly robot barista"},
		Config: jsoncfg.ModelConfig{AspectRatio: "9:16", DurationSeconds: 8},
	})
	if err != nil {
		t.Fatalf("Draft returned error: %v", err)
	}
	if reason != "missing_api_key" {
		t.Fatalf("fallback reason = %q", reason)
	}
	if got.Empty() {
		t.Fatalf("static prompts must not be empty")
	}
	if !strings.HasPrefix(got.CoverPrompt, "A Friendly Robot Barista") {
		t.Fatalf("cover prompt = %q", got.CoverPrompt)
	}
}

func TestAnalyzeFallsBackOnEmptySummary(t *testing.T) {
	var reason string
	client := NewClient(Options{
		APIKey: "k",
		HTTPClient: &http.Client{Transport: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			return chatReply(`{"summary":""}`), nil
		})},
		OnFallback: func(r string, err error) { reason = r },
	})
	if _, err := client.Analyze(context.Background(), providers.AnalyzeRequest{}); err != nil {
		t.Fatalf("Analyze returned error: %v", err)
	}
	if reason != "empty_summary" {
		t.Fatalf("fallback reason = %q", reason)
	}
}
