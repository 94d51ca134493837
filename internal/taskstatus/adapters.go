package taskstatus

import (
	"encoding/json"
	"strconv"
	"strings"

	"genflow/internal/domain"
)

type adapter struct {
	name   string
	decide func(payload map[string]any) (State, bool)
}

// adapters are consulted in order; the first that recognizes its field wins.
var adapters = []adapter{
	{name: "state", decide: decideState},
	{name: "success_flag", decide: decideSuccessFlag},
	{name: "dashscope", decide: decideDashScope},
	{name: "status", decide: decideStatus},
}

func decideState(payload map[string]any) (State, bool) {
	raw, ok := payload["state"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return Pending, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded":
		return Success, true
	case "fail", "failed", "error":
		return Failed, true
	default:
		return Pending, true
	}
}

func decideSuccessFlag(payload map[string]any) (State, bool) {
	flag, ok := asInt(payload["successFlag"])
	if !ok {
		return Pending, false
	}
	switch flag {
	case 1:
		return Success, true
	case 2, 3:
		return Failed, true
	default:
		return Pending, true
	}
}

func decideDashScope(payload map[string]any) (State, bool) {
	raw, ok := lookup(payload, "output", "task_status").(string)
	if !ok || raw == "" {
		return Pending, false
	}
	switch strings.ToUpper(raw) {
	case "SUCCEEDED":
		return Success, true
	case "FAILED", "CANCELED", "UNKNOWN":
		return Failed, true
	default:
		return Pending, true
	}
}

func decideStatus(payload map[string]any) (State, bool) {
	raw, ok := payload["status"].(string)
	if !ok || strings.TrimSpace(raw) == "" {
		return Pending, false
	}
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "success", "succeeded", "completed", "complete", "done":
		return Success, true
	case "failed", "fail", "error", "canceled", "cancelled":
		return Failed, true
	default:
		return Pending, true
	}
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case json.Number:
		i, err := strconv.Atoi(n.String())
		return i, err == nil
	case float64:
		return int(n), true
	case string:
		i, err := strconv.Atoi(strings.TrimSpace(n))
		return i, err == nil
	}
	return 0, false
}

type urlSource func(payload map[string]any) []string

var (
	resultJSONSource urlSource = func(p map[string]any) []string {
		raw, ok := p["resultJson"].(string)
		if !ok || strings.TrimSpace(raw) == "" {
			return nil
		}
		var inner map[string]any
		if err := json.Unmarshal([]byte(raw), &inner); err != nil {
			return nil
		}
		return firstNonEmpty(inner["resultUrls"], inner["result_urls"], inner["resultUrl"])
	}
	responseURLsSource urlSource = func(p map[string]any) []string {
		return firstNonEmpty(lookup(p, "response", "resultUrls"), lookup(p, "response", "result_urls"))
	}
	topURLsSource urlSource = func(p map[string]any) []string {
		return firstNonEmpty(p["resultUrls"])
	}
	imageURLSource urlSource = func(p map[string]any) []string {
		return firstNonEmpty(lookup(p, "response", "resultImageUrl"), lookup(p, "info", "resultImageUrl"))
	}
	videoURLSource urlSource = func(p map[string]any) []string {
		return firstNonEmpty(p["videoUrl"], lookup(p, "output", "video_url"))
	}
	dashScopeResultsSource urlSource = func(p map[string]any) []string {
		results, ok := lookup(p, "output", "results").([]any)
		if !ok {
			return nil
		}
		var urls []string
		for _, r := range results {
			if m, ok := r.(map[string]any); ok {
				if u, ok := m["url"].(string); ok && strings.TrimSpace(u) != "" {
					urls = append(urls, strings.TrimSpace(u))
				}
			}
		}
		return urls
	}
	plainURLSource urlSource = func(p map[string]any) []string {
		return firstNonEmpty(p["url"])
	}
)

func extractURLs(stage domain.Stage, payload map[string]any) []string {
	order := []urlSource{resultJSONSource, responseURLsSource, topURLsSource, imageURLSource, videoURLSource, dashScopeResultsSource, plainURLSource}
	if stage == domain.StageVideo || stage == domain.StageMerge {
		order = []urlSource{resultJSONSource, responseURLsSource, topURLsSource, videoURLSource, imageURLSource, dashScopeResultsSource, plainURLSource}
	}
	for _, src := range order {
		if urls := src(payload); len(urls) > 0 {
			return urls
		}
	}
	return nil
}

// firstNonEmpty returns the URLs held by the first candidate that is either a
// non-blank string or a list containing at least one.
func firstNonEmpty(candidates ...any) []string {
	for _, c := range candidates {
		switch v := c.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return []string{s}
			}
		case []any:
			var urls []string
			for _, item := range v {
				if s, ok := item.(string); ok && strings.TrimSpace(s) != "" {
					urls = append(urls, strings.TrimSpace(s))
				}
			}
			if len(urls) > 0 {
				return urls
			}
		}
	}
	return nil
}
