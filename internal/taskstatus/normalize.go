// Package taskstatus turns the poll responses of heterogeneous generation
// providers into one canonical status. Nothing outside this package inspects
// provider payload shapes.
package taskstatus

import (
	"bytes"
	"encoding/json"
	"regexp"
	"strings"

	"genflow/internal/domain"
)

// State is the canonical status of an external task.
type State string

const (
	Pending State = "PENDING"
	Success State = "SUCCESS"
	Failed  State = "FAILED"
)

// Result is the normalized view of one poll response.
type Result struct {
	State State
	URL   string
	URLs  []string
	Error string
	// Adapter names the payload encoding that decided State; empty when the
	// state was inferred.
	Adapter string
}

var explicitFailure = regexp.MustCompile(`(?i)"(successFlag)"\s*:\s*"?[23]\b|"(state)"\s*:\s*"fail|"(task_status)"\s*:\s*"(failed|canceled)"`)

// Normalize maps a raw poll payload of the given stage to a Result. It never
// fails: unparseable payloads are PENDING unless they carry an explicit
// failure flag.
func Normalize(stage domain.Stage, raw []byte) Result {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return Result{State: Pending}
	}
	var doc map[string]any
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(&doc); err != nil || doc == nil {
		if explicitFailure.Match(trimmed) {
			return Result{State: Failed, Error: "provider reported failure in malformed payload", Adapter: "raw"}
		}
		return Result{State: Pending}
	}

	payload := unwrapEnvelope(doc)
	res := Result{State: Pending}
	state, adapter, ok := resolveState(payload)

	res.URLs = extractURLs(stage, payload)
	if len(res.URLs) > 0 {
		res.URL = res.URLs[0]
	}
	res.Error = extractError(payload)

	switch {
	case !ok && res.URL != "":
		res.State = Success
	case !ok:
		res.State = Pending
	case state == Success && res.URL == "":
		// Some providers flip the flag before the artifact is published.
		res.State = Pending
		res.Adapter = adapter
	default:
		res.State = state
		res.Adapter = adapter
	}
	if res.State == Failed && res.Error == "" {
		res.Error = "task failed"
	}
	if res.State != Failed {
		res.Error = ""
	}
	return res
}

// unwrapEnvelope strips the {"code":..,"msg":..,"data":{...}} wrapper most
// task APIs put around the task record.
func unwrapEnvelope(doc map[string]any) map[string]any {
	data, ok := doc["data"].(map[string]any)
	if !ok {
		return doc
	}
	if _, hasCode := doc["code"]; hasCode {
		return data
	}
	if _, hasMsg := doc["msg"]; hasMsg {
		return data
	}
	return doc
}

func resolveState(payload map[string]any) (State, string, bool) {
	for _, a := range adapters {
		if state, ok := a.decide(payload); ok {
			return state, a.name, true
		}
	}
	return Pending, "", false
}

func extractError(payload map[string]any) string {
	candidates := []any{
		payload["failMsg"],
		payload["errorMessage"],
		payload["error"],
		lookup(payload, "output", "message"),
		payload["msg"],
	}
	for _, c := range candidates {
		switch v := c.(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" && !strings.EqualFold(s, "success") {
				return s
			}
		case map[string]any:
			if s, ok := v["message"].(string); ok && strings.TrimSpace(s) != "" {
				return strings.TrimSpace(s)
			}
		}
	}
	return ""
}

func lookup(payload map[string]any, path ...string) any {
	var cur any = payload
	for _, key := range path {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[key]
	}
	return cur
}
