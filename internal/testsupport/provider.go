package testsupport

import (
	"context"
	"fmt"
	"sync"

	"genflow/internal/domain"
	"genflow/internal/providers"
)

// FakeProvider records submissions and answers polls from canned payloads.
type FakeProvider struct {
	mu       sync.Mutex
	prefix   string
	seq      int
	Submits  []providers.TaskRequest
	Polls    []string
	payloads map[string][]byte

	SubmitErr error
	PollErr   error
	// Fallback answers polls for tasks without a canned payload when set.
	Fallback func(taskID string) []byte
}

// NewFakeProvider returns a provider whose task ids start with prefix.
func NewFakeProvider(prefix string) *FakeProvider {
	return &FakeProvider{prefix: prefix, payloads: make(map[string][]byte)}
}

// SetPayload sets the raw poll payload returned for taskID.
func (f *FakeProvider) SetPayload(taskID, raw string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.payloads[taskID] = []byte(raw)
}

// SubmitCount returns the number of accepted submissions.
func (f *FakeProvider) SubmitCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Submits)
}

func (f *FakeProvider) Submit(ctx context.Context, req providers.TaskRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.SubmitErr != nil {
		return "", f.SubmitErr
	}
	f.seq++
	f.Submits = append(f.Submits, req)
	return fmt.Sprintf("%s-%d", f.prefix, f.seq), nil
}

func (f *FakeProvider) Poll(ctx context.Context, taskID string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls = append(f.Polls, taskID)
	if f.PollErr != nil {
		return nil, f.PollErr
	}
	if raw, ok := f.payloads[taskID]; ok {
		return raw, nil
	}
	if f.Fallback != nil {
		return f.Fallback(taskID), nil
	}
	return []byte(`{"state":"generating"}`), nil
}

// Registry returns a registry that routes every stage to its provider.
func Registry(image, video, merge providers.TaskProvider) *providers.Registry {
	r := providers.NewRegistry()
	for stage, p := range map[domain.Stage]providers.TaskProvider{
		domain.StageImage: image,
		domain.StageVideo: video,
		domain.StageMerge: merge,
	} {
		if p != nil {
			r.SetDefault(stage, p)
		}
	}
	return r
}

var _ providers.TaskProvider = (*FakeProvider)(nil)
