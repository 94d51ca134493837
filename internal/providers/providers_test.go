package providers

import (
	"context"
	"errors"
	"testing"

	"genflow/internal/domain"
)

type namedProvider string

func (n namedProvider) Submit(ctx context.Context, req TaskRequest) (string, error) {
	return string(n), nil
}

func (n namedProvider) Poll(ctx context.Context, taskID string) ([]byte, error) {
	return nil, nil
}

func TestRegistrySelectsModelThenDefault(t *testing.T) {
	r := NewRegistry()
	r.SetDefault(domain.StageImage, namedProvider("default-image"))
	r.Register(domain.StageImage, "wanx2.1-t2i-turbo", namedProvider("dashscope"))

	cases := []struct {
		stage domain.Stage
		model string
		want  string
	}{
		{domain.StageImage, "wanx2.1-t2i-turbo", "dashscope"},
		{domain.StageImage, " WANX2.1-T2I-TURBO ", "dashscope"},
		{domain.StageImage, "nano-banana", "default-image"},
	}
	for _, tc := range cases {
		p, err := r.For(tc.stage, tc.model)
		if err != nil {
			t.Fatalf("For(%s, %q) error: %v", tc.stage, tc.model, err)
		}
		if got, _ := p.Submit(context.Background(), TaskRequest{}); got != tc.want {
			t.Fatalf("For(%s, %q) = %s, want %s", tc.stage, tc.model, got, tc.want)
		}
	}
}

func TestRegistryMissingStage(t *testing.T) {
	r := NewRegistry()
	if _, err := r.For(domain.StageMerge, ""); !errors.Is(err, domain.ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}
