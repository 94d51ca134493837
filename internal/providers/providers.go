// Package providers defines the contracts the orchestrator uses to talk to
// external generation services.
package providers

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
)

// TaskRequest describes one long-running generation task.
type TaskRequest struct {
	Stage           domain.Stage
	Model           string
	Prompt          string
	NegativePrompt  string
	AspectRatio     string
	Quality         string
	DurationSeconds int
	// ImageURLs are reference stills: the cover for a video, the first and
	// optional last frame for a segment clip, source images for a cover.
	ImageURLs []string
	// VideoURLs are the ordered clips of a merge task.
	VideoURLs []string
	// Reference identifies the instance or segment for provider-side logs.
	Reference string
}

// TaskProvider submits tasks and returns the raw poll payload. Interpreting
// the payload is the job of package taskstatus.
type TaskProvider interface {
	Submit(ctx context.Context, req TaskRequest) (string, error)
	Poll(ctx context.Context, taskID string) ([]byte, error)
}

// AnalyzeRequest carries what the analysis stage looks at.
type AnalyzeRequest struct {
	Kind   domain.WorkflowKind
	Inputs jsoncfg.Inputs
}

// Analyzer summarizes user inputs.
type Analyzer interface {
	Analyze(ctx context.Context, req AnalyzeRequest) (jsoncfg.Analysis, error)
}

// DraftRequest carries what prompt drafting needs.
type DraftRequest struct {
	Kind     domain.WorkflowKind
	Inputs   jsoncfg.Inputs
	Analysis *jsoncfg.Analysis
	Config   jsoncfg.ModelConfig
}

// PromptDrafter writes the cover and video prompts.
type PromptDrafter interface {
	Draft(ctx context.Context, req DraftRequest) (jsoncfg.Prompts, error)
}

// Registry selects a TaskProvider per stage and model. A model without its
// own registration uses the stage default.
type Registry struct {
	mu       sync.RWMutex
	defaults map[domain.Stage]TaskProvider
	byModel  map[string]TaskProvider
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		defaults: make(map[domain.Stage]TaskProvider),
		byModel:  make(map[string]TaskProvider),
	}
}

// SetDefault registers the fallback provider of a stage.
func (r *Registry) SetDefault(stage domain.Stage, p TaskProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaults[stage] = p
}

// Register binds a model name of a stage to a provider.
func (r *Registry) Register(stage domain.Stage, model string, p TaskProvider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byModel[modelKey(stage, model)] = p
}

// For returns the provider for stage and model.
func (r *Registry) For(stage domain.Stage, model string) (TaskProvider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if p, ok := r.byModel[modelKey(stage, model)]; ok {
		return p, nil
	}
	if p, ok := r.defaults[stage]; ok {
		return p, nil
	}
	return nil, domain.Wrap(domain.ErrProvider, "registry", fmt.Sprintf("no provider for stage %s", stage), nil)
}

// ModelFor returns the model name a stage uses under cfg.
func ModelFor(stage domain.Stage, cfg jsoncfg.ModelConfig) string {
	switch stage {
	case domain.StageImage:
		return cfg.ImageModel
	case domain.StageVideo:
		return cfg.VideoModel
	default:
		return ""
	}
}

func modelKey(stage domain.Stage, model string) string {
	return string(stage) + "/" + strings.ToLower(strings.TrimSpace(model))
}
