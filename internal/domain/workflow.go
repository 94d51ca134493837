package domain

import (
	"time"

	"genflow/internal/domain/jsoncfg"
)

// WorkflowKind enumerates the pipelines the orchestrator can drive.
type WorkflowKind string

const (
	WorkflowKindSingle            WorkflowKind = "single"
	WorkflowKindSegmented         WorkflowKind = "segmented"
	WorkflowKindCharacter         WorkflowKind = "character"
	WorkflowKindCompetitorReplica WorkflowKind = "competitor_replica"
)

// Valid reports whether k is a known kind.
func (k WorkflowKind) Valid() bool {
	switch k {
	case WorkflowKindSingle, WorkflowKindSegmented, WorkflowKindCharacter, WorkflowKindCompetitorReplica:
		return true
	}
	return false
}

// WorkflowStatus is the coarse lifecycle of an instance.
type WorkflowStatus string

const (
	WorkflowStatusPending    WorkflowStatus = "pending"
	WorkflowStatusProcessing WorkflowStatus = "processing"
	WorkflowStatusCompleted  WorkflowStatus = "completed"
	WorkflowStatusFailed     WorkflowStatus = "failed"
)

// ActiveStatuses are the statuses a sweep selects.
var ActiveStatuses = []WorkflowStatus{WorkflowStatusPending, WorkflowStatusProcessing}

// Step enumerates the fine-grained pipeline position.
type Step string

const (
	StepQueued                  Step = "queued"
	StepAnalyzingInputs         Step = "analyzing_inputs"
	StepDraftingPrompts         Step = "drafting_prompts"
	StepGeneratingCover         Step = "generating_cover"
	StepGeneratingVideo         Step = "generating_video"
	StepGeneratingSegmentFrames Step = "generating_segment_frames"
	StepGeneratingSegmentVideos Step = "generating_segment_videos"
	StepMerging                 Step = "merging"
	StepCompleted               Step = "completed"
	StepFailed                  Step = "failed"
)

// Stage is the kind of external task a reference points at.
type Stage string

const (
	StageImage Stage = "image"
	StageVideo Stage = "video"
	StageMerge Stage = "merge"
)

// WorkflowInstance is one generation job tracked end to end.
type WorkflowInstance struct {
	ID                  string
	OwnerID             string
	Kind                WorkflowKind
	Status              WorkflowStatus
	CurrentStep         Step
	ProgressPercent     int
	ModelConfig         jsoncfg.ModelConfig
	Inputs              jsoncfg.Inputs
	Analysis            *jsoncfg.Analysis
	Prompts             *jsoncfg.Prompts
	CoverTaskID         *string
	VideoTaskID         *string
	MergeTaskID         *string
	CoverImageURL       *string
	VideoURL            *string
	MergedVideoURL      *string
	CreditsCost         int
	CreditsRefunded     bool
	DownloadCreditsUsed int
	RetryCount          int
	ErrorMessage        *string
	Version             int
	CreatedAt           time.Time
	UpdatedAt           time.Time
	LastProcessedAt     *time.Time
}

// IsTerminal reports whether the instance reached completed or failed.
func (w WorkflowInstance) IsTerminal() bool {
	return w.Status == WorkflowStatusCompleted || w.Status == WorkflowStatusFailed
}

// IsSegmented reports whether the instance fans out into segments.
func (w WorkflowInstance) IsSegmented() bool {
	return w.Kind == WorkflowKindSegmented
}

// FinalURL returns the artifact a user downloads once the instance completed.
func (w WorkflowInstance) FinalURL() string {
	for _, u := range []*string{w.MergedVideoURL, w.VideoURL, w.CoverImageURL} {
		if HasValue(u) {
			return *u
		}
	}
	return ""
}

// Clone returns a deep copy so callers can mutate without aliasing stored state.
func (w WorkflowInstance) Clone() WorkflowInstance {
	out := w
	out.CoverTaskID = cloneString(w.CoverTaskID)
	out.VideoTaskID = cloneString(w.VideoTaskID)
	out.MergeTaskID = cloneString(w.MergeTaskID)
	out.CoverImageURL = cloneString(w.CoverImageURL)
	out.VideoURL = cloneString(w.VideoURL)
	out.MergedVideoURL = cloneString(w.MergedVideoURL)
	out.ErrorMessage = cloneString(w.ErrorMessage)
	if w.LastProcessedAt != nil {
		t := *w.LastProcessedAt
		out.LastProcessedAt = &t
	}
	if w.Analysis != nil {
		a := *w.Analysis
		a.Highlights = append([]string(nil), w.Analysis.Highlights...)
		out.Analysis = &a
	}
	if w.Prompts != nil {
		p := *w.Prompts
		out.Prompts = &p
	}
	out.Inputs.ImageURLs = append([]string(nil), w.Inputs.ImageURLs...)
	return out
}

// HasValue reports whether a nullable string column holds a non-blank value.
func HasValue(s *string) bool {
	return s != nil && *s != ""
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T {
	return &v
}

func cloneString(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s
	return &v
}
