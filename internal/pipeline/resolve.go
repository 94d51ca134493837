package pipeline

import "genflow/internal/domain"

type view struct {
	inst     *domain.WorkflowInstance
	segments []domain.Segment
}

type rule struct {
	name   string
	step   domain.Step
	when   func(v view) bool
	action func(v view) *Action
}

// singleRules drive single, character and competitor_replica instances.
// Preconditions within one step are mutually exclusive.
var singleRules = []rule{
	{
		name: "queued",
		step: domain.StepQueued,
		when: func(v view) bool { return true },
		action: func(v view) *Action {
			return &Action{Kind: ActionStart, Next: FirstStep(v.inst.Kind)}
		},
	},
	{
		name:   "analysis_missing",
		step:   domain.StepAnalyzingInputs,
		when:   func(v view) bool { return v.inst.Analysis == nil },
		action: func(v view) *Action { return &Action{Kind: ActionAnalyze, Next: domain.StepDraftingPrompts} },
	},
	{
		name:   "analysis_present",
		step:   domain.StepAnalyzingInputs,
		when:   func(v view) bool { return v.inst.Analysis != nil },
		action: func(v view) *Action { return &Action{Kind: ActionAdvance, Next: domain.StepDraftingPrompts} },
	},
	{
		name: "prompts_need_analysis",
		step: domain.StepDraftingPrompts,
		when: func(v view) bool {
			return needsAnalysis(v.inst.Kind) && v.inst.Analysis == nil && !hasPrompts(v.inst)
		},
		action: func(v view) *Action { return &Action{Kind: ActionAdvance, Next: domain.StepAnalyzingInputs} },
	},
	{
		name: "prompts_missing",
		step: domain.StepDraftingPrompts,
		when: func(v view) bool {
			return !hasPrompts(v.inst) && (!needsAnalysis(v.inst.Kind) || v.inst.Analysis != nil)
		},
		action: func(v view) *Action { return &Action{Kind: ActionDraftPrompts, Next: domain.StepGeneratingCover} },
	},
	{
		name:   "prompts_present",
		step:   domain.StepDraftingPrompts,
		when:   func(v view) bool { return hasPrompts(v.inst) },
		action: func(v view) *Action { return &Action{Kind: ActionAdvance, Next: domain.StepGeneratingCover} },
	},
	{
		name: "cover_submit",
		step: domain.StepGeneratingCover,
		when: func(v view) bool {
			return hasPrompts(v.inst) && !domain.HasValue(v.inst.CoverTaskID) && !domain.HasValue(v.inst.CoverImageURL)
		},
		action: func(v view) *Action {
			return &Action{Kind: ActionSubmitCover, Stage: domain.StageImage, Next: domain.StepGeneratingCover}
		},
	},
	{
		name: "cover_poll",
		step: domain.StepGeneratingCover,
		when: func(v view) bool {
			return domain.HasValue(v.inst.CoverTaskID) && !domain.HasValue(v.inst.CoverImageURL)
		},
		action: func(v view) *Action {
			return &Action{Kind: ActionPollCover, Stage: domain.StageImage, TaskID: *v.inst.CoverTaskID, Next: domain.StepGeneratingVideo}
		},
	},
	{
		name:   "cover_ready",
		step:   domain.StepGeneratingCover,
		when:   func(v view) bool { return domain.HasValue(v.inst.CoverImageURL) },
		action: func(v view) *Action { return &Action{Kind: ActionAdvance, Next: domain.StepGeneratingVideo} },
	},
	{
		name: "video_submit",
		step: domain.StepGeneratingVideo,
		when: func(v view) bool {
			return domain.HasValue(v.inst.CoverImageURL) && !domain.HasValue(v.inst.VideoTaskID) && !domain.HasValue(v.inst.VideoURL)
		},
		action: func(v view) *Action {
			return &Action{Kind: ActionSubmitVideo, Stage: domain.StageVideo, Next: domain.StepGeneratingVideo}
		},
	},
	{
		name: "video_poll",
		step: domain.StepGeneratingVideo,
		when: func(v view) bool {
			return domain.HasValue(v.inst.VideoTaskID) && !domain.HasValue(v.inst.VideoURL)
		},
		action: func(v view) *Action {
			return &Action{Kind: ActionPollVideo, Stage: domain.StageVideo, TaskID: *v.inst.VideoTaskID, Next: domain.StepCompleted}
		},
	},
	{
		name:   "video_ready",
		step:   domain.StepGeneratingVideo,
		when:   func(v view) bool { return domain.HasValue(v.inst.VideoURL) },
		action: func(v view) *Action { return &Action{Kind: ActionComplete, Next: domain.StepCompleted} },
	},
	{
		name:   "completed_step",
		step:   domain.StepCompleted,
		when:   func(v view) bool { return true },
		action: func(v view) *Action { return &Action{Kind: ActionComplete, Next: domain.StepCompleted} },
	},
}

// segmentedRules drive segmented instances.
var segmentedRules = []rule{
	{
		name: "queued",
		step: domain.StepQueued,
		when: func(v view) bool { return true },
		action: func(v view) *Action {
			return &Action{Kind: ActionStart, Next: domain.StepGeneratingSegmentFrames}
		},
	},
	{
		name: "frames_pending",
		step: domain.StepGeneratingSegmentFrames,
		when: func(v view) bool { return len(segmentActions(v, false)) > 0 },
		action: func(v view) *Action {
			return &Action{Kind: ActionSegments, Segments: segmentActions(v, false), Next: domain.StepGeneratingSegmentFrames}
		},
	},
	{
		name: "frames_ready",
		step: domain.StepGeneratingSegmentFrames,
		when: func(v view) bool { return len(segmentActions(v, false)) == 0 && FramesReady(v.inst, v.segments) },
		action: func(v view) *Action {
			next := domain.StepGeneratingSegmentVideos
			if v.inst.ModelConfig.PhotoOnly {
				next = domain.StepMerging
			}
			return &Action{Kind: ActionAdvance, Next: next}
		},
	},
	{
		name: "frames_blocked",
		step: domain.StepGeneratingSegmentFrames,
		when: func(v view) bool {
			return len(segmentActions(v, false)) == 0 && !FramesReady(v.inst, v.segments) && failedSegment(v.segments) >= 0
		},
		action: func(v view) *Action { return failAction(v) },
	},
	{
		name: "videos_pending",
		step: domain.StepGeneratingSegmentVideos,
		when: func(v view) bool { return len(segmentActions(v, true)) > 0 },
		action: func(v view) *Action {
			return &Action{Kind: ActionSegments, Segments: segmentActions(v, true), Next: domain.StepGeneratingSegmentVideos}
		},
	},
	{
		name: "videos_ready",
		step: domain.StepGeneratingSegmentVideos,
		when: func(v view) bool { return len(segmentActions(v, true)) == 0 && MergeGate(v.inst, v.segments) },
		action: func(v view) *Action { return &Action{Kind: ActionAdvance, Next: domain.StepMerging} },
	},
	{
		name: "videos_blocked",
		step: domain.StepGeneratingSegmentVideos,
		when: func(v view) bool {
			return len(segmentActions(v, true)) == 0 && !MergeGate(v.inst, v.segments) && failedSegment(v.segments) >= 0
		},
		action: func(v view) *Action { return failAction(v) },
	},
	{
		name: "merge_submit",
		step: domain.StepMerging,
		when: func(v view) bool {
			return !domain.HasValue(v.inst.MergeTaskID) && !domain.HasValue(v.inst.MergedVideoURL) && MergeGate(v.inst, v.segments)
		},
		action: func(v view) *Action {
			return &Action{Kind: ActionSubmitMerge, Stage: domain.StageMerge, Next: domain.StepMerging}
		},
	},
	{
		name: "merge_poll",
		step: domain.StepMerging,
		when: func(v view) bool {
			return domain.HasValue(v.inst.MergeTaskID) && !domain.HasValue(v.inst.MergedVideoURL)
		},
		action: func(v view) *Action {
			return &Action{Kind: ActionPollMerge, Stage: domain.StageMerge, TaskID: *v.inst.MergeTaskID, Next: domain.StepCompleted}
		},
	},
	{
		name:   "merge_ready",
		step:   domain.StepMerging,
		when:   func(v view) bool { return domain.HasValue(v.inst.MergedVideoURL) },
		action: func(v view) *Action { return &Action{Kind: ActionComplete, Next: domain.StepCompleted} },
	},
	{
		name:   "completed_step",
		step:   domain.StepCompleted,
		when:   func(v view) bool { return true },
		action: func(v view) *Action { return &Action{Kind: ActionComplete, Next: domain.StepCompleted} },
	},
}

// Resolve returns the next action for inst, or nil when its persisted fields
// satisfy no precondition. The first satisfied row of the kind's table wins.
// Resolve has no side effects and is deterministic for equal inputs.
func Resolve(inst *domain.WorkflowInstance, segments []domain.Segment) *Action {
	if inst == nil || inst.IsTerminal() || inst.CurrentStep == domain.StepFailed {
		return nil
	}
	v := view{inst: inst, segments: segments}
	for _, r := range rulesFor(inst.Kind) {
		if r.step != inst.CurrentStep || !r.when(v) {
			continue
		}
		a := r.action(v)
		a.Rule = r.name
		return a
	}
	return nil
}

// MatchingRules lists every row whose precondition holds. Outside of tests a
// healthy table yields at most one.
func MatchingRules(inst *domain.WorkflowInstance, segments []domain.Segment) []string {
	if inst == nil {
		return nil
	}
	v := view{inst: inst, segments: segments}
	var names []string
	for _, r := range rulesFor(inst.Kind) {
		if r.step == inst.CurrentStep && r.when(v) {
			names = append(names, r.name)
		}
	}
	return names
}

// FirstStep is where a queued instance of kind starts.
func FirstStep(kind domain.WorkflowKind) domain.Step {
	switch kind {
	case domain.WorkflowKindSegmented:
		return domain.StepGeneratingSegmentFrames
	case domain.WorkflowKindCharacter:
		return domain.StepDraftingPrompts
	default:
		return domain.StepAnalyzingInputs
	}
}

func rulesFor(kind domain.WorkflowKind) []rule {
	if kind == domain.WorkflowKindSegmented {
		return segmentedRules
	}
	return singleRules
}

func needsAnalysis(kind domain.WorkflowKind) bool {
	return kind == domain.WorkflowKindSingle || kind == domain.WorkflowKindCompetitorReplica
}

func hasPrompts(inst *domain.WorkflowInstance) bool {
	return inst.Prompts != nil && !inst.Prompts.Empty()
}
