// Package pipeline computes the next actionable step of a workflow instance
// from its persisted fields. It only describes work; callers perform it.
package pipeline

import "genflow/internal/domain"

// ActionKind enumerates what the scheduler must do next.
type ActionKind string

const (
	ActionStart        ActionKind = "start"
	ActionAdvance      ActionKind = "advance"
	ActionAnalyze      ActionKind = "analyze"
	ActionDraftPrompts ActionKind = "draft_prompts"
	ActionSubmitCover  ActionKind = "submit_cover"
	ActionPollCover    ActionKind = "poll_cover"
	ActionSubmitVideo  ActionKind = "submit_video"
	ActionPollVideo    ActionKind = "poll_video"
	ActionSegments     ActionKind = "segments"
	ActionSubmitMerge  ActionKind = "submit_merge"
	ActionPollMerge    ActionKind = "poll_merge"
	ActionComplete     ActionKind = "complete"
	ActionFail         ActionKind = "fail"
)

// Action is the resolver's description of the next step.
type Action struct {
	Kind ActionKind
	// Rule names the table row that produced the action.
	Rule string
	// Stage is set for submit and poll actions.
	Stage domain.Stage
	// TaskID is the in-flight task to poll.
	TaskID string
	// Next is the step the instance moves to when the action succeeds.
	Next domain.Step
	// Segments holds per-segment work for ActionSegments.
	Segments []SegmentAction
	// Message is the error recorded by ActionFail.
	Message string
}

// SegmentActionKind enumerates per-segment work.
type SegmentActionKind string

const (
	SegmentSubmitFirstFrame   SegmentActionKind = "submit_first_frame"
	SegmentPollFirstFrame     SegmentActionKind = "poll_first_frame"
	SegmentSubmitClosingFrame SegmentActionKind = "submit_closing_frame"
	SegmentPollClosingFrame   SegmentActionKind = "poll_closing_frame"
	SegmentSubmitVideo        SegmentActionKind = "submit_video"
	SegmentPollVideo          SegmentActionKind = "poll_video"
)

// IsPoll reports whether the action only reads an in-flight task.
func (k SegmentActionKind) IsPoll() bool {
	switch k {
	case SegmentPollFirstFrame, SegmentPollClosingFrame, SegmentPollVideo:
		return true
	}
	return false
}

// SegmentAction is the next step of one segment.
type SegmentAction struct {
	Index  int
	Kind   SegmentActionKind
	TaskID string
}

// Stage returns the provider stage the segment action talks to.
func (a SegmentAction) Stage() domain.Stage {
	switch a.Kind {
	case SegmentSubmitVideo, SegmentPollVideo:
		return domain.StageVideo
	default:
		return domain.StageImage
	}
}
