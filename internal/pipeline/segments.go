package pipeline

import (
	"fmt"

	"genflow/internal/domain"
)

// ResolveSegment returns the next sub-action of segments[i] for the frames
// phase, or for the videos phase when videos is true. It returns nil when the
// segment has nothing to do in that phase.
func ResolveSegment(inst *domain.WorkflowInstance, segments []domain.Segment, i int, videos bool) *SegmentAction {
	if i < 0 || i >= len(segments) {
		return nil
	}
	seg := segments[i]
	if seg.Status == domain.SegmentStatusFailed {
		return nil
	}
	if videos {
		return resolveSegmentVideo(inst, seg)
	}
	return resolveSegmentFrames(inst, segments, seg, i)
}

func resolveSegmentFrames(inst *domain.WorkflowInstance, segments []domain.Segment, seg domain.Segment, i int) *SegmentAction {
	idx := seg.SegmentIndex
	switch {
	case domain.HasValue(seg.FirstFrameTaskID) && !domain.HasValue(seg.FirstFrameURL):
		return &SegmentAction{Index: idx, Kind: SegmentPollFirstFrame, TaskID: *seg.FirstFrameTaskID}
	case !domain.HasValue(seg.FirstFrameURL):
		if !ContinuationReady(segments, i) {
			return nil
		}
		return &SegmentAction{Index: idx, Kind: SegmentSubmitFirstFrame}
	}
	if !inst.ModelConfig.ClosingFrames {
		return nil
	}
	switch {
	case domain.HasValue(seg.ClosingFrameTaskID) && !domain.HasValue(seg.ClosingFrameURL):
		return &SegmentAction{Index: idx, Kind: SegmentPollClosingFrame, TaskID: *seg.ClosingFrameTaskID}
	case !domain.HasValue(seg.ClosingFrameURL):
		return &SegmentAction{Index: idx, Kind: SegmentSubmitClosingFrame}
	}
	return nil
}

func resolveSegmentVideo(inst *domain.WorkflowInstance, seg domain.Segment) *SegmentAction {
	if inst.ModelConfig.PhotoOnly {
		return nil
	}
	idx := seg.SegmentIndex
	switch {
	case domain.HasValue(seg.VideoTaskID) && !domain.HasValue(seg.VideoURL):
		return &SegmentAction{Index: idx, Kind: SegmentPollVideo, TaskID: *seg.VideoTaskID}
	case domain.HasValue(seg.VideoURL):
		return nil
	case !domain.HasValue(seg.FirstFrameURL):
		return nil
	case seg.VideoGenerationApproved || inst.ModelConfig.AutoApproveVideos:
		return &SegmentAction{Index: idx, Kind: SegmentSubmitVideo}
	}
	return nil
}

// ContinuationReady reports whether segments[i] may (re)generate its first
// frame: a continuation segment waits for its predecessor's first frame.
func ContinuationReady(segments []domain.Segment, i int) bool {
	if i <= 0 || i >= len(segments) || !segments[i].IsContinuationFromPrev {
		return true
	}
	return domain.HasValue(segments[i-1].FirstFrameURL)
}

// FramesReady reports whether every segment holds the stills the instance
// needs before clips can be generated.
func FramesReady(inst *domain.WorkflowInstance, segments []domain.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if !domain.HasValue(seg.FirstFrameURL) {
			return false
		}
		if inst.ModelConfig.ClosingFrames && !domain.HasValue(seg.ClosingFrameURL) {
			return false
		}
	}
	return true
}

// MergeGate is true iff every segment has a clip, or the project is
// photo-only and every segment has its first frame.
func MergeGate(inst *domain.WorkflowInstance, segments []domain.Segment) bool {
	if len(segments) == 0 {
		return false
	}
	for _, seg := range segments {
		if inst.ModelConfig.PhotoOnly {
			if !domain.HasValue(seg.FirstFrameURL) {
				return false
			}
			continue
		}
		if !domain.HasValue(seg.VideoURL) {
			return false
		}
	}
	return true
}

// Progress estimates the completion percentage shown to users.
func Progress(inst *domain.WorkflowInstance, segments []domain.Segment) int {
	if inst.Status == domain.WorkflowStatusCompleted || inst.CurrentStep == domain.StepCompleted {
		return 100
	}
	n := len(segments)
	switch inst.CurrentStep {
	case domain.StepAnalyzingInputs:
		return 10
	case domain.StepDraftingPrompts:
		return 25
	case domain.StepGeneratingCover:
		if domain.HasValue(inst.CoverImageURL) {
			return 60
		}
		return 40
	case domain.StepGeneratingVideo:
		return 70
	case domain.StepGeneratingSegmentFrames:
		if n == 0 {
			return 10
		}
		done := 0
		for _, seg := range segments {
			if domain.HasValue(seg.FirstFrameURL) {
				done++
			}
		}
		return 10 + 30*done/n
	case domain.StepGeneratingSegmentVideos:
		if n == 0 {
			return 40
		}
		done := 0
		for _, seg := range segments {
			if domain.HasValue(seg.VideoURL) {
				done++
			}
		}
		return 40 + 45*done/n
	case domain.StepMerging:
		return 90
	}
	return inst.ProgressPercent
}

func segmentActions(v view, videos bool) []SegmentAction {
	var out []SegmentAction
	for i := range v.segments {
		if a := ResolveSegment(v.inst, v.segments, i, videos); a != nil {
			out = append(out, *a)
		}
	}
	return out
}

func failedSegment(segments []domain.Segment) int {
	for _, seg := range segments {
		if seg.Status == domain.SegmentStatusFailed {
			return seg.SegmentIndex
		}
	}
	return -1
}

func failAction(v view) *Action {
	idx := failedSegment(v.segments)
	msg := fmt.Sprintf("Segment %d failed", idx+1)
	for _, seg := range v.segments {
		if seg.SegmentIndex == idx && domain.HasValue(seg.ErrorMessage) {
			msg = fmt.Sprintf("Segment %d failed: %s", idx+1, *seg.ErrorMessage)
		}
	}
	return &Action{Kind: ActionFail, Next: domain.StepFailed, Message: msg}
}
