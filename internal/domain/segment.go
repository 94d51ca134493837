package domain

import (
	"time"

	"genflow/internal/domain/jsoncfg"
)

// SegmentStatus enumerates the per-segment sub-pipeline states.
type SegmentStatus string

const (
	SegmentStatusQueued                 SegmentStatus = "queued"
	SegmentStatusGeneratingFirstFrame   SegmentStatus = "generating_first_frame"
	SegmentStatusFirstFrameReady        SegmentStatus = "first_frame_ready"
	SegmentStatusGeneratingClosingFrame SegmentStatus = "generating_closing_frame"
	SegmentStatusGeneratingVideo        SegmentStatus = "generating_video"
	SegmentStatusCompleted              SegmentStatus = "completed"
	SegmentStatusFailed                 SegmentStatus = "failed"
)

// InFlight reports whether an external task is currently owned by the segment.
func (s SegmentStatus) InFlight() bool {
	switch s {
	case SegmentStatusGeneratingFirstFrame, SegmentStatusGeneratingClosingFrame, SegmentStatusGeneratingVideo:
		return true
	}
	return false
}

// FrameKind selects which still of a segment is generated.
type FrameKind string

const (
	FrameFirst   FrameKind = "first"
	FrameClosing FrameKind = "closing"
)

// Segment is one ordered sub-unit of a segmented workflow.
type Segment struct {
	ID                      string
	ProjectID               string
	SegmentIndex            int
	Prompt                  jsoncfg.ScenePrompt
	FirstFrameTaskID        *string
	FirstFrameURL           *string
	ClosingFrameTaskID      *string
	ClosingFrameURL         *string
	VideoTaskID             *string
	VideoURL                *string
	Status                  SegmentStatus
	RetryCount              int
	ErrorMessage            *string
	VideoGenerationApproved bool
	IsContinuationFromPrev  bool
	Version                 int
	CreatedAt               time.Time
	UpdatedAt               time.Time
}

// Clone returns a deep copy of the segment.
func (s Segment) Clone() Segment {
	out := s
	out.FirstFrameTaskID = cloneString(s.FirstFrameTaskID)
	out.FirstFrameURL = cloneString(s.FirstFrameURL)
	out.ClosingFrameTaskID = cloneString(s.ClosingFrameTaskID)
	out.ClosingFrameURL = cloneString(s.ClosingFrameURL)
	out.VideoTaskID = cloneString(s.VideoTaskID)
	out.VideoURL = cloneString(s.VideoURL)
	out.ErrorMessage = cloneString(s.ErrorMessage)
	return out
}

// CloneSegments deep-copies a segment slice.
func CloneSegments(in []Segment) []Segment {
	if in == nil {
		return nil
	}
	out := make([]Segment, len(in))
	for i := range in {
		out[i] = in[i].Clone()
	}
	return out
}
