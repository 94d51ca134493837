package segments

import (
	"context"
	"errors"
	"fmt"

	"genflow/internal/domain"
	"genflow/internal/ledger"
	"genflow/internal/pipeline"
	"genflow/internal/providers"
)

// RegenerateOptions selects what to regenerate.
type RegenerateOptions struct {
	RegeneratePhoto bool
	Video           bool
	// FrameKind picks the still regenerated by RegeneratePhoto. Empty means first.
	FrameKind domain.FrameKind
	// Prompt replaces the scene description when non-empty.
	Prompt string
}

// RegenerateRequest targets one segment of an instance owned by UserID.
type RegenerateRequest struct {
	UserID     string
	InstanceID string
	Index      int
	Options    RegenerateOptions
}

const reopenAttempts = 3

// RegenerateSegment re-runs the photo and/or video of one segment. Nothing is
// charged or submitted unless ownership, in-flight, continuation and
// prerequisite checks pass; every charge is refunded when a later step fails.
// Sibling segments are never written.
func (m *Manager) RegenerateSegment(ctx context.Context, req RegenerateRequest) (*domain.Segment, error) {
	opts := req.Options
	if opts.FrameKind == "" {
		opts.FrameKind = domain.FrameFirst
	}
	if !opts.RegeneratePhoto && !opts.Video {
		return nil, domain.Wrap(domain.ErrValidation, "regenerate", "nothing to regenerate", nil)
	}
	if opts.FrameKind != domain.FrameFirst && opts.FrameKind != domain.FrameClosing {
		return nil, domain.Wrap(domain.ErrValidation, "regenerate", fmt.Sprintf("unknown frame kind %q", opts.FrameKind), nil)
	}

	inst, err := m.repo.GetByID(ctx, req.InstanceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Wrap(domain.ErrNotFound, "regenerate", "workflow "+req.InstanceID, nil)
		}
		return nil, domain.Wrap(domain.ErrPersistence, "regenerate", "load workflow", err)
	}
	if inst.OwnerID != req.UserID {
		return nil, domain.Wrap(domain.ErrNotFound, "regenerate", "workflow "+req.InstanceID, nil)
	}
	if !inst.IsSegmented() {
		return nil, domain.Wrap(domain.ErrValidation, "regenerate", "workflow has no segments", nil)
	}
	if opts.RegeneratePhoto && opts.FrameKind == domain.FrameClosing && !inst.ModelConfig.ClosingFrames {
		return nil, domain.Wrap(domain.ErrValidation, "regenerate", "workflow does not use closing frames", nil)
	}
	segs, err := m.repo.ListSegments(ctx, inst.ID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrPersistence, "regenerate", "load segments", err)
	}
	pos, err := position(segs, req.Index)
	if err != nil {
		return nil, err
	}

	release, ok, err := m.guard.Acquire(ctx, segmentRef(inst.ID, req.Index), m.guardTTL)
	switch {
	case err != nil:
		m.logger.Warn().Err(err).Str("instance_id", inst.ID).Int("segment_index", req.Index).
			Msg("segments: guard unavailable, relying on version check")
	case !ok:
		return nil, domain.Wrap(domain.ErrConflict, "regenerate", fmt.Sprintf("segment %d is already being regenerated", req.Index), nil)
	default:
		defer release()
	}
	if segs[pos].Status.InFlight() {
		return nil, domain.Wrap(domain.ErrConflict, "regenerate", fmt.Sprintf("segment %d is %s", req.Index, segs[pos].Status), nil)
	}
	if opts.RegeneratePhoto && opts.FrameKind == domain.FrameFirst && !pipeline.ContinuationReady(segs, pos) {
		return nil, domain.Wrap(domain.ErrConflict, "regenerate",
			fmt.Sprintf("segment %d continues segment %d which has no first frame yet", req.Index, segs[pos-1].SegmentIndex), nil)
	}

	work := domain.CloneSegments(segs)
	if opts.Prompt != "" {
		work[pos].Prompt.Description = opts.Prompt
	}
	taskReq, err := m.regenerateRequest(inst, work, pos, opts)
	if err != nil {
		return nil, err
	}

	var charges ledger.Charges
	fail := func(cause error) error {
		if rerr := charges.RefundAll(ctx, m.ledger); rerr != nil {
			m.logger.Error().Err(rerr).Str("instance_id", inst.ID).Int("segment_index", req.Index).
				Int("unrefunded", charges.Total()).Msg("segments: regenerate refund failed")
			return errors.Join(cause, rerr)
		}
		return cause
	}
	if opts.RegeneratePhoto {
		r, err := m.ledger.ReserveAndCharge(ctx, inst.OwnerID, m.prices.RegeneratePhoto,
			fmt.Sprintf("Regenerate segment %d %s frame", req.Index+1, opts.FrameKind), inst.ID)
		if err != nil {
			return nil, fail(err)
		}
		charges.Add(r)
	}
	if opts.Video {
		r, err := m.ledger.ReserveAndCharge(ctx, inst.OwnerID, m.prices.RegenerateVideo,
			fmt.Sprintf("Regenerate segment %d video", req.Index+1), inst.ID)
		if err != nil {
			return nil, fail(err)
		}
		charges.Add(r)
	}

	taskID, err := m.submit(ctx, taskReq)
	if err != nil {
		return nil, fail(err)
	}
	seg := work[pos]
	applyRegenerate(&seg, opts, taskID)
	if err := m.saveSegment(ctx, &seg); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", inst.ID).Int("segment_index", req.Index).Str("task_id", taskID).
			Msg("segments: regenerate lost the segment write")
		return nil, fail(err)
	}
	charges.Commit()
	m.logger.Info().Str("instance_id", inst.ID).Int("segment_index", req.Index).Str("task_id", taskID).
		Bool("photo", opts.RegeneratePhoto).Bool("video", opts.Video).Msg("segments: regenerate submitted")

	target := domain.StepGeneratingSegmentVideos
	if opts.RegeneratePhoto {
		target = domain.StepGeneratingSegmentFrames
	}
	if err := m.reopenParent(ctx, inst, target); err != nil {
		// The segment already owns its new task; the charge stands.
		m.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("segments: reopen parent failed")
		return &seg, err
	}
	return &seg, nil
}

func (m *Manager) regenerateRequest(inst *domain.WorkflowInstance, segs []domain.Segment, pos int, opts RegenerateOptions) (providers.TaskRequest, error) {
	if opts.RegeneratePhoto {
		if opts.Video && inst.ModelConfig.PhotoOnly {
			return providers.TaskRequest{}, domain.Wrap(domain.ErrValidation, "regenerate", "photo-only projects have no segment videos", nil)
		}
		return m.frameRequest(inst, segs, pos, opts.FrameKind, "")
	}
	return m.videoRequest(inst, segs, pos, "")
}

// applyRegenerate records the new task. A new still invalidates the clip
// built from it; the sweep submits the clip once the still is ready.
func applyRegenerate(seg *domain.Segment, opts RegenerateOptions, taskID string) {
	seg.RetryCount = 0
	if !opts.RegeneratePhoto {
		markVideoSubmitted(seg, taskID)
		seg.VideoGenerationApproved = true
		return
	}
	markFrameSubmitted(seg, opts.FrameKind, taskID)
	seg.VideoTaskID = nil
	seg.VideoURL = nil
	if opts.FrameKind == domain.FrameFirst {
		seg.VideoGenerationApproved = opts.Video
	} else {
		seg.VideoGenerationApproved = seg.VideoGenerationApproved || opts.Video
	}
}

// reopenParent moves the instance back to target when it already ran past
// it, clearing merge output so the sweep stitches the new artifact.
func (m *Manager) reopenParent(ctx context.Context, inst *domain.WorkflowInstance, target domain.Step) error {
	cur := inst
	for attempt := 0; attempt < reopenAttempts; attempt++ {
		if attempt > 0 {
			fresh, err := m.repo.GetByID(ctx, inst.ID)
			if err != nil {
				return domain.Wrap(domain.ErrPersistence, "regenerate", "reload workflow", err)
			}
			cur = fresh
		}
		if !needsReopen(cur, target) {
			return nil
		}
		if cur.IsTerminal() || stepRank(cur.CurrentStep) > stepRank(target) {
			cur.CurrentStep = target
		}
		now := m.now()
		cur.Status = domain.WorkflowStatusProcessing
		cur.MergeTaskID = nil
		cur.MergedVideoURL = nil
		cur.ErrorMessage = nil
		cur.RetryCount = 0
		cur.LastProcessedAt = &now
		ok, err := m.repo.Save(ctx, cur)
		if err != nil {
			return domain.Wrap(domain.ErrPersistence, "regenerate", "reopen workflow", err)
		}
		if ok {
			m.logger.Info().Str("instance_id", cur.ID).Str("step", string(cur.CurrentStep)).Msg("segments: workflow reopened")
			return nil
		}
	}
	return domain.Wrap(domain.ErrConflict, "regenerate", "workflow changed concurrently", nil)
}

func needsReopen(inst *domain.WorkflowInstance, target domain.Step) bool {
	return inst.IsTerminal() ||
		stepRank(inst.CurrentStep) > stepRank(target) ||
		inst.MergeTaskID != nil ||
		inst.MergedVideoURL != nil
}

func stepRank(s domain.Step) int {
	switch s {
	case domain.StepQueued:
		return 0
	case domain.StepGeneratingSegmentFrames:
		return 1
	case domain.StepGeneratingSegmentVideos:
		return 2
	case domain.StepMerging:
		return 3
	case domain.StepCompleted:
		return 4
	}
	return 5
}
