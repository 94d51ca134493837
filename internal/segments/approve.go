package segments

import (
	"context"
	"errors"
	"fmt"

	"genflow/internal/domain"
)

// ApproveRequest targets one segment of an instance owned by UserID.
type ApproveRequest struct {
	UserID     string
	InstanceID string
	Index      int
}

// ApproveVideo lets the sweep generate the clip of one segment. The clip was
// paid for at submission, so nothing is charged. Approving a segment that
// already has a clip task or clip is a no-op.
func (m *Manager) ApproveVideo(ctx context.Context, req ApproveRequest) (*domain.Segment, error) {
	inst, err := m.repo.GetByID(ctx, req.InstanceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Wrap(domain.ErrNotFound, "approve", "workflow "+req.InstanceID, nil)
		}
		return nil, domain.Wrap(domain.ErrPersistence, "approve", "load workflow", err)
	}
	if inst.OwnerID != req.UserID {
		return nil, domain.Wrap(domain.ErrNotFound, "approve", "workflow "+req.InstanceID, nil)
	}
	if !inst.IsSegmented() {
		return nil, domain.Wrap(domain.ErrValidation, "approve", "workflow has no segments", nil)
	}
	if inst.ModelConfig.PhotoOnly {
		return nil, domain.Wrap(domain.ErrValidation, "approve", "photo-only projects have no segment videos", nil)
	}

	for attempt := 0; attempt < reopenAttempts; attempt++ {
		segs, err := m.repo.ListSegments(ctx, inst.ID)
		if err != nil {
			return nil, domain.Wrap(domain.ErrPersistence, "approve", "load segments", err)
		}
		pos, err := position(segs, req.Index)
		if err != nil {
			return nil, err
		}
		seg := segs[pos]
		if seg.Status == domain.SegmentStatusFailed {
			return nil, domain.Wrap(domain.ErrValidation, "approve", fmt.Sprintf("segment %d failed, regenerate it instead", req.Index), nil)
		}
		if seg.VideoGenerationApproved || domain.HasValue(seg.VideoTaskID) || domain.HasValue(seg.VideoURL) {
			return &seg, nil
		}
		seg.VideoGenerationApproved = true
		ok, err := m.repo.SaveSegment(ctx, &seg)
		if err != nil {
			return nil, domain.Wrap(domain.ErrPersistence, "approve", fmt.Sprintf("save segment %d", req.Index), err)
		}
		if ok {
			m.logger.Info().Str("instance_id", inst.ID).Int("segment_index", req.Index).Msg("segments: video approved")
			return &seg, nil
		}
	}
	return nil, domain.Wrap(domain.ErrConflict, "approve", fmt.Sprintf("segment %d changed concurrently", req.Index), nil)
}
