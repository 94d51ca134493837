// Package segments drives the per-segment frame and clip sub-pipelines of a
// segmented workflow and the user-initiated regeneration of one segment.
package segments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/ledger"
	"genflow/internal/pipeline"
	"genflow/internal/providers"
	"genflow/internal/taskstatus"
)

// Charger is the part of the ledger regeneration needs.
type Charger interface {
	ReserveAndCharge(ctx context.Context, userID string, amount int, description, instanceID string) (ledger.Receipt, error)
	ledger.Refunder
}

// ProviderSource resolves the provider of a stage and model.
type ProviderSource interface {
	For(stage domain.Stage, model string) (providers.TaskProvider, error)
}

// Options configures a Manager.
type Options struct {
	Repo      domain.WorkflowRepository
	Ledger    Charger
	Providers ProviderSource
	Guard     infra.Guard
	Prices    ledger.Prices
	Logger    *infra.Logger
	Now       func() time.Time
	// GuardTTL bounds how long a regenerate request holds its segment.
	GuardTTL time.Duration
}

// Manager owns every write to segment rows.
type Manager struct {
	repo      domain.WorkflowRepository
	ledger    Charger
	providers ProviderSource
	guard     infra.Guard
	prices    ledger.Prices
	logger    *infra.Logger
	now       func() time.Time
	guardTTL  time.Duration
}

// Outcome reports what a segment action did.
type Outcome string

const (
	// OutcomeSubmitted means a new external task was recorded.
	OutcomeSubmitted Outcome = "submitted"
	// OutcomePending means a polled task is still running; nothing was written.
	OutcomePending Outcome = "pending"
	// OutcomeReady means a polled task finished and its artifact was recorded.
	OutcomeReady Outcome = "ready"
	// OutcomeFailed means the provider reported failure and the segment failed.
	OutcomeFailed Outcome = "failed"
)

const defaultGuardTTL = 2 * time.Minute

// New constructs a Manager.
func New(opts Options) (*Manager, error) {
	if opts.Repo == nil {
		return nil, errors.New("segments: repository is required")
	}
	if opts.Providers == nil {
		return nil, errors.New("segments: provider source is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("segments: ledger is required")
	}
	guard := opts.Guard
	if guard == nil {
		guard = infra.NewLocalGuard()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	ttl := opts.GuardTTL
	if ttl <= 0 {
		ttl = defaultGuardTTL
	}
	return &Manager{
		repo:      opts.Repo,
		ledger:    opts.Ledger,
		providers: opts.Providers,
		guard:     guard,
		prices:    opts.Prices,
		logger:    infra.LoggerOrDiscard(opts.Logger),
		now:       now,
		guardTTL:  ttl,
	}, nil
}

// Apply performs one sub-action computed by pipeline.ResolveSegment.
func (m *Manager) Apply(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, a pipeline.SegmentAction) (Outcome, error) {
	switch a.Kind {
	case pipeline.SegmentSubmitFirstFrame:
		if _, err := m.StartFrame(ctx, inst, segs, a.Index, domain.FrameFirst); err != nil {
			return "", err
		}
		return OutcomeSubmitted, nil
	case pipeline.SegmentSubmitClosingFrame:
		if _, err := m.StartFrame(ctx, inst, segs, a.Index, domain.FrameClosing); err != nil {
			return "", err
		}
		return OutcomeSubmitted, nil
	case pipeline.SegmentSubmitVideo:
		if _, err := m.StartVideo(ctx, inst, segs, a.Index); err != nil {
			return "", err
		}
		return OutcomeSubmitted, nil
	case pipeline.SegmentPollFirstFrame:
		return m.PollFrame(ctx, inst, segs, a.Index, domain.FrameFirst)
	case pipeline.SegmentPollClosingFrame:
		return m.PollFrame(ctx, inst, segs, a.Index, domain.FrameClosing)
	case pipeline.SegmentPollVideo:
		return m.PollVideo(ctx, inst, segs, a.Index)
	}
	return "", domain.Wrap(domain.ErrValidation, "segments", fmt.Sprintf("unknown segment action %q", a.Kind), nil)
}

// StartFrame submits a frame task for the segment at index. A continuation
// segment whose predecessor has no first frame is a Conflict.
func (m *Manager) StartFrame(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, index int, kind domain.FrameKind) (*domain.Segment, error) {
	pos, err := position(segs, index)
	if err != nil {
		return nil, err
	}
	seg := segs[pos].Clone()
	if taskOf(&seg, kind) != nil && !domain.HasValue(urlOf(&seg, kind)) {
		return nil, domain.Wrap(domain.ErrConflict, "segments", fmt.Sprintf("segment %d %s frame already in flight", index, kind), nil)
	}
	req, err := m.frameRequest(inst, segs, pos, kind, "")
	if err != nil {
		return nil, err
	}
	if err := m.checkFresh(ctx, seg); err != nil {
		return nil, err
	}
	taskID, err := m.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	markFrameSubmitted(&seg, kind, taskID)
	if err := m.saveSegment(ctx, &seg); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", inst.ID).Int("segment_index", index).Str("task_id", taskID).
			Msg("segments: frame task orphaned")
		return nil, err
	}
	m.logger.Info().Str("instance_id", inst.ID).Int("segment_index", index).Str("frame", string(kind)).Str("task_id", taskID).
		Msg("segments: frame submitted")
	return &seg, nil
}

// StartVideo submits the clip of the segment at index. The clip runs from the
// segment's first frame to its closing frame, or else to the next segment's
// first frame, or else from the single first frame.
func (m *Manager) StartVideo(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, index int) (*domain.Segment, error) {
	pos, err := position(segs, index)
	if err != nil {
		return nil, err
	}
	seg := segs[pos].Clone()
	if domain.HasValue(seg.VideoTaskID) && !domain.HasValue(seg.VideoURL) {
		return nil, domain.Wrap(domain.ErrConflict, "segments", fmt.Sprintf("segment %d video already in flight", index), nil)
	}
	req, err := m.videoRequest(inst, segs, pos, "")
	if err != nil {
		return nil, err
	}
	if err := m.checkFresh(ctx, seg); err != nil {
		return nil, err
	}
	taskID, err := m.submit(ctx, req)
	if err != nil {
		return nil, err
	}
	markVideoSubmitted(&seg, taskID)
	if err := m.saveSegment(ctx, &seg); err != nil {
		m.logger.Warn().Err(err).Str("instance_id", inst.ID).Int("segment_index", index).Str("task_id", taskID).
			Msg("segments: video task orphaned")
		return nil, err
	}
	m.logger.Info().Str("instance_id", inst.ID).Int("segment_index", index).Str("task_id", taskID).
		Msg("segments: video submitted")
	return &seg, nil
}

// PollFrame polls the in-flight frame task of the segment at index.
func (m *Manager) PollFrame(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, index int, kind domain.FrameKind) (Outcome, error) {
	pos, err := position(segs, index)
	if err != nil {
		return "", err
	}
	seg := segs[pos].Clone()
	taskID := taskOf(&seg, kind)
	if !domain.HasValue(taskID) {
		return "", domain.Wrap(domain.ErrValidation, "segments", fmt.Sprintf("segment %d has no %s frame task", index, kind), nil)
	}
	res, err := m.poll(ctx, domain.StageImage, providers.ModelFor(domain.StageImage, inst.ModelConfig), *taskID)
	if err != nil {
		return "", err
	}
	switch res.State {
	case taskstatus.Success:
		setURL(&seg, kind, res.URL)
		seg.Status = domain.SegmentStatusFirstFrameReady
		seg.ErrorMessage = nil
		if err := m.saveSegment(ctx, &seg); err != nil {
			return "", err
		}
		return OutcomeReady, nil
	case taskstatus.Failed:
		if err := m.failSegment(ctx, &seg, fmt.Sprintf("%s frame generation failed", kind), res.Error); err != nil {
			return "", err
		}
		return OutcomeFailed, nil
	}
	return OutcomePending, nil
}

// PollVideo polls the in-flight clip task of the segment at index.
func (m *Manager) PollVideo(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, index int) (Outcome, error) {
	pos, err := position(segs, index)
	if err != nil {
		return "", err
	}
	seg := segs[pos].Clone()
	if !domain.HasValue(seg.VideoTaskID) {
		return "", domain.Wrap(domain.ErrValidation, "segments", fmt.Sprintf("segment %d has no video task", index), nil)
	}
	res, err := m.poll(ctx, domain.StageVideo, providers.ModelFor(domain.StageVideo, inst.ModelConfig), *seg.VideoTaskID)
	if err != nil {
		return "", err
	}
	switch res.State {
	case taskstatus.Success:
		seg.VideoURL = domain.Ptr(res.URL)
		seg.Status = domain.SegmentStatusCompleted
		seg.ErrorMessage = nil
		if err := m.saveSegment(ctx, &seg); err != nil {
			return "", err
		}
		return OutcomeReady, nil
	case taskstatus.Failed:
		if err := m.failSegment(ctx, &seg, "video generation failed", res.Error); err != nil {
			return "", err
		}
		return OutcomeFailed, nil
	}
	return OutcomePending, nil
}

// MergeGate reports whether the merge step may run.
func (m *Manager) MergeGate(inst *domain.WorkflowInstance, segs []domain.Segment) bool {
	return pipeline.MergeGate(inst, segs)
}

// MergeInputs returns the ordered clip URLs to stitch, or the ordered first
// frames of a photo-only project.
func (m *Manager) MergeInputs(inst *domain.WorkflowInstance, segs []domain.Segment) (clips []string, frames []string, err error) {
	if !pipeline.MergeGate(inst, segs) {
		return nil, nil, domain.Wrap(domain.ErrValidation, "segments", "merge gate not satisfied", nil)
	}
	for _, seg := range segs {
		if inst.ModelConfig.PhotoOnly {
			frames = append(frames, *seg.FirstFrameURL)
			continue
		}
		clips = append(clips, *seg.VideoURL)
	}
	return clips, frames, nil
}

func (m *Manager) frameRequest(inst *domain.WorkflowInstance, segs []domain.Segment, pos int, kind domain.FrameKind, promptOverride string) (providers.TaskRequest, error) {
	seg := segs[pos]
	prompt := coalesce(promptOverride, seg.Prompt.Text())
	req := providers.TaskRequest{
		Stage:       domain.StageImage,
		Model:       providers.ModelFor(domain.StageImage, inst.ModelConfig),
		AspectRatio: inst.ModelConfig.AspectRatio,
		Quality:     inst.ModelConfig.Quality,
		Reference:   segmentRef(inst.ID, seg.SegmentIndex),
	}
	if inst.Prompts != nil {
		req.NegativePrompt = inst.Prompts.NegativePrompt
	}
	switch kind {
	case domain.FrameFirst:
		if !pipeline.ContinuationReady(segs, pos) {
			return req, domain.Wrap(domain.ErrConflict, "segments",
				fmt.Sprintf("segment %d continues segment %d which has no first frame yet", seg.SegmentIndex, segs[pos-1].SegmentIndex), nil)
		}
		if pos > 0 && seg.IsContinuationFromPrev {
			req.ImageURLs = []string{*segs[pos-1].FirstFrameURL}
		} else {
			req.ImageURLs = append([]string(nil), inst.Inputs.ImageURLs...)
		}
	case domain.FrameClosing:
		if !domain.HasValue(seg.FirstFrameURL) {
			return req, domain.Wrap(domain.ErrValidation, "segments",
				fmt.Sprintf("segment %d needs a first frame before its closing frame", seg.SegmentIndex), nil)
		}
		req.ImageURLs = []string{*seg.FirstFrameURL}
		prompt += ". Final moment of the shot"
	default:
		return req, domain.Wrap(domain.ErrValidation, "segments", fmt.Sprintf("unknown frame kind %q", kind), nil)
	}
	req.Prompt = prompt
	return req, nil
}

func (m *Manager) videoRequest(inst *domain.WorkflowInstance, segs []domain.Segment, pos int, promptOverride string) (providers.TaskRequest, error) {
	seg := segs[pos]
	if inst.ModelConfig.PhotoOnly {
		return providers.TaskRequest{}, domain.Wrap(domain.ErrValidation, "segments", "photo-only projects have no segment videos", nil)
	}
	if !domain.HasValue(seg.FirstFrameURL) {
		return providers.TaskRequest{}, domain.Wrap(domain.ErrValidation, "segments",
			fmt.Sprintf("segment %d needs a first frame before its video", seg.SegmentIndex), nil)
	}
	images := []string{*seg.FirstFrameURL}
	switch {
	case domain.HasValue(seg.ClosingFrameURL):
		images = append(images, *seg.ClosingFrameURL)
	case pos+1 < len(segs) && domain.HasValue(segs[pos+1].FirstFrameURL):
		images = append(images, *segs[pos+1].FirstFrameURL)
	}
	return providers.TaskRequest{
		Stage:           domain.StageVideo,
		Model:           providers.ModelFor(domain.StageVideo, inst.ModelConfig),
		Prompt:          coalesce(promptOverride, seg.Prompt.Text()),
		AspectRatio:     inst.ModelConfig.AspectRatio,
		Quality:         inst.ModelConfig.Quality,
		DurationSeconds: inst.ModelConfig.DurationSeconds,
		ImageURLs:       images,
		Reference:       segmentRef(inst.ID, seg.SegmentIndex),
	}, nil
}

func (m *Manager) submit(ctx context.Context, req providers.TaskRequest) (string, error) {
	p, err := m.providers.For(req.Stage, req.Model)
	if err != nil {
		return "", err
	}
	taskID, err := p.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(taskID) == "" {
		return "", domain.Wrap(domain.ErrProvider, "segments", "provider returned an empty task id", nil)
	}
	return taskID, nil
}

func (m *Manager) poll(ctx context.Context, stage domain.Stage, model, taskID string) (taskstatus.Result, error) {
	p, err := m.providers.For(stage, model)
	if err != nil {
		return taskstatus.Result{}, err
	}
	raw, err := p.Poll(ctx, taskID)
	if err != nil {
		return taskstatus.Result{}, err
	}
	return taskstatus.Normalize(stage, raw), nil
}

// checkFresh re-reads the segment and rejects the submission when the row
// moved on since the caller loaded it.
func (m *Manager) checkFresh(ctx context.Context, seg domain.Segment) error {
	stored, err := m.repo.ListSegments(ctx, seg.ProjectID)
	if err != nil {
		return domain.Wrap(domain.ErrPersistence, "segments", "reload segments", err)
	}
	for _, s := range stored {
		if s.ID == seg.ID {
			if s.Version != seg.Version {
				return domain.Wrap(domain.ErrConflict, "segments", fmt.Sprintf("segment %d changed concurrently", seg.SegmentIndex), nil)
			}
			return nil
		}
	}
	return domain.Wrap(domain.ErrNotFound, "segments", fmt.Sprintf("segment %d", seg.SegmentIndex), nil)
}

func (m *Manager) saveSegment(ctx context.Context, seg *domain.Segment) error {
	ok, err := m.repo.SaveSegment(ctx, seg)
	if err != nil {
		return domain.Wrap(domain.ErrPersistence, "segments", fmt.Sprintf("save segment %d", seg.SegmentIndex), err)
	}
	if !ok {
		return domain.Wrap(domain.ErrConflict, "segments", fmt.Sprintf("segment %d changed concurrently", seg.SegmentIndex), nil)
	}
	return nil
}

func (m *Manager) failSegment(ctx context.Context, seg *domain.Segment, prefix, detail string) error {
	msg := prefix
	if detail = strings.TrimSpace(detail); detail != "" {
		msg += ": " + detail
	}
	seg.Status = domain.SegmentStatusFailed
	seg.ErrorMessage = &msg
	m.logger.Warn().Str("instance_id", seg.ProjectID).Int("segment_index", seg.SegmentIndex).Str("error", msg).
		Msg("segments: provider reported failure")
	return m.saveSegment(ctx, seg)
}

func markFrameSubmitted(seg *domain.Segment, kind domain.FrameKind, taskID string) {
	if kind == domain.FrameClosing {
		seg.ClosingFrameTaskID = domain.Ptr(taskID)
		seg.ClosingFrameURL = nil
		seg.Status = domain.SegmentStatusGeneratingClosingFrame
	} else {
		seg.FirstFrameTaskID = domain.Ptr(taskID)
		seg.FirstFrameURL = nil
		seg.Status = domain.SegmentStatusGeneratingFirstFrame
	}
	seg.ErrorMessage = nil
}

func markVideoSubmitted(seg *domain.Segment, taskID string) {
	seg.VideoTaskID = domain.Ptr(taskID)
	seg.VideoURL = nil
	seg.Status = domain.SegmentStatusGeneratingVideo
	seg.ErrorMessage = nil
}

func taskOf(seg *domain.Segment, kind domain.FrameKind) *string {
	if kind == domain.FrameClosing {
		return seg.ClosingFrameTaskID
	}
	return seg.FirstFrameTaskID
}

func urlOf(seg *domain.Segment, kind domain.FrameKind) *string {
	if kind == domain.FrameClosing {
		return seg.ClosingFrameURL
	}
	return seg.FirstFrameURL
}

func setURL(seg *domain.Segment, kind domain.FrameKind, url string) {
	if kind == domain.FrameClosing {
		seg.ClosingFrameURL = domain.Ptr(url)
		return
	}
	seg.FirstFrameURL = domain.Ptr(url)
}

func position(segs []domain.Segment, index int) (int, error) {
	for i := range segs {
		if segs[i].SegmentIndex == index {
			return i, nil
		}
	}
	return -1, domain.Wrap(domain.ErrNotFound, "segments", "segment "+strconv.Itoa(index), nil)
}

func segmentRef(instanceID string, index int) string {
	return instanceID + "#" + strconv.Itoa(index)
}

func coalesce(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
