// Package workflows accepts new generation jobs and serves their read side.
package workflows

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
	"genflow/internal/infra"
	"genflow/internal/ledger"
)

// Charger is the part of the ledger the service needs.
type Charger interface {
	ReserveAndCharge(ctx context.Context, userID string, amount int, description, instanceID string) (ledger.Receipt, error)
	ledger.Refunder
}

type Options struct {
	Repo        domain.WorkflowRepository
	Ledger      Charger
	Prices      ledger.Prices
	Logger      *infra.Logger
	NewID       func() string
	MaxSegments int
}

type Service struct {
	repo        domain.WorkflowRepository
	ledger      Charger
	prices      ledger.Prices
	logger      *infra.Logger
	newID       func() string
	maxSegments int
}

// SegmentInput describes one scene of a segmented submission.
type SegmentInput struct {
	Prompt            jsoncfg.ScenePrompt `json:"prompt"`
	ContinuesPrevious bool                `json:"continues_previous,omitempty"`
	// ApproveVideo lets the sweep generate the clip as soon as the frames are
	// ready. Unapproved clips wait for an explicit approval.
	ApproveVideo      bool                `json:"approve_video,omitempty"`
}

// SubmitRequest is a new job.
type SubmitRequest struct {
	UserID      string              `json:"-"`
	Kind        domain.WorkflowKind `json:"kind"`
	ModelConfig jsoncfg.ModelConfig `json:"model_config"`
	Inputs      jsoncfg.Inputs      `json:"inputs"`
	Segments    []SegmentInput      `json:"segments,omitempty"`
}

// Download is the result of ChargeDownload.
type Download struct {
	URL     string `json:"url"`
	Charged int    `json:"charged"`
}

const defaultMaxSegments = 12

func New(opts Options) (*Service, error) {
	if opts.Repo == nil {
		return nil, errors.New("workflows: repository is required")
	}
	if opts.Ledger == nil {
		return nil, errors.New("workflows: ledger is required")
	}
	newID := opts.NewID
	if newID == nil {
		newID = uuid.NewString
	}
	maxSegments := opts.MaxSegments
	if maxSegments <= 0 {
		maxSegments = defaultMaxSegments
	}
	return &Service{
		repo:        opts.Repo,
		ledger:      opts.Ledger,
		prices:      opts.Prices,
		logger:      infra.LoggerOrDiscard(opts.Logger),
		newID:       newID,
		maxSegments: maxSegments,
	}, nil
}

// Submit validates req, charges the submission price and stores a queued
// instance. The charge is refunded when the instance cannot be stored.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) (*domain.WorkflowInstance, error) {
	if err := s.normalize(&req); err != nil {
		return nil, err
	}
	id := s.newID()
	price := s.prices.Submission(req.Kind, len(req.Segments))
	receipt, err := s.ledger.ReserveAndCharge(ctx, req.UserID, price, ledger.SubmissionDescription(req.Kind), id)
	if err != nil {
		return nil, err
	}

	inst := &domain.WorkflowInstance{
		ID:          id,
		OwnerID:     req.UserID,
		Kind:        req.Kind,
		Status:      domain.WorkflowStatusPending,
		CurrentStep: domain.StepQueued,
		ModelConfig: req.ModelConfig,
		Inputs:      req.Inputs,
		CreditsCost: price,
	}
	segs := make([]domain.Segment, 0, len(req.Segments))
	for i, in := range req.Segments {
		segs = append(segs, domain.Segment{
			ID:                      s.newID(),
			ProjectID:               id,
			SegmentIndex:            i,
			Prompt:                  in.Prompt,
			Status:                  domain.SegmentStatusQueued,
			IsContinuationFromPrev:  in.ContinuesPrevious,
			VideoGenerationApproved: in.ApproveVideo,
		})
	}
	if err := s.repo.Create(ctx, inst, segs); err != nil {
		s.logger.Error().Err(err).Str("instance_id", id).Msg("workflows: create failed, refunding")
		cause := domain.Wrap(domain.ErrPersistence, "submit", "create workflow", err)
		if rerr := s.ledger.Refund(ctx, receipt); rerr != nil {
			return nil, errors.Join(cause, rerr)
		}
		return nil, cause
	}
	s.logger.Info().Str("instance_id", id).Str("kind", string(req.Kind)).Int("segments", len(segs)).Int("credits", price).
		Msg("workflows: submitted")
	return inst, nil
}

// Get returns the caller's instance. Instances of other users are NotFound.
func (s *Service) Get(ctx context.Context, userID, id string) (*domain.WorkflowInstance, error) {
	inst, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Wrap(domain.ErrNotFound, "workflow", id, nil)
		}
		return nil, domain.Wrap(domain.ErrPersistence, "workflow", "load", err)
	}
	if inst.OwnerID != userID {
		return nil, domain.Wrap(domain.ErrNotFound, "workflow", id, nil)
	}
	return inst, nil
}

// Segments lists the caller's segments in index order.
func (s *Service) Segments(ctx context.Context, userID, id string) ([]domain.Segment, error) {
	if _, err := s.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	segs, err := s.repo.ListSegments(ctx, id)
	if err != nil {
		return nil, domain.Wrap(domain.ErrPersistence, "workflow", "list segments", err)
	}
	return segs, nil
}

// ChargeDownload charges the download price the first time a completed
// instance is downloaded and returns its final artifact.
func (s *Service) ChargeDownload(ctx context.Context, userID, id string) (Download, error) {
	inst, err := s.Get(ctx, userID, id)
	if err != nil {
		return Download{}, err
	}
	url := inst.FinalURL()
	if inst.Status != domain.WorkflowStatusCompleted || url == "" {
		return Download{}, domain.Wrap(domain.ErrValidation, "download", "workflow is not completed", nil)
	}
	if inst.DownloadCreditsUsed > 0 || s.prices.Download == 0 {
		return Download{URL: url}, nil
	}
	receipt, err := s.ledger.ReserveAndCharge(ctx, userID, s.prices.Download, "Download workflow result", id)
	if err != nil {
		return Download{}, err
	}
	inst.DownloadCreditsUsed = s.prices.Download
	ok, err := s.repo.Save(ctx, inst)
	if err != nil || !ok {
		cause := domain.Wrap(domain.ErrConflict, "download", "workflow changed concurrently", nil)
		if err != nil {
			cause = domain.Wrap(domain.ErrPersistence, "download", "record download", err)
		}
		if rerr := s.ledger.Refund(ctx, receipt); rerr != nil {
			return Download{}, errors.Join(cause, rerr)
		}
		return Download{}, cause
	}
	return Download{URL: url, Charged: receipt.Amount}, nil
}

func (s *Service) normalize(req *SubmitRequest) error {
	if strings.TrimSpace(req.UserID) == "" {
		return domain.Wrap(domain.ErrValidation, "submit", "user id is required", nil)
	}
	if !req.Kind.Valid() {
		return domain.Wrap(domain.ErrValidation, "submit", fmt.Sprintf("unknown kind %q", req.Kind), nil)
	}
	req.ModelConfig.Normalize()
	if err := req.ModelConfig.Validate(); err != nil {
		return domain.Wrap(domain.ErrValidation, "submit", err.Error(), nil)
	}
	req.Inputs.Normalize("")

	switch req.Kind {
	case domain.WorkflowKindSegmented:
		return s.validateSegments(req.Segments)
	case domain.WorkflowKindCharacter:
		if req.Inputs.CharacterDescription == "" {
			return domain.Wrap(domain.ErrValidation, "submit", "character_description is required", nil)
		}
	case domain.WorkflowKindCompetitorReplica:
		if req.Inputs.CompetitorVideoURL == "" {
			return domain.Wrap(domain.ErrValidation, "submit", "competitor_video_url is required", nil)
		}
	default:
		if req.Inputs.Brief == "" && len(req.Inputs.ImageURLs) == 0 {
			return domain.Wrap(domain.ErrValidation, "submit", "brief or image_urls is required", nil)
		}
	}
	if len(req.Segments) > 0 {
		return domain.Wrap(domain.ErrValidation, "submit", "only segmented workflows take segments", nil)
	}
	if req.ModelConfig.PhotoOnly || req.ModelConfig.ClosingFrames {
		return domain.Wrap(domain.ErrValidation, "submit", "photo_only and closing_frames apply to segmented workflows", nil)
	}
	return nil
}

func (s *Service) validateSegments(segs []SegmentInput) error {
	if len(segs) == 0 {
		return domain.Wrap(domain.ErrValidation, "submit", "segments are required", nil)
	}
	if len(segs) > s.maxSegments {
		return domain.Wrap(domain.ErrValidation, "submit", fmt.Sprintf("at most %d segments", s.maxSegments), nil)
	}
	for i := range segs {
		segs[i].Prompt.Description = strings.TrimSpace(segs[i].Prompt.Description)
		if segs[i].Prompt.Description == "" {
			return domain.Wrap(domain.ErrValidation, "submit", fmt.Sprintf("segment %d needs a description", i+1), nil)
		}
	}
	if segs[0].ContinuesPrevious {
		return domain.Wrap(domain.ErrValidation, "submit", "the first segment cannot continue a previous one", nil)
	}
	return nil
}
