package handlers

import (
	"time"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
)

type workflowDTO struct {
	ID                  string              `json:"id"`
	Kind                domain.WorkflowKind `json:"kind"`
	Status              string              `json:"status"`
	CurrentStep         string              `json:"current_step"`
	ProgressPercent     int                 `json:"progress_percent"`
	ModelConfig         jsoncfg.ModelConfig `json:"model_config"`
	Inputs              jsoncfg.Inputs      `json:"inputs"`
	Analysis            *jsoncfg.Analysis   `json:"analysis_result,omitempty"`
	Prompts             *jsoncfg.Prompts    `json:"prompts,omitempty"`
	CoverImageURL       *string             `json:"cover_image_url,omitempty"`
	VideoURL            *string             `json:"video_url,omitempty"`
	MergedVideoURL      *string             `json:"merged_video_url,omitempty"`
	CreditsCost         int                 `json:"credits_cost"`
	CreditsRefunded     bool                `json:"credits_refunded"`
	DownloadCreditsUsed int                 `json:"download_credits_used"`
	ErrorMessage        *string             `json:"error_message,omitempty"`
	CreatedAt           time.Time           `json:"created_at"`
	UpdatedAt           time.Time           `json:"updated_at"`
}

func toWorkflowDTO(inst *domain.WorkflowInstance) workflowDTO {
	return workflowDTO{
		ID:                  inst.ID,
		Kind:                inst.Kind,
		Status:              string(inst.Status),
		CurrentStep:         string(inst.CurrentStep),
		ProgressPercent:     inst.ProgressPercent,
		ModelConfig:         inst.ModelConfig,
		Inputs:              inst.Inputs,
		Analysis:            inst.Analysis,
		Prompts:             inst.Prompts,
		CoverImageURL:       inst.CoverImageURL,
		VideoURL:            inst.VideoURL,
		MergedVideoURL:      inst.MergedVideoURL,
		CreditsCost:         inst.CreditsCost,
		CreditsRefunded:     inst.CreditsRefunded,
		DownloadCreditsUsed: inst.DownloadCreditsUsed,
		ErrorMessage:        inst.ErrorMessage,
		CreatedAt:           inst.CreatedAt,
		UpdatedAt:           inst.UpdatedAt,
	}
}

type segmentDTO struct {
	Index                   int                 `json:"index"`
	Status                  string              `json:"status"`
	Prompt                  jsoncfg.ScenePrompt `json:"prompt"`
	FirstFrameURL           *string             `json:"first_frame_url,omitempty"`
	ClosingFrameURL         *string             `json:"closing_frame_url,omitempty"`
	VideoURL                *string             `json:"video_url,omitempty"`
	ContinuesPrevious       bool                `json:"continues_previous"`
	VideoGenerationApproved bool                `json:"video_generation_approved"`
	ErrorMessage            *string             `json:"error_message,omitempty"`
	UpdatedAt               time.Time           `json:"updated_at"`
}

func toSegmentDTO(seg domain.Segment) segmentDTO {
	return segmentDTO{
		Index:                   seg.SegmentIndex,
		Status:                  string(seg.Status),
		Prompt:                  seg.Prompt,
		FirstFrameURL:           seg.FirstFrameURL,
		ClosingFrameURL:         seg.ClosingFrameURL,
		VideoURL:                seg.VideoURL,
		ContinuesPrevious:       seg.IsContinuationFromPrev,
		VideoGenerationApproved: seg.VideoGenerationApproved,
		ErrorMessage:            seg.ErrorMessage,
		UpdatedAt:               seg.UpdatedAt,
	}
}

type transactionDTO struct {
	ID          string                 `json:"id"`
	Type        domain.TransactionType `json:"type"`
	Amount      int                    `json:"amount"`
	Description string                 `json:"description"`
	InstanceID  *string                `json:"instance_id,omitempty"`
	CreatedAt   time.Time              `json:"created_at"`
}
