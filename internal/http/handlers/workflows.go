package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"genflow/internal/domain"
	"genflow/internal/middleware"
	"genflow/internal/segments"
	"genflow/internal/workflows"
)

func (a *App) CreateWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflows.SubmitRequest
	if err := decode(r, &req); err != nil {
		a.fail(w, r, err)
		return
	}
	req.UserID = a.currentUserID(r)
	if req.Inputs.Locale == "" {
		req.Inputs.Locale = middleware.LocaleFromContext(r.Context())
	}
	inst, err := a.Workflows.Submit(r.Context(), req)
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusCreated, toWorkflowDTO(inst))
}

func (a *App) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	inst, err := a.Workflows.Get(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toWorkflowDTO(inst))
}

func (a *App) ListSegments(w http.ResponseWriter, r *http.Request) {
	segs, err := a.Workflows.Segments(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	items := make([]segmentDTO, 0, len(segs))
	for _, seg := range segs {
		items = append(items, toSegmentDTO(seg))
	}
	a.json(w, http.StatusOK, map[string]any{"items": items})
}

type regenerateRequest struct {
	RegeneratePhoto bool             `json:"regenerate_photo"`
	Video           bool             `json:"video"`
	FrameKind       domain.FrameKind `json:"frame_kind"`
	Prompt          string           `json:"prompt"`
}

func (a *App) RegenerateSegment(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "segment index must be a non-negative integer")
		return
	}
	var body regenerateRequest
	if err := decode(r, &body); err != nil {
		a.fail(w, r, err)
		return
	}
	seg, err := a.Regenerator.RegenerateSegment(r.Context(), segments.RegenerateRequest{
		UserID:     a.currentUserID(r),
		InstanceID: chi.URLParam(r, "id"),
		Index:      index,
		Options: segments.RegenerateOptions{
			RegeneratePhoto: body.RegeneratePhoto,
			Video:           body.Video,
			FrameKind:       body.FrameKind,
			Prompt:          body.Prompt,
		},
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toSegmentDTO(*seg))
}

// ApproveSegmentVideo releases the clip of one segment for generation.
func (a *App) ApproveSegmentVideo(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.Atoi(chi.URLParam(r, "index"))
	if err != nil || index < 0 {
		a.error(w, http.StatusBadRequest, "bad_request", "segment index must be a non-negative integer")
		return
	}
	seg, err := a.Regenerator.ApproveVideo(r.Context(), segments.ApproveRequest{
		UserID:     a.currentUserID(r),
		InstanceID: chi.URLParam(r, "id"),
		Index:      index,
	})
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toSegmentDTO(*seg))
}

func (a *App) DownloadWorkflow(w http.ResponseWriter, r *http.Request) {
	dl, err := a.Workflows.ChargeDownload(r.Context(), a.currentUserID(r), chi.URLParam(r, "id"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	a.json(w, http.StatusOK, dl)
}
