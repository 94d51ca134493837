package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/rs/zerolog"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/ledger"
	"genflow/internal/middleware"
	"genflow/internal/segments"
	"genflow/internal/sweep"
	"genflow/internal/workflows"
)

// Workflows is the submission and read side of the API.
type Workflows interface {
	Submit(ctx context.Context, req workflows.SubmitRequest) (*domain.WorkflowInstance, error)
	Get(ctx context.Context, userID, id string) (*domain.WorkflowInstance, error)
	Segments(ctx context.Context, userID, id string) ([]domain.Segment, error)
	ChargeDownload(ctx context.Context, userID, id string) (workflows.Download, error)
}

// Regenerator edits one segment on behalf of its owner.
type Regenerator interface {
	RegenerateSegment(ctx context.Context, req segments.RegenerateRequest) (*domain.Segment, error)
	ApproveVideo(ctx context.Context, req segments.ApproveRequest) (*domain.Segment, error)
}

type Credits interface {
	Balance(ctx context.Context, userID string) (int, error)
	Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error)
}

type Sweeper interface {
	RunSweep(ctx context.Context) (sweep.Summary, error)
}

// App holds the services the handlers call.
type App struct {
	Workflows   Workflows
	Regenerator Regenerator
	Credits     Credits
	Sweeper     Sweeper
	Logger      *infra.Logger
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	// Shortfall is set on insufficient_credits.
	Shortfall int `json:"shortfall,omitempty"`
}

func (a *App) error(w http.ResponseWriter, code int, kind, message string) {
	a.json(w, code, errorBody{Error: kind, Message: message})
}

// fail maps a service error onto its HTTP status.
func (a *App) fail(w http.ResponseWriter, r *http.Request, err error) {
	var short *domain.InsufficientCreditsError
	switch {
	case errors.As(err, &short):
		a.json(w, http.StatusPaymentRequired, errorBody{Error: "insufficient_credits", Message: err.Error(), Shortfall: short.Shortfall()})
	case errors.Is(err, domain.ErrInsufficientCredits):
		a.error(w, http.StatusPaymentRequired, "insufficient_credits", err.Error())
	case errors.Is(err, domain.ErrValidation):
		a.error(w, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "not_found", "not found")
	case errors.Is(err, domain.ErrConflict):
		a.error(w, http.StatusConflict, "conflict", err.Error())
	default:
		a.logger(r).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		a.error(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

// logger prefers the request-scoped logger installed by middleware.Logger.
func (a *App) logger(r *http.Request) *zerolog.Logger {
	if l := zerolog.Ctx(r.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return infra.LoggerOrDiscard(a.Logger)
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}

func decode(r *http.Request, dst any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return domain.Wrap(domain.ErrValidation, "decode", "invalid payload", err)
	}
	return nil
}

var _ Credits = (*ledger.Ledger)(nil)
