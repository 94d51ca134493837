package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"genflow/internal/domain"
	"genflow/internal/http/handlers"
	"genflow/internal/middleware"
	"genflow/internal/segments"
	"genflow/internal/sweep"
	"genflow/internal/workflows"
)

const (
	jwtSecret  = "jwt-secret"
	sweepToken = "sweep-secret"
)

type fakeWorkflows struct {
	submitted workflows.SubmitRequest
	submitErr error
	instances map[string]*domain.WorkflowInstance
	segments  []domain.Segment
	download  workflows.Download
}

func (f *fakeWorkflows) Submit(ctx context.Context, req workflows.SubmitRequest) (*domain.WorkflowInstance, error) {
	f.submitted = req
	if f.submitErr != nil {
		return nil, f.submitErr
	}
	return &domain.WorkflowInstance{ID: "wf-new", OwnerID: req.UserID, Kind: req.Kind, Status: domain.WorkflowStatusPending, CurrentStep: domain.StepQueued, CreditsCost: 30}, nil
}

func (f *fakeWorkflows) Get(ctx context.Context, userID, id string) (*domain.WorkflowInstance, error) {
	inst, ok := f.instances[id]
	if !ok || inst.OwnerID != userID {
		return nil, domain.ErrNotFound
	}
	return inst, nil
}

func (f *fakeWorkflows) Segments(ctx context.Context, userID, id string) ([]domain.Segment, error) {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return nil, err
	}
	return f.segments, nil
}

func (f *fakeWorkflows) ChargeDownload(ctx context.Context, userID, id string) (workflows.Download, error) {
	if _, err := f.Get(ctx, userID, id); err != nil {
		return workflows.Download{}, err
	}
	return f.download, nil
}

type fakeRegenerator struct {
	got      segments.RegenerateRequest
	approved segments.ApproveRequest
	err      error
}

func (f *fakeRegenerator) RegenerateSegment(ctx context.Context, req segments.RegenerateRequest) (*domain.Segment, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Segment{SegmentIndex: req.Index, Status: domain.SegmentStatusGeneratingFirstFrame}, nil
}

func (f *fakeRegenerator) ApproveVideo(ctx context.Context, req segments.ApproveRequest) (*domain.Segment, error) {
	f.approved = req
	if f.err != nil {
		return nil, f.err
	}
	return &domain.Segment{SegmentIndex: req.Index, Status: domain.SegmentStatusFirstFrameReady, VideoGenerationApproved: true}, nil
}

type fakeCredits struct {
	balance int
	limit   int
}

func (f *fakeCredits) Balance(ctx context.Context, userID string) (int, error) { return f.balance, nil }

func (f *fakeCredits) Transactions(ctx context.Context, userID string, limit int) ([]domain.CreditTransaction, error) {
	f.limit = limit
	return []domain.CreditTransaction{{ID: "tx-1", UserID: userID, Type: domain.TransactionUsage, Amount: -30, Description: "Generate single workflow"}}, nil
}

type fakeSweeper struct{ runs int }

func (f *fakeSweeper) RunSweep(ctx context.Context) (sweep.Summary, error) {
	f.runs++
	return sweep.Summary{Processed: 3, Completed: 1, Idle: 2}, nil
}

type fixture struct {
	router    http.Handler
	workflows *fakeWorkflows
	regen     *fakeRegenerator
	credits   *fakeCredits
	sweeper   *fakeSweeper
}

func newFixture() *fixture {
	f := &fixture{
		workflows: &fakeWorkflows{instances: map[string]*domain.WorkflowInstance{
			"wf-1": {ID: "wf-1", OwnerID: "user-1", Kind: domain.WorkflowKindSegmented, Status: domain.WorkflowStatusProcessing, CurrentStep: domain.StepGeneratingSegmentFrames, ProgressPercent: 50},
		}},
		regen:   &fakeRegenerator{},
		credits: &fakeCredits{balance: 70},
		sweeper: &fakeSweeper{},
	}
	app := &handlers.App{Workflows: f.workflows, Regenerator: f.regen, Credits: f.credits, Sweeper: f.sweeper}
	f.router = NewRouter(app, RouterConfig{JWTSecret: jwtSecret, SweepToken: sweepToken, Locales: []string{"en", "id"}}, zerolog.New(io.Discard))
	return f
}

func (f *fixture) do(t *testing.T, method, path, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func bearer(t *testing.T, user string) map[string]string {
	t.Helper()
	token, err := middleware.SignJWT(jwtSecret, middleware.TokenClaims{Sub: user, Exp: time.Now().Add(time.Hour).Unix()})
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + token}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return out
}

func TestHealthNeedsNoAuth(t *testing.T) {
	f := newFixture()
	if rec := f.do(t, http.MethodGet, "/v1/healthz", "", nil); rec.Code != http.StatusOK {
		t.Fatalf("healthz = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/workflows/wf-1", "", nil); rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d", rec.Code)
	}
	if rec := f.do(t, http.MethodGet, "/v1/healthz", "", nil); rec.Header().Get("X-Request-ID") == "" {
		t.Fatalf("request id header missing")
	}
}

func TestCreateWorkflow(t *testing.T) {
	f := newFixture()
	headers := bearer(t, "user-1")
	headers["Accept-Language"] = "id-ID"

	rec := f.do(t, http.MethodPost, "/v1/workflows", `{"kind":"single","inputs":{"brief":"summer sale"}}`, headers)
	if rec.Code != http.StatusCreated {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	if got := decodeBody(t, rec); got["id"] != "wf-new" || got["current_step"] != "queued" {
		t.Fatalf("body = %v", got)
	}
	if f.workflows.submitted.UserID != "user-1" || f.workflows.submitted.Inputs.Locale != "id" {
		t.Fatalf("submitted = %+v", f.workflows.submitted)
	}
}

func TestCreateWorkflowRejectsUnknownFields(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodPost, "/v1/workflows", `{"kind":"single","price":0}`, bearer(t, "user-1"))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d", rec.Code)
	}
}

func TestErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
		kind string
	}{
		{"validation", domain.Wrap(domain.ErrValidation, "submit", "unknown kind", nil), http.StatusBadRequest, "bad_request"},
		{"not found", domain.ErrNotFound, http.StatusNotFound, "not_found"},
		{"conflict", domain.Wrap(domain.ErrConflict, "download", "changed", nil), http.StatusConflict, "conflict"},
		{"insufficient", &domain.InsufficientCreditsError{UserID: "user-1", Required: 30, Balance: 10}, http.StatusPaymentRequired, "insufficient_credits"},
		{"ledger write", &domain.LedgerWriteError{Op: "charge", Err: errors.New("conn reset")}, http.StatusInternalServerError, "internal"},
		{"persistence", domain.Wrap(domain.ErrPersistence, "submit", "create", errors.New("boom")), http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture()
			f.workflows.submitErr = tc.err
			rec := f.do(t, http.MethodPost, "/v1/workflows", `{"kind":"single"}`, bearer(t, "user-1"))
			if rec.Code != tc.code {
				t.Fatalf("code = %d, want %d", rec.Code, tc.code)
			}
			body := decodeBody(t, rec)
			if body["error"] != tc.kind {
				t.Fatalf("body = %v", body)
			}
			if tc.code == http.StatusPaymentRequired && body["shortfall"] != float64(20) {
				t.Fatalf("shortfall = %v", body["shortfall"])
			}
		})
	}
}

func TestGetWorkflowScopedToOwner(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/workflows/wf-1", "", bearer(t, "user-1"))
	if rec.Code != http.StatusOK || decodeBody(t, rec)["progress_percent"] != float64(50) {
		t.Fatalf("owner view = %d %s", rec.Code, rec.Body.String())
	}
	if rec := f.do(t, http.MethodGet, "/v1/workflows/wf-1", "", bearer(t, "user-2")); rec.Code != http.StatusNotFound {
		t.Fatalf("other user = %d", rec.Code)
	}
}

func TestListSegments(t *testing.T) {
	f := newFixture()
	f.workflows.segments = []domain.Segment{
		{SegmentIndex: 0, Status: domain.SegmentStatusCompleted},
		{SegmentIndex: 1, Status: domain.SegmentStatusGeneratingVideo, IsContinuationFromPrev: true},
	}
	rec := f.do(t, http.MethodGet, "/v1/workflows/wf-1/segments", "", bearer(t, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	items := decodeBody(t, rec)["items"].([]any)
	if len(items) != 2 || items[1].(map[string]any)["continues_previous"] != true {
		t.Fatalf("items = %v", items)
	}
}

func TestRegenerateSegment(t *testing.T) {
	f := newFixture()
	if rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/segments/x/regenerate", `{}`, bearer(t, "user-1")); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad index = %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/segments/2/regenerate",
		`{"regenerate_photo":true,"frame_kind":"closing","prompt":"slower pan"}`, bearer(t, "user-1"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	want := segments.RegenerateRequest{
		UserID: "user-1", InstanceID: "wf-1", Index: 2,
		Options: segments.RegenerateOptions{RegeneratePhoto: true, FrameKind: domain.FrameClosing, Prompt: "slower pan"},
	}
	if f.regen.got != want {
		t.Fatalf("request = %+v", f.regen.got)
	}

	f.regen.err = domain.Wrap(domain.ErrConflict, "regenerate", "segment busy", nil)
	if rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/segments/2/regenerate", `{"video":true}`, bearer(t, "user-1")); rec.Code != http.StatusConflict {
		t.Fatalf("conflict = %d", rec.Code)
	}
}

func TestApproveSegmentVideo(t *testing.T) {
	f := newFixture()
	if rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/segments/-1/approve", "", bearer(t, "user-1")); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad index = %d", rec.Code)
	}

	rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/segments/1/approve", "", bearer(t, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d body = %s", rec.Code, rec.Body.String())
	}
	if want := (segments.ApproveRequest{UserID: "user-1", InstanceID: "wf-1", Index: 1}); f.regen.approved != want {
		t.Fatalf("request = %+v", f.regen.approved)
	}
	if body := decodeBody(t, rec); body["video_generation_approved"] != true {
		t.Fatalf("body = %v", body)
	}

	f.regen.err = domain.Wrap(domain.ErrNotFound, "approve", "workflow wf-1", nil)
	if rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/segments/1/approve", "", bearer(t, "user-2")); rec.Code != http.StatusNotFound {
		t.Fatalf("not found = %d", rec.Code)
	}
}

func TestDownload(t *testing.T) {
	f := newFixture()
	f.workflows.download = workflows.Download{URL: "final.mp4", Charged: 2}
	rec := f.do(t, http.MethodPost, "/v1/workflows/wf-1/download", "", bearer(t, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	if body := decodeBody(t, rec); body["url"] != "final.mp4" || body["charged"] != float64(2) {
		t.Fatalf("body = %v", body)
	}
}

func TestCreditsSummary(t *testing.T) {
	f := newFixture()
	rec := f.do(t, http.MethodGet, "/v1/credits?limit=500", "", bearer(t, "user-1"))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d", rec.Code)
	}
	body := decodeBody(t, rec)
	if body["balance"] != float64(70) || len(body["transactions"].([]any)) != 1 {
		t.Fatalf("body = %v", body)
	}
	if f.credits.limit != 100 {
		t.Fatalf("limit = %d, want capped 100", f.credits.limit)
	}
	if rec := f.do(t, http.MethodGet, "/v1/credits?limit=-1", "", bearer(t, "user-1")); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad limit = %d", rec.Code)
	}
}

func TestInternalSweepRequiresToken(t *testing.T) {
	f := newFixture()
	if rec := f.do(t, http.MethodPost, "/internal/sweep", "", bearer(t, "user-1")); rec.Code != http.StatusForbidden {
		t.Fatalf("jwt alone = %d", rec.Code)
	}
	rec := f.do(t, http.MethodPost, "/internal/sweep", "", map[string]string{middleware.SweepTokenHeader: sweepToken})
	if rec.Code != http.StatusOK || f.sweeper.runs != 1 {
		t.Fatalf("code = %d runs = %d", rec.Code, f.sweeper.runs)
	}
	if body := decodeBody(t, rec); body["processed"] != float64(3) || body["idle"] != float64(2) {
		t.Fatalf("summary = %v", body)
	}
}
