package workflows

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
	"genflow/internal/ledger"
	"genflow/internal/testsupport"
)

var testNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newService(t *testing.T, balance int) (*Service, *testsupport.MemoryStore) {
	t.Helper()
	store := testsupport.NewMemoryStore(func() time.Time { return testNow })
	store.SetBalance("user-1", balance)
	l, err := ledger.New(ledger.Options{Store: store})
	if err != nil {
		t.Fatalf("ledger.New: %v", err)
	}
	seq := 0
	svc, err := New(Options{
		Repo:   store,
		Ledger: l,
		Prices: ledger.DefaultPrices(),
		NewID: func() string {
			seq++
			return fmt.Sprintf("id-%d", seq)
		},
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return svc, store
}

func segmentedRequest(n int) SubmitRequest {
	req := SubmitRequest{UserID: "user-1", Kind: domain.WorkflowKindSegmented}
	for i := 0; i < n; i++ {
		req.Segments = append(req.Segments, SegmentInput{
			Prompt:            jsoncfg.ScenePrompt{Description: fmt.Sprintf("scene %d", i+1)},
			ContinuesPrevious: i > 0,
		})
	}
	return req
}

func balanceOf(t *testing.T, store *testsupport.MemoryStore) int {
	t.Helper()
	b, err := store.Balance(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Balance: %v", err)
	}
	return b
}

func TestSubmitRecordsVideoApproval(t *testing.T) {
	svc, _ := newService(t, 100)
	req := segmentedRequest(2)
	req.Segments[1].ApproveVideo = true

	inst, err := svc.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	segs, err := svc.Segments(context.Background(), "user-1", inst.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if segs[0].VideoGenerationApproved || !segs[1].VideoGenerationApproved {
		t.Fatalf("approvals = %v, %v", segs[0].VideoGenerationApproved, segs[1].VideoGenerationApproved)
	}
}

func TestSubmitSegmentedChargesAndStores(t *testing.T) {
	svc, store := newService(t, 100)

	inst, err := svc.Submit(context.Background(), segmentedRequest(3))
	if err != nil {
		t.Fatalf("Submit returned error: %v", err)
	}
	if inst.Status != domain.WorkflowStatusPending || inst.CurrentStep != domain.StepQueued {
		t.Fatalf("instance = %s/%s", inst.Status, inst.CurrentStep)
	}
	if inst.CreditsCost != 55 || balanceOf(t, store) != 45 {
		t.Fatalf("cost = %d balance = %d", inst.CreditsCost, balanceOf(t, store))
	}
	if inst.ModelConfig.AspectRatio != jsoncfg.DefaultAspectRatio || inst.Inputs.Locale != jsoncfg.DefaultLocale {
		t.Fatalf("defaults not applied: %+v %+v", inst.ModelConfig, inst.Inputs)
	}
	segs, err := svc.Segments(context.Background(), "user-1", inst.ID)
	if err != nil {
		t.Fatalf("Segments: %v", err)
	}
	if len(segs) != 3 || segs[0].IsContinuationFromPrev || !segs[2].IsContinuationFromPrev {
		t.Fatalf("segments = %+v", segs)
	}
	txs := store.TransactionsFor("user-1")
	last := txs[len(txs)-1]
	if last.Description != "Generate segmented workflow" || *last.LinkedInstanceID != inst.ID {
		t.Fatalf("charge = %+v", last)
	}
}

func TestSubmitValidation(t *testing.T) {
	cases := map[string]SubmitRequest{
		"unknown kind":        {UserID: "user-1", Kind: "slideshow"},
		"no user":             {Kind: domain.WorkflowKindSingle, Inputs: jsoncfg.Inputs{Brief: "x"}},
		"single without data": {UserID: "user-1", Kind: domain.WorkflowKindSingle},
		"character":           {UserID: "user-1", Kind: domain.WorkflowKindCharacter},
		"competitor":          {UserID: "user-1", Kind: domain.WorkflowKindCompetitorReplica},
		"no segments":         {UserID: "user-1", Kind: domain.WorkflowKindSegmented},
		"bad aspect":          {UserID: "user-1", Kind: domain.WorkflowKindSingle, Inputs: jsoncfg.Inputs{Brief: "x"}, ModelConfig: jsoncfg.ModelConfig{AspectRatio: "2:1"}},
		"segments on single":  {UserID: "user-1", Kind: domain.WorkflowKindSingle, Inputs: jsoncfg.Inputs{Brief: "x"}, Segments: []SegmentInput{{}}},
	}
	first := segmentedRequest(2)
	first.Segments[0].ContinuesPrevious = true
	cases["first continues"] = first
	cases["too many"] = segmentedRequest(13)

	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			svc, store := newService(t, 100)
			if _, err := svc.Submit(context.Background(), req); !errors.Is(err, domain.ErrValidation) {
				t.Fatalf("expected ErrValidation, got %v", err)
			}
			if balanceOf(t, store) != 100 {
				t.Fatalf("validation failures must not charge")
			}
		})
	}
}

func TestSubmitInsufficientCredits(t *testing.T) {
	svc, store := newService(t, 10)
	_, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1", Kind: domain.WorkflowKindSingle, Inputs: jsoncfg.Inputs{Brief: "x"}})
	if !errors.Is(err, domain.ErrInsufficientCredits) {
		t.Fatalf("expected ErrInsufficientCredits, got %v", err)
	}
	if store.Instance("id-1").ID != "" {
		t.Fatalf("no instance may be stored")
	}
}

func TestSubmitRefundsWhenCreateFails(t *testing.T) {
	svc, store := newService(t, 100)
	store.CreateErr = errors.New("unique violation")

	_, err := svc.Submit(context.Background(), SubmitRequest{UserID: "user-1", Kind: domain.WorkflowKindSingle, Inputs: jsoncfg.Inputs{Brief: "x"}})
	if !errors.Is(err, domain.ErrPersistence) {
		t.Fatalf("expected ErrPersistence, got %v", err)
	}
	if balanceOf(t, store) != 100 {
		t.Fatalf("balance = %d, want 100", balanceOf(t, store))
	}
	txs := store.TransactionsFor("user-1")
	if got := txs[len(txs)-1]; got.Type != domain.TransactionRefund || got.Amount != 30 {
		t.Fatalf("last transaction = %+v", got)
	}
}

func TestGetHidesOtherOwners(t *testing.T) {
	svc, store := newService(t, 100)
	store.Seed(domain.WorkflowInstance{ID: "wf-x", OwnerID: "user-2", Kind: domain.WorkflowKindSingle, Version: 1})

	if _, err := svc.Get(context.Background(), "user-1", "wf-x"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if _, err := svc.Get(context.Background(), "user-1", "missing"); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestChargeDownloadOnce(t *testing.T) {
	svc, store := newService(t, 100)
	store.Seed(domain.WorkflowInstance{
		ID: "wf-d", OwnerID: "user-1", Kind: domain.WorkflowKindSegmented,
		Status: domain.WorkflowStatusCompleted, CurrentStep: domain.StepCompleted,
		VideoURL: domain.Ptr("clip.mp4"), MergedVideoURL: domain.Ptr("final.mp4"), Version: 1,
	})

	first, err := svc.ChargeDownload(context.Background(), "user-1", "wf-d")
	if err != nil {
		t.Fatalf("ChargeDownload: %v", err)
	}
	if first.URL != "final.mp4" || first.Charged != 2 {
		t.Fatalf("first download = %+v", first)
	}
	second, err := svc.ChargeDownload(context.Background(), "user-1", "wf-d")
	if err != nil {
		t.Fatalf("ChargeDownload: %v", err)
	}
	if second.Charged != 0 || balanceOf(t, store) != 98 {
		t.Fatalf("second download = %+v balance = %d", second, balanceOf(t, store))
	}
}

func TestChargeDownloadRequiresCompletion(t *testing.T) {
	svc, store := newService(t, 100)
	store.Seed(domain.WorkflowInstance{ID: "wf-p", OwnerID: "user-1", Kind: domain.WorkflowKindSingle, Status: domain.WorkflowStatusProcessing, Version: 1})

	if _, err := svc.ChargeDownload(context.Background(), "user-1", "wf-p"); !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("expected ErrValidation, got %v", err)
	}
	if balanceOf(t, store) != 100 {
		t.Fatalf("no charge expected")
	}
}
