// Package sweep is the batch driver that advances every active workflow
// instance by at most a few steps per invocation. Invocations are stateless
// and may overlap; compare-and-swap writes turn a lost race into a no-op.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
	"genflow/internal/ledger"
	"genflow/internal/pipeline"
	"genflow/internal/providers"
	"genflow/internal/segments"
	"genflow/internal/taskstatus"
)

// SegmentDriver performs per-segment work.
type SegmentDriver interface {
	Apply(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, a pipeline.SegmentAction) (segments.Outcome, error)
	MergeInputs(inst *domain.WorkflowInstance, segs []domain.Segment) (clips []string, frames []string, err error)
}

// ProviderSource resolves the provider of a stage and model.
type ProviderSource interface {
	For(stage domain.Stage, model string) (providers.TaskProvider, error)
}

// Options configures a Scheduler.
type Options struct {
	Repo      domain.WorkflowRepository
	Segments  SegmentDriver
	Providers ProviderSource
	Analyzer  providers.Analyzer
	Drafter   providers.PromptDrafter
	Ledger    ledger.Refunder
	Policy    Policy
	Logger    *infra.Logger
	Now       func() time.Time
	// Sleep waits between instances; it returns early when ctx ends.
	Sleep func(ctx context.Context, d time.Duration)
}

// Scheduler runs sweeps.
type Scheduler struct {
	repo      domain.WorkflowRepository
	segments  SegmentDriver
	providers ProviderSource
	analyzer  providers.Analyzer
	drafter   providers.PromptDrafter
	ledger    ledger.Refunder
	policy    Policy
	logger    *infra.Logger
	now       func() time.Time
	sleep     func(ctx context.Context, d time.Duration)
}

// Summary aggregates one sweep. TimedOut instances are also counted in
// Failed.
type Summary struct {
	Processed int `json:"processed"`
	Completed int `json:"completed"`
	Failed    int `json:"failed"`
	Retried   int `json:"retried"`
	TimedOut  int `json:"timed_out"`
	Idle      int `json:"idle"`
}

type result int

const (
	resultProgressed result = iota
	resultWaiting
	resultIdle
	resultSkipped
	resultCompleted
	resultFailed
	resultTimedOut
	resultRetried
)

// step tells the chain loop what to do after an action.
type step int

const (
	stepContinue step = iota
	stepWait
	stepPending
	stepDone
)

// New constructs a Scheduler.
func New(opts Options) (*Scheduler, error) {
	switch {
	case opts.Repo == nil:
		return nil, errors.New("sweep: repository is required")
	case opts.Segments == nil:
		return nil, errors.New("sweep: segment driver is required")
	case opts.Providers == nil:
		return nil, errors.New("sweep: provider source is required")
	case opts.Analyzer == nil || opts.Drafter == nil:
		return nil, errors.New("sweep: analyzer and prompt drafter are required")
	case opts.Ledger == nil:
		return nil, errors.New("sweep: ledger is required")
	}
	policy := opts.Policy
	if policy.BatchLimit <= 0 {
		policy = DefaultPolicy()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	sleep := opts.Sleep
	if sleep == nil {
		sleep = sleepCtx
	}
	return &Scheduler{
		repo:      opts.Repo,
		segments:  opts.Segments,
		providers: opts.Providers,
		analyzer:  opts.Analyzer,
		drafter:   opts.Drafter,
		ledger:    opts.Ledger,
		policy:    policy,
		logger:    infra.LoggerOrDiscard(opts.Logger),
		now:       now,
		sleep:     sleep,
	}, nil
}

// RunSweep loads up to BatchLimit active instances, oldest
// last_processed_at first, and processes them one after another. A failure
// of one instance never aborts the batch; only failing to load the batch or
// a cancelled ctx return an error.
func (s *Scheduler) RunSweep(ctx context.Context) (Summary, error) {
	var sum Summary
	due, err := s.repo.ListDue(ctx, domain.ActiveStatuses, s.policy.BatchLimit)
	if err != nil {
		return sum, domain.Wrap(domain.ErrPersistence, "sweep", "list due instances", err)
	}
	started := s.now()
	for i := range due {
		if err := ctx.Err(); err != nil {
			return sum, err
		}
		if i > 0 && s.policy.ItemDelay > 0 {
			s.sleep(ctx, s.policy.ItemDelay)
		}
		inst := due[i]
		sum.Processed++
		switch s.process(ctx, &inst) {
		case resultCompleted:
			sum.Completed++
		case resultFailed:
			sum.Failed++
		case resultTimedOut:
			sum.Failed++
			sum.TimedOut++
		case resultRetried:
			sum.Retried++
		case resultIdle:
			sum.Idle++
		}
	}
	s.logger.Info().
		Int("processed", sum.Processed).
		Int("completed", sum.Completed).
		Int("failed", sum.Failed).
		Int("retried", sum.Retried).
		Int("timed_out", sum.TimedOut).
		Dur("elapsed", s.now().Sub(started)).
		Msg("sweep: finished")
	return sum, nil
}

func (s *Scheduler) process(ctx context.Context, inst *domain.WorkflowInstance) result {
	threshold := s.policy.Threshold(inst.CurrentStep)
	clock := inst.CreatedAt
	if inst.LastProcessedAt != nil {
		clock = *inst.LastProcessedAt
	}
	if s.now().Sub(clock) > threshold {
		msg := fmt.Sprintf("Task timeout: no progress for %d minutes", int(threshold/time.Minute))
		if err := s.fail(ctx, inst, nil, msg); err != nil {
			return s.handleError(ctx, inst, err)
		}
		return resultTimedOut
	}

	progressed := false
	for n := 0; n < s.policy.MaxChain; n++ {
		segs, err := s.loadSegments(ctx, inst)
		if err != nil {
			return s.handleError(ctx, inst, err)
		}
		action := pipeline.Resolve(inst, segs)
		if action == nil {
			if progressed {
				return resultProgressed
			}
			if err := s.save(ctx, inst, segs, true); err != nil {
				return s.handleError(ctx, inst, err)
			}
			return resultIdle
		}
		s.logger.Debug().Str("instance_id", inst.ID).Str("step", string(inst.CurrentStep)).Str("rule", action.Rule).
			Msg("sweep: resolved")
		next, err := s.perform(ctx, inst, segs, action)
		if err != nil {
			return s.handleError(ctx, inst, err)
		}
		switch next {
		case stepContinue:
			progressed = true
		case stepWait:
			return resultWaiting
		case stepPending:
			if progressed {
				return resultProgressed
			}
			return resultWaiting
		case stepDone:
			if inst.Status == domain.WorkflowStatusCompleted {
				return resultCompleted
			}
			return resultFailed
		}
	}
	return resultProgressed
}

func (s *Scheduler) perform(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, a *pipeline.Action) (step, error) {
	switch a.Kind {
	case pipeline.ActionStart:
		inst.Status = domain.WorkflowStatusProcessing
		inst.CurrentStep = a.Next
		return stepContinue, s.save(ctx, inst, segs, true)

	case pipeline.ActionAdvance:
		inst.CurrentStep = a.Next
		return stepContinue, s.save(ctx, inst, segs, true)

	case pipeline.ActionAnalyze:
		analysis, err := s.analyzer.Analyze(ctx, providers.AnalyzeRequest{Kind: inst.Kind, Inputs: inst.Inputs})
		if err != nil {
			return stepDone, err
		}
		inst.Analysis = &analysis
		inst.CurrentStep = a.Next
		return stepContinue, s.save(ctx, inst, segs, true)

	case pipeline.ActionDraftPrompts:
		prompts, err := s.drafter.Draft(ctx, providers.DraftRequest{
			Kind:     inst.Kind,
			Inputs:   inst.Inputs,
			Analysis: inst.Analysis,
			Config:   inst.ModelConfig,
		})
		if err != nil {
			return stepDone, err
		}
		inst.Prompts = &prompts
		inst.CurrentStep = a.Next
		return stepContinue, s.save(ctx, inst, segs, true)

	case pipeline.ActionSubmitCover:
		req := providers.TaskRequest{
			Stage:          domain.StageImage,
			Model:          providers.ModelFor(domain.StageImage, inst.ModelConfig),
			Prompt:         inst.Prompts.CoverPrompt,
			NegativePrompt: inst.Prompts.NegativePrompt,
			AspectRatio:    inst.ModelConfig.AspectRatio,
			Quality:        inst.ModelConfig.Quality,
			ImageURLs:      append([]string(nil), inst.Inputs.ImageURLs...),
			Reference:      inst.ID,
		}
		taskID, err := s.submit(ctx, inst, req)
		if err != nil {
			return stepDone, err
		}
		inst.CoverTaskID = &taskID
		return stepWait, s.saveSubmitted(ctx, inst, segs, taskID)

	case pipeline.ActionPollCover:
		res, err := s.poll(ctx, a.Stage, providers.ModelFor(a.Stage, inst.ModelConfig), a.TaskID)
		if err != nil {
			return stepDone, err
		}
		switch res.State {
		case taskstatus.Success:
			inst.CoverImageURL = &res.URL
			inst.CurrentStep = a.Next
			return stepContinue, s.save(ctx, inst, segs, true)
		case taskstatus.Failed:
			return stepDone, s.fail(ctx, inst, segs, "Cover generation failed: "+res.Error)
		}
		return stepPending, nil

	case pipeline.ActionSubmitVideo:
		req := providers.TaskRequest{
			Stage:           domain.StageVideo,
			Model:           providers.ModelFor(domain.StageVideo, inst.ModelConfig),
			Prompt:          inst.Prompts.VideoPrompt,
			AspectRatio:     inst.ModelConfig.AspectRatio,
			Quality:         inst.ModelConfig.Quality,
			DurationSeconds: inst.ModelConfig.DurationSeconds,
			ImageURLs:       []string{*inst.CoverImageURL},
			Reference:       inst.ID,
		}
		if inst.Kind == domain.WorkflowKindCompetitorReplica && inst.Inputs.CompetitorVideoURL != "" {
			req.VideoURLs = []string{inst.Inputs.CompetitorVideoURL}
		}
		taskID, err := s.submit(ctx, inst, req)
		if err != nil {
			return stepDone, err
		}
		inst.VideoTaskID = &taskID
		return stepWait, s.saveSubmitted(ctx, inst, segs, taskID)

	case pipeline.ActionPollVideo:
		res, err := s.poll(ctx, a.Stage, providers.ModelFor(a.Stage, inst.ModelConfig), a.TaskID)
		if err != nil {
			return stepDone, err
		}
		switch res.State {
		case taskstatus.Success:
			inst.VideoURL = &res.URL
			return stepContinue, s.save(ctx, inst, segs, true)
		case taskstatus.Failed:
			return stepDone, s.fail(ctx, inst, segs, "Video generation failed: "+res.Error)
		}
		return stepPending, nil

	case pipeline.ActionSegments:
		return s.performSegments(ctx, inst, segs, a.Segments)

	case pipeline.ActionSubmitMerge:
		clips, frames, err := s.segments.MergeInputs(inst, segs)
		if err != nil {
			return stepDone, err
		}
		taskID, err := s.submit(ctx, inst, providers.TaskRequest{
			Stage:           domain.StageMerge,
			AspectRatio:     inst.ModelConfig.AspectRatio,
			DurationSeconds: inst.ModelConfig.DurationSeconds,
			VideoURLs:       clips,
			ImageURLs:       frames,
			Reference:       inst.ID,
		})
		if err != nil {
			return stepDone, err
		}
		inst.MergeTaskID = &taskID
		return stepWait, s.saveSubmitted(ctx, inst, segs, taskID)

	case pipeline.ActionPollMerge:
		res, err := s.poll(ctx, a.Stage, "", a.TaskID)
		if err != nil {
			return stepDone, err
		}
		switch res.State {
		case taskstatus.Success:
			inst.MergedVideoURL = &res.URL
			return stepContinue, s.save(ctx, inst, segs, true)
		case taskstatus.Failed:
			return stepDone, s.fail(ctx, inst, segs, "Merge failed: "+res.Error)
		}
		return stepPending, nil

	case pipeline.ActionComplete:
		inst.Status = domain.WorkflowStatusCompleted
		inst.CurrentStep = domain.StepCompleted
		inst.ErrorMessage = nil
		if err := s.save(ctx, inst, segs, true); err != nil {
			return stepDone, err
		}
		s.logger.Info().Str("instance_id", inst.ID).Str("url", inst.FinalURL()).Msg("sweep: workflow completed")
		return stepDone, nil

	case pipeline.ActionFail:
		return stepDone, s.fail(ctx, inst, segs, a.Message)
	}
	return stepDone, domain.Wrap(domain.ErrValidation, "sweep", fmt.Sprintf("unknown action %q", a.Kind), nil)
}

// performSegments applies every sub-action. Lost races are skipped; the first
// other error is returned after the remaining segments had their turn.
func (s *Scheduler) performSegments(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, actions []pipeline.SegmentAction) (step, error) {
	var (
		firstErr error
		waiting  bool
		changed  bool
	)
	for _, a := range actions {
		outcome, err := s.segments.Apply(ctx, inst, segs, a)
		switch {
		case errors.Is(err, domain.ErrConflict):
			s.logger.Debug().Err(err).Str("instance_id", inst.ID).Int("segment_index", a.Index).Msg("sweep: segment race lost")
			continue
		case err != nil:
			s.logger.Warn().Err(err).Str("instance_id", inst.ID).Int("segment_index", a.Index).Str("action", string(a.Kind)).
				Msg("sweep: segment action failed")
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		switch outcome {
		case segments.OutcomeSubmitted:
			changed, waiting = true, true
		case segments.OutcomePending:
			waiting = true
		case segments.OutcomeReady, segments.OutcomeFailed:
			changed = true
		}
	}
	if changed {
		fresh, err := s.loadSegments(ctx, inst)
		if err != nil {
			return stepDone, err
		}
		if err := s.save(ctx, inst, fresh, true); err != nil {
			return stepDone, err
		}
	}
	if firstErr != nil {
		return stepDone, firstErr
	}
	switch {
	case changed && !waiting:
		return stepContinue, nil
	case changed:
		return stepWait, nil
	}
	return stepPending, nil
}

func (s *Scheduler) submit(ctx context.Context, inst *domain.WorkflowInstance, req providers.TaskRequest) (string, error) {
	if err := s.checkFresh(ctx, inst); err != nil {
		return "", err
	}
	p, err := s.providers.For(req.Stage, req.Model)
	if err != nil {
		return "", err
	}
	taskID, err := p.Submit(ctx, req)
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(taskID) == "" {
		return "", domain.Wrap(domain.ErrProvider, "sweep", "provider returned an empty task id", nil)
	}
	return taskID, nil
}

func (s *Scheduler) poll(ctx context.Context, stage domain.Stage, model, taskID string) (taskstatus.Result, error) {
	p, err := s.providers.For(stage, model)
	if err != nil {
		return taskstatus.Result{}, err
	}
	raw, err := p.Poll(ctx, taskID)
	if err != nil {
		return taskstatus.Result{}, err
	}
	return taskstatus.Normalize(stage, raw), nil
}

// checkFresh rejects a submission when another sweep moved the row since it
// was loaded.
func (s *Scheduler) checkFresh(ctx context.Context, inst *domain.WorkflowInstance) error {
	stored, err := s.repo.GetByID(ctx, inst.ID)
	if err != nil {
		return domain.Wrap(domain.ErrPersistence, "sweep", "reload instance", err)
	}
	if stored.Version != inst.Version {
		return domain.Wrap(domain.ErrConflict, "sweep", "instance changed concurrently", nil)
	}
	return nil
}

func (s *Scheduler) saveSubmitted(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, taskID string) error {
	if err := s.save(ctx, inst, segs, true); err != nil {
		s.logger.Warn().Err(err).Str("instance_id", inst.ID).Str("task_id", taskID).Msg("sweep: submitted task orphaned")
		return err
	}
	s.logger.Info().Str("instance_id", inst.ID).Str("step", string(inst.CurrentStep)).Str("task_id", taskID).
		Msg("sweep: task submitted")
	return nil
}

// save CAS-writes inst. touch marks progress: it advances the timeout clock,
// clears the retry counter and recomputes the progress estimate.
func (s *Scheduler) save(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, touch bool) error {
	if touch {
		now := s.now()
		inst.LastProcessedAt = &now
		inst.RetryCount = 0
		inst.ProgressPercent = pipeline.Progress(inst, segs)
	}
	ok, err := s.repo.Save(ctx, inst)
	if err != nil {
		return domain.Wrap(domain.ErrPersistence, "sweep", "save instance", err)
	}
	if !ok {
		return domain.Wrap(domain.ErrConflict, "sweep", "instance changed concurrently", nil)
	}
	return nil
}

// fail marks inst failed and refunds its up-front charge once.
func (s *Scheduler) fail(ctx context.Context, inst *domain.WorkflowInstance, segs []domain.Segment, message string) error {
	refund := !inst.CreditsRefunded && inst.CreditsCost > 0
	inst.Status = domain.WorkflowStatusFailed
	inst.CurrentStep = domain.StepFailed
	inst.ErrorMessage = &message
	if refund {
		inst.CreditsRefunded = true
	}
	if err := s.save(ctx, inst, segs, false); err != nil {
		return err
	}
	s.logger.Warn().Str("instance_id", inst.ID).Str("error", message).Msg("sweep: workflow failed")
	if !refund {
		return nil
	}
	receipt := ledger.Receipt{
		UserID:      inst.OwnerID,
		Amount:      inst.CreditsCost,
		Description: ledger.SubmissionDescription(inst.Kind),
		InstanceID:  inst.ID,
	}
	if err := s.ledger.Refund(ctx, receipt); err != nil {
		// The flag is already persisted; the balance needs a manual grant.
		s.logger.Error().Err(err).Str("instance_id", inst.ID).Str("user_id", inst.OwnerID).Int("amount", inst.CreditsCost).
			Msg("sweep: failure refund not applied")
	}
	return nil
}

// handleError records err on the instance. Lost races are left to the next
// sweep untouched; other errors count toward the retry cap.
func (s *Scheduler) handleError(ctx context.Context, inst *domain.WorkflowInstance, cause error) result {
	if errors.Is(cause, domain.ErrConflict) {
		s.logger.Debug().Err(cause).Str("instance_id", inst.ID).Msg("sweep: race lost, skipping")
		return resultSkipped
	}
	fresh, err := s.repo.GetByID(ctx, inst.ID)
	if err != nil {
		s.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("sweep: reload after error failed")
		return resultRetried
	}
	if fresh.IsTerminal() {
		return resultSkipped
	}
	fresh.RetryCount++
	fresh.ErrorMessage = domain.ErrorMessage(cause)
	if fresh.RetryCount > s.policy.RetryCap {
		msg := fmt.Sprintf("Failed after %d attempts: %s", fresh.RetryCount, cause.Error())
		if err := s.fail(ctx, fresh, nil, msg); err != nil {
			s.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("sweep: recording failure failed")
			return resultRetried
		}
		return resultFailed
	}
	if err := s.save(ctx, fresh, nil, false); err != nil {
		s.logger.Error().Err(err).Str("instance_id", inst.ID).Msg("sweep: recording retry failed")
	}
	s.logger.Warn().Err(cause).Str("instance_id", inst.ID).Str("step", string(fresh.CurrentStep)).Int("retry_count", fresh.RetryCount).
		Msg("sweep: step failed, will retry")
	return resultRetried
}

func (s *Scheduler) loadSegments(ctx context.Context, inst *domain.WorkflowInstance) ([]domain.Segment, error) {
	if !inst.IsSegmented() {
		return nil, nil
	}
	segs, err := s.repo.ListSegments(ctx, inst.ID)
	if err != nil {
		return nil, domain.Wrap(domain.ErrPersistence, "sweep", "load segments", err)
	}
	return segs, nil
}

func sleepCtx(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
