package sweep

import (
	"fmt"
	"time"

	"genflow/internal/domain"
	"genflow/internal/infra"
)

// Policy bounds one sweep.
type Policy struct {
	BatchLimit int
	ItemDelay  time.Duration
	RetryCap   int
	// MaxChain caps the actions performed on one instance per sweep.
	MaxChain   int
	Thresholds map[domain.Step]time.Duration
	// DefaultThreshold applies to steps without an entry.
	DefaultThreshold time.Duration
}

// DefaultPolicy returns the built-in sweep policy.
func DefaultPolicy() Policy {
	return Policy{
		BatchLimit: 20,
		ItemDelay:  150 * time.Millisecond,
		RetryCap:   5,
		MaxChain:   6,
		Thresholds: map[domain.Step]time.Duration{
			domain.StepQueued:                  15 * time.Minute,
			domain.StepAnalyzingInputs:         15 * time.Minute,
			domain.StepDraftingPrompts:         15 * time.Minute,
			domain.StepGeneratingSegmentFrames: 15 * time.Minute,
			domain.StepGeneratingCover:         20 * time.Minute,
			domain.StepGeneratingVideo:         30 * time.Minute,
			domain.StepGeneratingSegmentVideos: 30 * time.Minute,
			domain.StepMerging:                 30 * time.Minute,
		},
		DefaultThreshold: 30 * time.Minute,
	}
}

// Threshold returns the no-progress budget of step.
func (p Policy) Threshold(step domain.Step) time.Duration {
	if d, ok := p.Thresholds[step]; ok && d > 0 {
		return d
	}
	return p.DefaultThreshold
}

// WithFile applies the [sweep] table of a policy file. Threshold keys must
// name a pipeline step.
func (p Policy) WithFile(f infra.SweepSection) (Policy, error) {
	if f.BatchLimit > 0 {
		p.BatchLimit = f.BatchLimit
	}
	if f.ItemDelayMillis > 0 {
		p.ItemDelay = time.Duration(f.ItemDelayMillis) * time.Millisecond
	}
	if f.RetryCap > 0 {
		p.RetryCap = f.RetryCap
	}
	if f.MaxChain > 0 {
		p.MaxChain = f.MaxChain
	}
	if len(f.ThresholdMinutes) == 0 {
		return p, nil
	}
	thresholds := make(map[domain.Step]time.Duration, len(p.Thresholds))
	for step, d := range p.Thresholds {
		thresholds[step] = d
	}
	for name, minutes := range f.ThresholdMinutes {
		step := domain.Step(name)
		if _, known := p.Thresholds[step]; !known {
			return p, fmt.Errorf("sweep policy: unknown step %q", name)
		}
		thresholds[step] = time.Duration(minutes) * time.Minute
	}
	p.Thresholds = thresholds
	return p, nil
}
