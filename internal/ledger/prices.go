package ledger

import (
	"fmt"
	"strings"

	"genflow/internal/domain"
)

// Prices is the credit price table.
type Prices struct {
	Single            int
	Character         int
	CompetitorReplica int
	SegmentBase       int
	PerSegment        int
	RegeneratePhoto   int
	RegenerateVideo   int
	Download          int
}

// DefaultPrices returns the built-in price table.
func DefaultPrices() Prices {
	return Prices{
		Single:            30,
		Character:         35,
		CompetitorReplica: 40,
		SegmentBase:       10,
		PerSegment:        15,
		RegeneratePhoto:   5,
		RegenerateVideo:   12,
		Download:          2,
	}
}

// WithOverrides applies a policy file's [pricing] table. Unknown keys are an error.
func (p Prices) WithOverrides(overrides map[string]int) (Prices, error) {
	fields := map[string]*int{
		"single":             &p.Single,
		"character":          &p.Character,
		"competitor_replica": &p.CompetitorReplica,
		"segment_base":       &p.SegmentBase,
		"per_segment":        &p.PerSegment,
		"regenerate_photo":   &p.RegeneratePhoto,
		"regenerate_video":   &p.RegenerateVideo,
		"download":           &p.Download,
	}
	for key, value := range overrides {
		field, ok := fields[key]
		if !ok {
			return p, fmt.Errorf("unknown price %q", key)
		}
		*field = value
	}
	return p, nil
}

// Submission returns the up-front price of a new instance.
func (p Prices) Submission(kind domain.WorkflowKind, segments int) int {
	switch kind {
	case domain.WorkflowKindSegmented:
		return p.SegmentBase + p.PerSegment*segments
	case domain.WorkflowKindCharacter:
		return p.Character
	case domain.WorkflowKindCompetitorReplica:
		return p.CompetitorReplica
	default:
		return p.Single
	}
}

// SubmissionDescription is the description of a new instance's charge.
func SubmissionDescription(kind domain.WorkflowKind) string {
	return fmt.Sprintf("Generate %s workflow", strings.ReplaceAll(string(kind), "_", " "))
}
