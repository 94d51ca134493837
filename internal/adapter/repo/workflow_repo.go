package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"genflow/internal/domain"
	"genflow/internal/domain/jsoncfg"
	"genflow/internal/infra"
	"genflow/internal/sqlinline"
)

// WorkflowRepositoryPG implements domain.WorkflowRepository.
type WorkflowRepositoryPG struct {
	sql infra.SQLExecutor
	tx  infra.TxRunner
}

// NewWorkflowRepository creates a workflow repository backed by PostgreSQL.
func NewWorkflowRepository(sql infra.SQLExecutor, tx infra.TxRunner) *WorkflowRepositoryPG {
	return &WorkflowRepositoryPG{sql: sql, tx: tx}
}

// Create inserts the instance and its segments in one transaction.
func (r *WorkflowRepositoryPG) Create(ctx context.Context, inst *domain.WorkflowInstance, segments []domain.Segment) error {
	modelConfig, err := json.Marshal(inst.ModelConfig)
	if err != nil {
		return fmt.Errorf("encode model config: %w", err)
	}
	inputs, err := json.Marshal(inst.Inputs)
	if err != nil {
		return fmt.Errorf("encode inputs: %w", err)
	}
	prompts := make([][]byte, len(segments))
	for i := range segments {
		if prompts[i], err = json.Marshal(segments[i].Prompt); err != nil {
			return fmt.Errorf("encode segment %d prompt: %w", i, err)
		}
	}

	type stamp struct {
		version          int
		created, updated time.Time
	}
	var instStamp stamp
	segStamps := make([]stamp, len(segments))
	err = r.tx.InTx(ctx, func(q infra.SQLExecutor) error {
		row := q.QueryRow(ctx, sqlinline.QInsertWorkflow,
			inst.ID,
			inst.OwnerID,
			string(inst.Kind),
			string(inst.Status),
			string(inst.CurrentStep),
			inst.ProgressPercent,
			modelConfig,
			inputs,
			inst.CreditsCost,
		)
		if err := row.Scan(&instStamp.version, &instStamp.created, &instStamp.updated); err != nil {
			return fmt.Errorf("insert workflow: %w", err)
		}
		for i, seg := range segments {
			row := q.QueryRow(ctx, sqlinline.QInsertSegment,
				seg.ID,
				inst.ID,
				seg.SegmentIndex,
				prompts[i],
				string(seg.Status),
				seg.VideoGenerationApproved,
				seg.IsContinuationFromPrev,
			)
			if err := row.Scan(&segStamps[i].version, &segStamps[i].created, &segStamps[i].updated); err != nil {
				return fmt.Errorf("insert segment %d: %w", seg.SegmentIndex, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	inst.Version, inst.CreatedAt, inst.UpdatedAt = instStamp.version, instStamp.created, instStamp.updated
	for i := range segments {
		segments[i].ProjectID = inst.ID
		segments[i].Version, segments[i].CreatedAt, segments[i].UpdatedAt = segStamps[i].version, segStamps[i].created, segStamps[i].updated
	}
	return nil
}

// GetByID fetches an instance by its identifier.
func (r *WorkflowRepositoryPG) GetByID(ctx context.Context, id string) (*domain.WorkflowInstance, error) {
	inst, err := scanWorkflow(r.sql.QueryRow(ctx, sqlinline.QSelectWorkflowByID, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return inst, nil
}

// ListDue returns up to limit instances in the given statuses, least
// recently processed first.
func (r *WorkflowRepositoryPG) ListDue(ctx context.Context, statuses []domain.WorkflowStatus, limit int) ([]domain.WorkflowInstance, error) {
	names := make([]string, len(statuses))
	for i, s := range statuses {
		names[i] = string(s)
	}
	rows, err := r.sql.Query(ctx, sqlinline.QListDueWorkflows, names, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.WorkflowInstance
	for rows.Next() {
		inst, err := scanWorkflow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *inst)
	}
	return out, rows.Err()
}

// Save writes inst when the stored version still equals inst.Version.
func (r *WorkflowRepositoryPG) Save(ctx context.Context, inst *domain.WorkflowInstance) (bool, error) {
	analysis, err := nullableJSON(inst.Analysis)
	if err != nil {
		return false, fmt.Errorf("encode analysis: %w", err)
	}
	prompts, err := nullableJSON(inst.Prompts)
	if err != nil {
		return false, fmt.Errorf("encode prompts: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateWorkflowCAS,
		inst.ID,
		inst.Version,
		string(inst.Status),
		string(inst.CurrentStep),
		inst.ProgressPercent,
		analysis,
		prompts,
		inst.CoverTaskID,
		inst.VideoTaskID,
		inst.MergeTaskID,
		inst.CoverImageURL,
		inst.VideoURL,
		inst.MergedVideoURL,
		inst.CreditsRefunded,
		inst.DownloadCreditsUsed,
		inst.RetryCount,
		inst.ErrorMessage,
		inst.LastProcessedAt,
	)
	var (
		version int
		updated time.Time
	)
	if err := row.Scan(&version, &updated); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	inst.Version, inst.UpdatedAt = version, updated
	return true, nil
}

// ListSegments returns the segments of a project ordered by index.
func (r *WorkflowRepositoryPG) ListSegments(ctx context.Context, projectID string) ([]domain.Segment, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QListSegments, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Segment
	for rows.Next() {
		seg, err := scanSegment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, seg)
	}
	return out, rows.Err()
}

// SaveSegment writes seg when the stored version still equals seg.Version.
func (r *WorkflowRepositoryPG) SaveSegment(ctx context.Context, seg *domain.Segment) (bool, error) {
	prompt, err := json.Marshal(seg.Prompt)
	if err != nil {
		return false, fmt.Errorf("encode segment prompt: %w", err)
	}
	row := r.sql.QueryRow(ctx, sqlinline.QUpdateSegmentCAS,
		seg.ID,
		seg.Version,
		prompt,
		seg.FirstFrameTaskID,
		seg.FirstFrameURL,
		seg.ClosingFrameTaskID,
		seg.ClosingFrameURL,
		seg.VideoTaskID,
		seg.VideoURL,
		string(seg.Status),
		seg.RetryCount,
		seg.ErrorMessage,
		seg.VideoGenerationApproved,
	)
	var (
		version int
		updated time.Time
	)
	if err := row.Scan(&version, &updated); err != nil {
		if infra.IsNoRows(err) {
			return false, nil
		}
		return false, err
	}
	seg.Version, seg.UpdatedAt = version, updated
	return true, nil
}

func scanWorkflow(row pgx.Row) (*domain.WorkflowInstance, error) {
	var (
		inst                                  domain.WorkflowInstance
		kind, status, step                    string
		modelConfig, inputs, analysis, prompt []byte
	)
	if err := row.Scan(
		&inst.ID,
		&inst.OwnerID,
		&kind,
		&status,
		&step,
		&inst.ProgressPercent,
		&modelConfig,
		&inputs,
		&analysis,
		&prompt,
		&inst.CoverTaskID,
		&inst.VideoTaskID,
		&inst.MergeTaskID,
		&inst.CoverImageURL,
		&inst.VideoURL,
		&inst.MergedVideoURL,
		&inst.CreditsCost,
		&inst.CreditsRefunded,
		&inst.DownloadCreditsUsed,
		&inst.RetryCount,
		&inst.ErrorMessage,
		&inst.Version,
		&inst.CreatedAt,
		&inst.UpdatedAt,
		&inst.LastProcessedAt,
	); err != nil {
		return nil, err
	}
	inst.Kind = domain.WorkflowKind(kind)
	inst.Status = domain.WorkflowStatus(status)
	inst.CurrentStep = domain.Step(step)

	var err error
	if inst.ModelConfig, err = jsoncfg.Decode[jsoncfg.ModelConfig](modelConfig); err != nil {
		return nil, fmt.Errorf("workflow %s model_config: %w", inst.ID, err)
	}
	if inst.Inputs, err = jsoncfg.Decode[jsoncfg.Inputs](inputs); err != nil {
		return nil, fmt.Errorf("workflow %s inputs: %w", inst.ID, err)
	}
	if len(analysis) > 0 && string(analysis) != "null" {
		a, err := jsoncfg.Decode[jsoncfg.Analysis](analysis)
		if err != nil {
			return nil, fmt.Errorf("workflow %s analysis_result: %w", inst.ID, err)
		}
		inst.Analysis = &a
	}
	if len(prompt) > 0 && string(prompt) != "null" {
		p, err := jsoncfg.Decode[jsoncfg.Prompts](prompt)
		if err != nil {
			return nil, fmt.Errorf("workflow %s prompts: %w", inst.ID, err)
		}
		inst.Prompts = &p
	}
	return &inst, nil
}

func scanSegment(row pgx.Row) (domain.Segment, error) {
	var (
		seg    domain.Segment
		status string
		prompt []byte
	)
	if err := row.Scan(
		&seg.ID,
		&seg.ProjectID,
		&seg.SegmentIndex,
		&prompt,
		&seg.FirstFrameTaskID,
		&seg.FirstFrameURL,
		&seg.ClosingFrameTaskID,
		&seg.ClosingFrameURL,
		&seg.VideoTaskID,
		&seg.VideoURL,
		&status,
		&seg.RetryCount,
		&seg.ErrorMessage,
		&seg.VideoGenerationApproved,
		&seg.IsContinuationFromPrev,
		&seg.Version,
		&seg.CreatedAt,
		&seg.UpdatedAt,
	); err != nil {
		return domain.Segment{}, err
	}
	seg.Status = domain.SegmentStatus(status)
	p, err := jsoncfg.Decode[jsoncfg.ScenePrompt](prompt)
	if err != nil {
		return domain.Segment{}, fmt.Errorf("segment %s prompt: %w", seg.ID, err)
	}
	seg.Prompt = p
	return seg, nil
}

// nullableJSON encodes v, mapping a nil pointer to SQL NULL.
func nullableJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

var _ domain.WorkflowRepository = (*WorkflowRepositoryPG)(nil)
