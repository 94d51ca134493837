package sqlinline

const QInsertWorkflow = `--sql 4bbc2ad7-7fba-418f-b645-d86d9c4df964
insert into workflow_instances (
    id, owner_id, kind, status, current_step, progress_percent,
    model_config, inputs, credits_cost, credits_refunded, download_credits_used,
    retry_count, version, created_at, updated_at
)
values ($1::uuid, $2::uuid, $3::text, $4::text, $5::text, $6::int,
        $7::jsonb, $8::jsonb, $9::int, false, 0,
        0, 1, now(), now())
returning version, created_at, updated_at;
`

const workflowColumns = `
    id::text,
    owner_id::text,
    kind,
    status,
    current_step,
    progress_percent,
    model_config,
    inputs,
    analysis_result,
    prompts,
    cover_task_id,
    video_task_id,
    merge_task_id,
    cover_image_url,
    video_url,
    merged_video_url,
    credits_cost,
    credits_refunded,
    download_credits_used,
    retry_count,
    error_message,
    version,
    created_at,
    updated_at,
    last_processed_at
`

const QSelectWorkflowByID = `--sql 364f51d6-ce55-4685-992a-589ac5d5f259
select` + workflowColumns + `from workflow_instances
where id = $1::uuid
limit 1;
`

// QListDueWorkflows returns the least recently processed active instances
// first; never-processed instances sort ahead of everything else.
const QListDueWorkflows = `--sql e950992c-3ea3-4981-a944-be2ebed21470
select` + workflowColumns + `from workflow_instances
where status = any($1::text[])
order by last_processed_at asc nulls first, created_at asc
limit $2::int;
`

const QUpdateWorkflowCAS = `--sql 22607463-ada8-4f9a-852c-70715541a79f
update workflow_instances set
    status = $3::text,
    current_step = $4::text,
    progress_percent = $5::int,
    analysis_result = $6::jsonb,
    prompts = $7::jsonb,
    cover_task_id = $8::text,
    video_task_id = $9::text,
    merge_task_id = $10::text,
    cover_image_url = $11::text,
    video_url = $12::text,
    merged_video_url = $13::text,
    credits_refunded = $14::boolean,
    download_credits_used = $15::int,
    retry_count = $16::int,
    error_message = $17::text,
    last_processed_at = $18::timestamptz,
    version = version + 1,
    updated_at = now()
where id = $1::uuid
  and version = $2::int
returning version, updated_at;
`
