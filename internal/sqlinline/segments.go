package sqlinline

const QInsertSegment = `--sql f2347ab1-9af5-4c82-beef-27243daf9baf
insert into workflow_segments (
    id, project_id, segment_index, prompt, status, retry_count,
    video_generation_approved, is_continuation_from_prev, version, created_at, updated_at
)
values ($1::uuid, $2::uuid, $3::int, $4::jsonb, $5::text, 0,
        $6::boolean, $7::boolean, 1, now(), now())
returning version, created_at, updated_at;
`

const QListSegments = `--sql 3bc28d63-bfd3-4c3a-8391-a29e010f6357
select
    id::text,
    project_id::text,
    segment_index,
    prompt,
    first_frame_task_id,
    first_frame_url,
    closing_frame_task_id,
    closing_frame_url,
    video_task_id,
    video_url,
    status,
    retry_count,
    error_message,
    video_generation_approved,
    is_continuation_from_prev,
    version,
    created_at,
    updated_at
from workflow_segments
where project_id = $1::uuid
order by segment_index asc;
`

const QUpdateSegmentCAS = `--sql 93258794-a492-4a75-af03-ea16fabbba59
update workflow_segments set
    prompt = $3::jsonb,
    first_frame_task_id = $4::text,
    first_frame_url = $5::text,
    closing_frame_task_id = $6::text,
    closing_frame_url = $7::text,
    video_task_id = $8::text,
    video_url = $9::text,
    status = $10::text,
    retry_count = $11::int,
    error_message = $12::text,
    video_generation_approved = $13::boolean,
    version = version + 1,
    updated_at = now()
where id = $1::uuid
  and version = $2::int
returning version, updated_at;
`
