package sqlinline

const QEnsureSchemaMigrations = `--sql f0fd3ec4-a9bc-49b9-aed7-72a908390b95
create table if not exists schema_migrations (
    version text primary key,
    applied_at timestamptz not null default now()
);
`

const QSelectSchemaMigration = `--sql b06cea1c-fde0-4f5c-a115-7b69ac920c26
select exists(select 1 from schema_migrations where version = $1::text);
`

const QInsertSchemaMigration = `--sql 009dc4cd-d94f-4ea2-b426-5b6de73fc772
insert into schema_migrations (version, applied_at)
values ($1::text, now());
`
