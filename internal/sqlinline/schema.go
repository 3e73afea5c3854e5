package sqlinline

// Schema lists the idempotent DDL applied by `storyctl migrate` and at API
// startup, in order.
var Schema = []string{
	QCreateStoryJobsTable,
	QCreateStoryJobsOwnerIndex,
	QCreateStoryJobsStatusIndex,
	QCreateIntegrationTokensTable,
}

const QCreateStoryJobsTable = `--sql 8e1e807f-e128-478f-b3c0-5c066320a4cb
create table if not exists story_jobs (
    id            uuid primary key,
    owner_id      text not null,
    status        text not null check (status in ('pending', 'processing', 'complete', 'failed')),
    inputs        jsonb not null,
    pages         jsonb not null default '[]'::jsonb,
    artifact_url  text,
    error_summary text,
    created_at    timestamptz not null default now(),
    updated_at    timestamptz not null default now(),
    started_at    timestamptz,
    finished_at   timestamptz,
    constraint story_jobs_complete_has_artifact
        check (status <> 'complete' or (artifact_url is not null and jsonb_array_length(pages) > 0))
);
`

const QCreateStoryJobsOwnerIndex = `--sql 7a388740-9c8a-4b66-a522-ac7859c4c49e
create index if not exists story_jobs_owner_created_idx
    on story_jobs (owner_id, created_at desc);
`

const QCreateStoryJobsStatusIndex = `--sql a0a57fd0-1ca6-430f-8c29-cb1d7ab1d487
create index if not exists story_jobs_processing_updated_idx
    on story_jobs (updated_at)
    where status = 'processing';
`

const QCreateIntegrationTokensTable = `--sql 3dfc2480-a560-410a-a3e7-c01ef425cf00
create table if not exists integration_tokens (
    id         uuid primary key,
    provider   text not null unique,
    token      text not null,
    properties jsonb not null default '{}'::jsonb,
    created_at timestamptz not null default now(),
    updated_at timestamptz not null default now()
);
`
