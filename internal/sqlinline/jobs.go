package sqlinline

// Story job statements. Status changes are guarded by the expected current
// status in the WHERE clause; zero affected rows means the transition lost.

const QInsertStoryJob = `--sql 7df3c779-5aaa-48b1-920b-92a64ad04d02
insert into story_jobs (id, owner_id, status, inputs, pages, created_at, updated_at)
values ($1::uuid, $2::text, $3::text, $4::jsonb, '[]'::jsonb, $5::timestamptz, $5::timestamptz);
`

const QSelectStoryJob = `--sql e0e78d22-dba8-4b81-935e-9f3415594ead
select id::text,
       owner_id,
       status,
       inputs,
       coalesce(pages, '[]'::jsonb),
       coalesce(artifact_url, ''),
       coalesce(error_summary, ''),
       created_at,
       updated_at,
       started_at,
       finished_at
from story_jobs
where id = $1::uuid;
`

const QListStoryJobsByOwner = `--sql 16e3dd7b-c6fc-4e85-bdef-3ce5915202ad
select id::text,
       owner_id,
       status,
       inputs,
       coalesce(pages, '[]'::jsonb),
       coalesce(artifact_url, ''),
       coalesce(error_summary, ''),
       created_at,
       updated_at,
       started_at,
       finished_at
from story_jobs
where owner_id = $1::text
order by created_at desc, id desc
limit $2::int offset $3::int;
`

const QMarkStoryJobProcessing = `--sql d0397289-466f-4766-9d56-313b70308477
update story_jobs
set status = 'processing',
    started_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'pending';
`

const QCompleteStoryJob = `--sql 7f1ff9b1-c981-4233-ad55-c7980efd01e4
update story_jobs
set status = 'complete',
    pages = $2::jsonb,
    artifact_url = $3::text,
    error_summary = null,
    finished_at = now(),
    updated_at = now()
where id = $1::uuid
  and status = 'processing';
`

const QFailStoryJob = `--sql 155dab7c-34b0-4c6f-a4d8-f78898bc7117
update story_jobs
set status = 'failed',
    error_summary = $2::text,
    finished_at = now(),
    updated_at = now()
where id = $1::uuid
  and status in ('pending', 'processing');
`

const QFailStaleStoryJobs = `--sql 9d05e290-c6fb-4ec5-9f84-24ed693de713
update story_jobs
set status = 'failed',
    error_summary = case when status = 'pending' then $3::text else $2::text end,
    finished_at = now(),
    updated_at = now()
where status in ('pending', 'processing')
  and updated_at < $1::timestamptz
returning id::text;
`

const QStoryJobExists = `--sql 77c1b8b1-eb03-4cbf-a11a-5462d72c2c25
select exists(select 1 from story_jobs where id = $1::uuid);
`
