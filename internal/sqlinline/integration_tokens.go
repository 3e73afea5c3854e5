package sqlinline

const QSelectIntegrationToken = `--sql d5b8015c-11d4-48e7-9289-1296efa5a0ff
select token
from integration_tokens
where provider = $1::text
order by updated_at desc
limit 1;
`

const QUpsertIntegrationToken = `--sql 527d47ae-4e22-4a6f-9714-9e742271010b
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`

const QListIntegrationProviders = `--sql 84976739-82f8-4cbd-84d9-d1a25a8fde3c
select provider, updated_at
from integration_tokens
order by provider;
`
