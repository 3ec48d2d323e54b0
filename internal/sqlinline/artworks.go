package sqlinline

const QArtworkByID = `--sql 0f9b5b87-dbdc-4113-8d2f-1889917f0784
select id, user_id, title, url, storage_key, protection_method,
       protection_status, pipeline_json, error_message, created_at, updated_at
from artworks
where id = $1;
`

const QArtworkForUser = `--sql 465a9db1-d15a-40ed-8d9d-a0500b53fc2f
select id, user_id, title, url, storage_key, protection_method,
       protection_status, pipeline_json, error_message, created_at, updated_at
from artworks
where id = $1 and user_id = $2;
`

const QArtworksActive = `--sql b1e11b7b-8209-4737-8cce-bcc53f2a8b0c
select id, user_id, title, url, storage_key, protection_method,
       protection_status, pipeline_json, error_message, created_at, updated_at
from artworks
where protection_status in ('QUEUED', 'PROCESSING')
order by updated_at asc
limit $1;
`

const QCountActiveArtworksForUser = `--sql 1ed62fa0-3e76-42e5-b1ee-11bf39cd81e4
select count(*)
from artworks
where user_id = $1 and protection_status in ('QUEUED', 'PROCESSING');
`

const QSetArtworkPipeline = `--sql 157b84aa-bd09-40c2-8a82-6ba654379fdb
update artworks
set pipeline_json = $2,
    protection_status = $3,
    error_message = '',
    updated_at = now()
where id = $1;
`

const QUpdateArtworkProtection = `--sql 30091bba-9633-48d4-8799-596bc8996ae0
update artworks
set protection_status = $2,
    error_message = $3,
    updated_at = now()
where id = $1;
`

const QUpdateArtworkPipelineCursor = `--sql eb08acb0-d3f4-4fa5-81e6-b63e61c755d1
update artworks
set pipeline_json = jsonb_set(
        jsonb_set(coalesce(pipeline_json, '{}'::jsonb), '{current_step}', to_jsonb($2::int)),
        '{pending}', to_jsonb($3::bool)),
    updated_at = now()
where id = $1;
`
