package sqlinline

const QInsertStep = `--sql 43805d1c-5883-4ef4-b412-110a410e63bf
insert into protection_steps (artwork_id, step_order, method, config_json, input_url, status)
values ($1, $2, $3, $4, $5, 'PENDING')
on conflict (artwork_id, step_order) where not superseded do nothing
returning id, created_at, updated_at;
`

const QStepByID = `--sql 1e08bc84-a8a6-412a-8356-6971440c0d71
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where id = $1;
`

const QStepByExternalID = `--sql f4368c22-1740-497b-be58-848401ff8edd
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where external_id = $1 and not superseded
order by created_at desc
limit 1;
`

const QStepByOrder = `--sql 8e32f90b-4021-46be-8bca-1ab3f6953e87
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where artwork_id = $1 and step_order = $2 and not superseded;
`

const QLatestStepForArtwork = `--sql 99501d7c-cc4a-4b75-95a8-309d3a696218
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where artwork_id = $1 and not superseded
order by step_order desc
limit 1;
`

const QStepsForArtwork = `--sql 054e7e1e-5240-4a6c-a92a-28f910260000
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where artwork_id = $1 and not superseded
order by step_order asc;
`

const QStepsRunning = `--sql 073a173e-3590-4a60-b473-22729f807bd9
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where status in ('QUEUED', 'PROCESSING') and not superseded
order by updated_at asc
limit $1;
`

const QStepsPendingContinuations = `--sql 066010c4-8ead-4088-ae24-d8ed1f5b6d89
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where status = 'PENDING' and step_order > 0 and not superseded
order by created_at asc
limit $1;
`

const QStepsPendingStarts = `--sql 7ef970ec-ced3-444f-83fd-6e783b6819e5
select id, artwork_id, step_order, method, config_json, input_url, output_url,
       output_key, external_id, status, error_message, meta_json, created_at, updated_at
from protection_steps
where status = 'PENDING' and step_order = 0 and not superseded
order by created_at asc
limit $1;
`

const QCountActiveSteps = `--sql 8e22a15e-fd00-4224-8e50-9a7e487113a9
select count(*)
from protection_steps
where status in ('QUEUED', 'PROCESSING') and not superseded;
`

const QMarkStepDispatched = `--sql e4bba92f-e8b7-4660-8744-7989942736ff
update protection_steps
set status = 'QUEUED', external_id = $2, updated_at = now()
where id = $1 and status = 'PENDING';
`

const QMarkStepProcessing = `--sql ef55d50f-0b71-4602-8523-5459d747c88f
update protection_steps
set status = 'PROCESSING', updated_at = now()
where id = $1 and status = 'QUEUED';
`

const QMarkStepCompleted = `--sql 7831b166-7e58-44bb-b496-39cdc77a83d8
update protection_steps
set status = 'COMPLETED', output_url = $2, output_key = $3, meta_json = $4,
    error_message = '', updated_at = now()
where id = $1 and status in ('QUEUED', 'PROCESSING');
`

const QMarkStepFailed = `--sql 508d34a2-5c13-4f8a-960b-9705f3fd1fd2
update protection_steps
set status = 'FAILED', error_message = $2, updated_at = now()
where id = $1 and status in ('PENDING', 'QUEUED', 'PROCESSING');
`

const QMarkCompletedStepFailed = `--sql c01332ab-d0ef-4b72-8cde-4dbd16893dc4
update protection_steps
set status = 'FAILED', error_message = $2, updated_at = now()
where id = $1 and status = 'COMPLETED';
`

const QResetStepForRetry = `--sql 6c8e0acb-92f9-44de-9a24-cb67d5def6cd
update protection_steps
set status = 'PENDING', external_id = '', error_message = '',
    output_url = '', output_key = '', meta_json = null, updated_at = now()
where id = $1 and status in ('PENDING', 'FAILED');
`

const QSupersedeStepsForArtwork = `--sql 4a3e6953-9e51-44ad-8ca1-4719d27537a1
update protection_steps
set superseded = true,
    status = 'FAILED',
    error_message = $2,
    updated_at = now()
where artwork_id = $1 and not superseded
returning id, artwork_id, step_order, method, config_json, input_url, output_url,
          output_key, external_id, status, error_message, meta_json, created_at, updated_at;
`
