package sqlinline

const QInsertMission = `--sql 8c1f2a4e-7d35-4a29-9e6b-2f4c8d1a6b3e
insert into missions (id, type, prompt, status, progress_message, result_present, error_message, operation_json, created_at, updated_at)
values (?, ?, ?, ?, ?, ?, ?, ?, ?, ?);
`

const MissionColumns = `id, type, prompt, status, progress_message, result_present, error_message, operation_json, created_at, updated_at`

const QSelectMissions = `--sql 5b9d3e71-a842-4c6f-b1d0-9e7a5c2f8d41
select ` + MissionColumns + `
from missions
order by created_at asc, id asc;
`

const QSelectMissionByID = `--sql e4a7c912-3f58-4b6d-a2e9-7c1b5d8f4a26
select ` + MissionColumns + `
from missions
where id = ?;
`

const QPatchMission = `--sql 2d8e5f3a-91c4-4e7b-8a6d-4b2f9c7e1d53
update missions
set status = coalesce(?, status),
    progress_message = coalesce(?, progress_message),
    result_present = coalesce(?, result_present),
    error_message = coalesce(?, error_message),
    operation_json = coalesce(?, operation_json),
    updated_at = ?
where id = ?;
`

const QClaimNextPending = `--sql 7f3b9d25-6e81-4c4a-b5f7-1d9e8a3c6b74
update missions
set status = 'in_progress', updated_at = ?
where id = (
    select id from missions
    where status = 'pending'
    order by created_at asc, id asc
    limit 1
)
and not exists (select 1 from missions where status = 'in_progress')
returning ` + MissionColumns + `;
`

const QReconcileInterrupted = `--sql a6d2f8e4-5c93-4b1e-9d7a-8e4b2c6f1a35
update missions
set status = 'pending', progress_message = '', updated_at = ?
where status = 'in_progress';
`

const QSelectFinishedIDs = `--sql 9e5a1c73-2b84-4d6f-a9e2-6f3d8b5c7a18
select id from missions
where status in ('completed', 'failed')
order by created_at asc, id asc;
`

const QDeleteFinished = `--sql 4c8f2b96-7a15-4e3d-b8c4-2a9d6e1f5b37
delete from missions
where status in ('completed', 'failed');
`

const QCountMissionsByStatus = `--sql 1a7e4d52-8f36-4c9b-a5d1-3e8c7b2f9d64
select count(1) from missions where status = ?;
`
