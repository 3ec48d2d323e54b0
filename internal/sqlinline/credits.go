package sqlinline

const QInsertCreditTransaction = `--sql 6a8ef47d-7fbe-49c3-94d8-9b1bc42b063c
insert into credit_transactions (user_id, amount, description, idempotency_key, metadata_json)
values ($1, $2, $3, $4, $5)
on conflict (idempotency_key) do nothing;
`

const QCreditBalance = `--sql 84f0d359-b7a5-4fc5-8edf-e376ccd57640
select coalesce(sum(amount), 0)::int
from credit_transactions
where user_id = $1;
`
