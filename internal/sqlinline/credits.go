package sqlinline

// QDebitCredits subtracts $3 only when the balance covers it. When it does
// not, ok is false and balance is the untouched current balance.
const QDebitCredits = `--sql 7ebd4726-a708-4fdc-989e-fd84dfed750e
with debited as (
    update users set
        credits = credits - $3::int,
        updated_at = now()
    where id = $2::uuid
      and credits >= $3::int
    returning id, credits
),
logged as (
    insert into credit_transactions (id, user_id, type, amount, description, linked_instance_id, created_at)
    select $1::uuid, d.id, 'usage', -$3::int, $4::text, $5::uuid, now()
    from debited d
    returning created_at
)
select
    exists(select 1 from debited) as ok,
    coalesce((select credits from debited), (select credits from users where id = $2::uuid), 0) as balance,
    (select created_at from logged) as created_at;
`

const QCreditCredits = `--sql eca9b159-c98b-40ac-b68f-a39db452a054
with credited as (
    update users set
        credits = credits + $3::int,
        updated_at = now()
    where id = $2::uuid
    returning id, credits
),
logged as (
    insert into credit_transactions (id, user_id, type, amount, description, linked_instance_id, created_at)
    select $1::uuid, c.id, $4::text, $3::int, $5::text, $6::uuid, now()
    from credited c
    returning created_at
)
select c.credits, l.created_at
from credited c, logged l;
`

const QSelectCredits = `--sql 2e47a665-12c5-4e25-be31-66ed1faa4c26
select credits
from users
where id = $1::uuid
limit 1;
`

const QListCreditTransactions = `--sql 9b2d1dff-d4b5-4425-b45c-e971fb0e1d1a
select
    id::text,
    user_id::text,
    type,
    amount,
    coalesce(description, ''),
    linked_instance_id::text,
    created_at
from credit_transactions
where user_id = $1::uuid
order by created_at desc, id desc
limit $2::int;
`

const QSelectUserIDByEmail = `--sql 69454706-f1fc-402f-a90f-7b8e253caf15
select id::text
from users
where lower(email) = lower($1::text)
limit 1;
`
