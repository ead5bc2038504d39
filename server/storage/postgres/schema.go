package postgres

const schema = `
create table if not exists chat_dialogue (
	seq         bigint generated always as identity,
	id          uuid primary key,
	instruction text not null check (instruction <> ''),
	question    text not null check (question <> ''),
	response    text,
	origin      text not null default 'model',
	created_at  timestamptz not null default now(),
	email       text not null check (email <> '')
);
create index if not exists chat_dialogue_email_created_idx
	on chat_dialogue (email, created_at, seq);
`

const insertDialogue = `
insert into chat_dialogue (id, instruction, question, response, origin, created_at, email)
values ($1, $2, $3, $4, $5, coalesce($6, now()), $7)
returning created_at`

const selectByEmail = `
select id::text, instruction, question, coalesce(response, ''), origin, created_at, email
from chat_dialogue
where email = $1
order by created_at, seq`
