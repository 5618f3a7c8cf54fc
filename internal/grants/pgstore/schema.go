package pgstore

// Schema creates every table used by the grant workers. It is idempotent and
// runs on start-up when storage.auto_migrate is set.
const Schema = `
CREATE TABLE IF NOT EXISTS grants (
	id              TEXT PRIMARY KEY,
	workspace_id    BIGINT      NOT NULL,
	active          BOOLEAN     NOT NULL DEFAULT TRUE,
	num_applicants  BIGINT      NOT NULL DEFAULT 0,
	metadata_hash   TEXT        NOT NULL,
	custody_account TEXT        NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS grant_balances (
	grant_id TEXT          NOT NULL REFERENCES grants (id),
	asset    TEXT          NOT NULL,
	amount   NUMERIC(78,0) NOT NULL DEFAULT 0 CHECK (amount >= 0),
	PRIMARY KEY (grant_id, asset)
);

CREATE TABLE IF NOT EXISTS application_counter (
	singleton BOOLEAN PRIMARY KEY DEFAULT TRUE CHECK (singleton),
	next_id   BIGINT  NOT NULL
);
INSERT INTO application_counter (singleton, next_id) VALUES (TRUE, 0) ON CONFLICT DO NOTHING;

CREATE TABLE IF NOT EXISTS applications (
	id              BIGINT PRIMARY KEY,
	workspace_id    BIGINT      NOT NULL,
	grant_id        TEXT        NOT NULL REFERENCES grants (id),
	owner           TEXT        NOT NULL,
	milestone_count INT         NOT NULL CHECK (milestone_count > 0),
	metadata_hash   TEXT        NOT NULL,
	state           SMALLINT    NOT NULL,
	milestones_done BOOLEAN     NOT NULL DEFAULT FALSE,
	created_at      TIMESTAMPTZ NOT NULL,
	updated_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS applications_grant_idx ON applications (grant_id);

CREATE TABLE IF NOT EXISTS application_milestones (
	application_id BIGINT   NOT NULL REFERENCES applications (id),
	milestone_id   INT      NOT NULL,
	state          SMALLINT NOT NULL DEFAULT 0,
	PRIMARY KEY (application_id, milestone_id)
);

CREATE TABLE IF NOT EXISTS applicant_grants (
	owner          TEXT   NOT NULL,
	grant_id       TEXT   NOT NULL,
	application_id BIGINT NOT NULL,
	PRIMARY KEY (owner, grant_id)
);

CREATE TABLE IF NOT EXISTS milestone_disbursals (
	application_id BIGINT        NOT NULL REFERENCES applications (id),
	milestone_id   INT           NOT NULL,
	mode           TEXT          NOT NULL,
	asset          TEXT          NOT NULL,
	amount         NUMERIC(78,0) NOT NULL,
	source         TEXT          NOT NULL,
	recipient      TEXT          NOT NULL,
	reference      TEXT          NOT NULL UNIQUE,
	disbursed_by   TEXT          NOT NULL,
	disbursed_at   TIMESTAMPTZ   NOT NULL,
	PRIMARY KEY (application_id, milestone_id)
);

CREATE TABLE IF NOT EXISTS application_events (
	id             UUID PRIMARY KEY,
	type           TEXT        NOT NULL,
	actor          TEXT        NOT NULL,
	workspace_id   BIGINT      NOT NULL,
	grant_id       TEXT,
	application_id BIGINT,
	milestone_id   INT,
	reason         TEXT,
	data           JSONB,
	occurred_at    TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS application_events_app_idx ON application_events (application_id, occurred_at);

CREATE TABLE IF NOT EXISTS workspace_members (
	workspace_id BIGINT NOT NULL,
	principal    TEXT   NOT NULL,
	role         TEXT   NOT NULL DEFAULT 'admin',
	PRIMARY KEY (workspace_id, principal)
);

CREATE TABLE IF NOT EXISTS principal_contacts (
	principal    TEXT PRIMARY KEY,
	display_name TEXT,
	email        TEXT,
	phone        TEXT
);
`
