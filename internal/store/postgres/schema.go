package postgres

const schemaDDL = `
CREATE TABLE IF NOT EXISTS answers (
    answer_id   TEXT PRIMARY KEY,
    session_id  TEXT NOT NULL,
    question_id TEXT NOT NULL,
    body        TEXT NOT NULL,
    created_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_answers_session ON answers (session_id, created_at);

CREATE TABLE IF NOT EXISTS outbox_events (
    id              BIGSERIAL PRIMARY KEY,
    event_type      TEXT NOT NULL,
    aggregate_key   TEXT NOT NULL,
    payload         BYTEA NOT NULL,
    trace_id        TEXT NOT NULL,
    status          TEXT NOT NULL DEFAULT 'pending',
    attempts        INTEGER NOT NULL DEFAULT 0,
    failure_reason  TEXT,
    next_attempt_at TIMESTAMPTZ NOT NULL,
    created_at      TIMESTAMPTZ NOT NULL,
    published_at    TIMESTAMPTZ
);
CREATE INDEX IF NOT EXISTS idx_outbox_pending
    ON outbox_events (next_attempt_at, id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate
    ON outbox_events (aggregate_key, id) WHERE status = 'pending';
CREATE INDEX IF NOT EXISTS idx_outbox_status ON outbox_events (status);

CREATE TABLE IF NOT EXISTS analysis_tasks (
    unit_key           TEXT PRIMARY KEY,
    aggregate_key      TEXT NOT NULL,
    trace_id           TEXT NOT NULL,
    instant_status     TEXT NOT NULL DEFAULT 'PENDING',
    deep_status        TEXT NOT NULL DEFAULT 'PENDING',
    instant_result     JSONB,
    deep_result        JSONB,
    instant_updated_at TIMESTAMPTZ NOT NULL,
    deep_updated_at    TIMESTAMPTZ NOT NULL,
    created_at         TIMESTAMPTZ NOT NULL,
    updated_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_tasks_aggregate ON analysis_tasks (aggregate_key);

CREATE TABLE IF NOT EXISTS profile_results (
    unit_key   TEXT NOT NULL,
    phase      TEXT NOT NULL,
    session_id TEXT NOT NULL,
    result     JSONB NOT NULL,
    stored_at  TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (unit_key, phase)
);
CREATE INDEX IF NOT EXISTS idx_profile_session ON profile_results (session_id);
`
