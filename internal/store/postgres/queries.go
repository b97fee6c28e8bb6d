package postgres

const querySchema = `
CREATE TABLE IF NOT EXISTS dead_letters (
    id               BIGSERIAL PRIMARY KEY,
    correlation_id   TEXT        NOT NULL,
    error_kind       TEXT        NOT NULL,
    error_message    TEXT        NOT NULL,
    original_message JSONB       NOT NULL,
    retry_count      INT,
    failed_at        TIMESTAMPTZ NOT NULL,
    archived_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_dead_letters_correlation_id ON dead_letters (correlation_id);
CREATE INDEX IF NOT EXISTS idx_dead_letters_failed_at ON dead_letters (failed_at DESC);

CREATE TABLE IF NOT EXISTS delivery_attempts (
    id             UUID PRIMARY KEY,
    correlation_id TEXT        NOT NULL,
    channel        TEXT        NOT NULL,
    retry_count    INT         NOT NULL,
    outcome        TEXT        NOT NULL,
    error          TEXT        NOT NULL DEFAULT '',
    started_at     TIMESTAMPTZ NOT NULL,
    finished_at    TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_delivery_attempts_correlation_id ON delivery_attempts (correlation_id);
`

const queryInsertDeadLetter = `
INSERT INTO dead_letters (correlation_id, error_kind, error_message, original_message, retry_count, failed_at)
VALUES ($1, $2, $3, $4, $5, $6)
`

const queryListDeadLetters = `
SELECT id, correlation_id, error_kind, error_message, original_message, retry_count, failed_at, archived_at
FROM dead_letters
ORDER BY failed_at DESC
LIMIT $1 OFFSET $2
`

const queryInsertDeliveryAttempt = `
INSERT INTO delivery_attempts (id, correlation_id, channel, retry_count, outcome, error, started_at, finished_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

const queryListDeliveryAttempts = `
SELECT id, correlation_id, channel, retry_count, outcome, error, started_at, finished_at
FROM delivery_attempts
WHERE correlation_id = $1
ORDER BY started_at ASC
`
