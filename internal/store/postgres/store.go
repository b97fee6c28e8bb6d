// Package postgres persists the pipeline's audit surfaces: the
// dead-letter archive and the per-attempt delivery trail.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/ikbalhussain-1/notification-service/internal/api"
	"github.com/ikbalhussain-1/notification-service/internal/dispatcher"
	"github.com/ikbalhussain-1/notification-service/internal/dlq"
	"github.com/ikbalhussain-1/notification-service/internal/domain"
	"github.com/ikbalhussain-1/notification-service/internal/retry"
)

// Store implements dlq.Store, dispatcher.Store, retry.Store and
// api.Store using PostgreSQL.
type Store struct {
	db *sql.DB
}

// New creates a store on the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// EnsureSchema creates the tables and indexes if they do not exist.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, querySchema)
	return err
}

// InsertDeadLetter archives one dead-letter record.
func (s *Store) InsertDeadLetter(ctx context.Context, correlationID string, record domain.DeadLetterRecord) error {
	var retryCount sql.NullInt64
	if record.RetryMetadata != nil {
		retryCount = sql.NullInt64{Int64: int64(record.RetryMetadata.RetryCount), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, queryInsertDeadLetter,
		correlationID,
		record.Error.Kind,
		record.Error.Message,
		[]byte(record.OriginalMessage),
		retryCount,
		record.FailedAt,
	)
	return err
}

// ListDeadLetters returns archived dead letters, newest first, paginated
// by limit and offset.
func (s *Store) ListDeadLetters(ctx context.Context, limit, offset int) ([]api.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, queryListDeadLetters, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []api.DeadLetter
	for rows.Next() {
		var dl api.DeadLetter
		var original []byte
		var retryCount sql.NullInt64

		err := rows.Scan(
			&dl.ID,
			&dl.CorrelationID,
			&dl.Kind,
			&dl.Message,
			&original,
			&retryCount,
			&dl.FailedAt,
			&dl.ArchivedAt,
		)
		if err != nil {
			return nil, err
		}
		dl.OriginalMessage = json.RawMessage(original)
		if retryCount.Valid {
			count := int(retryCount.Int64)
			dl.RetryCount = &count
		}
		result = append(result, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// InsertDeliveryAttempt records one audit row per channel send.
func (s *Store) InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, queryInsertDeliveryAttempt,
		attempt.ID,
		attempt.CorrelationID,
		string(attempt.Channel),
		attempt.RetryCount,
		attempt.Outcome,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// ListDeliveryAttempts returns the attempt trail for one correlation id,
// oldest first.
func (s *Store) ListDeliveryAttempts(ctx context.Context, correlationID string) ([]domain.DeliveryAttempt, error) {
	rows, err := s.db.QueryContext(ctx, queryListDeliveryAttempts, correlationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.DeliveryAttempt
	for rows.Next() {
		var attempt domain.DeliveryAttempt
		var channel string

		err := rows.Scan(
			&attempt.ID,
			&attempt.CorrelationID,
			&channel,
			&attempt.RetryCount,
			&attempt.Outcome,
			&attempt.Error,
			&attempt.StartedAt,
			&attempt.FinishedAt,
		)
		if err != nil {
			return nil, err
		}
		attempt.Channel = domain.Channel(channel)
		result = append(result, attempt)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Ping verifies database connectivity for health checks.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Compile-time interface assertions
var (
	_ dlq.Store        = (*Store)(nil)
	_ dispatcher.Store = (*Store)(nil)
	_ retry.Store      = (*Store)(nil)
	_ api.Store        = (*Store)(nil)
)
