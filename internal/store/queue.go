package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/roach88/fieldsync/internal/model"
)

// rowScanner is satisfied by *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

// EnqueueRequest appends a request to the pending queue.
//
// The seq ordering key is allocated from the meta high-water mark in the
// same transaction as the insert, so two enqueues can never share a seq and
// a failed insert never burns one.
func (s *Store) EnqueueRequest(ctx context.Context, req model.Request, key string, at time.Time) (model.PendingRequest, error) {
	headers, err := marshalHeaders(req.Headers)
	if err != nil {
		return model.PendingRequest{}, storageErr("enqueue", PartitionPendingRequests, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.PendingRequest{}, storageErr("enqueue", PartitionPendingRequests, err)
	}
	defer tx.Rollback() // No-op if committed

	var seq int64
	err = tx.QueryRowContext(ctx, `
		UPDATE meta SET value = value + 1
		WHERE key = ?
		RETURNING value
	`, metaQueueSeq).Scan(&seq)
	if err != nil {
		return model.PendingRequest{}, storageErr("enqueue", PartitionPendingRequests, err)
	}

	result, err := tx.ExecContext(ctx, `
		INSERT INTO pending_requests
		(seq, request_key, url, method, headers, body, enqueued_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		seq,
		key,
		req.URL,
		req.Method,
		headers,
		bodyValue(req.Body),
		toUnixNano(at),
	)
	if err != nil {
		return model.PendingRequest{}, storageErr("enqueue", PartitionPendingRequests, err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return model.PendingRequest{}, storageErr("enqueue", PartitionPendingRequests, err)
	}

	if err := tx.Commit(); err != nil {
		return model.PendingRequest{}, storageErr("enqueue", PartitionPendingRequests, err)
	}

	return model.PendingRequest{
		ID:         id,
		Seq:        seq,
		Key:        key,
		Request:    req,
		EnqueuedAt: fromUnixNano(toUnixNano(at)),
	}, nil
}

// ListPendingRequests returns the queue in replay order: seq ASC, id ASC.
// Returns an empty slice (not nil) if the queue is empty.
func (s *Store) ListPendingRequests(ctx context.Context) ([]model.PendingRequest, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, request_key, url, method, headers, body, enqueued_at
		FROM pending_requests
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, storageErr("list", PartitionPendingRequests, err)
	}
	defer rows.Close()

	pending := []model.PendingRequest{}
	for rows.Next() {
		pr, err := scanPendingRequest(rows)
		if err != nil {
			return nil, storageErr("list", PartitionPendingRequests, err)
		}
		pending = append(pending, pr)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", PartitionPendingRequests, err)
	}

	return pending, nil
}

// CountPendingRequests returns the queue length.
func (s *Store) CountPendingRequests(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM pending_requests`).Scan(&n); err != nil {
		return 0, storageErr("count", PartitionPendingRequests, err)
	}
	return n, nil
}

// DeletePendingRequest removes one queued request. Deleting a missing id is
// not an error.
func (s *Store) DeletePendingRequest(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM pending_requests WHERE id = ?`, id); err != nil {
		return storageErr("delete", PartitionPendingRequests, err)
	}
	return nil
}

// MoveToDeadLetter atomically removes a request from the queue and records
// it in dead_letters with the rejection status and reason.
func (s *Store) MoveToDeadLetter(ctx context.Context, pr model.PendingRequest, status int, reason string, at time.Time) error {
	headers, err := marshalHeaders(pr.Request.Headers)
	if err != nil {
		return storageErr("dead-letter", PartitionDeadLetters, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return storageErr("dead-letter", PartitionDeadLetters, err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM pending_requests WHERE id = ?`, pr.ID); err != nil {
		return storageErr("dead-letter", PartitionPendingRequests, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO dead_letters
		(id, seq, request_key, url, method, headers, body, enqueued_at, status, reason, failed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`,
		pr.ID,
		pr.Seq,
		pr.Key,
		pr.Request.URL,
		pr.Request.Method,
		headers,
		bodyValue(pr.Request.Body),
		toUnixNano(pr.EnqueuedAt),
		status,
		reason,
		toUnixNano(at),
	)
	if err != nil {
		return storageErr("dead-letter", PartitionDeadLetters, err)
	}

	if err := tx.Commit(); err != nil {
		return storageErr("dead-letter", PartitionDeadLetters, err)
	}
	return nil
}

// ListDeadLetters returns rejected requests in their original queue order.
func (s *Store) ListDeadLetters(ctx context.Context) ([]model.DeadLetter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, seq, request_key, url, method, headers, body, enqueued_at, status, reason, failed_at
		FROM dead_letters
		ORDER BY seq ASC, id ASC
	`)
	if err != nil {
		return nil, storageErr("list", PartitionDeadLetters, err)
	}
	defer rows.Close()

	letters := []model.DeadLetter{}
	for rows.Next() {
		var (
			dl       model.DeadLetter
			headers  string
			body     sql.NullString
			enqueued int64
			failed   int64
		)
		err := rows.Scan(
			&dl.ID, &dl.Seq, &dl.Key, &dl.Request.URL, &dl.Request.Method,
			&headers, &body, &enqueued, &dl.Status, &dl.Reason, &failed,
		)
		if err != nil {
			return nil, storageErr("list", PartitionDeadLetters, err)
		}
		if dl.Request.Headers, err = unmarshalHeaders(headers); err != nil {
			return nil, storageErr("list", PartitionDeadLetters, err)
		}
		dl.Request.Body = bodyFromColumn(body)
		dl.EnqueuedAt = fromUnixNano(enqueued)
		dl.FailedAt = fromUnixNano(failed)
		letters = append(letters, dl)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", PartitionDeadLetters, err)
	}

	return letters, nil
}

func scanPendingRequest(row rowScanner) (model.PendingRequest, error) {
	var (
		pr       model.PendingRequest
		headers  string
		body     sql.NullString
		enqueued int64
	)
	err := row.Scan(
		&pr.ID, &pr.Seq, &pr.Key, &pr.Request.URL, &pr.Request.Method,
		&headers, &body, &enqueued,
	)
	if err != nil {
		return model.PendingRequest{}, err
	}

	if pr.Request.Headers, err = unmarshalHeaders(headers); err != nil {
		return model.PendingRequest{}, err
	}
	pr.Request.Body = bodyFromColumn(body)
	pr.EnqueuedAt = fromUnixNano(enqueued)
	return pr, nil
}
