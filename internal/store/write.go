package store

import (
	"context"

	"github.com/roach88/fieldsync/internal/model"
)

// PutTask upserts a task snapshot. The stored document is replaced wholesale.
// Timestamps are stored in UTC and read back in UTC.
func (s *Store) PutTask(ctx context.Context, t model.Task) error {
	t = utcTask(t)
	doc, err := marshalDoc(t)
	if err != nil {
		return storageErr("put", PartitionTasks, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tasks (id, status, assigned_to, doc)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			assigned_to = excluded.assigned_to,
			doc = excluded.doc
	`,
		t.ID,
		string(t.Status),
		t.AssignedTo,
		doc,
	)
	if err != nil {
		return storageErr("put", PartitionTasks, err)
	}

	return nil
}

// DeleteTask removes a task snapshot. Deleting a missing id is not an error.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id); err != nil {
		return storageErr("delete", PartitionTasks, err)
	}
	return nil
}

// PutQualityScore upserts a quality score snapshot. RecordedAt is stored
// in UTC.
func (s *Store) PutQualityScore(ctx context.Context, q model.QualityScore) error {
	q.RecordedAt = q.RecordedAt.UTC()
	doc, err := marshalDoc(q)
	if err != nil {
		return storageErr("put", PartitionQualityScores, err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO quality_scores (id, task_id, doc)
		VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			task_id = excluded.task_id,
			doc = excluded.doc
	`,
		q.ID,
		q.TaskID,
		doc,
	)
	if err != nil {
		return storageErr("put", PartitionQualityScores, err)
	}

	return nil
}
