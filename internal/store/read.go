package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/roach88/fieldsync/internal/model"
)

// GetTask retrieves a single task by id.
// Returns an error wrapping ErrNotFound if absent.
func (s *Store) GetTask(ctx context.Context, id string) (model.Task, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM tasks WHERE id = ?`, id).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Task{}, fmt.Errorf("task %q: %w", id, ErrNotFound)
	}
	if err != nil {
		return model.Task{}, storageErr("get", PartitionTasks, err)
	}

	t, err := unmarshalTask(doc)
	if err != nil {
		return model.Task{}, storageErr("get", PartitionTasks, err)
	}
	return t, nil
}

// ListTasks returns every cached task ordered by id.
// Returns an empty slice (not nil) if none exist.
func (s *Store) ListTasks(ctx context.Context) ([]model.Task, error) {
	return s.queryTasks(ctx, `SELECT doc FROM tasks ORDER BY id COLLATE BINARY ASC`)
}

// ListTasksByStatus returns cached tasks with the given status, via idx_tasks_status.
func (s *Store) ListTasksByStatus(ctx context.Context, status model.TaskStatus) ([]model.Task, error) {
	return s.queryTasks(ctx, `
		SELECT doc FROM tasks
		WHERE status = ?
		ORDER BY id COLLATE BINARY ASC
	`, string(status))
}

// ListTasksByAssignee returns cached tasks assigned to an operator, via idx_tasks_assigned_to.
func (s *Store) ListTasksByAssignee(ctx context.Context, assignee string) ([]model.Task, error) {
	return s.queryTasks(ctx, `
		SELECT doc FROM tasks
		WHERE assigned_to = ?
		ORDER BY id COLLATE BINARY ASC
	`, assignee)
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]model.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list", PartitionTasks, err)
	}
	defer rows.Close()

	tasks := []model.Task{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, storageErr("list", PartitionTasks, err)
		}
		t, err := unmarshalTask(doc)
		if err != nil {
			return nil, storageErr("list", PartitionTasks, err)
		}
		tasks = append(tasks, t)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", PartitionTasks, err)
	}

	return tasks, nil
}

// ListQualityScores returns every cached quality score ordered by id.
func (s *Store) ListQualityScores(ctx context.Context) ([]model.QualityScore, error) {
	return s.queryQualityScores(ctx, `SELECT doc FROM quality_scores ORDER BY id COLLATE BINARY ASC`)
}

// ListQualityScoresByTask returns the cached scores for one task, via idx_quality_scores_task_id.
func (s *Store) ListQualityScoresByTask(ctx context.Context, taskID string) ([]model.QualityScore, error) {
	return s.queryQualityScores(ctx, `
		SELECT doc FROM quality_scores
		WHERE task_id = ?
		ORDER BY id COLLATE BINARY ASC
	`, taskID)
}

func (s *Store) queryQualityScores(ctx context.Context, query string, args ...any) ([]model.QualityScore, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storageErr("list", PartitionQualityScores, err)
	}
	defer rows.Close()

	scores := []model.QualityScore{}
	for rows.Next() {
		var doc string
		if err := rows.Scan(&doc); err != nil {
			return nil, storageErr("list", PartitionQualityScores, err)
		}
		q, err := unmarshalQualityScore(doc)
		if err != nil {
			return nil, storageErr("list", PartitionQualityScores, err)
		}
		scores = append(scores, q)
	}

	if err := rows.Err(); err != nil {
		return nil, storageErr("list", PartitionQualityScores, err)
	}

	return scores, nil
}
