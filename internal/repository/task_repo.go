// Package repository implements data access for tasks, wikis and group
// permissions on the shared MariaDB pool.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/pubwiki/provisioner/internal/models"
)

// TaskRepository persists provisioning tasks.
type TaskRepository interface {
	// Create inserts a freshly queued task.
	Create(ctx context.Context, task *models.Task) error
	// Get returns a task by ID, or nil when it does not exist.
	Get(ctx context.Context, id string) (*models.Task, error)
	// MarkRunning transitions a task to running and stamps started_at.
	MarkRunning(ctx context.Context, id string) error
	// MarkSucceeded records the terminal success and the resulting wiki ID.
	MarkSucceeded(ctx context.Context, id string, wikiID uint64) error
	// MarkFailed records the terminal failure with a human-readable message.
	MarkFailed(ctx context.Context, id string, message string) error
}

type taskRepository struct {
	db *sqlx.DB
}

// NewTaskRepository creates a task repository backed by MariaDB.
func NewTaskRepository(db *sqlx.DB) TaskRepository {
	return &taskRepository{db: db}
}

func (r *taskRepository) Create(ctx context.Context, task *models.Task) error {
	query := `
		INSERT INTO tasks (id, type, status, progress, created_by_user_id, created_by_username)
		VALUES (?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		task.ID,
		task.Type,
		task.Status,
		task.Progress,
		task.CreatedByUserID,
		task.CreatedByUsername,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}
	return nil
}

func (r *taskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	var task models.Task
	query := `
		SELECT id, type, status, progress, created_by_user_id, created_by_username,
		       created_at, started_at, finished_at, wiki_id, message
		FROM tasks
		WHERE id = ?`

	err := r.db.GetContext(ctx, &task, query, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get task: %w", err)
	}
	return &task, nil
}

func (r *taskRepository) MarkRunning(ctx context.Context, id string) error {
	query := `UPDATE tasks SET status = 'running', started_at = NOW() WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark task running: %w", err)
	}
	return nil
}

func (r *taskRepository) MarkSucceeded(ctx context.Context, id string, wikiID uint64) error {
	query := `
		UPDATE tasks
		SET status = 'succeeded', progress = 100, finished_at = NOW(), wiki_id = ?
		WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, wikiID, id); err != nil {
		return fmt.Errorf("failed to mark task succeeded: %w", err)
	}
	return nil
}

func (r *taskRepository) MarkFailed(ctx context.Context, id string, message string) error {
	query := `
		UPDATE tasks
		SET status = 'failed', finished_at = NOW(), message = ?
		WHERE id = ?`
	if _, err := r.db.ExecContext(ctx, query, message, id); err != nil {
		return fmt.Errorf("failed to mark task failed: %w", err)
	}
	return nil
}
