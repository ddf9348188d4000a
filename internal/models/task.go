// Package models defines the database row types shared across repositories
// and handlers.
package models

import (
	"time"

	"github.com/pubwiki/provisioner/internal/events"
)

// TaskTypeCreateWiki is the only task type currently produced.
const TaskTypeCreateWiki = "create_wiki"

// Task is the durable record of a provisioning request. It is created by the
// create endpoint and mutated only by the worker.
type Task struct {
	ID                string       `db:"id" json:"id"`
	Type              string       `db:"type" json:"type"`
	Status            events.State `db:"status" json:"status"`
	Progress          int          `db:"progress" json:"progress"`
	CreatedByUserID   uint64       `db:"created_by_user_id" json:"created_by_user_id"`
	CreatedByUsername []byte       `db:"created_by_username" json:"created_by_username"`
	CreatedAt         time.Time    `db:"created_at" json:"created_at"`
	StartedAt         *time.Time   `db:"started_at" json:"started_at,omitempty"`
	FinishedAt        *time.Time   `db:"finished_at" json:"finished_at,omitempty"`
	WikiID            *uint64      `db:"wiki_id" json:"wiki_id,omitempty"`
	Message           *string      `db:"message" json:"message,omitempty"`
}
