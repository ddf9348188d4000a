package models

import (
	"encoding/json"
	"strings"
	"time"
)

// Wiki visibility values.
const (
	VisibilityPublic   = "public"
	VisibilityPrivate  = "private"
	VisibilityUnlisted = "unlisted"
)

// WikiStatusReady is the only wiki status written by the provisioner.
const WikiStatusReady = "ready"

// Wiki is the post-provision handoff record. The row is inserted by the
// orchestrator after all external side effects have succeeded.
type Wiki struct {
	ID            uint64    `db:"id"`
	Name          string    `db:"name"`
	Slug          string    `db:"slug"`
	Domain        *string   `db:"domain"`
	Path          *string   `db:"path"`
	Language      string    `db:"language"`
	OwnerUserID   uint64    `db:"owner_user_id"`
	OwnerUsername []byte    `db:"owner_username"`
	Visibility    string    `db:"visibility"`
	Status        string    `db:"status"`
	IsFeatured    bool      `db:"is_featured"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// MarshalJSON renders the owner username as a string; the column is raw bytes
// because MediaWiki usernames are not guaranteed to be valid UTF-8.
func (w Wiki) MarshalJSON() ([]byte, error) {
	type alias struct {
		ID            uint64  `json:"id"`
		Name          string  `json:"name"`
		Slug          string  `json:"slug"`
		Domain        *string `json:"domain"`
		Path          *string `json:"path"`
		Language      string  `json:"language"`
		OwnerUserID   uint64  `json:"owner_user_id"`
		OwnerUsername string  `json:"owner_username"`
		Visibility    string  `json:"visibility"`
		Status        string  `json:"status"`
		IsFeatured    bool    `json:"is_featured"`
		CreatedAt     string  `json:"created_at"`
		UpdatedAt     string  `json:"updated_at"`
	}
	return json.Marshal(alias{
		ID:            w.ID,
		Name:          w.Name,
		Slug:          w.Slug,
		Domain:        w.Domain,
		Path:          w.Path,
		Language:      w.Language,
		OwnerUserID:   w.OwnerUserID,
		OwnerUsername: string(w.OwnerUsername),
		Visibility:    w.Visibility,
		Status:        w.Status,
		IsFeatured:    w.IsFeatured,
		CreatedAt:     w.CreatedAt.Format("2006-01-02T15:04:05"),
		UpdatedAt:     w.UpdatedAt.Format("2006-01-02T15:04:05"),
	})
}

// NormalizeVisibility lowercases v and falls back to public for anything
// outside the known set.
func NormalizeVisibility(v string) string {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case VisibilityPrivate:
		return VisibilityPrivate
	case VisibilityUnlisted:
		return VisibilityUnlisted
	default:
		return VisibilityPublic
	}
}
