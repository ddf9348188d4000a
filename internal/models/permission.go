package models

// GroupPermission is one (group, permission, allowed) row scoped to a wiki.
// The (wiki_id, group_name, permission) triple is unique; writes replace the
// whole set for a wiki.
type GroupPermission struct {
	WikiID     uint64 `db:"wiki_id"`
	GroupName  string `db:"group_name"`
	Permission string `db:"permission"`
	Allowed    bool   `db:"allowed"`
}
