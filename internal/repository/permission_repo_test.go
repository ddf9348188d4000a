package repository

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pubwiki/provisioner/internal/models"
)

func TestPermissionReplaceAll(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPermissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wiki_group_permissions WHERE wiki_id = ?").
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec("INSERT INTO wiki_group_permissions").
		WithArgs(uint64(5), "sysop", "delete", true).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("INSERT INTO wiki_group_permissions").
		WithArgs(uint64(5), "user", "edit", false).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ReplaceAll(context.Background(), 5, []models.GroupPermission{
		{WikiID: 5, GroupName: "sysop", Permission: "delete", Allowed: true},
		{WikiID: 5, GroupName: "user", Permission: "edit", Allowed: false},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionReplaceAllRollsBackOnError(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPermissionRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM wiki_group_permissions WHERE wiki_id = ?").
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec("INSERT INTO wiki_group_permissions").
		WithArgs(uint64(5), "sysop", "delete", true).
		WillReturnError(errors.New("insert failed"))
	mock.ExpectRollback()

	err := repo.ReplaceAll(context.Background(), 5, []models.GroupPermission{
		{WikiID: 5, GroupName: "sysop", Permission: "delete", Allowed: true},
	})
	require.Error(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPermissionListByWiki(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPermissionRepository(db)

	mock.ExpectQuery("SELECT wiki_id, group_name, permission, allowed FROM wiki_group_permissions").
		WithArgs(uint64(5)).
		WillReturnRows(sqlmock.NewRows([]string{"wiki_id", "group_name", "permission", "allowed"}).
			AddRow(5, "sysop", "delete", true).
			AddRow(5, "user", "edit", false))

	perms, err := repo.ListByWiki(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, perms, 2)
	assert.Equal(t, "sysop", perms[0].GroupName)
	assert.True(t, perms[0].Allowed)
	assert.False(t, perms[1].Allowed)
}

func TestPermissionDeleteByWiki(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewPermissionRepository(db)

	mock.ExpectExec("DELETE FROM wiki_group_permissions WHERE wiki_id = ?").
		WithArgs(uint64(5)).
		WillReturnResult(sqlmock.NewResult(0, 3))

	require.NoError(t, repo.DeleteByWiki(context.Background(), 5))
	assert.NoError(t, mock.ExpectationsWereMet())
}
