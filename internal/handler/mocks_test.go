package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"github.com/pubwiki/provisioner/internal/models"
)

// MockTaskRepository is a mock implementation of repository.TaskRepository.
type MockTaskRepository struct {
	mock.Mock
}

func (m *MockTaskRepository) Create(ctx context.Context, task *models.Task) error {
	args := m.Called(ctx, task)
	return args.Error(0)
}

func (m *MockTaskRepository) Get(ctx context.Context, id string) (*models.Task, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Task), args.Error(1)
}

func (m *MockTaskRepository) MarkRunning(ctx context.Context, id string) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkSucceeded(ctx context.Context, id string, wikiID uint64) error {
	args := m.Called(ctx, id, wikiID)
	return args.Error(0)
}

func (m *MockTaskRepository) MarkFailed(ctx context.Context, id string, message string) error {
	args := m.Called(ctx, id, message)
	return args.Error(0)
}

// MockWikiRepository is a mock implementation of repository.WikiRepository.
type MockWikiRepository struct {
	mock.Mock
}

func (m *MockWikiRepository) Insert(ctx context.Context, wiki *models.Wiki) (uint64, error) {
	args := m.Called(ctx, wiki)
	return args.Get(0).(uint64), args.Error(1)
}

func (m *MockWikiRepository) GetBySlug(ctx context.Context, slug string) (*models.Wiki, error) {
	args := m.Called(ctx, slug)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.Wiki), args.Error(1)
}

func (m *MockWikiRepository) SlugExists(ctx context.Context, slug string) (bool, error) {
	args := m.Called(ctx, slug)
	return args.Bool(0), args.Error(1)
}

func (m *MockWikiRepository) Delete(ctx context.Context, id uint64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}

func (m *MockWikiRepository) ListFeatured(ctx context.Context, limit, offset int) ([]models.Wiki, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Wiki), args.Error(1)
}

func (m *MockWikiRepository) ListPublic(ctx context.Context, limit, offset int) ([]models.Wiki, error) {
	args := m.Called(ctx, limit, offset)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Wiki), args.Error(1)
}

func (m *MockWikiRepository) ListByOwner(ctx context.Context, ownerUserID uint64) ([]models.Wiki, error) {
	args := m.Called(ctx, ownerUserID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.Wiki), args.Error(1)
}

func (m *MockWikiRepository) SetVisibility(ctx context.Context, id uint64, visibility string) error {
	args := m.Called(ctx, id, visibility)
	return args.Error(0)
}

// MockPermissionRepository is a mock implementation of
// repository.PermissionRepository.
type MockPermissionRepository struct {
	mock.Mock
}

func (m *MockPermissionRepository) ReplaceAll(ctx context.Context, wikiID uint64, perms []models.GroupPermission) error {
	args := m.Called(ctx, wikiID, perms)
	return args.Error(0)
}

func (m *MockPermissionRepository) ListByWiki(ctx context.Context, wikiID uint64) ([]models.GroupPermission, error) {
	args := m.Called(ctx, wikiID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]models.GroupPermission), args.Error(1)
}

func (m *MockPermissionRepository) DeleteByWiki(ctx context.Context, wikiID uint64) error {
	args := m.Called(ctx, wikiID)
	return args.Error(0)
}
