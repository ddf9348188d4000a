package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalizeVisibility(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"public", "public"},
		{"private", "private"},
		{"unlisted", "unlisted"},
		{"PRIVATE", "private"},
		{" Unlisted ", "unlisted"},
		{"", "public"},
		{"hidden", "public"},
		{"secret", "public"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeVisibility(tt.in), tt.in)
	}
}

func TestWikiMarshalJSON(t *testing.T) {
	created := time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC)
	w := Wiki{
		ID:            7,
		Name:          "Test Wiki",
		Slug:          "test-wiki",
		Language:      "en",
		OwnerUserID:   3,
		OwnerUsername: []byte("Alice"),
		Visibility:    VisibilityPublic,
		Status:        WikiStatusReady,
		CreatedAt:     created,
		UpdatedAt:     created,
	}

	data, err := json.Marshal(w)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal(data, &got))
	assert.Equal(t, "Alice", got["owner_username"])
	assert.Equal(t, "2024-03-01T10:30:00", got["created_at"])
	assert.Nil(t, got["domain"])
	assert.Equal(t, false, got["is_featured"])
}
