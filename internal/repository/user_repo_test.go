package repository

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/visualml/visualml_go_server/internal/model"
	"github.com/visualml/visualml_go_server/internal/testutil"
)

func TestUserRepository_CRUD(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	repo := NewUserRepository(db)

	user := testutil.TestUser(t, db, testutil.WithEmail("alice@example.com"))

	got, err := repo.GetByID(user.ID)
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", *got.Email)

	got, err = repo.GetByEmail("alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	exists, err := repo.ExistsByEmail("alice@example.com")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsByEmail("nobody@example.com")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = repo.GetByID(uuid.NewString())
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}

func TestUserRepository_GithubID(t *testing.T) {
	db := testutil.SetupTestDB(t)
	t.Cleanup(func() { testutil.CleanupTestDB(t, db) })
	repo := NewUserRepository(db)

	githubID := "12345"
	user := &model.User{ID: uuid.NewString(), Name: "gh user", Role: model.RoleUser, GithubID: &githubID}
	require.NoError(t, repo.Create(user))

	got, err := repo.GetByGithubID("12345")
	require.NoError(t, err)
	assert.Equal(t, user.ID, got.ID)

	_, err = repo.GetByGithubID("999")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
