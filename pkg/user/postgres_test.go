//go:build integration

package user

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostgresRepository(t *testing.T) {
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL is not set")
	}
	ctx := context.Background()

	repo, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	defer repo.Close()

	_, err = repo.db.ExecContext(ctx, `TRUNCATE users RESTART IDENTITY`)
	require.NoError(t, err)
	require.NoError(t, repo.EnsureSchema(ctx))

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, "John Doe", users[0].Name)

	created, err := repo.Create(ctx, CreateInput{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), created.ID)
	assert.False(t, created.CreatedAt.IsZero())

	got, err := repo.FindByID(ctx, created.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "bob@example.com", got.Email)

	missing, err := repo.FindByID(ctx, 999999)
	require.NoError(t, err)
	assert.Nil(t, missing)
}
