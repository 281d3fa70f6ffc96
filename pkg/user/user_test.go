package user

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hamzashaikhcan/user-data-api/pkg/apperror"
)

func TestCreateInput_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   CreateInput
		wantErr string
	}{
		{"valid", CreateInput{Name: "Bob", Email: "bob@example.com"}, ""},
		{"missing name", CreateInput{Email: "bob@example.com"}, "Name and email are required"},
		{"missing email", CreateInput{Name: "Bob"}, "Name and email are required"},
		{"no at sign", CreateInput{Name: "Bob", Email: "bob.example.com"}, "Invalid email format"},
		{"no domain dot", CreateInput{Name: "Bob", Email: "bob@example"}, "Invalid email format"},
		{"whitespace", CreateInput{Name: "Bob", Email: "bob smith@example.com"}, "Invalid email format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			appErr, ok := apperror.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.wantErr, appErr.Message)
			assert.Equal(t, 400, apperror.StatusOf(err))
		})
	}
}

func TestCreateInput_Normalize(t *testing.T) {
	// "e" + 组合重音符应合并为单个字符
	in := CreateInput{Name: "  Rene\u0301 ", Email: " Rene@Example.COM "}.Normalize()

	assert.Equal(t, "Ren\u00e9", in.Name)
	assert.Equal(t, "rene@example.com", in.Email)
}

func TestMemoryRepository_Seeded(t *testing.T) {
	repo := NewMemoryRepository(0)
	ctx := context.Background()

	u, err := repo.FindByID(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, u)
	assert.Equal(t, "John Doe", u.Name)
	assert.Equal(t, "john@example.com", u.Email)

	missing, err := repo.FindByID(ctx, 999)
	require.NoError(t, err)
	assert.Nil(t, missing)

	users, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, users, 3)
	assert.Equal(t, []int64{1, 2, 3}, []int64{users[0].ID, users[1].ID, users[2].ID})
}

func TestMemoryRepository_CreateAssignsNextID(t *testing.T) {
	repo := NewMemoryRepository(0)
	ctx := context.Background()

	u, err := repo.Create(ctx, CreateInput{Name: "Bob", Email: "bob@example.com"})
	require.NoError(t, err)
	assert.Equal(t, int64(4), u.ID)
	assert.False(t, u.CreatedAt.IsZero())
	assert.Equal(t, u.CreatedAt, u.UpdatedAt)

	got, err := repo.FindByID(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, "Bob", got.Name)

	// 返回的是副本
	got.Name = "changed"
	again, _ := repo.FindByID(ctx, 4)
	assert.Equal(t, "Bob", again.Name)
}

func TestMemoryRepository_DelayHonoursContext(t *testing.T) {
	repo := NewMemoryRepository(time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := repo.FindByID(ctx, 1)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 500*time.Millisecond)
}
