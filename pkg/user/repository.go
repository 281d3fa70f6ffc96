package user

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Repository 用户存储
type Repository interface {
	// FindByID 不存在时返回 nil, nil
	FindByID(ctx context.Context, id int64) (*User, error)
	Create(ctx context.Context, in CreateInput) (*User, error)
	List(ctx context.Context) ([]User, error)
}

// SeedUsers 初始用户
func SeedUsers() []User {
	return []User{
		{ID: 1, Name: "John Doe", Email: "john@example.com"},
		{ID: 2, Name: "Jane Smith", Email: "jane@example.com"},
		{ID: 3, Name: "Alice Johnson", Email: "alice@example.com"},
	}
}

// MemoryRepository 内存用户存储，每次访问模拟一次数据库延迟
type MemoryRepository struct {
	delay time.Duration

	mu     sync.RWMutex
	users  map[int64]User
	lastID int64
}

var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository 创建带初始数据的内存存储
func NewMemoryRepository(delay time.Duration) *MemoryRepository {
	r := &MemoryRepository{
		delay: delay,
		users: make(map[int64]User),
	}

	now := time.Now().UTC()
	for _, u := range SeedUsers() {
		u.CreatedAt, u.UpdatedAt = now, now
		r.users[u.ID] = u
		if u.ID > r.lastID {
			r.lastID = u.ID
		}
	}
	return r
}

func (r *MemoryRepository) wait(ctx context.Context) error {
	if r.delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(r.delay)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// FindByID 按 ID 查找
func (r *MemoryRepository) FindByID(ctx context.Context, id int64) (*User, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	u, ok := r.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Create 分配新 ID 并保存
func (r *MemoryRepository) Create(ctx context.Context, in CreateInput) (*User, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lastID++
	u := User{
		ID:        r.lastID,
		Name:      in.Name,
		Email:     in.Email,
		CreatedAt: now,
		UpdatedAt: now,
	}
	r.users[u.ID] = u
	return &u, nil
}

// List 按 ID 升序返回全部用户
func (r *MemoryRepository) List(ctx context.Context) ([]User, error) {
	if err := r.wait(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	users := make([]User, 0, len(r.users))
	for _, u := range r.users {
		users = append(users, u)
	}
	r.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}
