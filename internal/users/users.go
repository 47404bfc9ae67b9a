// Package users resolves user identities for the chatbot. Authentication
// itself happens upstream; this package only looks users up.
package users

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"gorm.io/gorm"

	"github.com/walletwise/walletwise/backend/internal/database"
	"github.com/walletwise/walletwise/backend/internal/store"
)

// User is the subset of the account record the chatbot needs.
type User struct {
	ID    string `gorm:"primaryKey;size:64" json:"id"`
	Email string `gorm:"size:255" json:"email"`
	Name  string `gorm:"size:255" json:"name"`
	Role  string `gorm:"size:32" json:"role"`
}

// Directory finds users by id.
type Directory interface {
	FindByID(ctx context.Context, id string) (*User, error)
}

// GormDirectory reads the users table owned by the account service.
type GormDirectory struct {
	db *database.DB
}

func NewGormDirectory(db *database.DB) *GormDirectory {
	return &GormDirectory{db: db}
}

// Migrate creates the users table for development databases.
func (d *GormDirectory) Migrate(ctx context.Context) error {
	return d.db.WithContext(ctx).AutoMigrate(&User{})
}

func (d *GormDirectory) FindByID(ctx context.Context, id string) (*User, error) {
	var u User
	if err := d.db.WithContext(ctx).Where("id = ?", id).First(&u).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, &store.ErrNotFound{Entity: "user", Key: id}
		}
		return nil, fmt.Errorf("find user: %w", err)
	}
	return &u, nil
}

// StaticDirectory is an in-memory Directory. When Permissive is set, unknown
// ids resolve to a bare user instead of NotFound.
type StaticDirectory struct {
	mu         sync.RWMutex
	users      map[string]User
	Permissive bool
}

func NewStaticDirectory(permissive bool, seed ...User) *StaticDirectory {
	d := &StaticDirectory{users: make(map[string]User), Permissive: permissive}
	for _, u := range seed {
		d.users[u.ID] = u
	}
	return d
}

func (d *StaticDirectory) Add(u User) {
	d.mu.Lock()
	d.users[u.ID] = u
	d.mu.Unlock()
}

func (d *StaticDirectory) FindByID(_ context.Context, id string) (*User, error) {
	d.mu.RLock()
	u, ok := d.users[id]
	d.mu.RUnlock()
	if ok {
		return &u, nil
	}
	if d.Permissive && id != "" {
		return &User{ID: id, Role: "user"}, nil
	}
	return nil, &store.ErrNotFound{Entity: "user", Key: id}
}
