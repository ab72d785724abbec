package store

import (
	"context"
	"fmt"
	"strings"

	apperr "github.com/NASA-0007/Rosaiq-Trial/pkg/errors"
	"github.com/NASA-0007/Rosaiq-Trial/pkg/roles"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

func (r *Repo) CreateUser(ctx context.Context, username, passwordHash, role string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" || passwordHash == "" {
		return nil, fmt.Errorf("%w: username and password are required", apperr.ErrValidation)
	}
	role = roles.Normalize(role)
	if !roles.IsValidRole(role) {
		return nil, fmt.Errorf("%w: invalid role %q", apperr.ErrValidation, role)
	}
	if _, err := r.GetUserByUsername(ctx, username); err == nil {
		return nil, ErrDuplicateUsername
	}
	u := &User{ID: uuid.New(), Username: username, PasswordHash: passwordHash, Role: role}
	if err := r.db.WithContext(ctx).Create(u).Error; err != nil {
		if isDuplicate(err) {
			return nil, ErrDuplicateUsername
		}
		return nil, err
	}
	return u, nil
}

func (r *Repo) GetUser(ctx context.Context, id uuid.UUID) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Take(&u, "id = ?", id).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &u, nil
}

func (r *Repo) GetUserByUsername(ctx context.Context, username string) (*User, error) {
	var u User
	if err := r.db.WithContext(ctx).Take(&u, "username = ?", strings.TrimSpace(username)).Error; err != nil {
		return nil, notFound(err, ErrUserNotFound)
	}
	return &u, nil
}

func (r *Repo) ListUsers(ctx context.Context) ([]User, error) {
	var rows []User
	if err := r.db.WithContext(ctx).Order("username asc").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *Repo) CountUsers(ctx context.Context) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&User{}).Count(&n).Error
	return n, err
}

type UserPatch struct {
	PasswordHash *string
	Role         *string
}

func (r *Repo) UpdateUser(ctx context.Context, id uuid.UUID, patch UserPatch) (*User, error) {
	if _, err := r.GetUser(ctx, id); err != nil {
		return nil, err
	}
	updates := map[string]any{}
	if patch.PasswordHash != nil {
		updates["password_hash"] = *patch.PasswordHash
	}
	if patch.Role != nil {
		role := roles.Normalize(*patch.Role)
		if !roles.IsValidRole(role) {
			return nil, fmt.Errorf("%w: invalid role %q", apperr.ErrValidation, role)
		}
		updates["role"] = role
	}
	if len(updates) > 0 {
		updates["updated_at"] = r.clock()
		if err := r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Updates(updates).Error; err != nil {
			return nil, err
		}
	}
	return r.GetUser(ctx, id)
}

func (r *Repo) TouchLogin(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Model(&User{}).Where("id = ?", id).Update("last_login", r.clock()).Error
}

// DeleteUser removes the account. Devices it owned become unowned; their
// history is kept.
func (r *Repo) DeleteUser(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&Device{}).Where("owner_id = ?", id).Update("owner_id", nil).Error; err != nil {
			return err
		}
		res := tx.Where("id = ?", id).Delete(&User{})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrUserNotFound
		}
		return nil
	})
}
