package repository

import (
	"context"

	"trading-edu-billing/internal/domain/model"
)

// UserRepository is the port for the billing view of users.
type UserRepository interface {
	Save(ctx context.Context, tx Tx, u *model.User) error
	FindByID(ctx context.Context, tx Tx, id string) (*model.User, error)
	UpdateRole(ctx context.Context, tx Tx, id string, role model.Role) error
}
