package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v4/pgxpool"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/domain/ports/repository"
)

var _ repository.UserRepository = (*PostgresUserRepo)(nil)

type PostgresUserRepo struct {
	pool *pgxpool.Pool
}

func NewPostgresUserRepo(pool *pgxpool.Pool) *PostgresUserRepo {
	return &PostgresUserRepo{pool: pool}
}

func (r *PostgresUserRepo) Save(ctx context.Context, tx repository.Tx, u *model.User) error {
	const q = `
INSERT INTO users (id, email, role, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (id) DO UPDATE SET
  email=$2, role=$3, updated_at=$5;`
	_, err := execSQL(ctx, r.pool, tx, q, u.ID, u.Email, string(u.Role), u.CreatedAt, u.UpdatedAt)
	return err
}

func (r *PostgresUserRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.User, error) {
	const q = `SELECT id, email, role, created_at, updated_at FROM users WHERE id=$1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	var (
		u    model.User
		role string
	)
	if err := row.Scan(&u.ID, &u.Email, &role, &u.CreatedAt, &u.UpdatedAt); err != nil {
		return nil, scanErr(err)
	}
	u.Role = model.Role(role)
	return &u, nil
}

func (r *PostgresUserRepo) UpdateRole(ctx context.Context, tx repository.Tx, id string, role model.Role) error {
	const q = `UPDATE users SET role=$2, updated_at=NOW() WHERE id=$1;`
	tag, err := execSQL(ctx, r.pool, tx, q, id, string(role))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: user %s", domain.ErrNotFound, id)
	}
	return nil
}
