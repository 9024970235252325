package model

import (
	"time"

	"github.com/google/uuid"

	"trading-edu-billing/internal/domain"
)

// Role is the access level a user holds on the platform.
type Role string

const (
	RoleUser    Role = "USER"
	RoleSignals Role = "SIGNALS"
	RolePremium Role = "PREMIUM"
	RoleAdmin   Role = "ADMIN"
)

// User is the billing view of a platform account. Only the role is written by
// the billing service.
type User struct {
	ID        string
	Email     string
	Role      Role
	CreatedAt time.Time
	UpdatedAt time.Time
}

func NewUser(id, email string) (*User, error) {
	if id == "" {
		id = uuid.NewString()
	}
	if email == "" {
		return nil, domain.ErrInvalidArgument
	}
	now := time.Now()
	return &User{
		ID:        id,
		Email:     email,
		Role:      RoleUser,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (u *User) IsZero() bool { return u == nil || u.ID == "" }

// ProjectRole derives the role a subscriber should hold from the state of the
// subscription. Live subscriptions keep the plan's role; anything else falls
// back to base. Admins are never demoted.
func ProjectRole(current Role, sub *Subscription, plan *Plan, base Role) Role {
	if current == RoleAdmin {
		return RoleAdmin
	}
	if sub == nil || !sub.IsLive() || plan.IsZero() {
		return base
	}
	return plan.Role
}
