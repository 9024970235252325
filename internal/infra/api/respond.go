package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"trading-edu-billing/internal/domain"
	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/infra/sched"
)

type failure struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeFailure(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, failure{Success: false, Error: msg})
}

// writeError maps a use-case error to a status code.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeFailure(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		writeFailure(w, http.StatusNotFound, err.Error())
	case errors.Is(err, domain.ErrDuplicateSubscription),
		errors.Is(err, domain.ErrSubscriptionCanceled),
		errors.Is(err, domain.ErrBillingInProgress),
		errors.Is(err, domain.ErrConcurrentUpdate),
		errors.Is(err, sched.ErrJobRunning):
		writeFailure(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrGatewayFailure):
		writeFailure(w, http.StatusBadGateway, err.Error())
	default:
		writeFailure(w, http.StatusInternalServerError, "internal error")
	}
}

type subscriptionDTO struct {
	ID                 string     `json:"id"`
	UserID             string     `json:"user_id"`
	Plan               string     `json:"plan"`
	Status             string     `json:"status"`
	CurrentPeriodStart time.Time  `json:"current_period_start"`
	CurrentPeriodEnd   time.Time  `json:"current_period_end"`
	FailedAttempts     int        `json:"failed_attempts"`
	NextRetryAt        *time.Time `json:"next_retry_at,omitempty"`
	GraceEndsAt        *time.Time `json:"grace_ends_at,omitempty"`
	CanceledAt         *time.Time `json:"canceled_at,omitempty"`
	CancelReason       string     `json:"cancel_reason,omitempty"`
}

func toSubscriptionDTO(s *model.Subscription) *subscriptionDTO {
	if s == nil {
		return nil
	}
	return &subscriptionDTO{
		ID:                 s.ID,
		UserID:             s.UserID,
		Plan:               string(s.Plan),
		Status:             string(s.Status),
		CurrentPeriodStart: s.CurrentPeriodStart,
		CurrentPeriodEnd:   s.CurrentPeriodEnd,
		FailedAttempts:     s.FailedAttempts,
		NextRetryAt:        s.NextRetryAt,
		GraceEndsAt:        s.GraceEndsAt,
		CanceledAt:         s.CanceledAt,
		CancelReason:       s.CancelReason,
	}
}
