package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"trading-edu-billing/internal/domain/model"
	"trading-edu-billing/internal/infra/logging"
	"trading-edu-billing/internal/infra/metrics"
	"trading-edu-billing/internal/infra/sched"
)

type createSubscriptionRequest struct {
	UserID        string `json:"user_id"`
	Plan          string `json:"plan"`
	PaymentMethod string `json:"payment_method"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// callerMay reports whether the caller may act on userID's billing.
func callerMay(r *http.Request, userID string) bool {
	c := ClaimsFrom(r.Context())
	return c.IsAdmin() || (c != nil && c.Subject == userID)
}

func (s *Server) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req createSubscriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeFailure(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.UserID == "" {
		if c := ClaimsFrom(r.Context()); c != nil {
			req.UserID = c.Subject
		}
	}
	if !callerMay(r, req.UserID) {
		writeFailure(w, http.StatusForbidden, "forbidden")
		return
	}
	plan, err := model.ParsePlanCode(req.Plan)
	if err != nil {
		writeError(w, err)
		return
	}

	ctx := logging.WithUserID(r.Context(), req.UserID)
	res, err := s.uc.CreateSubscription(ctx, req.UserID, plan, req.PaymentMethod)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusCreated
	switch {
	case !res.Success && res.Billing == nil:
		// the charge could not run; the subscription was rolled back to CANCELED
		code = http.StatusServiceUnavailable
	case !res.Success:
		code = http.StatusPaymentRequired
	}
	writeJSON(w, code, res)
}

func (s *Server) getUserSubscription(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	if !callerMay(r, userID) {
		writeFailure(w, http.StatusForbidden, "forbidden")
		return
	}
	view, err := s.uc.GetUserSubscriptionStatus(logging.WithUserID(r.Context(), userID), userID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		HasActiveSubscription bool             `json:"has_active_subscription"`
		Subscription          *subscriptionDTO `json:"subscription,omitempty"`
		NextBillingDate       *time.Time       `json:"next_billing_date,omitempty"`
	}{
		HasActiveSubscription: view.HasActiveSubscription,
		Subscription:          toSubscriptionDTO(view.Subscription),
		NextBillingDate:       view.NextBillingDate,
	})
}

func (s *Server) processBilling(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	out, err := s.uc.ProcessBilling(logging.WithSubscriptionID(r.Context(), id), id)
	if err != nil {
		writeError(w, err)
		return
	}
	code := http.StatusOK
	if !out.Success {
		code = http.StatusPaymentRequired
	}
	writeJSON(w, code, out)
}

func (s *Server) cancelSubscription(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req cancelRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeFailure(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ctx := logging.WithSubscriptionID(r.Context(), id)
	c := ClaimsFrom(ctx)
	if !c.IsAdmin() {
		// owners may cancel only their current subscription
		view, err := s.uc.GetUserSubscriptionStatus(ctx, c.Subject)
		if err != nil {
			writeError(w, err)
			return
		}
		if view.Subscription == nil || view.Subscription.ID != id {
			writeFailure(w, http.StatusForbidden, "forbidden")
			return
		}
		req.Reason = model.CancelReasonUserRequest
	}

	sub, err := s.uc.CancelSubscription(ctx, id, strings.TrimSpace(req.Reason))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success      bool             `json:"success"`
		Subscription *subscriptionDTO `json:"subscription"`
	}{true, toSubscriptionDTO(sub)})
}

func (s *Server) runJob(w http.ResponseWriter, r *http.Request) {
	job, err := sched.ParseJob(chi.URLParam(r, "job"))
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.IncAdminJobTrigger(string(job))
	// the runner bounds the job; a client hanging up must not abort it
	res, err := s.jobs.Run(context.WithoutCancel(r.Context()), job)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, struct {
		Success bool   `json:"success"`
		Job     string `json:"job"`
		Result  any    `json:"result"`
	}{true, string(job), res})
}
