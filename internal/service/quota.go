package service

import (
	"context"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/store"
)

// Quota enforces per-user daily request ceilings. The admission check reads
// the snapshot loaded during key validation; the increment is a single
// atomic UPDATE in the store, so concurrent requests never lose a count.
// Day boundaries are UTC calendar days.
type Quota struct {
	store *store.Store
}

// NewQuota creates a Quota enforcer.
func NewQuota(st *store.Store) *Quota {
	return &Quota{store: st}
}

// CheckAndAdmit decides whether a request may proceed, given the user's
// current quota snapshot. A counter stamped with an earlier day counts as
// zero; the rollover itself happens on the next increment. The check runs
// before the increment, so a burst right at the ceiling can admit one extra
// request per in-flight racer; the counter itself stays exact.
func (q *Quota) CheckAndAdmit(u *model.User) (model.QuotaStatus, bool) {
	status := model.QuotaStatus{
		Used:  u.QuotaUsed(store.Today()),
		Limit: u.DailyLimit,
		Date:  store.Today(),
	}
	return status, status.Used < status.Limit
}

// RollOrIncrement applies one admitted request to the user's daily counter,
// resetting it first when the stored day is stale.
func (q *Quota) RollOrIncrement(ctx context.Context, userID int64) error {
	return q.store.IncrementQuota(ctx, userID, store.Today())
}
