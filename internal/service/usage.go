package service

import (
	"context"
	"fmt"

	"github.com/snaplinkhq/snaplink/internal/model"
	"github.com/snaplinkhq/snaplink/internal/store"
)

// Recorder appends usage log entries for admitted requests and drives the
// quota counter. Recording is synchronous with the request cycle: entries
// are never dropped except by the retention cap, and per-user ordering
// follows request completion order.
type Recorder struct {
	store *store.Store
	quota *Quota
	cap   int
}

// NewRecorder creates a Recorder with the given retention cap.
func NewRecorder(st *store.Store, quota *Quota, cap int) *Recorder {
	return &Recorder{store: st, quota: quota, cap: cap}
}

// Record appends one usage entry for an already-validated key and applies
// the request to the owner's daily quota. The middleware hands us the
// resolved principal, so no second validation pass is needed.
func (r *Recorder) Record(ctx context.Context, p *Principal, endpoint, ip, userAgent string) (*model.UsageEntry, error) {
	e := &model.UsageEntry{
		APIKeyID:  p.Key.ID,
		KeyPrefix: p.Key.KeyPrefix,
		Endpoint:  endpoint,
		IP:        ip,
		UserAgent: userAgent,
	}
	if err := r.store.AppendUsage(ctx, e, r.cap); err != nil {
		return nil, fmt.Errorf("append usage: %w", err)
	}

	if err := r.quota.RollOrIncrement(ctx, p.User.ID); err != nil {
		return nil, fmt.Errorf("increment quota: %w", err)
	}
	return e, nil
}
