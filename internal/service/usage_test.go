package service

import (
	"context"
	"testing"

	"github.com/snaplinkhq/snaplink/internal/model"
)

func TestRecord(t *testing.T) {
	auth, st := newTestAuth(t)
	quota := NewQuota(st)
	recorder := NewRecorder(st, quota, model.UsageLogCap)
	ctx := context.Background()

	u, err := auth.Register(ctx, "alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, plaintext, err := auth.IssueKey(ctx, u.ID, "ci")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}
	p, err := auth.ValidateKey(ctx, plaintext)
	if err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}

	entry, err := recorder.Record(ctx, p, "/api/v1/media/youtube", "10.0.0.1", "curl/8.0")
	if err != nil {
		t.Fatalf("Record: %v", err)
	}
	if entry.ID == 0 {
		t.Fatal("expected non-zero entry ID")
	}
	if entry.APIKeyID != p.Key.ID {
		t.Errorf("entry key %d, want %d", entry.APIKeyID, p.Key.ID)
	}
	if entry.KeyPrefix != p.Key.KeyPrefix {
		t.Errorf("entry prefix %q, want %q", entry.KeyPrefix, p.Key.KeyPrefix)
	}

	// Recording lands in the log and counts against the day's quota.
	entries, err := st.ListUsageByUser(ctx, u.ID, 10)
	if err != nil {
		t.Fatalf("ListUsageByUser: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("got %d log entries, want 1", len(entries))
	}
	if entries[0].Endpoint != "/api/v1/media/youtube" {
		t.Errorf("got endpoint %q", entries[0].Endpoint)
	}

	got, err := st.GetUser(ctx, u.ID)
	if err != nil {
		t.Fatalf("GetUser: %v", err)
	}
	if got.RequestsToday != 1 {
		t.Errorf("got requests_today %d, want 1", got.RequestsToday)
	}
}

func TestRecordThenAdmitSequence(t *testing.T) {
	auth, st := newTestAuth(t)
	quota := NewQuota(st)
	recorder := NewRecorder(st, quota, model.UsageLogCap)
	ctx := context.Background()

	u, err := auth.Register(ctx, "alice", "alice@example.com", "password123")
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, plaintext, err := auth.IssueKey(ctx, u.ID, "ci")
	if err != nil {
		t.Fatalf("IssueKey: %v", err)
	}

	// With a limit of 2, the first two requests are admitted and the third
	// is denied with an exact counter.
	limit := 2
	for i := 0; i < limit; i++ {
		p, err := auth.ValidateKey(ctx, plaintext)
		if err != nil {
			t.Fatalf("ValidateKey #%d: %v", i, err)
		}
		p.User.DailyLimit = limit
		status, ok := quota.CheckAndAdmit(p.User)
		if !ok {
			t.Fatalf("request #%d denied at used=%d", i, status.Used)
		}
		if _, err := recorder.Record(ctx, p, "/api/v1/tools/qr", "10.0.0.1", "curl/8.0"); err != nil {
			t.Fatalf("Record #%d: %v", i, err)
		}
	}

	p, err := auth.ValidateKey(ctx, plaintext)
	if err != nil {
		t.Fatalf("ValidateKey: %v", err)
	}
	p.User.DailyLimit = limit
	status, ok := quota.CheckAndAdmit(p.User)
	if ok {
		t.Fatal("request over limit was admitted")
	}
	if status.Used != limit {
		t.Errorf("denial reported used=%d, want %d", status.Used, limit)
	}
	if status.Limit != limit {
		t.Errorf("denial reported limit=%d, want %d", status.Limit, limit)
	}
}
