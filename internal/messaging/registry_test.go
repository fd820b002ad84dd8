package messaging

import (
	"context"
	"errors"
	"testing"
)

type fakeSession struct {
	keyID  int64
	closed bool
	sent   []string
}

func (s *fakeSession) Send(ctx context.Context, to, body string) error {
	s.sent = append(s.sent, to+":"+body)
	return nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}

type fakeDialer struct {
	dials   int
	dialErr error
}

func (d *fakeDialer) Dial(ctx context.Context, keyID int64) (Session, error) {
	d.dials++
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	return &fakeSession{keyID: keyID}, nil
}

func TestGetDialsOncePerKey(t *testing.T) {
	d := &fakeDialer{}
	r := NewRegistry(d)
	ctx := context.Background()

	s1, err := r.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	s2, err := r.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get again: %v", err)
	}
	if s1 != s2 {
		t.Error("expected the same session on repeated Get")
	}
	if d.dials != 1 {
		t.Errorf("dialed %d times, want 1", d.dials)
	}

	if _, err := r.Get(ctx, 2); err != nil {
		t.Fatalf("Get other key: %v", err)
	}
	if d.dials != 2 {
		t.Errorf("dialed %d times, want 2", d.dials)
	}
	if r.Active() != 2 {
		t.Errorf("got %d active sessions, want 2", r.Active())
	}
}

func TestGetWithoutDialer(t *testing.T) {
	r := NewRegistry(nil)
	if _, err := r.Get(context.Background(), 1); !errors.Is(err, ErrNoDialer) {
		t.Errorf("got %v, want ErrNoDialer", err)
	}
}

func TestGetDialError(t *testing.T) {
	d := &fakeDialer{dialErr: errors.New("connection refused")}
	r := NewRegistry(d)

	if _, err := r.Get(context.Background(), 1); err == nil {
		t.Fatal("expected dial error")
	}
	if r.Active() != 0 {
		t.Errorf("failed dial left %d sessions registered", r.Active())
	}
}

func TestEvict(t *testing.T) {
	d := &fakeDialer{}
	r := NewRegistry(d)
	ctx := context.Background()

	s, err := r.Get(ctx, 1)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	if err := r.Evict(1); err != nil {
		t.Fatalf("Evict: %v", err)
	}
	if !s.(*fakeSession).closed {
		t.Error("evicted session was not closed")
	}
	if r.Active() != 0 {
		t.Errorf("got %d active sessions after evict, want 0", r.Active())
	}

	// Evicting an absent key is a no-op.
	if err := r.Evict(1); err != nil {
		t.Errorf("Evict absent: %v", err)
	}

	// The next Get dials fresh.
	if _, err := r.Get(ctx, 1); err != nil {
		t.Fatalf("Get after evict: %v", err)
	}
	if d.dials != 2 {
		t.Errorf("dialed %d times, want 2", d.dials)
	}
}

func TestCloseAll(t *testing.T) {
	d := &fakeDialer{}
	r := NewRegistry(d)
	ctx := context.Background()

	s1, _ := r.Get(ctx, 1)
	s2, _ := r.Get(ctx, 2)

	r.CloseAll()

	if !s1.(*fakeSession).closed || !s2.(*fakeSession).closed {
		t.Error("CloseAll left sessions open")
	}
	if r.Active() != 0 {
		t.Errorf("got %d active sessions after CloseAll, want 0", r.Active())
	}
}
