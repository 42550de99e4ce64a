package service

import (
	"context"
	"testing"
	"time"

	"pocus/internal/modules/workspace/domain"
)

func TestUpdateIfDropsStaleEpoch(t *testing.T) {
	t.Parallel()
	c := NewStateContainer()
	_, epoch := c.Read()
	c.Reset(func(s *domain.State) { s.Phase = domain.PhaseLogin })
	if c.UpdateIf(epoch, func(s *domain.State) { s.Phase = domain.PhaseDashboard }) {
		t.Fatalf("stale update must be rejected")
	}
	state, current := c.Read()
	if state.Phase != domain.PhaseLogin || current != epoch+1 {
		t.Fatalf("unexpected state %s at epoch %d", state.Phase, current)
	}
	if !c.UpdateIf(current, func(s *domain.State) { s.Email = "a@b.test" }) {
		t.Fatalf("current epoch update must apply")
	}
}

func TestSubscribeKeepsLatestSnapshot(t *testing.T) {
	t.Parallel()
	c := NewStateContainer()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := c.Subscribe(ctx)

	first := <-ch
	if first.Phase != string(domain.PhaseLoading) {
		t.Fatalf("expected initial snapshot, got %s", first.Phase)
	}
	c.Update(func(s *domain.State) { s.Raise("one") })
	c.Update(func(s *domain.State) { s.Raise("two") })
	c.Update(func(s *domain.State) { s.Phase = domain.PhaseLogin })

	latest := <-ch
	if latest.Phase != string(domain.PhaseLogin) || latest.Banner != "two" {
		t.Fatalf("expected only the latest snapshot, got %+v", latest)
	}
	select {
	case extra := <-ch:
		t.Fatalf("unexpected queued snapshot %+v", extra)
	default:
	}
}

func TestSubscriptionClosesWithContext(t *testing.T) {
	t.Parallel()
	c := NewStateContainer()
	ctx, cancel := context.WithCancel(context.Background())
	ch := c.Subscribe(ctx)
	<-ch
	cancel()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription was not closed")
		}
	}
}
