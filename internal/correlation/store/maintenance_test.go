package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	audit "github.com/ProdByBuddha/readmyfineprint/pkg/platform/audit"
)

// failingSweepStore fails every sweep; the other Store methods are never
// reached by the maintenance loop.
type failingSweepStore struct {
	Store
}

func (f *failingSweepStore) RemoveExpiredAt(context.Context, time.Time) (int, error) {
	return 0, errors.New("backend down")
}

type sweepPublisher struct {
	mu     sync.Mutex
	events []audit.Event
	seen   chan struct{}
	once   sync.Once
}

func (p *sweepPublisher) Emit(_ context.Context, event audit.Event) error {
	p.mu.Lock()
	p.events = append(p.events, event)
	p.mu.Unlock()
	p.once.Do(func() { close(p.seen) })
	return nil
}

func TestStartMaintenanceAuditsSweepFailures(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	publisher := &sweepPublisher{seen: make(chan struct{})}
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		StartMaintenance(ctx, &failingSweepStore{}, 5*time.Millisecond, quiet, nil, publisher)
	}()

	select {
	case <-publisher.seen:
	case <-time.After(2 * time.Second):
		t.Fatal("sweep failure produced no audit event")
	}
	cancel()
	<-done

	publisher.mu.Lock()
	defer publisher.mu.Unlock()
	require.NotEmpty(t, publisher.events)
	event := publisher.events[0]
	assert.Equal(t, string(audit.EventRetentionSweepFailed), event.Action)
	assert.Contains(t, event.Reason, "backend down")
}

func TestStartMaintenanceSurvivesNilAuditor(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))

	done := make(chan struct{})
	go func() {
		defer close(done)
		StartMaintenance(ctx, &failingSweepStore{}, 5*time.Millisecond, quiet, nil, nil)
	}()

	// Let at least one failing tick pass, then shut down cleanly.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("maintenance loop did not stop on cancel")
	}
}
