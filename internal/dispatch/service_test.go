package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/store"
	"github.com/vin-jex/captain-dispatch/internal/throttle"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu     sync.Mutex
	orders map[string]*store.Order
	active map[string]int
}

func newMemoryStore(jobIDs ...string) *memoryStore {
	s := &memoryStore{
		orders: make(map[string]*store.Order),
		active: make(map[string]int),
	}
	for _, id := range jobIDs {
		s.orders[id] = &store.Order{ID: uuid.New(), Status: store.OrderReady}
	}
	return s
}

func (s *memoryStore) GetJob(_ context.Context, jobID string) (*store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[jobID]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (s *memoryStore) AssignJobToAgent(_ context.Context, jobID, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[jobID]
	if !ok || !store.IsDispatchable(order.Status) {
		return store.ErrInvalidStateTransition
	}
	order.Status = store.OrderAssigned
	s.active[agentID]++
	return nil
}

func (s *memoryStore) SetJobStatus(_ context.Context, jobID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[jobID].Status = status
	return nil
}

func (s *memoryStore) ListActiveJobsForAgent(_ context.Context, agentID string) ([]store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return make([]store.Order, s.active[agentID]), nil
}

func newTestService(t *testing.T, jobStore lease.JobStore) (*Service, *testclock.Clock) {
	t.Helper()

	clk := testclock.NewClock(epoch)
	service, err := New(Config{
		Lease: lease.Config{
			Store:        jobStore,
			HoldDuration: 90 * time.Second,
			Clock:        clk,
		},
		Throttle: throttle.Config{
			MaxConcurrent: 5,
			Cooldown:      60 * time.Second,
			Clock:         clk,
		},
	})
	require.NoError(t, err)

	for _, id := range []string{"a", "b"} {
		service.Coordinator().RegisterAgent(lease.Agent{ID: id, Name: "Captain " + id})
	}

	return service, clk
}

func TestAttemptTracksJobOnFirstUse(t *testing.T) {
	service, _ := newTestService(t, newMemoryStore("j1"))

	result := service.Attempt(context.Background(), "j1", "a")
	require.True(t, result.OK, result.Message)
	assert.Equal(t, int64(90000), result.RemainingMs)

	result = service.Attempt(context.Background(), "j9", "a")
	assert.Equal(t, string(lease.ReasonNotFound), result.Reason)
	assert.Equal(t, 1, service.Diagnostics().Throttle.ActiveAttempts)
}

func TestLockedDenialAppliesNoCooldown(t *testing.T) {
	service, clk := newTestService(t, newMemoryStore("j1", "j2"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	clk.Advance(10 * time.Second)

	result := service.Attempt(context.Background(), "j1", "b")
	assert.Equal(t, string(lease.ReasonLocked), result.Reason)
	assert.Equal(t, int64(80000), result.RemainingMs)
	assert.Equal(t, "Captain a", result.HolderName)

	assert.True(t, service.Attempt(context.Background(), "j2", "b").OK)
}

func TestCapacityFailureStartsCooldown(t *testing.T) {
	jobStore := newMemoryStore("j2", "j3")
	jobStore.active["a"] = 3
	service, clk := newTestService(t, jobStore)

	require.True(t, service.Attempt(context.Background(), "j2", "a").OK)
	result := service.Confirm(context.Background(), "j2", "a")
	assert.Equal(t, string(lease.ReasonCapacityExceeded), result.Reason)

	clk.Advance(30 * time.Second)
	result = service.Attempt(context.Background(), "j3", "a")
	assert.Equal(t, string(throttle.ReasonCooldownActive), result.Reason)
	assert.Equal(t, int64(30000), result.WaitMs)

	clk.Advance(31 * time.Second)
	jobStore.mu.Lock()
	jobStore.active["a"] = 0
	jobStore.mu.Unlock()
	assert.True(t, service.Attempt(context.Background(), "j3", "a").OK)
}

func TestConfirmCommitsWithoutCooldown(t *testing.T) {
	service, _ := newTestService(t, newMemoryStore("j1", "j2"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	result := service.Confirm(context.Background(), "j1", "a")
	require.True(t, result.OK)
	require.NotNil(t, result.Order)
	assert.Equal(t, store.OrderAssigned, result.Order.Status)

	assert.Equal(t, 0, service.Diagnostics().Throttle.ActiveAttempts)
	assert.True(t, service.Attempt(context.Background(), "j2", "a").OK)

	assert.Equal(t, string(lease.ReasonNotAvailable), service.Attempt(context.Background(), "j1", "b").Reason)
}

func TestCancelStartsCooldown(t *testing.T) {
	service, _ := newTestService(t, newMemoryStore("j1", "j2"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	assert.Equal(t, string(lease.ReasonNoLease), service.Cancel("j1", "b").Reason)
	require.True(t, service.Cancel("j1", "a").OK)

	result := service.Attempt(context.Background(), "j2", "a")
	assert.Equal(t, string(throttle.ReasonCooldownActive), result.Reason)
	assert.Equal(t, int64(60000), result.WaitMs)
}

func TestSweptExpiryStartsCooldown(t *testing.T) {
	service, clk := newTestService(t, newMemoryStore("j1"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	clk.Advance(100 * time.Second)
	require.Len(t, service.Coordinator().SweepExpiredLeases(), 1)

	stats := service.Diagnostics()
	assert.Equal(t, 0, stats.Throttle.ActiveAttempts)
	assert.Equal(t, 1, stats.Throttle.ActiveCooldowns)
	assert.Equal(t, 1, stats.Lease.OpenJobs)

	assert.True(t, service.Attempt(context.Background(), "j1", "b").OK)
}

func TestForceClear(t *testing.T) {
	service, _ := newTestService(t, newMemoryStore("j1"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	require.Equal(t, string(lease.ReasonLocked), service.Attempt(context.Background(), "j1", "b").Reason)

	result := service.ForceClear("j1")
	assert.Equal(t, []string{"a"}, result.ClearedAgents)
	assert.True(t, result.LeaseReleased)

	denied := service.Attempt(context.Background(), "j1", "a")
	assert.Equal(t, string(throttle.ReasonCooldownActive), denied.Reason)
	assert.Equal(t, int64(30000), denied.WaitMs)

	assert.True(t, service.ResetCooldown("a"))
	assert.True(t, service.Attempt(context.Background(), "j1", "a").OK)
}

func TestDeregisterFreesGuardSlot(t *testing.T) {
	service, _ := newTestService(t, newMemoryStore("j1"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	service.Coordinator().DeregisterAgent("a")

	stats := service.Diagnostics()
	assert.Equal(t, 0, stats.Throttle.ActiveAttempts)
	assert.Equal(t, 0, stats.Throttle.ActiveCooldowns)
	assert.True(t, service.Attempt(context.Background(), "j1", "b").OK)
}

func TestReattemptAfterOwnLeaseLapsedKeepsGuardSlot(t *testing.T) {
	service, clk := newTestService(t, newMemoryStore("j1", "j2"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)
	clk.Advance(95 * time.Second)

	again := service.Attempt(context.Background(), "j1", "a")
	require.True(t, again.OK, again.Message)

	stats := service.Diagnostics()
	assert.Equal(t, 1, stats.Throttle.ActiveAttempts)
	assert.Equal(t, 0, stats.Throttle.ActiveCooldowns)

	require.True(t, service.Confirm(context.Background(), "j1", "a").OK)
	assert.True(t, service.Attempt(context.Background(), "j2", "a").OK)
}

func TestLateExpiryNoticeSparesReacquiredLease(t *testing.T) {
	service, _ := newTestService(t, newMemoryStore("j1"))

	require.True(t, service.Attempt(context.Background(), "j1", "a").OK)

	// The coordinator reports an expiry that raced with a fresh grant.
	service.LeaseEnded("j1", "a", lease.CauseExpired)

	stats := service.Diagnostics()
	assert.Equal(t, 1, stats.Throttle.ActiveAttempts)
	assert.Equal(t, 0, stats.Throttle.ActiveCooldowns)
}
