package lease

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/stretchr/testify/require"

	"github.com/vin-jex/captain-dispatch/internal/notify"
	"github.com/vin-jex/captain-dispatch/internal/store"
)

var epoch = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

type fakeStore struct {
	mu sync.Mutex

	orders map[string]*store.Order
	active map[string]int

	getErr    error
	listErr   error
	assignErr error

	// assignEntered and assignRelease let a test hold a commit mid-flight.
	assignEntered chan struct{}
	assignRelease chan struct{}

	assigned []string
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orders: make(map[string]*store.Order),
		active: make(map[string]int),
	}
}

func (s *fakeStore) add(jobID, status string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.orders[jobID] = &store.Order{ID: uuid.New(), Status: status}
}

func (s *fakeStore) GetJob(_ context.Context, jobID string) (*store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.getErr != nil {
		return nil, s.getErr
	}
	order, ok := s.orders[jobID]
	if !ok {
		return nil, nil
	}
	copied := *order
	return &copied, nil
}

func (s *fakeStore) AssignJobToAgent(_ context.Context, jobID, agentID string) error {
	if s.assignEntered != nil {
		s.assignEntered <- struct{}{}
		<-s.assignRelease
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assignErr != nil {
		return s.assignErr
	}
	order, ok := s.orders[jobID]
	if !ok || !store.IsDispatchable(order.Status) {
		return store.ErrInvalidStateTransition
	}
	order.Status = store.OrderAssigned
	s.active[agentID]++
	s.assigned = append(s.assigned, jobID+"="+agentID)
	return nil
}

func (s *fakeStore) SetJobStatus(_ context.Context, jobID, status string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[jobID]
	if !ok {
		return errors.New("no such order")
	}
	if err := store.ValidateOrderTransition(order.Status, status); err != nil {
		return err
	}
	order.Status = status
	return nil
}

func (s *fakeStore) ListActiveJobsForAgent(_ context.Context, agentID string) ([]store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.listErr != nil {
		return nil, s.listErr
	}
	return make([]store.Order, s.active[agentID]), nil
}

type delivery struct {
	recipients []string
	event      notify.Event
}

type recordingNotifier struct {
	mu         sync.Mutex
	deliveries []delivery
}

func (n *recordingNotifier) Notify(agentIDs []string, event notify.Event) {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.deliveries = append(n.deliveries, delivery{recipients: agentIDs, event: event})
}

func (n *recordingNotifier) ofType(eventType notify.EventType) []delivery {
	n.mu.Lock()
	defer n.mu.Unlock()

	var out []delivery
	for _, d := range n.deliveries {
		if d.event.EventType == eventType {
			out = append(out, d)
		}
	}
	return out
}

type ended struct {
	jobID   string
	agentID string
	cause   ReleaseCause
}

type recordingObserver struct {
	mu    sync.Mutex
	calls []ended
}

func (o *recordingObserver) LeaseEnded(jobID, agentID string, cause ReleaseCause) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, ended{jobID: jobID, agentID: agentID, cause: cause})
}

func (o *recordingObserver) all() []ended {
	o.mu.Lock()
	defer o.mu.Unlock()

	return append([]ended(nil), o.calls...)
}

type fixture struct {
	coordinator *Coordinator
	clock       *testclock.Clock
	store       *fakeStore
	notifier    *recordingNotifier
	observer    *recordingObserver
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		clock:    testclock.NewClock(epoch),
		store:    newFakeStore(),
		notifier: &recordingNotifier{},
		observer: &recordingObserver{},
	}

	coordinator, err := NewCoordinator(Config{
		Store:        f.store,
		Notifier:     f.notifier,
		Observer:     f.observer,
		HoldDuration: 90 * time.Second,
		Clock:        f.clock,
	})
	require.NoError(t, err)
	f.coordinator = coordinator

	return f
}

// withJob registers a dispatchable order in the store and tracks it.
func (f *fixture) withJob(t *testing.T, jobID string) {
	t.Helper()

	f.store.add(jobID, store.OrderReady)
	require.True(t, f.coordinator.TrackJob(context.Background(), jobID))
}

func (f *fixture) withAgents(names ...string) {
	for _, name := range names {
		f.coordinator.RegisterAgent(Agent{ID: name, Name: "Captain " + name, Status: AgentOnline})
	}
}
