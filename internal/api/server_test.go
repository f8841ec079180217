package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/juju/clock/testclock"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vin-jex/captain-dispatch/internal/dispatch"
	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/notify"
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

	order := s.orders[jobID]
	if err := store.ValidateOrderTransition(order.Status, status); err != nil {
		return err
	}
	order.Status = status
	return nil
}

func (s *memoryStore) ListActiveJobsForAgent(_ context.Context, agentID string) ([]store.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return make([]store.Order, s.active[agentID]), nil
}

type pinger struct{ err error }

func (p pinger) Ping(context.Context) error { return p.err }

type harness struct {
	handler  http.Handler
	clock    *testclock.Clock
	registry *prometheus.Registry
}

func newHarness(t *testing.T, config Config, jobIDs ...string) *harness {
	t.Helper()

	h := &harness{
		clock:    testclock.NewClock(epoch),
		registry: prometheus.NewRegistry(),
	}

	hub := notify.NewHub(nil)
	service, err := dispatch.New(dispatch.Config{
		Lease: lease.Config{
			Store:        newMemoryStore(jobIDs...),
			Notifier:     hub,
			HoldDuration: 90 * time.Second,
			Clock:        h.clock,
			Registerer:   h.registry,
		},
		Throttle: throttle.Config{Clock: h.clock},
	})
	require.NoError(t, err)

	config.Service = service
	config.Hub = hub
	config.Clock = h.clock
	config.Gatherer = h.registry
	h.handler = NewServer(config).Handler()

	return h
}

func (h *harness) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var payload bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&payload).Encode(body))
	}

	request := httptest.NewRequest(method, path, &payload)
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)

	return recorder
}

func (h *harness) register(t *testing.T, agentIDs ...string) {
	t.Helper()

	for _, id := range agentIDs {
		response := h.do(t, http.MethodPost, "/v1/agents", RegisterAgentRequest{AgentID: id, Name: "Captain " + id})
		require.Equal(t, http.StatusCreated, response.Code)
	}
}

func decode[T any](t *testing.T, recorder *httptest.ResponseRecorder) T {
	t.Helper()

	var out T
	require.NoError(t, json.NewDecoder(recorder.Body).Decode(&out))
	return out
}

func TestAttemptConfirmFlow(t *testing.T) {
	h := newHarness(t, Config{}, "j1")
	h.register(t, "a", "b")

	granted := h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "a"})
	require.Equal(t, http.StatusOK, granted.Code)
	assert.Equal(t, int64(90000), decode[AttemptResponse](t, granted).RemainingMs)

	h.clock.Advance(10 * time.Second)

	locked := h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "b"})
	require.Equal(t, http.StatusConflict, locked.Code)
	assert.Equal(t, "80", locked.Header().Get("Retry-After"))
	rejection := decode[ErrorResponse](t, locked)
	assert.Equal(t, string(lease.ReasonLocked), rejection.Reason)
	assert.Equal(t, "Captain a", rejection.HolderName)
	assert.Equal(t, int64(80000), rejection.RemainingMs)

	confirmed := h.do(t, http.MethodPost, "/v1/jobs/j1/confirm", AgentRequest{AgentID: "a"})
	require.Equal(t, http.StatusOK, confirmed.Code)
	body := decode[ConfirmResponse](t, confirmed)
	require.NotNil(t, body.Order)
	assert.Equal(t, store.OrderAssigned, body.Order.Status)

	gone := h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "b"})
	assert.Equal(t, http.StatusGone, gone.Code)

	job := h.do(t, http.MethodGet, "/v1/jobs/j1", nil)
	require.Equal(t, http.StatusOK, job.Code)
	snapshot := decode[JobResponse](t, job)
	assert.Equal(t, string(lease.StatusCommitted), snapshot.Status)
	assert.Equal(t, "a", snapshot.AssignedTo)
	require.Len(t, snapshot.Attempts, 1)
	assert.Equal(t, string(lease.OutcomeSucceeded), snapshot.Attempts[0].Outcome)
}

func TestCancelledAttemptCoolsDown(t *testing.T) {
	h := newHarness(t, Config{}, "j1", "j2")
	h.register(t, "a")

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "a"}).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j1/cancel", AgentRequest{AgentID: "a"}).Code)

	throttled := h.do(t, http.MethodPost, "/v1/jobs/j2/attempt", AgentRequest{AgentID: "a"})
	require.Equal(t, http.StatusTooManyRequests, throttled.Code)
	assert.Equal(t, "60", throttled.Header().Get("Retry-After"))

	rejection := decode[ErrorResponse](t, throttled)
	assert.Equal(t, string(throttle.ReasonCooldownActive), rejection.Reason)
	assert.Equal(t, int64(60000), rejection.WaitMs)

	reset := h.do(t, http.MethodPost, "/admin/agents/a/cooldown/reset", nil)
	require.Equal(t, http.StatusOK, reset.Code)
	assert.True(t, decode[ResetCooldownResponse](t, reset).Reset)

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j2/attempt", AgentRequest{AgentID: "a"}).Code)
}

func TestCancelWithoutLease(t *testing.T) {
	h := newHarness(t, Config{}, "j1")
	h.register(t, "a")

	response := h.do(t, http.MethodPost, "/v1/jobs/j1/cancel", AgentRequest{AgentID: "a"})
	assert.Equal(t, http.StatusConflict, response.Code)
	assert.Equal(t, string(lease.ReasonNoLease), decode[ErrorResponse](t, response).Reason)
}

func TestAttemptValidation(t *testing.T) {
	h := newHarness(t, Config{}, "j1")
	h.register(t, "a")

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{}).Code)

	request := httptest.NewRequest(http.MethodPost, "/v1/jobs/j1/attempt", bytes.NewBufferString("{"))
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusBadRequest, recorder.Code)

	missing := h.do(t, http.MethodPost, "/v1/jobs/nope/attempt", AgentRequest{AgentID: "a"})
	assert.Equal(t, http.StatusNotFound, missing.Code)
	assert.Equal(t, string(lease.ReasonNotFound), decode[ErrorResponse](t, missing).Reason)

	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/jobs/nope", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/v1/jobs/nope/track", nil).Code)
}

func TestTrackJob(t *testing.T) {
	h := newHarness(t, Config{}, "j1")

	response := h.do(t, http.MethodPost, "/v1/jobs/j1/track", nil)
	require.Equal(t, http.StatusOK, response.Code)

	job := decode[JobResponse](t, response)
	assert.Equal(t, string(lease.StatusOpen), job.Status)
	assert.Empty(t, job.Attempts)
	assert.Nil(t, job.Lease)
}

func TestAgentLifecycle(t *testing.T) {
	h := newHarness(t, Config{}, "j1")
	h.register(t, "a")

	invalid := h.do(t, http.MethodPost, "/v1/agents", RegisterAgentRequest{AgentID: "x", Name: "X", Status: "asleep"})
	assert.Equal(t, http.StatusBadRequest, invalid.Code)
	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPost, "/v1/agents", RegisterAgentRequest{AgentID: "x"}).Code)

	assert.Equal(t, http.StatusBadRequest, h.do(t, http.MethodPut, "/v1/agents/a/status", SetAgentStatusRequest{Status: "asleep"}).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPut, "/v1/agents/zz/status", SetAgentStatusRequest{Status: "busy"}).Code)

	busy := h.do(t, http.MethodPut, "/v1/agents/a/status", SetAgentStatusRequest{Status: "busy"})
	require.Equal(t, http.StatusOK, busy.Code)
	assert.Equal(t, "busy", decode[AgentResponse](t, busy).Status)

	unavailable := h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "a"})
	assert.Equal(t, http.StatusGone, unavailable.Code)

	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodDelete, "/v1/agents/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodDelete, "/v1/agents/a", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodGet, "/v1/agents/a/events", nil).Code)
}

func TestAdvanceJob(t *testing.T) {
	h := newHarness(t, Config{}, "j1")
	h.register(t, "a", "b")

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "a"}).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j1/confirm", AgentRequest{AgentID: "a"}).Code)

	assert.Equal(t, http.StatusForbidden,
		h.do(t, http.MethodPut, "/v1/jobs/j1/status", AdvanceJobRequest{AgentID: "b", Status: store.OrderPickedUp}).Code)
	assert.Equal(t, http.StatusConflict,
		h.do(t, http.MethodPut, "/v1/jobs/j1/status", AdvanceJobRequest{AgentID: "a", Status: store.OrderDelivered}).Code)
	assert.Equal(t, http.StatusNoContent,
		h.do(t, http.MethodPut, "/v1/jobs/j1/status", AdvanceJobRequest{AgentID: "a", Status: store.OrderPickedUp}).Code)
}

func TestAdminOperations(t *testing.T) {
	h := newHarness(t, Config{}, "j1", "j2")
	h.register(t, "a")

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "a"}).Code)

	cleared := h.do(t, http.MethodPost, "/admin/jobs/j1/force-clear", nil)
	require.Equal(t, http.StatusOK, cleared.Code)
	result := decode[ForceClearResponse](t, cleared)
	assert.Equal(t, []string{"a"}, result.ClearedAgents)
	assert.True(t, result.LeaseReleased)

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j2/track", nil).Code)
	assert.Equal(t, http.StatusNoContent, h.do(t, http.MethodPost, "/admin/jobs/j2/external-cancel", nil).Code)
	assert.Equal(t, http.StatusConflict, h.do(t, http.MethodPost, "/admin/jobs/j2/external-cancel", nil).Code)
	assert.Equal(t, http.StatusNotFound, h.do(t, http.MethodPost, "/admin/jobs/zz/external-cancel", nil).Code)
}

func TestDiagnostics(t *testing.T) {
	h := newHarness(t, Config{}, "j1", "j2")
	h.register(t, "a", "b")

	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j1/attempt", AgentRequest{AgentID: "a"}).Code)
	require.Equal(t, http.StatusOK, h.do(t, http.MethodPost, "/v1/jobs/j2/track", nil).Code)

	response := h.do(t, http.MethodGet, "/v1/diagnostics", nil)
	require.Equal(t, http.StatusOK, response.Code)

	diagnostics := decode[DiagnosticsResponse](t, response)
	assert.Equal(t, 1, diagnostics.Jobs.Open)
	assert.Equal(t, 1, diagnostics.Jobs.Leased)
	assert.Equal(t, 2, diagnostics.Agents.Online)
	assert.Equal(t, 1, diagnostics.Leases.Active)
	assert.Equal(t, 1, diagnostics.Throttle.ActiveAttempts)
	assert.Equal(t, throttle.DefaultMaxConcurrent, diagnostics.Throttle.MaxConcurrent)
	assert.Equal(t, int64(60), diagnostics.Throttle.CooldownSeconds)
}

func TestOperationalEndpoints(t *testing.T) {
	h := newHarness(t, Config{Store: pinger{}})

	health := h.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, health.Code)
	assert.NotEmpty(t, health.Header().Get(requestIDHeader))

	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/readyz", nil).Code)

	metrics := h.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, metrics.Code)
	assert.Contains(t, metrics.Body.String(), "dispatch_lease_active")

	down := newHarness(t, Config{Store: pinger{err: errors.New("connection refused")}})
	assert.Equal(t, http.StatusServiceUnavailable, down.do(t, http.MethodGet, "/readyz", nil).Code)
}

func TestRequestIDIsPropagated(t *testing.T) {
	h := newHarness(t, Config{})

	request := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	request.Header.Set(requestIDHeader, "req-42")
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)

	assert.Equal(t, "req-42", recorder.Header().Get(requestIDHeader))
}

func TestRateLimitPerRemoteAddress(t *testing.T) {
	h := newHarness(t, Config{RateLimitRPS: 1, RateLimitBurst: 1})

	first := h.do(t, http.MethodGet, "/v1/diagnostics", nil)
	assert.Equal(t, http.StatusOK, first.Code)

	second := h.do(t, http.MethodGet, "/v1/diagnostics", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.Code)
	assert.NotEmpty(t, second.Header().Get("Retry-After"))

	request := httptest.NewRequest(http.MethodGet, "/v1/diagnostics", nil)
	request.RemoteAddr = "10.0.0.9:4321"
	recorder := httptest.NewRecorder()
	h.handler.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusOK, recorder.Code)

	// Probes are not limited.
	assert.Equal(t, http.StatusOK, h.do(t, http.MethodGet, "/healthz", nil).Code)
}
