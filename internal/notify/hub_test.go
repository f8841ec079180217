package notify

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vin-jex/captain-dispatch/internal/observability"
)

func TestHubDeliversOnlyToAddressedAgents(t *testing.T) {
	hub := NewHub(observability.DiscardLogger())

	received := make(chan Event, 1)
	unsubscribe := hub.Subscribe("a1", func(event Event) {
		received <- event
	})
	defer unsubscribe()

	other := make(chan Event, 1)
	unsubscribeOther := hub.Subscribe("a2", func(event Event) {
		other <- event
	})
	defer unsubscribeOther()

	at := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	hub.Notify([]string{"a1"}, NewEvent(OrderLocked, "j1", at, map[string]any{"holderName": "Sam"}))

	select {
	case event := <-received:
		assert.Equal(t, MessageType, event.Type)
		assert.Equal(t, OrderLocked, event.EventType)
		assert.Equal(t, "j1", event.JobID)
		assert.Equal(t, "Sam", event.Data["holderName"])
	case <-time.After(5 * time.Second):
		t.Fatal("event not delivered")
	}

	select {
	case event := <-other:
		t.Fatalf("unexpected event for a2: %+v", event)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestServeAgentStreamsEvents(t *testing.T) {
	hub := NewHub(observability.DiscardLogger())

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hub.ServeAgent(w, r, "a1")
	}))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	// The subscription is registered after the upgrade completes, so keep
	// publishing until the first event arrives.
	done := make(chan struct{})
	defer close(done)
	go func() {
		ticker := time.NewTicker(20 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				hub.Notify([]string{"a1"}, NewEvent(NewOrderAvailable, "j9", time.Now(), nil))
			}
		}
	}()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))

	var event Event
	require.NoError(t, conn.ReadJSON(&event))
	assert.Equal(t, MessageType, event.Type)
	assert.Equal(t, NewOrderAvailable, event.EventType)
	assert.Equal(t, "j9", event.JobID)
}
