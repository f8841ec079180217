package notify

import (
	"io"
	"log/slog"

	"github.com/juju/pubsub/v2"
)

const agentTopicPrefix = "agent."

func agentTopic(agentID string) string {
	return agentTopicPrefix + agentID
}

// Hub fans events out to per-agent topics on an in-process pubsub hub.
// Each subscriber receives its events in publish order on its own goroutine.
type Hub struct {
	hub    *pubsub.SimpleHub
	logger *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Hub{
		hub:    pubsub.NewSimpleHub(&pubsub.SimpleHubConfig{}),
		logger: logger,
	}
}

func (h *Hub) Notify(agentIDs []string, event Event) {
	for _, agentID := range agentIDs {
		h.hub.Publish(agentTopic(agentID), event)
	}

	h.logger.Debug(
		"event published",
		"event_type", string(event.EventType),
		"job_id", event.JobID,
		"recipients", len(agentIDs),
	)
}

// Subscribe registers handler for events addressed to agentID. The returned
// function removes the subscription.
func (h *Hub) Subscribe(agentID string, handler func(Event)) func() {
	return h.hub.Subscribe(agentTopic(agentID), func(topic string, data interface{}) {
		event, ok := data.(Event)
		if !ok {
			h.logger.Error("unexpected payload on agent topic", "topic", topic)
			return
		}

		handler(event)
	})
}
