package events

import (
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/commutetracker-core/internal/common/logger"
)

const (
	SubjectDisambiguation = "travel.disambiguation"
	SubjectCompleted      = "travel.completed"
	SubjectUnauthorized   = "sync.unauthorized"
	SubjectLineSelection  = "travel.lineselection"
)

// NATSBus publishes core events on NATS subjects and subscribes to the
// line-selection responses coming back from the presentation layer.
type NATSBus struct {
	nc     *nats.Conn
	logger logger.Logger
}

func NewNATSBus(url string, log logger.Logger) (*NATSBus, error) {
	nc, err := nats.Connect(url,
		nats.Name("commutetracker"),
		nats.DisconnectHandler(func(_ *nats.Conn) {
			log.Warn("NATS disconnected")
		}),
		nats.ReconnectHandler(func(_ *nats.Conn) {
			log.Info("NATS reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS: %w", err)
	}
	return &NATSBus{nc: nc, logger: log}, nil
}

func (b *NATSBus) Close() {
	if b.nc != nil {
		b.nc.Drain()
		b.nc.Close()
	}
}

func (b *NATSBus) publish(subject string, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	if err := b.nc.Publish(subject, payload); err != nil {
		return fmt.Errorf("publishing to %s: %w", subject, err)
	}
	return nil
}

func (b *NATSBus) PublishDisambiguation(req DisambiguationRequest) error {
	return b.publish(SubjectDisambiguation, req)
}

func (b *NATSBus) PublishTravelCompleted(ev TravelCompleted) error {
	return b.publish(SubjectCompleted, ev)
}

func (b *NATSBus) PublishSyncUnauthorized(ev SyncUnauthorized) error {
	return b.publish(SubjectUnauthorized, ev)
}

// SubscribeLineSelections invokes handler for every line-selection response.
// Malformed payloads are logged and dropped.
func (b *NATSBus) SubscribeLineSelections(handler func(LineSelection)) (*nats.Subscription, error) {
	sub, err := b.nc.Subscribe(SubjectLineSelection, func(msg *nats.Msg) {
		var sel LineSelection
		if err := json.Unmarshal(msg.Data, &sel); err != nil {
			b.logger.Warn("Dropping malformed line selection", "error", err)
			return
		}
		handler(sel)
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", SubjectLineSelection, err)
	}
	return sub, nil
}
