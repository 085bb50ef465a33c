package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/dotside-studios/nfc-presence-agent/nfc"
	"github.com/dotside-studios/nfc-presence-agent/protocol"
)

// Publisher sends one message to a broker topic. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Source hands out presence subscriptions. *nfc.Lifecycle implements it.
type Source interface {
	Subscribe(topic string, replay bool) (*nfc.Subscription, error)
	Unsubscribe(id string)
}

// Sink forwards every presence event of a Source to a Publisher.
type Sink struct {
	publisher Publisher
	source    Source
	prefix    string
}

// NewSink creates a sink publishing under prefix, or DefaultTopicPrefix.
func NewSink(source Source, publisher Publisher, prefix string) *Sink {
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		prefix = DefaultTopicPrefix
	}
	return &Sink{publisher: publisher, source: source, prefix: prefix}
}

var topicEscaper = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// Topic returns the broker topic events of reader are published to.
func (s *Sink) Topic(reader string) string {
	return fmt.Sprintf("%s/%s/%s", s.prefix, topicEscaper.Replace(reader), protocol.TopicPresence)
}

// Run subscribes to presence events, replaying tags already present, and
// publishes them until ctx is done or the source closes the subscription.
func (s *Sink) Run(ctx context.Context) error {
	sub, err := s.source.Subscribe(protocol.TopicPresence, true)
	if err != nil {
		return fmt.Errorf("subscribe to presence events: %w", err)
	}
	defer s.source.Unsubscribe(sub.ID)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if err := s.publish(ev); err != nil {
				log.WithError(err).WithField("reader", ev.Reader).Warn("MQTT publish failed")
			}
		}
	}
}

func (s *Sink) publish(ev nfc.PresenceEvent) error {
	msg := protocol.EventPayload{
		Event:  protocol.TopicPresence,
		Status: protocol.StatusRemoved,
		Reader: ev.Reader,
		Seq:    ev.Seq,
		At:     ev.At,
		Replay: ev.Replay,
	}
	if ev.Detected() {
		msg.Status = protocol.StatusDetected
	}
	if ev.Record != nil {
		msg.Record = protocol.NewRecordPayload(string(ev.Record.Kind()), ev.Record.HexFields())
		msg.Family = ev.Record.Family()
	}
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	return s.publisher.Publish(s.Topic(ev.Reader), body)
}
