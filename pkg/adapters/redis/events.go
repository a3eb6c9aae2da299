package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aretw0/gridsession/pkg/domain"
)

// eventBuffer is the number of decoded events queued per watcher.
const eventBuffer = 64

// eventMessage is the JSON payload published on the events channel.
type eventMessage struct {
	Type      domain.EventType  `json:"type"`
	SessionID string            `json:"session_id"`
	Timestamp time.Time         `json:"timestamp"`
	Fields    map[string][]byte `json:"fields,omitempty"`
}

func encodeEvent(t domain.EventType, id string, rec *domain.Record) ([]byte, error) {
	msg := eventMessage{
		Type:      t,
		SessionID: id,
		Timestamp: time.Now().UTC(),
	}
	if rec != nil {
		msg.Fields = encodeRecordBytes(rec)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal session event: %w", err)
	}
	return data, nil
}

func decodeEvent(payload string) (*domain.SessionEvent, error) {
	var msg eventMessage
	if err := json.Unmarshal([]byte(payload), &msg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal session event: %w", err)
	}
	e := &domain.SessionEvent{
		Type:      msg.Type,
		SessionID: msg.SessionID,
		Timestamp: msg.Timestamp,
	}
	if len(msg.Fields) > 0 {
		rec, err := decodeRecordBytes(msg.Fields)
		if err != nil {
			return nil, fmt.Errorf("failed to decode event session: %w", err)
		}
		e.Record = rec
	}
	return e, nil
}

// publish sends an event outside of a transaction. Failures are logged: the
// store change has already happened and must not be reported as failed.
func (s *Store) publish(ctx context.Context, t domain.EventType, id string, rec *domain.Record) {
	payload, err := encodeEvent(t, id, rec)
	if err == nil {
		err = s.client.Publish(ctx, s.eventsChannel(), payload).Err()
	}
	if err != nil {
		s.logger.Warn("Failed to publish session event",
			"event", t,
			"session_id", id,
			"err", err,
		)
	}
}

// Watch subscribes to the events channel. It returns once the subscription is
// confirmed, so events published afterwards are not missed.
func (s *Store) Watch(ctx context.Context) (<-chan *domain.SessionEvent, error) {
	pubsub := s.client.Subscribe(ctx, s.eventsChannel())
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to session events: %w", err)
	}

	msgs := pubsub.Channel()
	out := make(chan *domain.SessionEvent, eventBuffer)
	go func() {
		defer close(out)
		defer pubsub.Close()

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				e, err := decodeEvent(msg.Payload)
				if err != nil {
					s.logger.Warn("Dropping malformed session event", "err", err)
					continue
				}
				select {
				case out <- e:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
