package outbox

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/fulfillment-engine/pkg/db/models"
)

// ActorRef names the user whose action produced the event. Scheduler-driven
// events carry no actor.
type ActorRef struct {
	UserID uuid.UUID `json:"userId"`
	Role   string    `json:"role,omitempty"`
}

// PayloadEnvelope wraps every stored event payload. Consumers dedupe on EventID.
type PayloadEnvelope struct {
	Version    int             `json:"version"`
	EventID    string          `json:"eventId"`
	OccurredAt time.Time       `json:"occurredAt"`
	Actor      *ActorRef       `json:"actor,omitempty"`
	Data       json.RawMessage `json:"data"`
}

// DecodeEnvelope parses a stored payload and rejects envelopes a consumer
// could not dedupe or interpret.
func DecodeEnvelope(raw []byte) (PayloadEnvelope, error) {
	var env PayloadEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return PayloadEnvelope{}, err
	}
	if err := env.validate(); err != nil {
		return PayloadEnvelope{}, err
	}
	return env, nil
}

func (e PayloadEnvelope) validate() error {
	switch {
	case e.EventID == "":
		return errors.New("envelope event id missing")
	case e.Version < 1 || e.Version > currentVersion:
		return fmt.Errorf("unsupported envelope version %d", e.Version)
	case len(e.Data) == 0 || string(e.Data) == "null":
		return errors.New("envelope data missing")
	}
	return nil
}

// Attributes are the message attributes published alongside the payload so
// subscribers can filter without decoding it.
func (e PayloadEnvelope) Attributes(row models.OutboxEvent) map[string]string {
	attrs := map[string]string{
		"event_id":       e.EventID,
		"event_type":     string(row.EventType),
		"aggregate_type": string(row.AggregateType),
		"aggregate_id":   row.AggregateID.String(),
		"version":        strconv.Itoa(e.Version),
		"created_at":     row.CreatedAt.Format(time.RFC3339Nano),
	}
	if e.Actor != nil && e.Actor.Role != "" {
		attrs["actor_role"] = e.Actor.Role
	}
	return attrs
}
