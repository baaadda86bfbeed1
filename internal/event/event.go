// Package event defines the envelope broadcast through the bus and the
// event type vocabulary the core recognizes.
//
// An event has a fixed core (id, type, timestamp, source) and an open
// payload of domain fields. On the wire the payload is flattened into the
// envelope object, matching the platform's JSON shape:
//
//	{"event_id": 42, "type": "user:job_saved", "timestamp": "…", "source": "bot", "jobs_saved": 1}
package event

import (
	"encoding/json"
	"fmt"
	"time"
)

// Core meta events. These coordinate the platform itself and are never
// matched against bot intents; routing them would let a bot's own state
// changes re-trigger it in a loop.
const (
	TypeBotStateChange = "bot_state_change"
	TypeBotLog         = "bot_log"
	TypeHeartbeat      = "heartbeat"
	TypeBotsState      = "bots_state"
	TypeBotRunStart    = "bot_run_start"
	TypeBotRunRetry    = "bot_run_retry"
)

// Activation inputs and coordination events.
const (
	TypeBotRunComplete       = "bot_run_complete"
	TypeBotRunError          = "bot_run_error"
	TypeBotApprovalRequested = "bot_approval_requested"
	TypeBotIdle              = "heartbeat:bot_idle"
	TypeGeneExpressed        = "pulse:gene_expressed"
	TypeTimelinePost         = "timeline_post"
	TypeConfigReloaded       = "config_reloaded"
	TypeServiceReloaded      = "service_reloaded"

	// PrefixUser and PrefixBotCompleted namespace the open parts of the
	// taxonomy, e.g. "user:job_saved" and "bot_completed:job_scout".
	PrefixUser         = "user:"
	PrefixBotCompleted = "bot_completed:"
)

// DefaultSource is filled in on publish when the producer left Source empty.
const DefaultSource = "bot"

var metaTypes = map[string]struct{}{
	TypeBotStateChange: {},
	TypeBotLog:         {},
	TypeHeartbeat:      {},
	TypeBotsState:      {},
	TypeBotRunStart:    {},
	TypeBotRunRetry:    {},
}

// IsMeta reports whether typ belongs to the meta set that must never
// trigger an activation.
func IsMeta(typ string) bool {
	_, ok := metaTypes[typ]
	return ok
}

// BotCompleted returns the completion event type for a named bot.
func BotCompleted(bot string) string {
	return PrefixBotCompleted + bot
}

// Event is one immutable record on the bus. ID is assigned by the bus on
// publish and is strictly increasing within a process lifetime.
type Event struct {
	ID        uint64
	Type      string
	Timestamp time.Time
	Source    string
	Payload   map[string]any
}

// New builds an unpublished event. The bus fills ID, and Timestamp/Source
// when left zero.
func New(typ string, payload map[string]any) Event {
	return Event{Type: typ, Payload: payload}
}

// String returns the payload value for key if it is a string.
func (e Event) String(key string) (string, bool) {
	v, ok := e.Payload[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	return s, ok
}

// Strings returns the payload value for key as a string slice. It accepts
// []string and []any (the shape produced by JSON decoding).
func (e Event) Strings(key string) []string {
	v, ok := e.Payload[key]
	if !ok {
		return nil
	}
	switch vv := v.(type) {
	case []string:
		return vv
	case []any:
		out := make([]string, 0, len(vv))
		for _, item := range vv {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// envelope keys reserved for the fixed core; payload fields with these
// names are dropped on marshal rather than corrupting the envelope.
const (
	keyID        = "event_id"
	keyType      = "type"
	keyTimestamp = "timestamp"
	keySource    = "source"
)

func reservedKey(k string) bool {
	return k == keyID || k == keyType || k == keyTimestamp || k == keySource
}

// MarshalJSON flattens the payload into the envelope object.
func (e Event) MarshalJSON() ([]byte, error) {
	obj := make(map[string]any, len(e.Payload)+4)
	for k, v := range e.Payload {
		if reservedKey(k) {
			continue
		}
		obj[k] = v
	}
	obj[keyID] = e.ID
	obj[keyType] = e.Type
	obj[keyTimestamp] = e.Timestamp.UTC().Format(time.RFC3339Nano)
	obj[keySource] = e.Source
	return json.Marshal(obj)
}

// UnmarshalJSON splits the envelope core from the open payload.
func (e *Event) UnmarshalJSON(data []byte) error {
	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}

	if v, ok := obj[keyID]; ok {
		f, ok := v.(float64)
		if !ok || f < 0 {
			return fmt.Errorf("event_id must be a non-negative number")
		}
		e.ID = uint64(f)
	}
	if v, ok := obj[keyType].(string); ok {
		e.Type = v
	}
	if v, ok := obj[keyTimestamp].(string); ok {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return fmt.Errorf("parse event timestamp: %w", err)
		}
		e.Timestamp = t
	}
	if v, ok := obj[keySource].(string); ok {
		e.Source = v
	}

	for _, k := range []string{keyID, keyType, keyTimestamp, keySource} {
		delete(obj, k)
	}
	if len(obj) > 0 {
		e.Payload = obj
	} else {
		e.Payload = nil
	}
	return nil
}
