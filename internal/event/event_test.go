package event

import (
	"encoding/json"
	"testing"
	"time"
)

func TestIsMeta(t *testing.T) {
	meta := []string{
		TypeBotStateChange, TypeBotLog, TypeHeartbeat,
		TypeBotsState, TypeBotRunStart, TypeBotRunRetry,
	}
	for _, typ := range meta {
		if !IsMeta(typ) {
			t.Errorf("IsMeta(%q) = false, want true", typ)
		}
	}

	domain := []string{
		TypeBotRunComplete, TypeBotRunError, TypeBotIdle,
		TypeGeneExpressed, "user:job_saved", "bot_completed:job_scout",
	}
	for _, typ := range domain {
		if IsMeta(typ) {
			t.Errorf("IsMeta(%q) = true, want false", typ)
		}
	}
}

func TestBotCompleted(t *testing.T) {
	if got, want := BotCompleted("job_scout"), "bot_completed:job_scout"; got != want {
		t.Errorf("BotCompleted = %q, want %q", got, want)
	}
}

func TestMarshalFlattensPayload(t *testing.T) {
	e := Event{
		ID:        42,
		Type:      "user:job_saved",
		Timestamp: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
		Source:    "bot",
		Payload:   map[string]any{"jobs_saved": 1, "bot_name": "job_scout"},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatal(err)
	}

	if got := obj["event_id"]; got != float64(42) {
		t.Errorf("event_id = %v, want 42", got)
	}
	if got := obj["type"]; got != "user:job_saved" {
		t.Errorf("type = %v, want user:job_saved", got)
	}
	if got := obj["jobs_saved"]; got != float64(1) {
		t.Errorf("jobs_saved = %v, want 1", got)
	}
	if got := obj["bot_name"]; got != "job_scout" {
		t.Errorf("bot_name = %v, want job_scout", got)
	}
}

func TestMarshalDropsReservedPayloadKeys(t *testing.T) {
	e := Event{
		ID:      7,
		Type:    "user:job_saved",
		Source:  "bot",
		Payload: map[string]any{"event_id": 999, "type": "spoofed", "x": "y"},
	}

	data, err := json.Marshal(e)
	if err != nil {
		t.Fatal(err)
	}

	var obj map[string]any
	if err := json.Unmarshal(data, &obj); err != nil {
		t.Fatal(err)
	}
	if got := obj["event_id"]; got != float64(7) {
		t.Errorf("event_id = %v, want envelope value 7", got)
	}
	if got := obj["type"]; got != "user:job_saved" {
		t.Errorf("type = %v, want envelope value", got)
	}
	if got := obj["x"]; got != "y" {
		t.Errorf("x = %v, want y", got)
	}
}

func TestUnmarshalSplitsEnvelope(t *testing.T) {
	raw := `{"event_id": 9, "type": "pulse:gene_expressed", "timestamp": "2024-03-01T12:00:00Z", "source": "bot", "bot_name": "resume_tuner", "gene_type": "skills"}`

	var e Event
	if err := json.Unmarshal([]byte(raw), &e); err != nil {
		t.Fatal(err)
	}

	if e.ID != 9 {
		t.Errorf("ID = %d, want 9", e.ID)
	}
	if e.Type != "pulse:gene_expressed" {
		t.Errorf("Type = %q", e.Type)
	}
	if e.Source != "bot" {
		t.Errorf("Source = %q", e.Source)
	}
	if got, _ := e.String("bot_name"); got != "resume_tuner" {
		t.Errorf("bot_name = %q, want resume_tuner", got)
	}
	if _, ok := e.Payload["event_id"]; ok {
		t.Error("payload must not retain envelope keys")
	}
}

func TestStringsAcceptsJSONShape(t *testing.T) {
	e := New("user:job_saved", map[string]any{"tags": []any{"go", "remote", 3}})
	got := e.Strings("tags")
	want := []string{"go", "remote"}
	if len(got) != len(want) {
		t.Fatalf("Strings = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("Strings[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if e.Strings("missing") != nil {
		t.Error("missing key should return nil")
	}
}
