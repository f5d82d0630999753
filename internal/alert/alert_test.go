package alert

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTopicFor(t *testing.T) {
	got := topicFor("tapevault/", "tape-alert", "drive0")
	want := "tapevault/tape-alert/drive0"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestEventMarshalsPayload(t *testing.T) {
	ev := Event{
		Kind:   "gc-status",
		Source: "main",
		At:     time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload: map[string]any{
			"swept_bytes": 1024,
		},
	}
	data, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded map[string]any
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["Kind"] != "gc-status" || decoded["Source"] != "main" {
		t.Fatalf("unexpected decoded event: %+v", decoded)
	}
	payload, ok := decoded["Payload"].(map[string]any)
	if !ok || payload["swept_bytes"].(float64) != 1024 {
		t.Fatalf("unexpected payload: %+v", decoded["Payload"])
	}
}
