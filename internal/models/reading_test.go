package models

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestMillis_UnmarshalJSON(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Millis
		wantErr  bool
	}{
		{"number", `1700000000123`, 1700000000123, false},
		{"numeric string", `"100"`, 100, false},
		{"rfc3339", `"2023-11-14T22:13:20.123Z"`, 1700000000123, false},
		{"null", `null`, 0, false},
		{"garbage", `"yesterday"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m Millis
			err := json.Unmarshal([]byte(tt.input), &m)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %s", tt.input)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m != tt.expected {
				t.Errorf("expected %d, got %d", tt.expected, m)
			}
		})
	}
}

func TestReadingID_AcceptsStringAndNumber(t *testing.T) {
	var rec ReadingRecord
	if err := json.Unmarshal([]byte(`{"id":42,"topic":"t","timestamp":1}`), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "42" {
		t.Errorf("expected id 42, got %q", rec.ID)
	}

	if err := json.Unmarshal([]byte(`{"id":"r1","topic":"t","timestamp":1}`), &rec); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.ID != "r1" {
		t.Errorf("expected id r1, got %q", rec.ID)
	}
}

func TestParsePushPayload(t *testing.T) {
	delivered := time.UnixMilli(1500)

	r, err := ParsePushPayload([]byte(`{"id":"r1","topic":"t","message":"m","timestamp":100,"serverReceivedAt":1000}`), delivered)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if r.ID != "r1" || r.Timestamp != 100 || r.ServerReceivedAt != 1000 {
		t.Errorf("unexpected reading: %+v", r)
	}
	if r.Channel != ChannelPush {
		t.Errorf("expected push channel, got %s", r.Channel)
	}
	if !r.DeliveryTimestamp.Equal(delivered) {
		t.Errorf("expected delivery timestamp %v, got %v", delivered, r.DeliveryTimestamp)
	}

	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{"topic":"t","timestamp":100,"serverReceivedAt":1000}`),
		[]byte(`{"id":"r1","topic":"t","timestamp":100}`),
	}
	for _, p := range bad {
		_, err := ParsePushPayload(p, delivered)
		var mpe *MalformedPayloadError
		if !errors.As(err, &mpe) {
			t.Errorf("expected MalformedPayloadError for %s, got %v", p, err)
		}
	}
}

func TestHealthState_JSON(t *testing.T) {
	data, err := json.Marshal(map[string]HealthState{"h": Connected})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(data) != `{"h":"connected"}` {
		t.Errorf("unexpected encoding %s", data)
	}

	var decoded map[string]HealthState
	if err := json.Unmarshal([]byte(`{"a":"connecting","b":"disconnected"}`), &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded["a"] != Connecting || decoded["b"] != Disconnected {
		t.Errorf("unexpected decoding %v", decoded)
	}
	if err := json.Unmarshal([]byte(`{"a":"flapping"}`), &decoded); err == nil {
		t.Error("expected error for unknown state")
	}
}
