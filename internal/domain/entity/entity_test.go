package entity

import (
	"encoding/json"
	"testing"
)

func TestParseReplayPolicy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    ReplayPolicy
		wantErr bool
	}{
		{name: "empty defaults to new only", input: "", want: ReplayNewOnly},
		{name: "new only", input: "new_only", want: ReplayNewOnly},
		{name: "new only numeric", input: "-1", want: ReplayNewOnly},
		{name: "all and new", input: "ALL_AND_NEW", want: ReplayAllAndNew},
		{name: "all and new numeric", input: "-2", want: ReplayAllAndNew},
		{name: "position", input: " 42 ", want: ReplayPolicy(42)},
		{name: "zero position", input: "0", want: ReplayPolicy(0)},
		{name: "other negative", input: "-3", wantErr: true},
		{name: "garbage", input: "latest", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseReplayPolicy(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseReplayPolicy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("ParseReplayPolicy(%q) = %v, want %v", tt.input, got, tt.want)
			}
		})
	}
}

func TestReplayPolicy_String(t *testing.T) {
	tests := map[ReplayPolicy]string{
		ReplayNewOnly:    "new_only",
		ReplayAllAndNew:  "all_and_new",
		ReplayPolicy(17): "17",
	}
	for p, want := range tests {
		if got := p.String(); got != want {
			t.Errorf("String() = %q, want %q", got, want)
		}
	}
}

func TestRelayMessage_Encode(t *testing.T) {
	msg := &RelayMessage{
		Event:    DefaultEventName,
		Topic:    "/event/AssetCancelInitiatedEvent",
		ReplayID: 9,
		Data:     json.RawMessage(`{"payload":{"RequestId":"req-1","HasErrors":false}}`),
	}

	got, err := msg.Encode()
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	want := `{"event":"AssetEvent","data":{"payload":{"RequestId":"req-1","HasErrors":false}}}`
	if string(got) != want {
		t.Errorf("Encode() = %s, want %s", got, want)
	}
}

func TestDecodePayload(t *testing.T) {
	p, err := DecodePayload([]byte(`{"schema":"x","payload":{"RequestId":"req-7","HasErrors":true,"ErrorDetail":"locked"},"event":{"replayId":12}}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.Payload.RequestID != "req-7" || !p.Payload.HasErrors || p.Payload.ErrorDetail != "locked" {
		t.Errorf("unexpected payload: %+v", p.Payload)
	}
	if p.Position() != 12 {
		t.Errorf("Position() = %d, want 12", p.Position())
	}

	p, err = DecodePayload([]byte(`{"payload":{"RequestId":"req-8"}}`))
	if err != nil {
		t.Fatalf("DecodePayload() error = %v", err)
	}
	if p.Position() != -1 {
		t.Errorf("Position() without replayId = %d, want -1", p.Position())
	}

	if _, err := DecodePayload([]byte(`not json`)); err == nil {
		t.Error("expected error for malformed body")
	}
}

func TestConnectionState_String(t *testing.T) {
	if Connected.String() != "connected" || Disconnected.String() != "disconnected" {
		t.Errorf("unexpected state names %q %q", Connected, Disconnected)
	}
}
