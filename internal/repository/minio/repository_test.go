package minio

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

func TestNewRepository_NilConfig(t *testing.T) {
	log, _ := logger.New(logger.Config{Level: "debug", Format: "json", OutputPath: "stdout"})

	_, err := NewRepository(nil, log)
	if err == nil {
		t.Fatal("expected error for nil config")
	}
	if err.Error() != "config cannot be nil" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestNewRepository_NoNetwork(t *testing.T) {
	repo, err := NewRepository(&Config{
		Endpoint:        "localhost:9000",
		AccessKeyID:     "minioadmin",
		SecretAccessKey: "minioadmin",
		BucketName:      "asset-events",
	}, logger.Nop())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if repo.bucketOK {
		t.Error("bucket must not be marked ready before EnsureBucket")
	}
}

func TestObjectName(t *testing.T) {
	at := time.Unix(1700000000, 5)
	tests := []struct {
		name     string
		msg      *entity.RelayMessage
		expected string
	}{
		{
			name:     "platform event topic",
			msg:      &entity.RelayMessage{Topic: "/event/AssetCancelInitiatedEvent", ReplayID: 42, ReceivedAt: at},
			expected: "event/assetcancelinitiatedevent/00000000000000000042-1700000000000000005.json",
		},
		{
			name:     "empty topic",
			msg:      &entity.RelayMessage{ReplayID: 1, ReceivedAt: at},
			expected: "unknown/00000000000000000001-1700000000000000005.json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ObjectName(tt.msg); got != tt.expected {
				t.Errorf("ObjectName() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestEncodeArchived(t *testing.T) {
	msg := &entity.RelayMessage{
		Event:      "AssetEvent",
		Topic:      "/event/AssetCancelInitiatedEvent",
		Data:       json.RawMessage(`{"payload":{"RequestId":"r1"}}`),
		ReplayID:   7,
		ReceivedAt: time.Unix(1700000000, 0),
	}

	body, err := encodeArchived(msg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var decoded archivedMessage
	if err := json.Unmarshal(body, &decoded); err != nil {
		t.Fatalf("archived body is not JSON: %v", err)
	}
	if decoded.ReplayID != 7 || decoded.Topic != msg.Topic || decoded.Event != "AssetEvent" {
		t.Errorf("unexpected archived message: %+v", decoded)
	}
	if string(decoded.Data) != string(msg.Data) {
		t.Errorf("data changed: %s", decoded.Data)
	}

	empty, err := encodeArchived(&entity.RelayMessage{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !json.Valid(empty) {
		t.Errorf("expected valid JSON for empty message, got %s", empty)
	}
}
