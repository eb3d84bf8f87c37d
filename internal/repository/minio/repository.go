package minio

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/moroshma/AssetRelay/internal/domain/entity"
	"github.com/moroshma/AssetRelay/internal/domain/repository"
	"github.com/moroshma/AssetRelay/pkg/logger"
)

// Config represents MinIO archive configuration
type Config struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UseSSL          bool
	BucketName      string
}

// Repository archives relayed messages as JSON objects
type Repository struct {
	client   *minio.Client
	config   *Config
	logger   *logger.Logger
	bucketMu sync.Mutex
	bucketOK bool
}

var _ repository.ArchiveRepository = (*Repository)(nil)

// archivedMessage is the stored object body
type archivedMessage struct {
	Event      string          `json:"event"`
	Topic      string          `json:"topic"`
	ReplayID   int64           `json:"replayId"`
	ReceivedAt time.Time       `json:"receivedAt"`
	Data       json.RawMessage `json:"data"`
}

// NewRepository creates a new MinIO archive
func NewRepository(config *Config, log *logger.Logger) (*Repository, error) {
	if config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	minioClient, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(config.AccessKeyID, config.SecretAccessKey, ""),
		Secure: config.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	return &Repository{
		client: minioClient,
		config: config,
		logger: log,
	}, nil
}

// EnsureBucket creates the archive bucket if it doesn't exist
func (r *Repository) EnsureBucket(ctx context.Context) error {
	r.bucketMu.Lock()
	defer r.bucketMu.Unlock()
	if r.bucketOK {
		return nil
	}

	bucketName := r.config.BucketName
	exists, err := r.client.BucketExists(ctx, bucketName)
	if err != nil {
		return fmt.Errorf("failed to check bucket existence: %w", err)
	}

	if !exists {
		r.logger.Info("Creating bucket", logger.String("bucket", bucketName))
		if err := r.client.MakeBucket(ctx, bucketName, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
	}

	r.bucketOK = true
	return nil
}

// Store uploads one message
func (r *Repository) Store(ctx context.Context, msg *entity.RelayMessage) error {
	if msg == nil {
		return nil
	}

	if err := r.EnsureBucket(ctx); err != nil {
		return err
	}

	body, err := encodeArchived(msg)
	if err != nil {
		return err
	}

	objectName := ObjectName(msg)
	_, err = r.client.PutObject(ctx, r.config.BucketName, objectName, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("failed to upload object: %w", err)
	}

	r.logger.Debug("Archived relay message",
		logger.String("bucket", r.config.BucketName),
		logger.String("object", objectName),
	)
	return nil
}

// ListOlderThan returns the archived objects last modified before cutoff
func (r *Repository) ListOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	var names []string
	for obj := range r.client.ListObjects(ctx, r.config.BucketName, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return names, fmt.Errorf("failed to list objects: %w", obj.Err)
		}
		if obj.LastModified.Before(cutoff) {
			names = append(names, obj.Key)
		}
	}
	return names, nil
}

// DeleteObject removes one archived object
func (r *Repository) DeleteObject(ctx context.Context, objectName string) error {
	if err := r.client.RemoveObject(ctx, r.config.BucketName, objectName, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete object %s: %w", objectName, err)
	}
	return nil
}

func encodeArchived(msg *entity.RelayMessage) ([]byte, error) {
	data := msg.Data
	if len(data) == 0 {
		data = json.RawMessage("null")
	}
	body, err := json.Marshal(archivedMessage{
		Event:      msg.Event,
		Topic:      msg.Topic,
		ReplayID:   msg.ReplayID,
		ReceivedAt: msg.ReceivedAt.UTC(),
		Data:       data,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to encode archived message: %w", err)
	}
	return body, nil
}

// ObjectName derives a sortable object key from the topic and replay id
func ObjectName(msg *entity.RelayMessage) string {
	prefix := strings.ToLower(strings.Trim(msg.Topic, "/"))
	if prefix == "" {
		prefix = "unknown"
	}
	return fmt.Sprintf("%s/%020d-%d.json", prefix, msg.ReplayID, msg.ReceivedAt.UnixNano())
}
