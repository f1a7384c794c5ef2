// Package archive stores replica snapshots taken when the last editor
// leaves a document.
package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"
)

var ErrNotFound = errors.New("snapshot not found")

// Archiver persists a snapshot and returns the key it was stored under.
type Archiver interface {
	Put(ctx context.Context, documentID string, version int64, snapshot []byte) (string, error)
}

// ObjectKey names the object holding a snapshot of documentID at version.
func ObjectKey(documentID string, version int64, at time.Time) string {
	return fmt.Sprintf("documents/%s/v%06d-%d.json", documentID, version, at.UTC().UnixMilli())
}

func documentPrefix(documentID string) string {
	return "documents/" + documentID + "/"
}

type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type MinIO struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger
	now    func() time.Time
}

// NewMinIO connects to the object store and makes sure the bucket exists.
func NewMinIO(ctx context.Context, cfg Config, logger zerolog.Logger) (*MinIO, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, errors.New("minio endpoint and bucket are required")
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}

	a := &MinIO{
		client: client,
		bucket: cfg.Bucket,
		logger: logger.With().Str("component", "archive").Str("bucket", cfg.Bucket).Logger(),
		now:    time.Now,
	}
	if err := a.EnsureBucket(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *MinIO) EnsureBucket(ctx context.Context) error {
	exists, err := a.client.BucketExists(ctx, a.bucket)
	if err != nil {
		return fmt.Errorf("check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := a.client.MakeBucket(ctx, a.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("create bucket: %w", err)
	}
	a.logger.Info().Msg("created snapshot bucket")
	return nil
}

func (a *MinIO) Put(ctx context.Context, documentID string, version int64, snapshot []byte) (string, error) {
	key := ObjectKey(documentID, version, a.now())
	_, err := a.client.PutObject(ctx, a.bucket, key, bytes.NewReader(snapshot), int64(len(snapshot)), minio.PutObjectOptions{
		ContentType: "application/json",
		UserMetadata: map[string]string{
			"document": documentID,
			"version":  fmt.Sprintf("%d", version),
		},
	})
	if err != nil {
		return "", fmt.Errorf("put snapshot %s: %w", key, err)
	}
	a.logger.Debug().Str("key", key).Int("bytes", len(snapshot)).Msg("archived snapshot")
	return key, nil
}

// Latest returns the most recent snapshot stored for documentID.
func (a *MinIO) Latest(ctx context.Context, documentID string) ([]byte, error) {
	var latest string
	for object := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: documentPrefix(documentID)}) {
		if object.Err != nil {
			return nil, fmt.Errorf("list snapshots: %w", object.Err)
		}
		if object.Key > latest {
			latest = object.Key
		}
	}
	if latest == "" {
		return nil, ErrNotFound
	}

	obj, err := a.client.GetObject(ctx, a.bucket, latest, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("get snapshot %s: %w", latest, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("read snapshot %s: %w", latest, err)
	}
	return buf.Bytes(), nil
}

// Memory keeps snapshots in process. It backs tests and deployments
// without an object store.
type Memory struct {
	mu      sync.Mutex
	objects map[string][]byte
	now     func() time.Time
}

func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte), now: time.Now}
}

func (m *Memory) Put(_ context.Context, documentID string, version int64, snapshot []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := ObjectKey(documentID, version, m.now())
	m.objects[key] = append([]byte(nil), snapshot...)
	return key, nil
}

func (m *Memory) Latest(_ context.Context, documentID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, documentPrefix(documentID)) {
			keys = append(keys, key)
		}
	}
	if len(keys) == 0 {
		return nil, ErrNotFound
	}
	sort.Strings(keys)
	return append([]byte(nil), m.objects[keys[len(keys)-1]]...), nil
}

// Keys lists stored object keys in order.
func (m *Memory) Keys() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.objects))
	for key := range m.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
