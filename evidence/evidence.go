package evidence

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"

	"github.com/veritas-care/evv/common/evverrors"
)

// Config ... S3-compatible object storage for verification photos
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (c Config) Check() error {
	if c.Endpoint == "" {
		return fmt.Errorf("evidence store endpoint must be set")
	}
	if c.Bucket == "" {
		return fmt.Errorf("evidence store bucket must be set")
	}
	return nil
}

// Store keeps verification photos content-addressed: the object key is the
// SHA-256 of the bytes, which is also the hash stamped on the verification.
// A photo swapped after capture no longer matches its recorded hash.
type Store struct {
	log    *zap.SugaredLogger
	client *minio.Client
	bucket string
}

func NewStore(ctx context.Context, log *zap.SugaredLogger, cfg Config) (*Store, error) {
	if err := cfg.Check(); err != nil {
		return nil, err
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to evidence store: %w", err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking evidence bucket: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating evidence bucket: %w", err)
		}
	}

	return &Store{log: log, client: client, bucket: cfg.Bucket}, nil
}

// Put stores the photo and returns its content hash and object URL.
func (s *Store) Put(ctx context.Context, tenantID string, photo []byte, contentType string) (hash, url string, err error) {
	if len(photo) == 0 {
		return "", "", evverrors.New(evverrors.KindInputValidation, "empty photo payload")
	}
	sum := sha256.Sum256(photo)
	hash = hex.EncodeToString(sum[:])
	key := fmt.Sprintf("%s/%s", tenantID, hash)

	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(photo), int64(len(photo)),
		minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", "", fmt.Errorf("storing photo evidence: %w", err)
	}

	s.log.Debugw("photo evidence stored", "tenant", tenantID, "hash", hash, "bytes", len(photo))
	return hash, fmt.Sprintf("s3://%s/%s", s.bucket, key), nil
}

// Get fetches the photo by hash and verifies it still matches.
func (s *Store) Get(ctx context.Context, tenantID, hash string) ([]byte, error) {
	key := fmt.Sprintf("%s/%s", tenantID, hash)
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching photo evidence: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return nil, fmt.Errorf("reading photo evidence: %w", err)
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != hash {
		return nil, evverrors.New(evverrors.KindTamperDetected,
			"photo evidence %s no longer matches its content hash", hash)
	}
	return data, nil
}

// PresignGet returns a time-limited download URL for reviewer tooling.
func (s *Store) PresignGet(ctx context.Context, tenantID, hash string, ttl time.Duration) (string, error) {
	key := fmt.Sprintf("%s/%s", tenantID, hash)
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, ttl, nil)
	if err != nil {
		return "", fmt.Errorf("presigning photo evidence: %w", err)
	}
	return u.String(), nil
}
