// Package statestore persists bot state documents in S3-compatible object
// storage (MinIO, Cloudflare R2, AWS S3).
package statestore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/wanglz111/martingale-multi-spot-bot/internal/interfaces"
)

type Options struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// MinioStore stores one JSON document per key in a single bucket.
type MinioStore struct {
	client *minio.Client
	bucket string
}

var _ interfaces.StateStore = (*MinioStore)(nil)

func NewMinioStore(opts Options) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
		Region: opts.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init object storage client: %w", err)
	}
	return &MinioStore{client: client, bucket: opts.Bucket}, nil
}

func (s *MinioStore) Save(ctx context.Context, key string, doc any) error {
	payload, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode state document %s: %w", key, err)
	}
	_, err = s.client.PutObject(ctx, s.bucket, key,
		bytes.NewReader(payload), int64(len(payload)),
		minio.PutObjectOptions{ContentType: "application/json"},
	)
	if err != nil {
		return fmt.Errorf("persist state document %s: %w", key, err)
	}
	return nil
}

func (s *MinioStore) Load(ctx context.Context, key string, doc any) error {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return fmt.Errorf("load state document %s: %w", key, err)
	}
	defer obj.Close()

	payload, err := io.ReadAll(obj)
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" || resp.StatusCode == 404 {
			return interfaces.ErrNotFound
		}
		return fmt.Errorf("load state document %s: %w", key, err)
	}
	if len(payload) == 0 {
		return interfaces.ErrNotFound
	}
	if err := json.Unmarshal(payload, doc); err != nil {
		return fmt.Errorf("decode state document %s: %w", key, err)
	}
	return nil
}
