package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// NatsStore keeps objects in a JetStream object store bucket.
type NatsStore struct {
	bucket string
	store  nats.ObjectStore
}

// NewNats creates the bucket if needed, binding to it when it already
// exists.
func NewNats(js nats.JetStreamContext, bucket string) (*NatsStore, error) {
	store, err := js.CreateObjectStore(&nats.ObjectStoreConfig{
		Bucket:  bucket,
		Storage: nats.FileStorage,
	})
	if err != nil {
		if !errors.Is(err, jetstream.ErrBucketExists) {
			return nil, fmt.Errorf("create blob bucket %s: %w", bucket, err)
		}
		store, err = js.ObjectStore(bucket)
		if err != nil {
			return nil, fmt.Errorf("bind blob bucket %s: %w", bucket, err)
		}
	}
	return &NatsStore{bucket: bucket, store: store}, nil
}

func (s *NatsStore) Put(_ context.Context, key string, r io.Reader) error {
	_, err := s.store.Put(&nats.ObjectMeta{Name: key}, r)
	if err != nil {
		return fmt.Errorf("put blob %s to %s: %w", key, s.bucket, err)
	}
	return nil
}

func (s *NatsStore) Get(_ context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.store.Get(key)
	if errors.Is(err, nats.ErrObjectNotFound) {
		return nil, fmt.Errorf("blob %s: %w", key, ErrNotExist)
	}
	if err != nil {
		return nil, fmt.Errorf("get blob %s from %s: %w", key, s.bucket, err)
	}
	return obj, nil
}

func (s *NatsStore) Delete(_ context.Context, key string) error {
	err := s.store.Delete(key)
	if err != nil && !errors.Is(err, nats.ErrObjectNotFound) {
		return fmt.Errorf("delete blob %s from %s: %w", key, s.bucket, err)
	}
	return nil
}
