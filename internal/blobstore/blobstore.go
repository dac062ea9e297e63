// Package blobstore persists job media: source uploads, extracted audio,
// synthesized chunks, and merged outputs.
//
// Two backends implement the same contract. The filesystem backend keeps
// objects under a root directory and is the default for single-node
// deployments. The NATS backend stores objects in a JetStream object
// store bucket so workers on other hosts can reach them.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/nats-io/nats.go"

	"voiceloom/internal/config"
)

// ErrNotExist is returned when a key has no stored object.
var ErrNotExist = errors.New("object does not exist")

// Store reads and writes job media by key. Keys are slash-separated
// relative paths, conventionally "<uid>/<job_id>/<artifact>".
type Store interface {
	Put(ctx context.Context, key string, r io.Reader) error
	Get(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// New builds the backend named by the configuration. The JetStream
// context is only consulted for the nats backend and may be nil
// otherwise.
func New(cfg config.BlobStore, js nats.JetStreamContext) (Store, error) {
	switch cfg.Backend {
	case "fs":
		return NewFS(cfg.Root)
	case "nats":
		if js == nil {
			return nil, fmt.Errorf("nats blob backend requires a queue connection")
		}
		return NewNats(js, cfg.Bucket)
	default:
		return nil, fmt.Errorf("unknown blob backend %q", cfg.Backend)
	}
}

// UploadFile streams a local file into the store under key.
func UploadFile(ctx context.Context, store Store, key, path string) error {
	in, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer in.Close()
	return store.Put(ctx, key, in)
}

// DownloadFile streams an object to a local file so external tools can
// operate on it.
func DownloadFile(ctx context.Context, store Store, key, path string) error {
	obj, err := store.Get(ctx, key)
	if err != nil {
		return err
	}
	defer obj.Close()

	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := io.Copy(out, obj); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return fmt.Errorf("write %s: %w", path, err)
	}
	return out.Close()
}
