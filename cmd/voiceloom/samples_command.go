package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"voiceloom/internal/blobstore"
	"voiceloom/internal/config"
	"voiceloom/internal/logging"
	"voiceloom/internal/taskqueue"
)

func newSamplesCommand(ctx *commandContext) *cobra.Command {
	samplesCmd := &cobra.Command{
		Use:   "samples",
		Short: "Manage reference voice samples for voice jobs",
	}
	samplesCmd.AddCommand(newSamplesAddCommand(ctx))
	return samplesCmd
}

func newSamplesAddCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "add <uid> <speaker> <wav-file>",
		Short: "Stage a speaker's reference audio under the user's samples prefix",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			blobs, closeBlobs, err := openBlobs(cfg)
			if err != nil {
				return err
			}
			defer closeBlobs()

			key := args[0] + "/samples/" + args[1] + ".wav"
			if err := blobstore.UploadFile(cmd.Context(), blobs, key, args[2]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Staged sample at %s\n", key)
			return nil
		},
	}
}

// openBlobs opens the blob store; the nats backend needs a live queue
// connection for its object store.
func openBlobs(cfg *config.Config) (blobstore.Store, func(), error) {
	if cfg.BlobStore.Backend == "fs" {
		blobs, err := blobstore.NewFS(cfg.BlobStore.Root)
		if err != nil {
			return nil, nil, err
		}
		return blobs, func() {}, nil
	}

	queue, err := taskqueue.Connect(cfg.Queue, logging.NewNop())
	if err != nil {
		return nil, nil, err
	}
	blobs, err := blobstore.New(cfg.BlobStore, queue.JetStream())
	if err != nil {
		queue.Close()
		return nil, nil, err
	}
	return blobs, func() { queue.Close() }, nil
}
