package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"voiceloom/internal/blobstore"
	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/media"
	"voiceloom/internal/pipeline"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
)

// scriptLine is the on-disk form of one dialogue line in a voice script.
type scriptLine struct {
	Speaker string  `json:"speaker"`
	Text    string  `json:"text"`
	Start   float64 `json:"start"`
	End     float64 `json:"end"`
}

func newSubmitCommand(ctx *commandContext) *cobra.Command {
	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a new generation job",
	}
	submitCmd.AddCommand(newSubmitDubbingCommand(ctx))
	submitCmd.AddCommand(newSubmitVoiceCommand(ctx))
	return submitCmd
}

func newSubmitDubbingCommand(ctx *commandContext) *cobra.Command {
	var userFlag, sourceFlag, targetFlag string
	var speakersFlag int

	cmd := &cobra.Command{
		Use:   "dubbing <media-file>",
		Short: "Submit a media file for dubbing",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPipeline(ctx, func(p *pipeline.Pipeline) error {
				job, err := p.Submit(cmd.Context(), pipeline.SubmitRequest{
					UID:              userFlag,
					Kind:             store.KindDubbing,
					SourceLanguage:   sourceFlag,
					TargetLanguage:   targetFlag,
					MediaPath:        args[0],
					ExpectedSpeakers: speakersFlag,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%.2f credits reserved)\n",
					job.ID, job.CreditsCost)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User id submitting the job")
	cmd.Flags().StringVar(&sourceFlag, "source", "", "Source language code")
	cmd.Flags().StringVar(&targetFlag, "target", "", "Target language code (omit to keep the source language)")
	cmd.Flags().IntVar(&speakersFlag, "speakers", 0, "Expected speaker count for the cost estimate")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("source")
	return cmd
}

func newSubmitVoiceCommand(ctx *commandContext) *cobra.Command {
	var userFlag, sourceFlag, targetFlag, scriptFlag string

	cmd := &cobra.Command{
		Use:   "voice",
		Short: "Submit a prepared script for voice generation",
		Long: "Submit a prepared script for voice generation. The script file is a JSON\n" +
			"array of {speaker, text, start, end} lines; reference samples must already\n" +
			"be staged under the user's samples prefix in the blob store.",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(scriptFlag)
			if err != nil {
				return fmt.Errorf("read script: %w", err)
			}
			var fileLines []scriptLine
			if err := json.Unmarshal(raw, &fileLines); err != nil {
				return fmt.Errorf("parse script: %w", err)
			}
			lines := make([]pipeline.ScriptLine, len(fileLines))
			for i, line := range fileLines {
				lines[i] = pipeline.ScriptLine{
					Speaker:   line.Speaker,
					Text:      line.Text,
					StartTime: line.Start,
					EndTime:   line.End,
				}
			}

			return withPipeline(ctx, func(p *pipeline.Pipeline) error {
				job, err := p.Submit(cmd.Context(), pipeline.SubmitRequest{
					UID:            userFlag,
					Kind:           store.KindVoice,
					SourceLanguage: sourceFlag,
					TargetLanguage: targetFlag,
					Lines:          lines,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Submitted job %s (%d chunks, %.2f credits reserved)\n",
					job.ID, job.TotalChunks, job.CreditsCost)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&userFlag, "user", "", "User id submitting the job")
	cmd.Flags().StringVar(&sourceFlag, "source", "", "Script language code")
	cmd.Flags().StringVar(&targetFlag, "target", "", "Target language code (omit to skip translation)")
	cmd.Flags().StringVar(&scriptFlag, "script", "", "Path to the script JSON file")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("source")
	_ = cmd.MarkFlagRequired("script")
	return cmd
}

// withPipeline wires a submission-capable pipeline against the shared
// store and queue. Stage backends are not needed to submit; the daemon's
// workers pick the tasks up.
func withPipeline(ctx *commandContext, fn func(*pipeline.Pipeline) error) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}

	s, err := store.Open(cfg)
	if err != nil {
		return err
	}
	defer s.Close()

	queue, err := taskqueue.Connect(cfg.Queue, logging.NewNop())
	if err != nil {
		return err
	}
	defer queue.Close()

	blobs, err := blobstore.New(cfg.BlobStore, queue.JetStream())
	if err != nil {
		return err
	}

	p, err := pipeline.New(pipeline.Deps{
		Config: cfg,
		Store:  s,
		Ledger: ledger.New(s, cfg.Billing, nil),
		Queue:  queue,
		Blobs:  blobs,
		Media:  media.NewService(cfg.FFmpegBinary(), cfg.FFprobeBinary()),
	})
	if err != nil {
		return err
	}
	return fn(p)
}
