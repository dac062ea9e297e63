package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os/signal"
	"syscall"

	"voiceloom/internal/blobstore"
	"voiceloom/internal/config"
	"voiceloom/internal/daemon"
	"voiceloom/internal/expiry"
	"voiceloom/internal/extsvc"
	"voiceloom/internal/ledger"
	"voiceloom/internal/logging"
	"voiceloom/internal/media"
	"voiceloom/internal/metrics"
	"voiceloom/internal/pipeline"
	"voiceloom/internal/store"
	"voiceloom/internal/taskqueue"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.config/voiceloom/config.toml)")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, _, _, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("prepare directories: %v", err)
	}

	logger, err := logging.NewFromConfig(cfg)
	if err != nil {
		log.Fatalf("init logger: %v", err)
	}

	s, err := store.Open(cfg)
	if err != nil {
		logger.Error("open store", logging.Error(err))
		return
	}

	queue, err := taskqueue.Connect(cfg.Queue, logger)
	if err != nil {
		logger.Error("connect task queue", logging.Error(err))
		_ = s.Close()
		return
	}

	blobs, err := blobstore.New(cfg.BlobStore, queue.JetStream())
	if err != nil {
		logger.Error("open blob store", logging.Error(err))
		_ = queue.Close()
		_ = s.Close()
		return
	}

	deps := pipeline.Deps{
		Config: cfg,
		Store:  s,
		Ledger: ledger.New(s, cfg.Billing, logger),
		Queue:  queue,
		Blobs:  blobs,
		Media:  media.NewService(cfg.FFmpegBinary(), cfg.FFprobeBinary()),
		Logger: logger,
	}
	wireBackends(cfg, logger, &deps)

	if cfg.BlobStore.SigningSecret != "" {
		signer, err := blobstore.NewSigner(cfg.BlobStore.SigningSecret, cfg.SignedURLTTL())
		if err != nil {
			logger.Error("configure download signer", logging.Error(err))
			_ = queue.Close()
			_ = s.Close()
			return
		}
		deps.Signer = signer
	}

	p, err := pipeline.New(deps)
	if err != nil {
		logger.Error("build pipeline", logging.Error(err))
		_ = queue.Close()
		_ = s.Close()
		return
	}

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(cfg.Metrics.Bind, logger)
	}

	d, err := daemon.New(cfg, s, queue, p, expiry.New(cfg, s, queue, logger), metricsServer, logger)
	if err != nil {
		logger.Error("create daemon", logging.Error(err))
		_ = queue.Close()
		_ = s.Close()
		return
	}
	defer d.Close()

	if err := d.Start(ctx); err != nil {
		logger.Error("start daemon", logging.Error(err))
		return
	}

	<-ctx.Done()
	logger.Info("voiceloomd shutting down")
}

// wireBackends builds the external-service clients that are configured.
// Missing backends leave their stages unavailable; the retry middleware
// surfaces that as a dependency failure instead of crashing the daemon.
func wireBackends(cfg *config.Config, logger *slog.Logger, deps *pipeline.Deps) {
	if cfg.Transcription.BaseURL != "" {
		client, err := extsvc.NewTranscription(cfg.Transcription)
		if err != nil {
			logger.Warn("transcription backend unavailable", logging.Error(err))
		} else {
			deps.Transcriber = client
		}
	}
	if cfg.Translation.BaseURL != "" {
		client, err := extsvc.NewTranslation(cfg.Translation)
		if err != nil {
			logger.Warn("translation backend unavailable", logging.Error(err))
		} else {
			deps.Translator = client
		}
	}
	if cfg.Inference.BaseURL != "" {
		client, err := extsvc.NewInference(cfg.Inference)
		if err != nil {
			logger.Warn("inference backend unavailable", logging.Error(err))
		} else {
			deps.Synthesizer = client
		}
	}
}
