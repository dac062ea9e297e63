package config

const (
	defaultDataDir  = "~/.local/share/voiceloom"
	defaultWorkDir  = "~/.local/share/voiceloom/work"
	defaultLogDir   = "~/.local/share/voiceloom/logs"
	defaultLogLevel = "info"
	defaultLogFmt   = "console"

	defaultNatsURL             = "nats://127.0.0.1:4222"
	defaultStream              = "VOICELOOM_TASKS"
	defaultSubjectPrefix       = "voiceloom.tasks"
	defaultMaxAttempts         = 3
	defaultWorkers             = 4
	defaultDispatchDeadlineSec = 900
	defaultTranscribeMin       = 20
	defaultRetryBackoffSec     = 10
	defaultMaxRetryBackoffSec  = 300

	defaultBlobBackend  = "fs"
	defaultBlobRoot     = "~/.local/share/voiceloom/blobs"
	defaultBlobBucket   = "voiceloom-media"
	defaultSignedURLTTL = 24

	defaultInferenceTimeoutSec   = 600
	defaultTranscribePollSec     = 5
	defaultTranslationTimeoutSec = 120
	defaultMinSpeakerCount       = 1
	defaultMaxSpeakerCount       = 8

	defaultSecondsPerCredit       = 10
	defaultMultiSpeakerMultiplier = 1.5
	defaultTranslationMultiplier  = 1.5
	defaultVideoMultiplier        = 1.2
	defaultPendingTimeoutHours    = 24

	defaultMaxSpeakersPerChunk = 4
	defaultClusterEps          = 0.15
	defaultClusterMinSamples   = 2
	defaultMinSegmentSeconds   = 0.5
	defaultSampleTargetSeconds = 15.0
	defaultSampleFloorSeconds  = 2.0
	defaultStretchToleranceSec = 0.1
	defaultExpirySweepMinutes  = 15
	defaultHandlerGraceSec     = 30
	defaultMaxUploadDuration   = 1800

	defaultNotifyRequestTimeout = 10
	defaultNotifyDedupWindowSec = 600

	defaultMetricsBind = "127.0.0.1:9464"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			WorkDir: defaultWorkDir,
			LogDir:  defaultLogDir,
		},
		Logging: Logging{
			Format: defaultLogFmt,
			Level:  defaultLogLevel,
		},
		Queue: Queue{
			URL:                    defaultNatsURL,
			Stream:                 defaultStream,
			SubjectPrefix:          defaultSubjectPrefix,
			MaxAttempts:            defaultMaxAttempts,
			Workers:                defaultWorkers,
			DispatchDeadlineSec:    defaultDispatchDeadlineSec,
			TranscribeDeadlineMin:  defaultTranscribeMin,
			RetryBackoffSeconds:    defaultRetryBackoffSec,
			MaxRetryBackoffSeconds: defaultMaxRetryBackoffSec,
		},
		BlobStore: BlobStore{
			Backend:      defaultBlobBackend,
			Root:         defaultBlobRoot,
			Bucket:       defaultBlobBucket,
			SignedURLTTL: defaultSignedURLTTL,
		},
		Inference: Inference{
			TimeoutSeconds: defaultInferenceTimeoutSec,
		},
		Transcription: Transcription{
			PollIntervalSeconds: defaultTranscribePollSec,
			TimeoutMinutes:      defaultTranscribeMin,
			MinSpeakerCount:     defaultMinSpeakerCount,
			MaxSpeakerCount:     defaultMaxSpeakerCount,
		},
		Translation: Translation{
			TimeoutSeconds: defaultTranslationTimeoutSec,
		},
		Billing: Billing{
			SecondsPerCredit:          defaultSecondsPerCredit,
			MultiSpeakerMultiplier:    defaultMultiSpeakerMultiplier,
			TranslationMultiplier:     defaultTranslationMultiplier,
			VideoMultiplier:           defaultVideoMultiplier,
			PendingCreditTimeoutHours: defaultPendingTimeoutHours,
		},
		Pipeline: Pipeline{
			MaxSpeakersPerChunk:  defaultMaxSpeakersPerChunk,
			ClusterEps:           defaultClusterEps,
			ClusterMinSamples:    defaultClusterMinSamples,
			MinSegmentSeconds:    defaultMinSegmentSeconds,
			SampleTargetSeconds:  defaultSampleTargetSeconds,
			SampleFloorSeconds:   defaultSampleFloorSeconds,
			StretchToleranceSec:  defaultStretchToleranceSec,
			ExpirySweepMinutes:   defaultExpirySweepMinutes,
			HandlerGraceSeconds:  defaultHandlerGraceSec,
			MaxUploadDurationSec: defaultMaxUploadDuration,
		},
		Notifications: Notifications{
			RequestTimeout:     defaultNotifyRequestTimeout,
			Completed:          true,
			Errors:             true,
			DedupWindowSeconds: defaultNotifyDedupWindowSec,
		},
		Metrics: Metrics{
			Enabled: true,
			Bind:    defaultMetricsBind,
		},
	}
}
