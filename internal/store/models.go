package store

import (
	"strings"
	"time"
)

// Status represents the lifecycle of a generation job.
type Status string

const (
	StatusQueued       Status = "queued"
	StatusUploading    Status = "uploading"
	StatusExtracting   Status = "extracting"
	StatusTranscribing Status = "transcribing"
	StatusClustering   Status = "clustering"
	StatusTranslating  Status = "translating"
	StatusCloning      Status = "cloning"
	StatusMerging      Status = "merging"
	StatusCompleted    Status = "completed"
	StatusRetrying     Status = "retrying"
	StatusFailed       Status = "failed"
	StatusExpired      Status = "expired"
)

var allStatuses = []Status{
	StatusQueued,
	StatusUploading,
	StatusExtracting,
	StatusTranscribing,
	StatusClustering,
	StatusTranslating,
	StatusCloning,
	StatusMerging,
	StatusCompleted,
	StatusRetrying,
	StatusFailed,
	StatusExpired,
}

var statusSet = func() map[Status]struct{} {
	set := make(map[Status]struct{}, len(allStatuses))
	for _, status := range allStatuses {
		set[status] = struct{}{}
	}
	return set
}()

var processingStatuses = map[Status]struct{}{
	StatusUploading:    {},
	StatusExtracting:   {},
	StatusTranscribing: {},
	StatusClustering:   {},
	StatusTranslating:  {},
	StatusCloning:      {},
	StatusMerging:      {},
}

var terminalStatuses = map[Status]struct{}{
	StatusCompleted: {},
	StatusFailed:    {},
	StatusExpired:   {},
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	_, ok := statusSet[normalized]
	return normalized, ok
}

// IsProcessing reports whether a status reflects an in-flight stage.
func IsProcessing(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// IsTerminal reports whether a status ends the job lifecycle.
func IsTerminal(status Status) bool {
	_, ok := terminalStatuses[status]
	return ok
}

// JobKind distinguishes the two pipelines a job can run.
type JobKind string

const (
	// KindVoice synthesizes dialogue directly from a prepared script.
	KindVoice JobKind = "voice"
	// KindDubbing runs the full pipeline from uploaded media through
	// transcription, clustering, translation, synthesis, and merge.
	KindDubbing JobKind = "dubbing"
)

// ParseJobKind converts a string into a known JobKind.
func ParseJobKind(value string) (JobKind, bool) {
	switch JobKind(strings.ToLower(strings.TrimSpace(value))) {
	case KindVoice:
		return KindVoice, true
	case KindDubbing:
		return KindDubbing, true
	default:
		return "", false
	}
}

// Tier identifies a user's subscription level.
type Tier string

const (
	TierFree       Tier = "free"
	TierPro        Tier = "pro"
	TierEnterprise Tier = "enterprise"
)

// TierLimits describes the per-tier ceilings enforced at submission time.
type TierLimits struct {
	MaxMediaSeconds   float64
	MaxConcurrentJobs int
	BypassCredits     bool
}

// LimitsForTier returns the submission limits for a tier. Unknown tiers get
// free limits.
func LimitsForTier(tier Tier) TierLimits {
	switch tier {
	case TierPro:
		return TierLimits{MaxMediaSeconds: 1800, MaxConcurrentJobs: 5}
	case TierEnterprise:
		return TierLimits{MaxMediaSeconds: 7200, MaxConcurrentJobs: 20, BypassCredits: true}
	default:
		return TierLimits{MaxMediaSeconds: 300, MaxConcurrentJobs: 1}
	}
}

// User holds the per-account balance and usage counters.
type User struct {
	UID                  string
	Tier                 Tier
	Credits              float64
	PendingCredits       float64
	TotalVoicesGenerated int64
	CreatedAt            time.Time
	UpdatedAt            time.Time
}

// Available returns the spendable balance net of outstanding reservations.
func (u User) Available() float64 {
	return u.Credits - u.PendingCredits
}

// Job represents a generation job persisted in SQLite.
type Job struct {
	ID               string
	UID              string
	Kind             JobKind
	Status           Status
	SourceLanguage   string
	TargetLanguage   string
	MediaPath        string
	OutputPath       string
	HasVideo         bool
	DurationSeconds  float64
	CreditsCost      float64
	CreditsReserved  bool
	CreditsConfirmed bool
	CreditsReleased  bool
	TotalChunks      int
	CompletedChunks  int
	TranscriptJSON   string
	TranslationJSON  string
	SpeakerMapJSON   string
	ErrorMessage     string
	RetriesExhausted bool
	ProgressStage    string
	ProgressPercent  float64
	ProgressMessage  string
	ReservedAt       *time.Time
	LastHeartbeat    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// SetProgress updates the progress fields together.
func (j *Job) SetProgress(stage, message string, percent float64) {
	j.ProgressStage = stage
	j.ProgressMessage = message
	j.ProgressPercent = percent
}

// SetFailed marks the job failed with the given message.
func (j *Job) SetFailed(message string) {
	j.Status = StatusFailed
	j.ErrorMessage = message
	j.ProgressStage = "Failed"
	j.ProgressMessage = message
	j.ProgressPercent = 0
	j.LastHeartbeat = nil
}

// ChunkStatus represents the lifecycle of one synthesis chunk.
type ChunkStatus string

const (
	ChunkPending   ChunkStatus = "pending"
	ChunkCompleted ChunkStatus = "completed"
	ChunkFailed    ChunkStatus = "failed"
)

// Chunk is one unit of synthesis work within a job.
type Chunk struct {
	JobID        string
	Index        int
	Status       ChunkStatus
	Text         string
	SpeakersJSON string
	StartTime    float64
	EndTime      float64
	AudioPath    string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// HealthSummary describes aggregated job counts per lifecycle bucket.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Retrying   int
	Completed  int
	Failed     int
	Expired    int
}

// DatabaseHealth captures diagnostic information about the job database.
type DatabaseHealth struct {
	DBPath           string
	DatabaseExists   bool
	DatabaseReadable bool
	SchemaVersion    string
	IntegrityCheck   bool
	TotalJobs        int
	Error            string
}
