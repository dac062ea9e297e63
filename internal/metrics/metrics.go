// Package metrics exposes Prometheus metrics for the job pipeline.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	// jobsByStatus tracks how many jobs sit in each lifecycle status.
	jobsByStatus = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "voiceloom_jobs",
			Help: "Number of jobs by lifecycle status",
		},
		[]string{"status"},
	)

	// taskAttemptsTotal counts task deliveries by type and disposition.
	// Labels:
	//   - task: task type (e.g., "job.transcribe", "chunk.synthesize")
	//   - disposition: handler outcome ("ack", "retry", "fail")
	taskAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "voiceloom_task_attempts_total",
			Help: "Total task deliveries by type and disposition",
		},
		[]string{"task", "disposition"},
	)

	// stageDuration records how long each pipeline stage takes.
	// Buckets span quick ffmpeg calls through long transcription polls.
	stageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "voiceloom_stage_duration_seconds",
			Help:    "Duration of pipeline stage executions in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60, 300, 900},
		},
		[]string{"stage"},
	)

	// creditsReservedTotal counts credits placed on hold at submission.
	creditsReservedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceloom_credits_reserved_total",
			Help: "Total credits reserved for submitted jobs",
		},
	)

	// creditsConfirmedTotal counts credits actually charged at completion.
	creditsConfirmedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceloom_credits_confirmed_total",
			Help: "Total credits charged for completed jobs",
		},
	)

	// creditsReleasedTotal counts credits returned by failure or expiry.
	creditsReleasedTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "voiceloom_credits_released_total",
			Help: "Total credits released back from failed or expired jobs",
		},
	)
)

func init() {
	prometheus.MustRegister(jobsByStatus)
	prometheus.MustRegister(taskAttemptsTotal)
	prometheus.MustRegister(stageDuration)
	prometheus.MustRegister(creditsReservedTotal)
	prometheus.MustRegister(creditsConfirmedTotal)
	prometheus.MustRegister(creditsReleasedTotal)
}

// SetJobs publishes the job count for one status.
func SetJobs(status string, count int) {
	jobsByStatus.WithLabelValues(status).Set(float64(count))
}

// RecordTaskAttempt records one task delivery and its disposition.
func RecordTaskAttempt(task, disposition string) {
	taskAttemptsTotal.WithLabelValues(task, disposition).Inc()
}

// RecordStageDuration records how long a stage execution took.
func RecordStageDuration(stage string, seconds float64) {
	stageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordCreditsReserved adds to the reserved-credit counter.
func RecordCreditsReserved(amount float64) {
	creditsReservedTotal.Add(amount)
}

// RecordCreditsConfirmed adds to the charged-credit counter.
func RecordCreditsConfirmed(amount float64) {
	creditsConfirmedTotal.Add(amount)
}

// RecordCreditsReleased adds to the released-credit counter.
func RecordCreditsReleased(amount float64) {
	creditsReleasedTotal.Add(amount)
}
