// Package delivery defines the task envelope shared by queue transports
// and the retry middleware that reconciles at-least-once delivery with
// job state.
//
// The transport counts attempts; the middleware decides what an attempt's
// failure means. Transient errors requeue the task, permanent errors fail
// the job and release its credit hold. A task that exhausts its attempts
// is failed with the exhaustion recorded on the job.
package delivery
