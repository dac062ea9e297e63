// Package taskqueue provides the queue transports that move pipeline
// tasks between the submission path and the workers.
//
// The production transport is a NATS JetStream work-queue stream whose
// delivery counter supplies the attempt number consumed by the retry
// middleware. An in-process implementation with the same contract backs
// tests.
package taskqueue
