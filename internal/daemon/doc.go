// Package daemon ties the worker pipeline, expiry sweeper, and metrics
// endpoint into a single lifecycle with flock-based locking to prevent
// multiple instances from consuming the same stream.
package daemon
