// Package extsvc holds HTTP clients for the external model backends:
// speech synthesis, transcription with speaker embeddings, and machine
// translation. Failures are tagged with the services sentinels so the
// retry middleware can tell transient backend trouble from permanent
// input rejection.
package extsvc
