// Package media wraps the ffmpeg and ffprobe invocations for audio
// extraction, time-stretching, timeline assembly, and video muxing.
//
// All operations are expressed as argument builders over an injectable
// command runner so the pipeline's media handling can be tested without
// executing ffmpeg.
package media
