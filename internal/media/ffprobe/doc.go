// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs ffprobe and returns a Result; helpers pick out the video
// stream, audio presence, and duration used when choosing a thumbnail frame.
package ffprobe
