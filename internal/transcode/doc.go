// Package transcode normalizes uploaded media with ffmpeg.
//
// Images become width-capped webp files; when conversion fails the original
// upload is kept and the item is still ready. Videos become an HLS playlist
// with segments in a per-item directory plus an optional thumbnail; a failed
// segmenting step leaves the item in the error state. Jobs run on the worker
// pool under a wall-clock timeout and notify the lifecycle coordinator when
// they end so the upload mount can be released.
package transcode
