// Package logs reads the daemon log file for `lockbox logs`.
//
// Reads are offset based so a follower can resume where the previous read
// stopped. A file that shrinks below the saved offset is treated as
// truncated and read again from the start.
package logs
