// Package main hosts the lockbox operator CLI.
//
// The Cobra command tree reads daemon health and the mount table over the
// token-protected operator endpoints, checks external tooling locally, and
// scaffolds configuration. `lockbox run` starts the daemon in the foreground
// using the same runner as lockboxd.
package main
