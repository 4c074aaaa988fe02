// Package main is the lockboxd entrypoint. It loads configuration and hands
// off to daemonrun, which owns the process lifetime.
package main
