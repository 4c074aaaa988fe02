// Package cryptfs drives gocryptfs and fusermount.
//
// Driver builds argv vectors for init, mount, unmount, and passphrase
// rotation and runs them without a shell. The unlock secret travels through a
// short-lived 0600 passfile (and stdin for the new secret during rotation).
// KernelProber answers whether a path is a live, stale, or absent mount.
package cryptfs
