// Package daemon runs the long-lived lockbox process.
//
// It wires configuration, the SQLite store, the mount coordinator, the
// transcode pool and the HTTP API into one lifecycle, with flock-based
// locking so a single instance owns the mount root. On start it detaches
// mounts and clears sessions left by a previous process; a maintenance
// loop then reaps idle uploads and expires owner and viewer sessions,
// releasing the volume references they held.
//
// Request handling stays thin: account, upload, sharing and lifecycle
// decisions live in their own packages and the handlers here translate
// between HTTP and those services.
package daemon
