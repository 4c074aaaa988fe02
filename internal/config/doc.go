// Package config loads, normalizes, and validates lockbox configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// LOCKBOX_API_TOKEN and LOCKBOX_SESSION_KEY. The Config type centralizes every
// knob the daemon and CLI need: where cipher stores and mount points live,
// which external binaries drive encryption and transcoding, and how long
// background work may run.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
