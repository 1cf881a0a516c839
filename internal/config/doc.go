// Package config loads, normalizes, and validates podscribe configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), derives the archive layout directories from a single archive
// root, and reads TOML files. The Config value is built once at startup and
// handed to each component; nothing below the command layer reads ambient
// global state for worker budgets, thresholds, or intervals.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
