// Package config provides centralized configuration management for the
// DeSmond daemon, covering the message transport, storage drivers, model
// inference, and chain access. Values omitted from the JSON file fall back
// to defaults suitable for local development.
package config
