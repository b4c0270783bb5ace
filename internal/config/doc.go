// Package config provides configuration loading and validation for the transcription service.
// It reads a YAML file on top of built-in defaults, loads secrets from .env files and the
// process environment, and validates every section before the service starts.
package config
