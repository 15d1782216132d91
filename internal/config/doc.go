// Package config loads, normalizes, and validates dramaforge configuration.
//
// Configuration is TOML, read from --config, ~/.config/dramaforge/config.toml,
// or ./dramaforge.toml in that order, layered over Default(). Paths are
// tilde-expanded and a few secrets fall back to environment variables. The
// Generation section feeds content cache keys; the Pipeline section does not.
package config
