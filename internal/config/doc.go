// Package config loads, normalizes, and validates the TOML configuration
// shared by the voiceloom daemon and CLI.
//
// Configuration resolution checks an explicit --config path first, then
// ~/.config/voiceloom/config.toml. Missing files fall back to built-in
// defaults so a fresh install can run without writing anything.
package config
