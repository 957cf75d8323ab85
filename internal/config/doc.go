// Package config loads and validates rowforge configuration.
//
// Configuration lives in a TOML file (default ~/.config/rowforge/config.toml)
// with defaults applied for every omitted field. Secrets may additionally be
// supplied through a .env file next to the config file or the process
// environment, which keeps API keys out of checked-in config.
package config
