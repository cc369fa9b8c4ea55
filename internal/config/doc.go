// Package config loads WalletHub configuration from a JSON or YAML file,
// layered with WALLETHUB_* environment overrides and built-in defaults.
package config
