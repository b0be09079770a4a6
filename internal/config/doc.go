// Package config provides configuration loading and validation for the collectd listener.
// It handles YAML-based configuration, starting from defaults that match the
// collectd network plugin and validating each section after the file is applied.
package config
