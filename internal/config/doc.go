// Package config loads fimwatch configuration. The tool config comes from
// local and global YAML files with precedence rules; the alert config is a
// separate file that is generated with defaults when absent.
package config
