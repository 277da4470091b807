// Package fimwatch provides the command-line interface for the fimwatch file
// integrity monitor. It configures subcommands (baseline, watch, verify,
// inject, history, config), parses flags, and executes the selected command.
//
// Typical usage from a main package:
//
//	package main
//	import "github.com/varalys/fimwatch/cmd/fimwatch"
//	func main() { fimwatch.Execute() }
package fimwatch
