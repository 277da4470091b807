// Package files walks a monitored tree and decides which paths are in scope:
// include/exclude globs, the .fimignore file, built-in excludes for VCS
// metadata and editor temp files, and the monitor's own artifacts.
package files
