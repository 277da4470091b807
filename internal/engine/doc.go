// Package engine coordinates monitoring of one directory tree. The
// Coordinator resolves a baseline, classifies watch events on path-affine
// workers, and sends findings through the throttle to the alert dispatcher.
// External consumers should use the facade in pkg/core.
package engine
