// Package baseline builds, persists and loads integrity baselines. A
// baseline is written once as a timestamped JSON snapshot and never changed;
// a rebuild produces a new snapshot next to the old ones.
package baseline
