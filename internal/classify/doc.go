// Package classify turns raw watch events into findings by comparing the
// live file against the committed baseline. It also pairs the two halves of
// a move into a single rename.
package classify
