package types

import (
	"strings"
	"time"
)

// Severity is a coarse-grained risk level for a finding.
type Severity string

const (
	SevLow  Severity = "low"
	SevMed  Severity = "medium"
	SevHigh Severity = "high"
)

// ParseSeverity maps a case-insensitive name to a Severity.
func ParseSeverity(s string) (Severity, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low":
		return SevLow, true
	case "medium", "med":
		return SevMed, true
	case "high":
		return SevHigh, true
	}
	return "", false
}

// Rank orders severities for threshold checks (low=1, medium=2, high=3).
func (s Severity) Rank() int {
	switch s {
	case SevLow:
		return 1
	case SevMed:
		return 2
	case SevHigh:
		return 3
	}
	return 0
}

// EventKind names both raw watch events and classified findings. RawEvents
// use Created, Modified, Deleted, MovedFrom and MovedTo; findings use
// Created, Modified, Deleted and Renamed.
type EventKind string

const (
	Created   EventKind = "created"
	Modified  EventKind = "modified"
	Deleted   EventKind = "deleted"
	MovedFrom EventKind = "moved_from"
	MovedTo   EventKind = "moved_to"
	Renamed   EventKind = "renamed"
)

// FindingKinds lists the kinds a Finding can carry.
var FindingKinds = []EventKind{Created, Modified, Deleted, Renamed}

// ParseEventKind accepts the kind names above plus the verbs used by the
// alert injection CLI ("moved" is a rename).
func ParseEventKind(s string) (EventKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "created", "create":
		return Created, true
	case "modified", "modify", "write":
		return Modified, true
	case "deleted", "delete", "removed":
		return Deleted, true
	case "moved_from":
		return MovedFrom, true
	case "moved_to":
		return MovedTo, true
	case "renamed", "rename", "moved":
		return Renamed, true
	}
	return "", false
}

// Title returns the kind as used in alert subjects ("Modified").
func (k EventKind) Title() string {
	if k == "" {
		return ""
	}
	s := strings.ReplaceAll(string(k), "_", " ")
	return strings.ToUpper(s[:1]) + s[1:]
}

// RawEvent is a path-level change reported by the watch layer. MoveID
// correlates the MovedFrom and MovedTo halves of one rename. A MovedFrom with
// DestPath set is a rename the watch layer already paired.
type RawEvent struct {
	Kind       EventKind `json:"kind"`
	Path       string    `json:"path"`
	DestPath   string    `json:"dest_path,omitempty"`
	MoveID     string    `json:"move_id,omitempty"`
	ObservedAt time.Time `json:"observed_at"`
}

// Finding sources.
const (
	SourceWatch       = "watch"
	SourceReconcile   = "reconcile"
	SourceMoveTimeout = "move-timeout"
	SourceSynthetic   = "synthetic"
)

// Finding is a classified discrepancy between the live tree and the
// baseline. Digests are empty when unknown.
type Finding struct {
	ID             string    `json:"id"`
	Kind           EventKind `json:"kind"`
	Path           string    `json:"path"`
	OldPath        string    `json:"old_path,omitempty"`
	PreviousDigest string    `json:"previous_digest,omitempty"`
	CurrentDigest  string    `json:"current_digest,omitempty"`
	Severity       Severity  `json:"severity"`
	ObservedAt     time.Time `json:"observed_at"`
	Source         string    `json:"source,omitempty"`
	// User is the account the monitor runs as.
	User string `json:"user,omitempty"`
}

// BaselineEntry records the content digest of one file at baseline time.
type BaselineEntry struct {
	Path       string    `json:"path"`
	Digest     string    `json:"digest"`
	RecordedAt time.Time `json:"recorded_at"`
}
