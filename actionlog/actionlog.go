// Package actionlog models the append-only audit log of administrative
// actions taken against permission holders.
package actionlog

import (
	"sort"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// TargetType discriminates what kind of entity an action acted upon. It is
// persisted as a single character.
type TargetType byte

const (
	TargetUser  TargetType = 'U'
	TargetGroup TargetType = 'G'
	TargetTrack TargetType = 'T'
)

// ParseTargetType maps a stored discriminator character to its TargetType.
func ParseTargetType(c byte) (TargetType, error) {
	switch t := TargetType(c); t {
	case TargetUser, TargetGroup, TargetTrack:
		return t, nil
	default:
		return 0, errors.Errorf("unknown action target type %q", string(c))
	}
}

// Entry is one immutable audit record. Entries are only ever appended;
// the engine never updates or deletes them.
type Entry struct {
	// Timestamp is the action time in epoch seconds.
	Timestamp int64
	// ActorID and ActorName identify who performed the action.
	ActorID   uuid.UUID
	ActorName string
	// Type discriminates the target entity kind.
	Type TargetType
	// TargetID is the target's unique id, or nil when the target is not a
	// player-keyed entity (groups and tracks are keyed by name).
	TargetID *uuid.UUID
	// TargetName names the target.
	TargetName string
	// Action is a free-text description of what was done.
	Action string
}

// Log is an ordered view over audit entries.
type Log struct {
	entries []Entry
}

// NewLog returns a Log over |entries|, sorted by timestamp, then actor
// name, then description.
func NewLog(entries []Entry) *Log {
	var sorted = append([]Entry(nil), entries...)
	sort.SliceStable(sorted, func(i, j int) bool {
		var a, b = sorted[i], sorted[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if a.ActorName != b.ActorName {
			return a.ActorName < b.ActorName
		}
		return a.Action < b.Action
	})
	return &Log{entries: sorted}
}

// Entries returns the log's entries in order.
func (l *Log) Entries() []Entry { return l.entries }
