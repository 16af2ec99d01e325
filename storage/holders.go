package storage

import (
	"strings"
	"time"

	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/google/uuid"
)

// DefaultGroupName is the primary group assigned to users with no stored
// group membership.
const DefaultGroupName = "default"

// Holder is the capability shared by Users and Groups: a stable storage key
// and ownership of a mutable permission node set. The storage engine is
// written once against this interface.
//
// Holders carry no locking of their own. The engine serializes overlapping
// storage operations per holder key; in-memory mutation outside of storage
// calls is the owning manager's concern.
type Holder interface {
	// StorageKey is the holder's stable key in permission tables: the
	// unique id string for users, the case-normalized name for groups.
	StorageKey() string
	// Nodes returns the holder's current node set.
	Nodes() []node.Node
	// SetNodes replaces the holder's node set.
	SetNodes(nodes []node.Node)
	// ClearNodes empties the holder's node set.
	ClearNodes()
}

// User is a player-keyed permission holder.
type User struct {
	// UniqueID is the user's stable identity.
	UniqueID uuid.UUID
	// Username is a cached display name, possibly empty.
	Username string
	// PrimaryGroup is the user's primary group name, or empty when unset.
	PrimaryGroup string

	nodes []node.Node
}

// NewUser returns a User with no nodes and an unset primary group.
func NewUser(uniqueID uuid.UUID, username string) *User {
	return &User{UniqueID: uniqueID, Username: username}
}

func (u *User) StorageKey() string { return u.UniqueID.String() }

func (u *User) Nodes() []node.Node { return u.nodes }

func (u *User) SetNodes(nodes []node.Node) {
	u.nodes = make([]node.Node, len(nodes))
	for i, n := range nodes {
		u.nodes[i] = n.Normalize()
	}
}

func (u *User) ClearNodes() { u.nodes = nil }

// AuditTemporaryNodes removes nodes which have expired as of |now| and
// returns whether any were removed.
func (u *User) AuditTemporaryNodes(now time.Time) bool {
	var kept = u.nodes[:0]
	var pruned bool
	for _, n := range u.nodes {
		if n.HasExpired(now) {
			pruned = true
		} else {
			kept = append(kept, n)
		}
	}
	u.nodes = kept
	return pruned
}

// Group is a name-keyed permission holder.
type Group struct {
	// Name is the group's unique, case-normalized name.
	Name string

	nodes []node.Node
}

// NewGroup returns a Group with the case-normalized |name| and no nodes.
func NewGroup(name string) *Group {
	return &Group{Name: strings.ToLower(name)}
}

func (g *Group) StorageKey() string { return g.Name }

func (g *Group) Nodes() []node.Node { return g.nodes }

func (g *Group) SetNodes(nodes []node.Node) {
	g.nodes = make([]node.Node, len(nodes))
	for i, n := range nodes {
		g.nodes[i] = n.Normalize()
	}
}

func (g *Group) ClearNodes() { g.nodes = nil }

// Track is an ordered promotion ladder of group names. It is persisted as a
// single serialized sequence keyed by name.
type Track struct {
	// Name is the track's unique, case-normalized name.
	Name string
	// Groups is the ordered ladder.
	Groups []string
}

// NewTrack returns an empty Track with the case-normalized |name|.
func NewTrack(name string) *Track {
	return &Track{Name: strings.ToLower(name)}
}
