// Package storage defines the contract between permission-holder managers
// and the persistence engines which load and save their state. It owns the
// holder model types (User, Group, Track), the Implementation façade which
// engines provide, and the collaborator interfaces engines consume.
package storage

import (
	"context"

	"github.com/NotAlexNoyle/LuckPerms-OG/actionlog"
	"github.com/NotAlexNoyle/LuckPerms-OG/bulkupdate"
	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/google/uuid"
)

// Implementation is the storage engine façade. Every method which touches
// the backing store is potentially blocking (network or disk I/O) and must
// be invoked off latency-sensitive goroutines; engines perform no internal
// scheduling of their own. Loads and saves for the same holder are strictly
// serialized by the engine; operations on different holders, and store-wide
// operations (search, bulk update), may interleave freely.
type Implementation interface {
	// Name identifies the backend, eg "PostgreSQL".
	Name() string

	// Init brackets engine startup: it connects to the backend and
	// provisions schema exactly once (probed by table existence). Init and
	// Shutdown are idempotent.
	Init(ctx context.Context) error
	// Shutdown releases backend resources.
	Shutdown() error

	// Meta surfaces backend diagnostics (ping time, pool state).
	Meta(ctx context.Context) map[string]string

	// LogAction appends one audit entry.
	LogAction(ctx context.Context, entry actionlog.Entry) error
	// Log reads the full audit log.
	Log(ctx context.Context) (*actionlog.Log, error)

	// ApplyBulkUpdate applies one predicate-scoped rewrite across the
	// targeted permissions tables. It takes no per-holder locks: bulk
	// rewrites scope by predicate, not holder identity, and may race
	// concurrent per-holder saves (eventual reconciliation applies).
	ApplyBulkUpdate(ctx context.Context, update *bulkupdate.BulkUpdate) error

	// LoadUser materializes a user's stored state into the managed User.
	// Loading may itself write: expired nodes pruned during the load, or
	// defaults granted by policy, are immediately re-saved so the store
	// reflects evaluated state.
	LoadUser(ctx context.Context, uniqueID uuid.UUID, username string) (*User, error)
	// SaveUser reconciles the user's in-memory node set against the store
	// by set difference, issuing only the needed inserts and deletes.
	SaveUser(ctx context.Context, user *User) error
	// UniqueUsers enumerates every unique id holding at least one node.
	UniqueUsers(ctx context.Context) ([]uuid.UUID, error)
	// SearchUserNodes finds user nodes matched by |matcher|.
	SearchUserNodes(ctx context.Context, matcher node.Matcher) ([]UserNodeEntry, error)

	// CreateAndLoadGroup ensures the named group row exists, then loads it.
	CreateAndLoadGroup(ctx context.Context, name string) (*Group, error)
	// LoadGroup loads the named group if it exists in storage.
	LoadGroup(ctx context.Context, name string) (*Group, bool, error)
	// LoadAllGroups loads every stored group and instructs the manager to
	// retain only those seen.
	LoadAllGroups(ctx context.Context) error
	// SaveGroup reconciles the group's node set, as SaveUser does.
	SaveGroup(ctx context.Context, group *Group) error
	// DeleteGroup removes the group and its nodes, and unloads it from the
	// manager.
	DeleteGroup(ctx context.Context, group *Group) error
	// SearchGroupNodes finds group nodes matched by |matcher|.
	SearchGroupNodes(ctx context.Context, matcher node.Matcher) ([]GroupNodeEntry, error)

	// CreateAndLoadTrack loads the named track, inserting its current
	// (possibly empty) group list when absent.
	CreateAndLoadTrack(ctx context.Context, name string) (*Track, error)
	// LoadTrack loads the named track if it exists in storage.
	LoadTrack(ctx context.Context, name string) (*Track, bool, error)
	// LoadAllTracks loads every stored track and instructs the manager to
	// retain only those seen.
	LoadAllTracks(ctx context.Context) error
	// SaveTrack overwrites the track's stored group list. Tracks are a
	// single serialized value; saves are full overwrites, never diffs.
	SaveTrack(ctx context.Context, track *Track) error
	// DeleteTrack removes the track and unloads it from the manager.
	DeleteTrack(ctx context.Context, track *Track) error

	// SavePlayerData records the identity→username mapping, reassigning
	// the username from any other identities which held it.
	SavePlayerData(ctx context.Context, uniqueID uuid.UUID, username string) (PlayerSaveResult, error)
	// DeletePlayerData removes the identity's player row.
	DeletePlayerData(ctx context.Context, uniqueID uuid.UUID) error
	// PlayerUniqueID resolves a username to its owning identity.
	PlayerUniqueID(ctx context.Context, username string) (uuid.UUID, bool, error)
	// PlayerName resolves an identity to its stored username.
	PlayerName(ctx context.Context, uniqueID uuid.UUID) (string, bool, error)
}

// UserManager owns User instances. Engines never construct or cache Users
// themselves; they borrow them from the manager for the duration of a call.
type UserManager interface {
	// GetOrMake returns the managed User for |uniqueID|, creating it with
	// |username| if not yet known.
	GetOrMake(uniqueID uuid.UUID, username string) *User
	// ShouldSave reports whether the user's state is worth persisting; a
	// user holding only default state need not be.
	ShouldSave(user *User) bool
	// GiveDefaultIfNeeded applies the configured default grant policy and
	// reports whether the user was modified.
	GiveDefaultIfNeeded(user *User) bool
}

// GroupManager owns Group instances.
type GroupManager interface {
	GetOrMake(name string) *Group
	// RetainAll evicts managed groups not named in |names|.
	RetainAll(names []string)
	// Unload evicts the named group.
	Unload(name string)
}

// TrackManager owns Track instances.
type TrackManager interface {
	GetOrMake(name string) *Track
	RetainAll(names []string)
	Unload(name string)
}

// ContextCodec maps context sets to and from their stored text form. The
// engine treats the encoded blob as opaque.
type ContextCodec interface {
	Serialize(cs node.ContextSet) (string, error)
	Deserialize(text string) (node.ContextSet, error)
}

// SchemaProvider opens the DDL resource for a backend. Absence of a
// resource is a fatal initialization error.
type SchemaProvider interface {
	// Open returns the DDL byte stream for |backend| (lower-cased name).
	Open(backend string) ([]byte, error)
}

// UserNodeEntry is one search hit against the user permissions table.
type UserNodeEntry struct {
	UniqueID uuid.UUID
	Node     node.Node
}

// GroupNodeEntry is one search hit against the group permissions table.
type GroupNodeEntry struct {
	Name string
	Node node.Node
}
