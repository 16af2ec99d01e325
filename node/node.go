// Package node models a single permission assignment: a permission string,
// a grant/deny value, optional server and world scoping, an optional expiry,
// and an open-ended set of contextual constraints.
package node

import "time"

// Global is the normalized sentinel for the server and world axes, meaning
// "applies everywhere" on that axis.
const Global = "global"

// Node is one permission assignment. Node identity — as used by the storage
// engine's diff reconciliation — is defined over every field: two Nodes are
// the same assignment iff permission, value, server, world, expiry and
// contexts all agree. Backend row identifiers are deliberately not part of
// a Node; they exist only so deletes can target exact rows, and live in the
// storage layer.
type Node struct {
	// Permission is the non-empty permission key, eg "group.admin".
	Permission string
	// Value grants (true) or explicitly denies (false) the permission.
	Value bool
	// Server and World scope the assignment, or are Global.
	Server, World string
	// Expiry is an epoch-seconds timestamp, or zero for "never expires".
	Expiry int64
	// Contexts are additional contextual constraints.
	Contexts ContextSet
}

// New returns a permission Node with global scope, no expiry, and no
// contexts.
func New(permission string, value bool) Node {
	return Node{
		Permission: permission,
		Value:      value,
		Server:     Global,
		World:      Global,
		Contexts:   ContextSet{},
	}
}

// Normalize maps empty scoping fields to the Global sentinel and nil
// contexts to an empty set, so that equal assignments compare equal however
// they were constructed.
func (n Node) Normalize() Node {
	if n.Server == "" {
		n.Server = Global
	}
	if n.World == "" {
		n.World = Global
	}
	if n.Contexts == nil {
		n.Contexts = ContextSet{}
	}
	return n
}

// HasExpired returns whether the node carries an expiry in the past.
func (n Node) HasExpired(now time.Time) bool {
	return n.Expiry != 0 && n.Expiry <= now.Unix()
}

// Key is a comparable identity for a Node, suitable for use as a map key in
// set-difference computations. It covers all Node fields; contexts are
// folded to their canonical JSON form.
type Key struct {
	Permission    string
	Value         bool
	Server, World string
	Expiry        int64
	Contexts      string
}

// Key returns the node's identity.
func (n Node) Key() Key {
	n = n.Normalize()
	return Key{
		Permission: n.Permission,
		Value:      n.Value,
		Server:     n.Server,
		World:      n.World,
		Expiry:     n.Expiry,
		Contexts:   n.Contexts.Canonical(),
	}
}

// Equal returns whether two nodes are the same assignment.
func (n Node) Equal(other Node) bool {
	return n.Key() == other.Key()
}
