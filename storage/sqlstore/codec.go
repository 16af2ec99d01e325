package sqlstore

import (
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/pkg/errors"
)

// nodeRow is a permission node as stored: the node itself plus its
// backend-assigned row id. Row ids carry no semantic meaning — they exist
// only so deletes can target exact rows — and are excluded from node
// identity.
type nodeRow struct {
	id int64
	n  node.Node
}

// scanNodeColumns decodes the common (id, permission, value, server, world,
// expiry, contexts) column run of a permissions-table row. A malformed
// contexts blob is a fatal decode error for that row.
func (s *Store) scanNodeColumns(scan func(dest ...interface{}) error) (nodeRow, error) {
	var r nodeRow
	var server, world sql.NullString
	var contexts string

	if err := scan(&r.id, &r.n.Permission, &r.n.Value, &server, &world, &r.n.Expiry, &contexts); err != nil {
		return nodeRow{}, errors.Wrap(err, "scanning node row")
	}
	r.n.Server = server.String
	r.n.World = world.String

	var cs, err = s.contexts.Deserialize(contexts)
	if err != nil {
		return nodeRow{}, errors.Wrapf(err, "decoding contexts of node row %d", r.id)
	}
	r.n.Contexts = cs
	r.n = r.n.Normalize()
	return r, nil
}

// nodeArgs renders a node's insert bind values, in canonical column order
// following the holder key column.
func (s *Store) nodeArgs(n node.Node) ([]interface{}, error) {
	n = n.Normalize()
	var contexts, err = s.contexts.Serialize(n.Contexts)
	if err != nil {
		return nil, errors.Wrap(err, "encoding node contexts")
	}
	return []interface{}{n.Permission, n.Value, n.Server, n.World, n.Expiry, contexts}, nil
}

// rowNodes projects stored rows to their nodes, discarding row ids.
func rowNodes(rows []nodeRow) []node.Node {
	var out = make([]node.Node, len(rows))
	for i, r := range rows {
		out[i] = r.n
	}
	return out
}

// renderNodeInsert renders a canonical multi-row insert for |nodes| against
// |stmt| (a "... VALUES %s" template), each row keyed by |key|.
func (s *Store) renderNodeInsert(stmt, key string, nodes []node.Node) (string, []interface{}, error) {
	var rows = make([]string, len(nodes))
	var args = make([]interface{}, 0, len(nodes)*7)

	for i, n := range nodes {
		rows[i] = "(" + placeholders(7) + ")"

		var vals, err = s.nodeArgs(n)
		if err != nil {
			return "", nil, err
		}
		args = append(args, key)
		args = append(args, vals...)
	}
	return s.process(fmt.Sprintf(stmt, strings.Join(rows, ", "))), args, nil
}

// dedupeRows collapses stored rows carrying identical assignments; the
// first row id seen for an assignment wins. Duplicate stored rows are
// thereby treated as one assignment, exactly as a set-typed remote snapshot
// would.
func dedupeRows(remote []nodeRow) []nodeRow {
	var seen = make(map[node.Key]struct{}, len(remote))
	var out = remote[:0]
	for _, r := range remote {
		var k = r.n.Key()
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, r)
	}
	return out
}

// missingFromRemote computes local − remote: assignments held in memory but
// absent from the store, which must be inserted. The result is
// deterministically ordered and free of duplicates.
func missingFromRemote(local []node.Node, remote []nodeRow) []node.Node {
	var have = make(map[node.Key]struct{}, len(remote))
	for _, r := range remote {
		have[r.n.Key()] = struct{}{}
	}

	var out []node.Node
	var seen = make(map[node.Key]struct{}, len(local))
	for _, n := range local {
		var k = n.Key()
		if _, ok := have[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, n.Normalize())
	}
	sort.Slice(out, func(i, j int) bool { return nodeLess(out[i], out[j]) })
	return out
}

// missingFromLocal computes remote − local: stored assignments no longer
// held in memory, which must be deleted by row id. Delete targets are
// ordered by ascending id.
func missingFromLocal(local []node.Node, remote []nodeRow) []nodeRow {
	var want = make(map[node.Key]struct{}, len(local))
	for _, n := range local {
		want[n.Key()] = struct{}{}
	}

	var out []nodeRow
	for _, r := range dedupeRows(remote) {
		if _, ok := want[r.n.Key()]; !ok {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].id < out[j].id })
	return out
}

func nodeLess(a, b node.Node) bool {
	var ka, kb = a.Key(), b.Key()
	if ka.Permission != kb.Permission {
		return ka.Permission < kb.Permission
	}
	if ka.Server != kb.Server {
		return ka.Server < kb.Server
	}
	if ka.World != kb.World {
		return ka.World < kb.World
	}
	if ka.Expiry != kb.Expiry {
		return ka.Expiry < kb.Expiry
	}
	if ka.Contexts != kb.Contexts {
		return ka.Contexts < kb.Contexts
	}
	return !ka.Value && kb.Value
}
