package sqlstore

import (
	"context"
	"database/sql"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/NotAlexNoyle/LuckPerms-OG/actionlog"
	"github.com/NotAlexNoyle/LuckPerms-OG/bulkupdate"
	"github.com/NotAlexNoyle/LuckPerms-OG/node"
	"github.com/NotAlexNoyle/LuckPerms-OG/query"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/NotAlexNoyle/LuckPerms-OG/storage/sqlstore/dialect"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	idNotch      = uuid.MustParse("069a79f4-44e9-4726-a5be-fca90e38aaf5")
	idJeb        = uuid.MustParse("853c80ef-3c37-49fd-aa49-938b674adae6")
	idDinnerbone = uuid.MustParse("61699b2e-d327-4a01-9f1e-0ea8c3f06bc6")
)

func TestInitIsIdempotent(t *testing.T) {
	var f = newFixture(t)
	require.NoError(t, f.store.Init(f.ctx))
	assert.Equal(t, "SQLite", f.store.Name())
}

func TestLoadUserNewUserGetsDefault(t *testing.T) {
	var f = newFixture(t)

	var user, err = f.store.LoadUser(f.ctx, idNotch, "Notch")
	require.NoError(t, err)

	require.Len(t, user.Nodes(), 1)
	assert.Equal(t, "group.default", user.Nodes()[0].Permission)
	assert.Equal(t, storage.DefaultGroupName, user.PrimaryGroup)

	// Default state was evaluated in memory only, not persisted.
	ids, err := f.store.UniqueUsers(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestSaveAndLoadUserRoundTrip(t *testing.T) {
	var f = newFixture(t)

	var scoped = node.New("fly.use", true)
	scoped.Server, scoped.World = "factions", "nether"
	var contextual = node.New("kit.daily", true)
	contextual.Contexts = node.ContextSet{"gamemode": {"survival"}}

	var user = f.users.GetOrMake(idNotch, "Notch")
	user.SetNodes([]node.Node{node.New("group.admin", true), scoped, contextual})
	user.PrimaryGroup = "admin"
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	// Drop in-memory state and reload from the store.
	user.ClearNodes()
	user.PrimaryGroup = ""
	user.Username = ""

	loaded, err := f.store.LoadUser(f.ctx, idNotch, "")
	require.NoError(t, err)
	assert.Equal(t, "admin", loaded.PrimaryGroup)
	assert.Equal(t, "notch", loaded.Username)
	assert.ElementsMatch(t,
		nodeKeys([]node.Node{node.New("group.admin", true), scoped, contextual}),
		nodeKeys(loaded.Nodes()))
}

func TestSaveUserReusesUnchangedRows(t *testing.T) {
	var f = newFixture(t)

	var user = f.users.GetOrMake(idNotch, "Notch")
	user.SetNodes([]node.Node{
		node.New("group.admin", true),
		node.New("perm.keep", true),
	})
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	before, err := f.store.selectHolderPermissions(f.ctx, userPermissions, idNotch.String())
	require.NoError(t, err)
	require.Len(t, before, 2)

	var ids = make(map[node.Key]int64)
	for _, r := range before {
		ids[r.n.Key()] = r.id
	}

	user.SetNodes(append(user.Nodes(), node.New("perm.added", true)))
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	after, err := f.store.selectHolderPermissions(f.ctx, userPermissions, idNotch.String())
	require.NoError(t, err)
	require.Len(t, after, 3)

	for _, r := range after {
		if id, ok := ids[r.n.Key()]; ok {
			assert.Equal(t, id, r.id, "unchanged node was rewritten")
		}
	}
}

func TestSaveDefaultUserClearsStoredState(t *testing.T) {
	var f = newFixture(t)

	var user = f.users.GetOrMake(idNotch, "Notch")
	user.SetNodes([]node.Node{node.New("group.admin", true)})
	user.PrimaryGroup = "admin"
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	user.SetNodes([]node.Node{node.New("group.default", true)})
	user.PrimaryGroup = storage.DefaultGroupName
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	ids, err := f.store.UniqueUsers(f.ctx)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, primaryGroup, found, err := f.store.selectPlayerData(f.ctx, idNotch)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, storage.DefaultGroupName, primaryGroup)
}

func TestLoadUserPrunesExpiredNodes(t *testing.T) {
	var f = newFixture(t)

	var expired = node.New("perm.temporary", true)
	expired.Expiry = time.Now().Add(-time.Hour).Unix()

	var user = f.users.GetOrMake(idNotch, "Notch")
	user.SetNodes([]node.Node{node.New("group.admin", true), expired})
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	user.ClearNodes()
	loaded, err := f.store.LoadUser(f.ctx, idNotch, "Notch")
	require.NoError(t, err)

	require.Len(t, loaded.Nodes(), 1)
	assert.Equal(t, "group.admin", loaded.Nodes()[0].Permission)

	// The prune was written back, not just evaluated.
	rows, err := f.store.selectHolderPermissions(f.ctx, userPermissions, idNotch.String())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "group.admin", rows[0].n.Permission)
}

func TestUniqueUsers(t *testing.T) {
	var f = newFixture(t)

	for _, id := range []uuid.UUID{idNotch, idJeb} {
		var user = f.users.GetOrMake(id, "")
		user.SetNodes([]node.Node{node.New("group.admin", true)})
		require.NoError(t, f.store.SaveUser(f.ctx, user))
	}

	var ids, err = f.store.UniqueUsers(f.ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []uuid.UUID{idNotch, idJeb}, ids)
}

func TestSavePlayerData(t *testing.T) {
	var f = newFixture(t)

	// First save for an unknown identity.
	var result, err = f.store.SavePlayerData(f.ctx, idNotch, "Notch")
	require.NoError(t, err)
	assert.True(t, result.Includes(storage.OutcomeCleanInsert))

	// Same username again.
	result, err = f.store.SavePlayerData(f.ctx, idNotch, "notch")
	require.NoError(t, err)
	assert.True(t, result.Includes(storage.OutcomeNoChange))

	// The identity renames.
	result, err = f.store.SavePlayerData(f.ctx, idNotch, "Herobrine")
	require.NoError(t, err)
	assert.True(t, result.Includes(storage.OutcomeUsernameUpdated))
	assert.Equal(t, "notch", result.PreviousUsername)
}

func TestSavePlayerDataReassignsUsername(t *testing.T) {
	var f = newFixture(t)

	var _, err = f.store.SavePlayerData(f.ctx, idNotch, "steve")
	require.NoError(t, err)

	// A different identity claims the same username.
	result, err := f.store.SavePlayerData(f.ctx, idJeb, "Steve")
	require.NoError(t, err)
	assert.True(t, result.Includes(storage.OutcomeCleanInsert))
	require.True(t, result.Includes(storage.OutcomeOtherUniqueIDsPresent))
	assert.Equal(t, []uuid.UUID{idNotch}, result.OtherUniqueIDs)

	id, found, err := f.store.PlayerUniqueID(f.ctx, "steve")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, idJeb, id)

	// The previous holder's mapping is gone entirely.
	_, found, err = f.store.PlayerName(f.ctx, idNotch)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestPlayerNameSentinelReadsAsAbsent(t *testing.T) {
	var f = newFixture(t)

	// Saving a user with no known username stores the "null" sentinel.
	var user = f.users.GetOrMake(idDinnerbone, "")
	user.SetNodes([]node.Node{node.New("group.admin", true)})
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	var _, found, err = f.store.PlayerName(f.ctx, idDinnerbone)
	require.NoError(t, err)
	assert.False(t, found)
}

func TestGroupLifecycle(t *testing.T) {
	var f = newFixture(t)

	var group, err = f.store.CreateAndLoadGroup(f.ctx, "Admin")
	require.NoError(t, err)
	assert.Equal(t, "admin", group.Name)
	assert.Empty(t, group.Nodes())

	// Creating again converges on the same row.
	_, err = f.store.CreateAndLoadGroup(f.ctx, "admin")
	require.NoError(t, err)

	group.SetNodes([]node.Node{node.New("fly.use", true), node.New("kit.admin", true)})
	require.NoError(t, f.store.SaveGroup(f.ctx, group))

	loaded, found, err := f.store.LoadGroup(f.ctx, "ADMIN")
	require.NoError(t, err)
	require.True(t, found)
	assert.Len(t, loaded.Nodes(), 2)

	// Saving an empty group sheds its permission rows but keeps the group.
	group.ClearNodes()
	require.NoError(t, f.store.SaveGroup(f.ctx, group))

	loaded, found, err = f.store.LoadGroup(f.ctx, "admin")
	require.NoError(t, err)
	require.True(t, found)
	assert.Empty(t, loaded.Nodes())

	require.NoError(t, f.store.DeleteGroup(f.ctx, group))
	_, found, err = f.store.LoadGroup(f.ctx, "admin")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, f.groups.has("admin"))
}

func TestLoadAllGroupsEvictsStale(t *testing.T) {
	var f = newFixture(t)

	var _, err = f.store.CreateAndLoadGroup(f.ctx, "admin")
	require.NoError(t, err)
	_, err = f.store.CreateAndLoadGroup(f.ctx, "mod")
	require.NoError(t, err)

	// A managed group absent from storage must be evicted by the sweep.
	f.groups.GetOrMake("stale")

	require.NoError(t, f.store.LoadAllGroups(f.ctx))
	assert.True(t, f.groups.has("admin"))
	assert.True(t, f.groups.has("mod"))
	assert.False(t, f.groups.has("stale"))
}

func TestTrackLifecycle(t *testing.T) {
	var f = newFixture(t)

	var track, err = f.store.CreateAndLoadTrack(f.ctx, "Staff")
	require.NoError(t, err)
	assert.Equal(t, "staff", track.Name)
	assert.Empty(t, track.Groups)

	track.Groups = []string{"trainee", "mod", "admin"}
	require.NoError(t, f.store.SaveTrack(f.ctx, track))

	loaded, found, err := f.store.LoadTrack(f.ctx, "staff")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, []string{"trainee", "mod", "admin"}, loaded.Groups)

	require.NoError(t, f.store.LoadAllTracks(f.ctx))
	assert.True(t, f.tracks.has("staff"))

	require.NoError(t, f.store.DeleteTrack(f.ctx, track))
	_, found, err = f.store.LoadTrack(f.ctx, "staff")
	require.NoError(t, err)
	assert.False(t, found)
	assert.False(t, f.tracks.has("staff"))
}

func TestLoadTrackReadsUnderTrackLock(t *testing.T) {
	var f = newFixture(t)

	var track, err = f.store.CreateAndLoadTrack(f.ctx, "staff")
	require.NoError(t, err)
	track.Groups = []string{"trainee"}
	require.NoError(t, f.store.SaveTrack(f.ctx, track))

	// Hold the track's lock, start a load, then rewrite the stored ladder
	// before releasing. The load's select is ordered after the release and
	// must observe the rewrite, not the prior state.
	var unlock = f.store.locks.lock(trackLockKey("staff"))

	type result struct {
		groups []string
		err    error
	}
	var done = make(chan result, 1)
	go func() {
		var tr, _, err = f.store.LoadTrack(f.ctx, "staff")
		if err != nil {
			done <- result{err: err}
			return
		}
		done <- result{groups: tr.Groups}
	}()

	encoded, err := encodeTrackGroups([]string{"trainee", "mod"})
	require.NoError(t, err)
	require.NoError(t, f.store.withConnection(f.ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(f.ctx, f.store.process(stmtTrackUpdate), encoded, "staff")
		return err
	}))
	unlock()

	var r = <-done
	require.NoError(t, r.err)
	assert.Equal(t, []string{"trainee", "mod"}, r.groups)
}

func TestSaveGroupReusesUnchangedRows(t *testing.T) {
	var f = newFixture(t)

	var group, err = f.store.CreateAndLoadGroup(f.ctx, "admin")
	require.NoError(t, err)

	group.SetNodes([]node.Node{node.New("fly.use", true), node.New("perm.keep", true)})
	require.NoError(t, f.store.SaveGroup(f.ctx, group))

	before, err := f.store.selectHolderPermissions(f.ctx, groupPermissions, "admin")
	require.NoError(t, err)
	require.Len(t, before, 2)

	var ids = make(map[node.Key]int64)
	for _, r := range before {
		ids[r.n.Key()] = r.id
	}

	group.SetNodes(append(group.Nodes(), node.New("perm.added", true)))
	require.NoError(t, f.store.SaveGroup(f.ctx, group))

	after, err := f.store.selectHolderPermissions(f.ctx, groupPermissions, "admin")
	require.NoError(t, err)
	require.Len(t, after, 3)

	for _, r := range after {
		if id, ok := ids[r.n.Key()]; ok {
			assert.Equal(t, id, r.id, "unchanged node was rewritten")
		}
	}
}

func TestActionLogRoundTrip(t *testing.T) {
	var f = newFixture(t)

	var target = idJeb
	var entries = []actionlog.Entry{
		{
			Timestamp: 200, ActorID: idNotch, ActorName: "Notch",
			Type: actionlog.TargetGroup, TargetName: "admin",
			Action: "permission set fly.use true",
		},
		{
			Timestamp: 100, ActorID: idNotch, ActorName: "Notch",
			Type: actionlog.TargetUser, TargetID: &target, TargetName: "jeb_",
			Action: "parent add admin",
		},
	}
	for _, e := range entries {
		require.NoError(t, f.store.LogAction(f.ctx, e))
	}

	var log, err = f.store.Log(f.ctx)
	require.NoError(t, err)

	var got = log.Entries()
	require.Len(t, got, 2)
	assert.Equal(t, int64(100), got[0].Timestamp)
	require.NotNil(t, got[0].TargetID)
	assert.Equal(t, idJeb, *got[0].TargetID)
	assert.Nil(t, got[1].TargetID)
}

func TestApplyBulkUpdateDeleteWithStatistics(t *testing.T) {
	var f = newFixture(t)

	for _, id := range []uuid.UUID{idNotch, idJeb, idDinnerbone} {
		var user = f.users.GetOrMake(id, "")
		user.SetNodes([]node.Node{node.New("group.admin", true), node.New("test.node", true)})
		require.NoError(t, f.store.SaveUser(f.ctx, user))
	}
	for _, name := range []string{"admin", "mod"} {
		var group, err = f.store.CreateAndLoadGroup(f.ctx, name)
		require.NoError(t, err)
		group.SetNodes([]node.Node{node.New("test.node", true), node.New("other.node", true)})
		require.NoError(t, f.store.SaveGroup(f.ctx, group))
	}

	var update = bulkupdate.New(bulkupdate.All, bulkupdate.DeleteAction{}, []bulkupdate.Query{{
		Field:      bulkupdate.FieldPermission,
		Constraint: query.Constraint{Comparison: query.Equal, Value: "test.node"},
	}}, true)

	require.NoError(t, f.store.ApplyBulkUpdate(f.ctx, update))

	var stats = update.Statistics()
	assert.Equal(t, 3, stats.AffectedUsers())
	assert.Equal(t, 2, stats.AffectedGroups())
	assert.Equal(t, 5, stats.AffectedNodes())

	rows, err := f.store.selectHolderPermissions(f.ctx, userPermissions, idNotch.String())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "group.admin", rows[0].n.Permission)
}

func TestApplyBulkUpdateRewritesField(t *testing.T) {
	var f = newFixture(t)

	var user = f.users.GetOrMake(idNotch, "")
	user.SetNodes([]node.Node{node.New("group.admin", true), node.New("test.node", true)})
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	var update = bulkupdate.New(bulkupdate.UsersOnly,
		bulkupdate.UpdateAction{Field: bulkupdate.FieldServer, Value: "survival"},
		[]bulkupdate.Query{{
			Field:      bulkupdate.FieldPermission,
			Constraint: query.Constraint{Comparison: query.Similar, Value: "test.%"},
		}}, false)

	require.NoError(t, f.store.ApplyBulkUpdate(f.ctx, update))

	var rows, err = f.store.selectHolderPermissions(f.ctx, userPermissions, idNotch.String())
	require.NoError(t, err)

	var servers = make(map[string]string)
	for _, r := range rows {
		servers[r.n.Permission] = r.n.Server
	}
	assert.Equal(t, "survival", servers["test.node"])
	assert.Equal(t, node.Global, servers["group.admin"])
}

func TestSearchNodes(t *testing.T) {
	var f = newFixture(t)

	var user = f.users.GetOrMake(idNotch, "")
	user.SetNodes([]node.Node{node.New("group.admin", true), node.New("fly.use", true)})
	require.NoError(t, f.store.SaveUser(f.ctx, user))

	group, err := f.store.CreateAndLoadGroup(f.ctx, "admin")
	require.NoError(t, err)
	group.SetNodes([]node.Node{node.New("fly.use", true)})
	require.NoError(t, f.store.SaveGroup(f.ctx, group))

	userHits, err := f.store.SearchUserNodes(f.ctx, node.MatchPermissionStartsWith("fly."))
	require.NoError(t, err)
	require.Len(t, userHits, 1)
	assert.Equal(t, idNotch, userHits[0].UniqueID)
	assert.Equal(t, "fly.use", userHits[0].Node.Permission)

	groupHits, err := f.store.SearchGroupNodes(f.ctx, node.MatchPermission("fly.use"))
	require.NoError(t, err)
	require.Len(t, groupHits, 1)
	assert.Equal(t, "admin", groupHits[0].Name)
}

// fixture bundles a SQLite-backed Store with stub holder managers.
type fixture struct {
	ctx    context.Context
	store  *Store
	users  *stubUserManager
	groups *stubGroupManager
	tracks *stubTrackManager
}

func newFixture(t *testing.T) *fixture {
	var f = &fixture{
		ctx:    context.Background(),
		users:  new(stubUserManager),
		groups: new(stubGroupManager),
		tracks: new(stubTrackManager),
	}
	var factory = dialect.NewSQLite(dialect.SQLiteConfig{
		Path: filepath.Join(t.TempDir(), "permissions.db"),
	})
	f.store = New(factory, Config{
		TablePrefix: "luckperms_",
		Users:       f.users,
		Groups:      f.groups,
		Tracks:      f.tracks,
	})
	require.NoError(t, f.store.Init(f.ctx))
	t.Cleanup(func() { require.NoError(t, f.store.Shutdown()) })
	return f
}

func nodeKeys(nodes []node.Node) []node.Key {
	var keys = make([]node.Key, len(nodes))
	for i, n := range nodes {
		keys[i] = n.Key()
	}
	return keys
}

type stubUserManager struct {
	mu    sync.Mutex
	users map[uuid.UUID]*storage.User
}

func (m *stubUserManager) GetOrMake(id uuid.UUID, username string) *storage.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.users == nil {
		m.users = make(map[uuid.UUID]*storage.User)
	}
	var u = m.users[id]
	if u == nil {
		u = storage.NewUser(id, username)
		m.users[id] = u
	}
	return u
}

// ShouldSave treats a user holding only the default group membership as not
// worth persisting.
func (m *stubUserManager) ShouldSave(u *storage.User) bool {
	var nodes = u.Nodes()
	if len(nodes) != 1 {
		return true
	}
	var isDefault = nodes[0].Permission == "group."+storage.DefaultGroupName && nodes[0].Value &&
		(u.PrimaryGroup == "" || u.PrimaryGroup == storage.DefaultGroupName)
	return !isDefault
}

func (m *stubUserManager) GiveDefaultIfNeeded(u *storage.User) bool {
	for _, n := range u.Nodes() {
		if strings.HasPrefix(n.Permission, "group.") {
			return false
		}
	}
	u.SetNodes(append(u.Nodes(), node.New("group."+storage.DefaultGroupName, true)))
	if u.PrimaryGroup == "" {
		u.PrimaryGroup = storage.DefaultGroupName
	}
	return true
}

type stubGroupManager struct {
	mu     sync.Mutex
	groups map[string]*storage.Group
}

func (m *stubGroupManager) GetOrMake(name string) *storage.Group {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.groups == nil {
		m.groups = make(map[string]*storage.Group)
	}
	var g = m.groups[name]
	if g == nil {
		g = storage.NewGroup(name)
		m.groups[name] = g
	}
	return g
}

func (m *stubGroupManager) RetainAll(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keep = make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	for n := range m.groups {
		if _, ok := keep[n]; !ok {
			delete(m.groups, n)
		}
	}
}

func (m *stubGroupManager) Unload(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.groups, name)
}

func (m *stubGroupManager) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var _, ok = m.groups[name]
	return ok
}

type stubTrackManager struct {
	mu     sync.Mutex
	tracks map[string]*storage.Track
}

func (m *stubTrackManager) GetOrMake(name string) *storage.Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.tracks == nil {
		m.tracks = make(map[string]*storage.Track)
	}
	var tr = m.tracks[name]
	if tr == nil {
		tr = storage.NewTrack(name)
		m.tracks[name] = tr
	}
	return tr
}

func (m *stubTrackManager) RetainAll(names []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keep = make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	for n := range m.tracks {
		if _, ok := keep[n]; !ok {
			delete(m.tracks, n)
		}
	}
}

func (m *stubTrackManager) Unload(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.tracks, name)
}

func (m *stubTrackManager) has(name string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var _, ok = m.tracks[name]
	return ok
}
