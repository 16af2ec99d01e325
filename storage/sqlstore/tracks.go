package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"strings"

	"github.com/NotAlexNoyle/LuckPerms-OG/storage"
	"github.com/pkg/errors"
)

// Tracks are stored as one serialized group list per name. Saves are full
// overwrites of that value, never diffs.

// CreateAndLoadTrack loads the named track, inserting its current (possibly
// empty) group list when no row exists yet.
func (s *Store) CreateAndLoadTrack(ctx context.Context, name string) (*storage.Track, error) {
	name = strings.ToLower(name)

	var track = s.tracks.GetOrMake(name)
	defer s.locks.lock(trackLockKey(name))()

	groups, found, err := s.selectTrackGroups(ctx, name)
	if err != nil {
		return nil, err
	}
	if found {
		track.Groups = groups
		return track, nil
	}

	encoded, err := encodeTrackGroups(track.Groups)
	if err != nil {
		return nil, err
	}
	err = s.withConnection(ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(ctx, s.process(stmtTrackInsert), name, encoded)
		return errors.Wrap(err, "inserting track row")
	})
	if err != nil {
		return nil, err
	}
	return track, nil
}

// LoadTrack loads the named track if it exists in storage. The select runs
// under the track's lock, so a load ordered after a concurrent save observes
// the saved group list.
func (s *Store) LoadTrack(ctx context.Context, name string) (*storage.Track, bool, error) {
	name = strings.ToLower(name)

	defer s.locks.lock(trackLockKey(name))()

	groups, found, err := s.selectTrackGroups(ctx, name)
	if err != nil || !found {
		return nil, false, err
	}

	var track = s.tracks.GetOrMake(name)
	track.Groups = groups
	return track, true, nil
}

// LoadAllTracks loads every stored track and evicts managed tracks no
// longer present in storage.
func (s *Store) LoadAllTracks(ctx context.Context) error {
	var names []string
	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var rows, err = c.QueryContext(ctx, s.process(stmtTrackSelectAll))
		if err != nil {
			return errors.Wrap(err, "selecting tracks")
		}
		defer rows.Close()

		for rows.Next() {
			var name string
			if err = rows.Scan(&name); err != nil {
				return errors.Wrap(err, "scanning track name")
			}
			names = append(names, strings.ToLower(name))
		}
		return errors.Wrap(rows.Err(), "selecting tracks")
	})
	if err != nil {
		return err
	}

	for _, name := range names {
		if _, _, err = s.LoadTrack(ctx, name); err != nil {
			return errors.WithMessagef(err, "loading track %q", name)
		}
	}
	s.tracks.RetainAll(names)
	return nil
}

// SaveTrack overwrites the track's stored group list.
func (s *Store) SaveTrack(ctx context.Context, track *storage.Track) error {
	defer s.locks.lock(trackLockKey(track.Name))()

	var encoded, err = encodeTrackGroups(track.Groups)
	if err != nil {
		return err
	}
	return s.withConnection(ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(ctx, s.process(stmtTrackUpdate), encoded, track.Name)
		return errors.Wrap(err, "updating track row")
	})
}

// DeleteTrack removes the track and unloads it from the manager.
func (s *Store) DeleteTrack(ctx context.Context, track *storage.Track) error {
	defer s.locks.lock(trackLockKey(track.Name))()

	var err = s.withConnection(ctx, func(c *sql.Conn) error {
		var _, err = c.ExecContext(ctx, s.process(stmtTrackDelete), track.Name)
		return errors.Wrap(err, "deleting track row")
	})
	if err != nil {
		return err
	}
	s.tracks.Unload(track.Name)
	return nil
}

// selectTrackGroups reads and decodes the track's stored group list.
func (s *Store) selectTrackGroups(ctx context.Context, name string) (groups []string, found bool, err error) {
	err = s.withConnection(ctx, func(c *sql.Conn) error {
		var encoded string
		var scanErr = c.QueryRowContext(ctx, s.process(stmtTrackSelect), name).Scan(&encoded)
		if scanErr == sql.ErrNoRows {
			return nil
		} else if scanErr != nil {
			return errors.Wrap(scanErr, "selecting track row")
		}

		if scanErr = json.Unmarshal([]byte(encoded), &groups); scanErr != nil {
			return errors.Wrapf(scanErr, "decoding groups of track %q", name)
		}
		found = true
		return nil
	})
	return
}

// encodeTrackGroups renders the stored form of a track's group list. A nil
// list encodes as an empty array, not JSON null.
func encodeTrackGroups(groups []string) (string, error) {
	if groups == nil {
		groups = []string{}
	}
	var b, err = json.Marshal(groups)
	if err != nil {
		return "", errors.Wrap(err, "encoding track groups")
	}
	return string(b), nil
}
