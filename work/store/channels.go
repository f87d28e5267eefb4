package store

import (
	"database/sql"
	"fmt"
	"strings"

	"livetv-hub/work/types"
)

// ListChannels returns every saved channel in list order.
func (s *Store) ListChannels() ([]types.Channel, error) {
	rows, err := s.Query(`
		SELECT id, name, url, original_url, logo, grp, epg_id,
		       favorite, unstable, mode, edited
		FROM channels
		ORDER BY position, rowid
	`)
	if err != nil {
		return nil, fmt.Errorf("list channels: %w", err)
	}
	defer rows.Close()

	var channels []types.Channel
	for rows.Next() {
		ch, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel: %w", err)
		}
		channels = append(channels, ch)
	}
	return channels, rows.Err()
}

// GetChannel fetches a single channel by id; (nil, nil) when absent.
func (s *Store) GetChannel(id string) (*types.Channel, error) {
	row := s.QueryRow(`
		SELECT id, name, url, original_url, logo, grp, epg_id,
		       favorite, unstable, mode, edited
		FROM channels
		WHERE id = ?
	`, id)

	ch, err := scanChannel(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get channel: %w", err)
	}
	return &ch, nil
}

// ReplaceAllChannels makes the stored set exactly match the given list,
// preserving list order via the position column. Channels absent from the new
// list are deleted, cascading away their cached programs; surviving channels
// are upserted in place so their programs are kept.
func (s *Store) ReplaceAllChannels(channels []types.Channel) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin replace: %w", err)
	}
	defer tx.Rollback()

	keep := make([]string, 0, len(channels))
	for i := range channels {
		ch := &channels[i]
		keep = append(keep, ch.ID)
		_, err := tx.Exec(`
			INSERT INTO channels (id, name, url, original_url, logo, grp, epg_id,
			                      favorite, unstable, mode, edited, position, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				url = excluded.url,
				original_url = excluded.original_url,
				logo = excluded.logo,
				grp = excluded.grp,
				epg_id = excluded.epg_id,
				favorite = excluded.favorite,
				unstable = excluded.unstable,
				mode = excluded.mode,
				edited = excluded.edited,
				position = excluded.position,
				updated_at = CURRENT_TIMESTAMP
		`, ch.ID, ch.Name, ch.URL, ch.OriginalURL, ch.Logo, ch.Group, ch.EPGID,
			ch.IsFavorite, ch.IsUnstable, string(ch.Mode), ch.EditedCSV(), i)
		if err != nil {
			return fmt.Errorf("upsert channel %s: %w", ch.ID, err)
		}
	}

	if len(keep) == 0 {
		if _, err := tx.Exec("DELETE FROM channels"); err != nil {
			return fmt.Errorf("clear channels: %w", err)
		}
	} else {
		placeholders := strings.Repeat("?,", len(keep)-1) + "?"
		args := make([]any, len(keep))
		for i, id := range keep {
			args[i] = id
		}
		if _, err := tx.Exec("DELETE FROM channels WHERE id NOT IN ("+placeholders+")", args...); err != nil {
			return fmt.Errorf("prune channels: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit replace: %w", err)
	}

	s.notifyLocal("channels")
	return nil
}

// UpdateChannel rewrites one channel record in place.
func (s *Store) UpdateChannel(ch *types.Channel) error {
	_, err := s.Exec(`
		UPDATE channels
		SET name = ?, url = ?, original_url = ?, logo = ?, grp = ?, epg_id = ?,
		    favorite = ?, unstable = ?, mode = ?, edited = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`, ch.Name, ch.URL, ch.OriginalURL, ch.Logo, ch.Group, ch.EPGID,
		ch.IsFavorite, ch.IsUnstable, string(ch.Mode), ch.EditedCSV(), ch.ID)
	if err != nil {
		return fmt.Errorf("update channel %s: %w", ch.ID, err)
	}

	s.notifyLocal("channels")
	return nil
}

// SetChannelMode persists a connection mode discovered by the resilience
// controller (or chosen by the user). The write is idempotent: a mode that
// already matches is not rewritten and no change event fires, so controller
// write-backs cannot thrash against manual toggles.
func (s *Store) SetChannelMode(id string, mode types.ConnectionMode) error {
	res, err := s.Exec(`
		UPDATE channels SET mode = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND mode <> ?
	`, string(mode), id, string(mode))
	if err != nil {
		return fmt.Errorf("set channel mode: %w", err)
	}

	if n, _ := res.RowsAffected(); n > 0 {
		s.notifyLocal("channels")
	}
	return nil
}

// SetChannelFlag toggles the favorite or unstable flag on a channel.
func (s *Store) SetChannelFlag(id, flag string, value bool) error {
	var column string
	switch flag {
	case "favorite":
		column = "favorite"
	case "unstable":
		column = "unstable"
	default:
		return fmt.Errorf("unknown channel flag %q", flag)
	}

	_, err := s.Exec("UPDATE channels SET "+column+" = ?, updated_at = CURRENT_TIMESTAMP WHERE id = ?", value, id)
	if err != nil {
		return fmt.Errorf("set channel %s: %w", flag, err)
	}

	s.notifyLocal("channels")
	return nil
}

// DeleteChannel removes a channel; its cached programs go with it via the
// foreign key cascade.
func (s *Store) DeleteChannel(id string) error {
	if _, err := s.Exec("DELETE FROM channels WHERE id = ?", id); err != nil {
		return fmt.Errorf("delete channel %s: %w", id, err)
	}

	s.notifyLocal("channels")
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanChannel(row rowScanner) (types.Channel, error) {
	var ch types.Channel
	var mode, edited string
	err := row.Scan(&ch.ID, &ch.Name, &ch.URL, &ch.OriginalURL, &ch.Logo, &ch.Group,
		&ch.EPGID, &ch.IsFavorite, &ch.IsUnstable, &mode, &edited)
	if err != nil {
		return ch, err
	}
	// stored modes are trusted; anything unknown falls back to auto
	ch.Mode, _ = types.ParseConnectionMode(mode)
	ch.SetEditedCSV(edited)
	return ch, nil
}
