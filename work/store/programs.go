package store

import (
	"fmt"
	"time"

	"livetv-hub/work/types"
)

// ReplacePrograms swaps the entire cached guide for the given program list in
// one transaction. There is no incremental merge: every EPG refresh replaces
// the guide wholesale.
func (s *Store) ReplacePrograms(programs []types.Program) error {
	tx, err := s.Begin()
	if err != nil {
		return fmt.Errorf("begin program replace: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM programs"); err != nil {
		return fmt.Errorf("clear programs: %w", err)
	}

	stmt, err := tx.Prepare(`
		INSERT OR REPLACE INTO programs (id, channel_id, start_at, stop_at, title, description)
		VALUES (?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("prepare program insert: %w", err)
	}
	defer stmt.Close()

	for i := range programs {
		p := &programs[i]
		if _, err := stmt.Exec(p.ID, p.ChannelID, p.Start.Unix(), p.Stop.Unix(), p.Title, p.Description); err != nil {
			return fmt.Errorf("insert program %s: %w", p.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit program replace: %w", err)
	}

	s.notifyLocal("programs")
	return nil
}

// ListPrograms returns programs ordered by start time; channelID narrows to
// one channel when non-empty.
func (s *Store) ListPrograms(channelID string) ([]types.Program, error) {
	query := `
		SELECT id, channel_id, start_at, stop_at, title, description
		FROM programs
	`
	var args []any
	if channelID != "" {
		query += " WHERE channel_id = ?"
		args = append(args, channelID)
	}
	query += " ORDER BY channel_id, start_at"

	rows, err := s.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("list programs: %w", err)
	}
	defer rows.Close()

	var programs []types.Program
	for rows.Next() {
		var p types.Program
		var start, stop int64
		if err := rows.Scan(&p.ID, &p.ChannelID, &start, &stop, &p.Title, &p.Description); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		p.Start = time.Unix(start, 0).UTC()
		p.Stop = time.Unix(stop, 0).UTC()
		programs = append(programs, p)
	}
	return programs, rows.Err()
}

// CurrentPrograms returns the program airing now for each channel that has
// one, using the half-open interval start <= now < stop.
func (s *Store) CurrentPrograms(now time.Time) (map[string]types.Program, error) {
	rows, err := s.Query(`
		SELECT id, channel_id, start_at, stop_at, title, description
		FROM programs
		WHERE start_at <= ? AND stop_at > ?
	`, now.Unix(), now.Unix())
	if err != nil {
		return nil, fmt.Errorf("current programs: %w", err)
	}
	defer rows.Close()

	current := make(map[string]types.Program)
	for rows.Next() {
		var p types.Program
		var start, stop int64
		if err := rows.Scan(&p.ID, &p.ChannelID, &start, &stop, &p.Title, &p.Description); err != nil {
			return nil, fmt.Errorf("scan program: %w", err)
		}
		p.Start = time.Unix(start, 0).UTC()
		p.Stop = time.Unix(stop, 0).UTC()
		current[p.ChannelID] = p
	}
	return current, rows.Err()
}
