package store

import (
	"database/sql"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"

	"livetv-hub/work/logger"
)

//go:embed migrations/*.sql
var migrations embed.FS

// echoSuppressWindow is how long after a local write incoming external change
// notifications are ignored. The realtime feed echoes our own writes back;
// without this guard a write would trigger a reload which can race the next
// write.
const echoSuppressWindow = 500 * time.Millisecond

// Event describes a change to the backing store. Local events originate from
// this process; external events arrive from the change-notification feed.
type Event struct {
	Table string
	Local bool
}

// Store wraps the SQLite database holding channels, programs and settings,
// and fans change events out to subscribers.
type Store struct {
	*sql.DB

	mu             sync.RWMutex
	subscribers    map[int]func(Event)
	nextSub        int
	lastLocalWrite time.Time
}

// Open creates the database file (and its directory) if needed, applies
// pending migrations and returns a ready Store.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{
		DB:          db,
		subscribers: make(map[int]func(Event)),
	}

	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	logger.Info("{store - Open} database ready at %s", path)
	return s, nil
}

// migrate applies every embedded migration file that has not run yet,
// tracking applied versions in schema_migrations.
func (s *Store) migrate() error {
	_, err := s.Exec(`
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			applied_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)
	`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		fmt.Sscanf(entry.Name(), "%d_", &version)

		var exists bool
		if err := s.QueryRow("SELECT EXISTS(SELECT 1 FROM schema_migrations WHERE version = ?)", version).Scan(&exists); err != nil {
			return fmt.Errorf("check migration %d: %w", version, err)
		}
		if exists {
			continue
		}

		content, err := migrations.ReadFile(filepath.Join("migrations", entry.Name()))
		if err != nil {
			return fmt.Errorf("read migration %s: %w", entry.Name(), err)
		}

		tx, err := s.Begin()
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", entry.Name(), err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", entry.Name(), err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", entry.Name(), err)
		}

		logger.Info("{store - migrate} applied migration %s", entry.Name())
	}

	return nil
}

// Subscribe registers a change callback and returns an unsubscribe function.
// Callbacks run on the notifying goroutine and must not block.
func (s *Store) Subscribe(fn func(Event)) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextSub
	s.nextSub++
	s.subscribers[id] = fn
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.subscribers, id)
	}
}

// notifyLocal stamps the local-write time and fans the event out.
func (s *Store) notifyLocal(table string) {
	s.mu.Lock()
	s.lastLocalWrite = time.Now()
	subs := s.snapshotSubscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Table: table, Local: true})
	}
}

// NotifyExternal delivers a change event from the realtime feed. Events
// arriving inside the echo-suppression window of a local write are dropped,
// breaking the write -> echo -> reload feedback loop.
func (s *Store) NotifyExternal(table string) {
	s.mu.Lock()
	if time.Since(s.lastLocalWrite) < echoSuppressWindow {
		s.mu.Unlock()
		logger.Debug("{store - NotifyExternal} suppressed echo for table %s", table)
		return
	}
	subs := s.snapshotSubscribers()
	s.mu.Unlock()

	for _, fn := range subs {
		fn(Event{Table: table, Local: false})
	}
}

// snapshotSubscribers must be called with s.mu held.
func (s *Store) snapshotSubscribers() []func(Event) {
	subs := make([]func(Event), 0, len(s.subscribers))
	for _, fn := range s.subscribers {
		subs = append(subs, fn)
	}
	return subs
}

// Close shuts the database down.
func (s *Store) Close() error {
	logger.Info("{store - Close} closing database")
	return s.DB.Close()
}
