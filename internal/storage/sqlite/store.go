// Package sqlite persists announcements and entity lifecycle events in a
// local SQLite database.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/clearpath-assist/clearpath/internal/monitoring"
	"github.com/clearpath-assist/clearpath/internal/vision/alert"
	"github.com/clearpath-assist/clearpath/internal/vision/track"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps the SQLite database handle.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies all pending
// migrations. Use ":memory:" for an ephemeral database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	// modernc.org/sqlite handles one writer at a time; serialize access
	// through a single connection instead of surfacing SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "set busy_timeout")
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies all pending schema migrations from the embedded catalog.
func (s *Store) migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return errors.Wrap(err, "open embedded migrations")
	}
	driver, err := migratesqlite.WithInstance(s.db, &migratesqlite.Config{})
	if err != nil {
		return errors.Wrap(err, "create sqlite migrate driver")
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return errors.Wrap(err, "create migrate instance")
	}
	// Closing m would close the underlying DB connection, so we don't.
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return errors.Wrap(err, "apply migrations")
	}
	return nil
}

// RecordAnnouncement persists one spoken alert.
func (s *Store) RecordAnnouncement(ctx context.Context, a alert.Announcement) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO announcements (entity_id, label, direction, message, distance, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)`,
		a.EntityID, a.Label, a.Direction, a.Message, a.Distance, a.CreatedAt.UnixNano())
	return errors.Wrap(err, "insert announcement")
}

// RecentAnnouncements returns up to limit announcements, newest first.
func (s *Store) RecentAnnouncements(ctx context.Context, limit int) ([]alert.Announcement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, label, direction, message, distance, created_at_ns
		FROM announcements
		ORDER BY created_at_ns DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query announcements")
	}
	defer rows.Close()

	var out []alert.Announcement
	for rows.Next() {
		var a alert.Announcement
		var createdNS int64
		if err := rows.Scan(&a.EntityID, &a.Label, &a.Direction, &a.Message, &a.Distance, &createdNS); err != nil {
			return nil, errors.Wrap(err, "scan announcement")
		}
		a.CreatedAt = time.Unix(0, createdNS).UTC()
		out = append(out, a)
	}
	return out, errors.Wrap(rows.Err(), "iterate announcements")
}

// LabelCount is the number of announcements recorded for one label.
type LabelCount struct {
	Label string `json:"label"`
	Count int64  `json:"count"`
}

// AnnouncementCountsByLabel aggregates announcements per label, most
// frequent first.
func (s *Store) AnnouncementCountsByLabel(ctx context.Context) ([]LabelCount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT label, COUNT(*) AS n
		FROM announcements
		GROUP BY label
		ORDER BY n DESC, label ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "query label counts")
	}
	defer rows.Close()

	var out []LabelCount
	for rows.Next() {
		var lc LabelCount
		if err := rows.Scan(&lc.Label, &lc.Count); err != nil {
			return nil, errors.Wrap(err, "scan label count")
		}
		out = append(out, lc)
	}
	return out, errors.Wrap(rows.Err(), "iterate label counts")
}

// EntityEvent is the persisted record of one entity's full lifetime,
// written when the tracker expires it.
type EntityEvent struct {
	EntityID      string    `json:"entity_id"`
	DisplayNumber int64     `json:"display_number"`
	Label         string    `json:"label"`
	FirstSeenAt   time.Time `json:"first_seen_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	LifetimeMS    int64     `json:"lifetime_ms"`
	Matches       int64     `json:"matches"`
}

// RecordEntityExpiry persists the final snapshot of an expired entity.
func (s *Store) RecordEntityExpiry(ctx context.Context, e *track.TrackedEntity) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO entity_events (entity_id, display_number, label, first_seen_ns, last_seen_ns, lifetime_ms, matches)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.DisplayNumber, e.Label,
		e.FirstSeenAt.UnixNano(), e.LastSeenAt.UnixNano(),
		e.Lifetime().Milliseconds(), len(e.History))
	return errors.Wrap(err, "insert entity event")
}

// EntityEventsInRange returns entity events whose last match falls in
// [from, to], oldest first.
func (s *Store) EntityEventsInRange(ctx context.Context, from, to time.Time) ([]EntityEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT entity_id, display_number, label, first_seen_ns, last_seen_ns, lifetime_ms, matches
		FROM entity_events
		WHERE last_seen_ns BETWEEN ? AND ?
		ORDER BY last_seen_ns ASC, id ASC`,
		from.UnixNano(), to.UnixNano())
	if err != nil {
		return nil, errors.Wrap(err, "query entity events")
	}
	defer rows.Close()

	var out []EntityEvent
	for rows.Next() {
		var ev EntityEvent
		var firstNS, lastNS int64
		if err := rows.Scan(&ev.EntityID, &ev.DisplayNumber, &ev.Label, &firstNS, &lastNS, &ev.LifetimeMS, &ev.Matches); err != nil {
			return nil, errors.Wrap(err, "scan entity event")
		}
		ev.FirstSeenAt = time.Unix(0, firstNS).UTC()
		ev.LastSeenAt = time.Unix(0, lastNS).UTC()
		out = append(out, ev)
	}
	return out, errors.Wrap(rows.Err(), "iterate entity events")
}

// EntityExpired implements track.RemovalSink. Persistence failures are
// logged, not propagated; the tracker must never stall on storage.
func (s *Store) EntityExpired(e *track.TrackedEntity) {
	if err := s.RecordEntityExpiry(context.Background(), e); err != nil {
		monitoring.Logf("storage: record entity expiry: %v", err)
	}
}
