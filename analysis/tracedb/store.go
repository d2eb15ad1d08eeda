package tracedb

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/wippyai/wasabi/analysis"
	"github.com/wippyai/wasabi/instrument"
)

// SchemaVersion tracks the database schema version.
const SchemaVersion = 1

// DefaultBatchSize is the number of events buffered before a write.
const DefaultBatchSize = 512

// Options configures Open.
type Options struct {
	Logger    *zap.Logger
	BatchSize int
}

// Store is an SQLite event sink.
type Store struct {
	db      *sql.DB
	logger  *zap.Logger
	pending []row
	batch   int
	seq     int64
	failed  int
	mu      sync.Mutex
}

type row struct {
	payload string
	kind    analysis.Kind
	seq     int64
	loc     int32
	fn      uint32
	instr   int
}

// Open creates or opens the database at path. Use ":memory:" for a
// private in-memory database.
func Open(path string, opts Options) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes
	// writers.
	db.SetMaxOpenConns(1)

	s := &Store{db: db, logger: opts.Logger, batch: opts.BatchSize}
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	if s.batch <= 0 {
		s.batch = DefaultBatchSize
	}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	if err := db.QueryRow(`SELECT COALESCE(MAX(seq), 0) FROM events`).Scan(&s.seq); err != nil {
		db.Close()
		return nil, fmt.Errorf("read sequence: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	query := `
	CREATE TABLE IF NOT EXISTS meta (
		key TEXT PRIMARY KEY,
		value TEXT NOT NULL
	);

	CREATE TABLE IF NOT EXISTS sites (
		id INTEGER PRIMARY KEY,
		func INTEGER NOT NULL,
		instr INTEGER NOT NULL,
		hook TEXT NOT NULL,
		variant TEXT NOT NULL,
		op TEXT
	);

	CREATE TABLE IF NOT EXISTS events (
		seq INTEGER PRIMARY KEY,
		loc INTEGER NOT NULL,
		kind TEXT NOT NULL,
		func INTEGER NOT NULL,
		instr INTEGER NOT NULL,
		payload TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_events_kind ON events(kind);
	CREATE INDEX IF NOT EXISTS idx_events_func ON events(func);
	`
	if _, err := s.db.Exec(query); err != nil {
		return err
	}
	_, err := s.db.Exec(`INSERT OR REPLACE INTO meta(key, value) VALUES ('schema_version', ?)`, fmt.Sprint(SchemaVersion))
	return err
}

// LoadSites replaces the stored site table.
func (s *Store) LoadSites(ctx context.Context, sites []instrument.Site) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM sites`); err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO sites(id, func, instr, hook, variant, op) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for i := range sites {
		site := &sites[i]
		if _, err := stmt.ExecContext(ctx, site.ID, site.Func, site.Instr, site.Hook.String(), string(site.Variant), site.Op); err != nil {
			return fmt.Errorf("insert site %d: %w", site.ID, err)
		}
	}
	return tx.Commit()
}

// OnEvent buffers e and writes the buffer once it is full. Write errors
// are logged; they never stop the guest.
func (s *Store) OnEvent(ctx context.Context, e analysis.Event) {
	payload, err := json.Marshal(analysis.Payload(e))
	if err != nil {
		payload = []byte("{}")
	}
	loc := e.Location()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.seq++
	s.pending = append(s.pending, row{
		payload: string(payload),
		kind:    e.Kind(),
		seq:     s.seq,
		loc:     loc.ID,
		fn:      loc.Func,
		instr:   loc.Instr,
	})
	if len(s.pending) >= s.batch {
		if err := s.flushLocked(ctx); err != nil {
			s.failed++
			s.logger.Warn("trace write failed", zap.Error(err), zap.Int("failures", s.failed))
		}
	}
}

// Flush writes buffered events.
func (s *Store) Flush(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.flushLocked(ctx)
}

func (s *Store) flushLocked(ctx context.Context) error {
	if len(s.pending) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO events(seq, loc, kind, func, instr, payload) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()
	for _, r := range s.pending {
		if _, err := stmt.ExecContext(ctx, r.seq, r.loc, string(r.kind), r.fn, r.instr, r.payload); err != nil {
			return fmt.Errorf("insert event %d: %w", r.seq, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	s.pending = s.pending[:0]
	return nil
}

// Summary returns the number of stored events per kind, in kind order.
func (s *Store) Summary(ctx context.Context) ([]analysis.KindCount, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM events GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[analysis.Kind]uint64)
	for rows.Next() {
		var kind string
		var n uint64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, err
		}
		counts[analysis.Kind(kind)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []analysis.KindCount
	for _, k := range analysis.Kinds() {
		if n := counts[k]; n > 0 {
			out = append(out, analysis.KindCount{Kind: k, Count: n})
		}
	}
	return out, nil
}

// Event is one stored event.
type Event struct {
	Payload map[string]any
	Kind    analysis.Kind
	Seq     int64
	Loc     int32
	Func    uint32
	Instr   int
}

// Events returns stored events of kind in sequence order; an empty kind
// selects all of them. limit <= 0 means no limit.
func (s *Store) Events(ctx context.Context, kind analysis.Kind, limit int) ([]Event, error) {
	query := `SELECT seq, loc, kind, func, instr, payload FROM events`
	var args []any
	if kind != "" {
		query += ` WHERE kind = ?`
		args = append(args, string(kind))
	}
	query += ` ORDER BY seq`
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Event
	for rows.Next() {
		var ev Event
		var k, payload string
		if err := rows.Scan(&ev.Seq, &ev.Loc, &k, &ev.Func, &ev.Instr, &payload); err != nil {
			return nil, err
		}
		ev.Kind = analysis.Kind(k)
		if err := json.Unmarshal([]byte(payload), &ev.Payload); err != nil {
			return nil, fmt.Errorf("event %d payload: %w", ev.Seq, err)
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// Close writes buffered events and closes the database.
func (s *Store) Close() error {
	ferr := s.Flush(context.Background())
	if err := s.db.Close(); err != nil {
		return err
	}
	return ferr
}
