package eventstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/voice-agent/internal/config"
	_ "modernc.org/sqlite"
)

// Event types recorded per request.
const (
	TypeRequestReceived    = "request.received"
	TypeCompletionFinished = "completion.finished"
	TypeKeyPointsFinished  = "keypoints.finished"
	TypeAudioFinished      = "audio.finished"
	TypeRequestFailed      = "request.failed"
)

// Event represents one recorded stage of a request.
type Event struct {
	ID        int64
	RequestID string
	TraceID   string
	Type      string
	Payload   []byte
	CreatedAt time.Time
}

// Store wraps a SQLite-backed request journal. With retention_mode
// "ephemeral" every method is a no-op.
type Store struct {
	db    *sql.DB
	cfg   config.JournalConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the journal according to config.
func Open(ctx context.Context, cfg config.JournalConfig, log *slog.Logger) (*Store, error) {
	log = log.With(slog.String("component", "journal"))
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", cfg.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, cfg: cfg, log: log, clock: time.Now}

	if err := s.initSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}

	if cfg.VacuumOnStart {
		if err := s.vacuum(ctx); err != nil {
			log.Warn("journal vacuum failed", slog.String("error", err.Error()))
		}
	}

	if err := s.Prune(ctx); err != nil {
		log.Warn("journal prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	ddl := `
CREATE TABLE IF NOT EXISTS requests (
    request_id TEXT PRIMARY KEY,
    voice TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE TABLE IF NOT EXISTS events (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    request_id TEXT NOT NULL,
    trace_id TEXT,
    event_type TEXT,
    payload BLOB,
    created_at TIMESTAMP NOT NULL,
    FOREIGN KEY(request_id) REFERENCES requests(request_id) ON DELETE CASCADE
);
CREATE INDEX IF NOT EXISTS idx_events_request_created ON events(request_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) vacuum(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// Enabled reports whether events are persisted.
func (s *Store) Enabled() bool {
	return s != nil && s.db != nil && s.cfg.RetentionMode != "ephemeral"
}

// Close releases underlying resources.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendRequest ensures a request row exists.
func (s *Store) AppendRequest(ctx context.Context, requestID, voice string) error {
	if !s.Enabled() {
		return nil
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO requests(request_id, voice, created_at)
		 VALUES(?, ?, ?)
		 ON CONFLICT(request_id) DO UPDATE SET voice=excluded.voice`,
		requestID, voice, s.clock().UTC())
	return err
}

// AppendEvent writes an event into the journal.
func (s *Store) AppendEvent(ctx context.Context, evt Event) error {
	if !s.Enabled() {
		return nil
	}
	if evt.CreatedAt.IsZero() {
		evt.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO events(request_id, trace_id, event_type, payload, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		evt.RequestID, evt.TraceID, evt.Type, evt.Payload, evt.CreatedAt)
	return err
}

// ListRequestEvents retrieves up to limit events for a request ordered ascending by time.
func (s *Store) ListRequestEvents(ctx context.Context, requestID string, limit int) ([]Event, error) {
	if !s.Enabled() {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, request_id, trace_id, event_type, payload, created_at
		 FROM events WHERE request_id = ? ORDER BY created_at ASC, id ASC LIMIT ?`, requestID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var e Event
		var traceID sql.NullString
		var created any
		if err := rows.Scan(&e.ID, &e.RequestID, &traceID, &e.Type, &e.Payload, &created); err != nil {
			return nil, err
		}
		e.TraceID = traceID.String
		e.CreatedAt = parseTimestamp(created)
		events = append(events, e)
	}
	return events, rows.Err()
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999 -0700 MST",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05",
}

func parseTimestamp(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case []byte:
		return parseTimestamp(string(t))
	case string:
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, t); err == nil {
				return ts
			}
		}
	}
	return time.Time{}
}

// Prune applies configured retention (called on startup and can be scheduled).
func (s *Store) Prune(ctx context.Context) (err error) {
	if !s.Enabled() {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if s.cfg.RetentionDays > 0 {
		cutoff := s.clock().Add(-time.Duration(s.cfg.RetentionDays) * 24 * time.Hour)
		if _, err = tx.ExecContext(ctx, `DELETE FROM events WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
		if _, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxRequests > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM requests WHERE request_id IN (
			SELECT request_id FROM requests ORDER BY created_at DESC LIMIT -1 OFFSET ?
		)`, s.cfg.MaxRequests)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}

// RunPruner prunes every interval until ctx is done. In "session" mode the
// journal is also cleared on return, so nothing outlives the process.
func (s *Store) RunPruner(ctx context.Context, interval time.Duration) {
	if !s.Enabled() {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			if s.cfg.RetentionMode == "session" {
				if err := s.clear(context.Background()); err != nil {
					s.log.Warn("journal clear failed", slog.String("error", err.Error()))
				}
			}
			return
		case <-ticker.C:
			if err := s.Prune(ctx); err != nil && !errors.Is(err, context.Canceled) {
				s.log.Warn("journal prune failed", slog.String("error", err.Error()))
			}
		}
	}
}

func (s *Store) clear(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM events; DELETE FROM requests;`)
	return err
}

// Ensure checks the ephemeral/persistent invariant.
func (s *Store) Ensure() error {
	if s.cfg.RetentionMode == "ephemeral" && s.db != nil {
		return errors.New("ephemeral store should not have database connection")
	}
	return nil
}
