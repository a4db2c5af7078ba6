package history

import (
	"database/sql"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/unkn0wn-root/reqforge/internal/compose"
	"github.com/unkn0wn-root/reqforge/internal/errdef"
)

const defaultMaxEntries = 200

// Entry is one executed send, successful or not. Error is empty for sends
// that reached the wire and got any response back.
type Entry struct {
	ID          string
	RequestID   string
	Name        string
	Method      string
	URL         string
	Status      string
	StatusCode  int
	Duration    time.Duration
	BodySnippet string
	Error       string
	ExecutedAt  time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS history (
	id TEXT PRIMARY KEY,
	request_id TEXT NOT NULL,
	name TEXT DEFAULT '',
	method TEXT NOT NULL,
	url TEXT NOT NULL,
	status TEXT DEFAULT '',
	status_code INTEGER DEFAULT 0,
	duration_ms INTEGER DEFAULT 0,
	body_snippet TEXT DEFAULT '',
	error TEXT DEFAULT '',
	executed_at DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_history_executed ON history(executed_at DESC);
CREATE INDEX IF NOT EXISTS idx_history_request ON history(request_id);
`

// Store keeps a capped send history in a local sqlite database. It satisfies
// compose.Recorder so the composer can write entries without knowing about
// persistence.
type Store struct {
	db         *sql.DB
	maxEntries int
	log        zerolog.Logger
	mu         sync.Mutex
}

func Open(path string, maxEntries int, log zerolog.Logger) (*Store, error) {
	if maxEntries <= 0 {
		maxEntries = defaultMaxEntries
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errdef.Wrap(errdef.CodeFilesystem, err, "create history dir")
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHistory, err, "open history db")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errdef.Wrap(errdef.CodeHistory, err, "init history schema")
	}

	return &Store{
		db:         db,
		maxEntries: maxEntries,
		log:        log.With().Str("component", "history").Logger(),
	}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Record implements compose.Recorder. Persistence failures are logged, not
// surfaced, so a broken history file never blocks sends.
func (s *Store) Record(rec compose.RecordEntry) {
	entry := Entry{
		ID:          uuid.NewString(),
		RequestID:   rec.RequestID,
		Name:        rec.Name,
		Method:      rec.Method,
		URL:         rec.URL,
		Status:      rec.Status,
		StatusCode:  rec.StatusCode,
		Duration:    rec.Duration,
		BodySnippet: rec.BodySnippet,
		Error:       rec.Error,
		ExecutedAt:  rec.ExecutedAt,
	}
	if err := s.Append(entry); err != nil {
		s.log.Warn().Err(err).Str("requestId", rec.RequestID).Msg("history append failed")
	}
}

func (s *Store) Append(entry Entry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ExecutedAt.IsZero() {
		entry.ExecutedAt = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO history (id, request_id, name, method, url, status,
			status_code, duration_ms, body_snippet, error, executed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		entry.ID, entry.RequestID, entry.Name, entry.Method, entry.URL,
		entry.Status, entry.StatusCode, entry.Duration.Milliseconds(),
		entry.BodySnippet, entry.Error, entry.ExecutedAt.UTC(),
	)
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "insert history entry")
	}

	// Cap enforcement keeps only the newest rows.
	_, err = s.db.Exec(`
		DELETE FROM history WHERE id NOT IN (
			SELECT id FROM history ORDER BY executed_at DESC, rowid DESC LIMIT ?
		)`, s.maxEntries)
	if err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "trim history")
	}
	return nil
}

// Entries returns the newest entries first, up to limit (0 means all
// retained rows).
func (s *Store) Entries(limit int) ([]Entry, error) {
	if limit <= 0 || limit > s.maxEntries {
		limit = s.maxEntries
	}
	return s.query(`
		SELECT id, request_id, name, method, url, status, status_code,
			duration_ms, body_snippet, error, executed_at
		FROM history ORDER BY executed_at DESC, rowid DESC LIMIT ?`, limit)
}

// ByRequest returns the history of one request definition, newest first.
func (s *Store) ByRequest(requestID string) ([]Entry, error) {
	return s.query(`
		SELECT id, request_id, name, method, url, status, status_code,
			duration_ms, body_snippet, error, executed_at
		FROM history WHERE request_id = ?
		ORDER BY executed_at DESC, rowid DESC`, requestID)
}

func (s *Store) Delete(id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.Exec(`DELETE FROM history WHERE id = ?`, id)
	if err != nil {
		return false, errdef.Wrap(errdef.CodeHistory, err, "delete history entry")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, errdef.Wrap(errdef.CodeHistory, err, "delete history entry")
	}
	return n > 0, nil
}

func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.Exec(`DELETE FROM history`); err != nil {
		return errdef.Wrap(errdef.CodeHistory, err, "clear history")
	}
	return nil
}

func (s *Store) query(stmt string, args ...interface{}) ([]Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(stmt, args...)
	if err != nil {
		return nil, errdef.Wrap(errdef.CodeHistory, err, "query history")
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			entry      Entry
			durationMS int64
		)
		if err := rows.Scan(
			&entry.ID, &entry.RequestID, &entry.Name, &entry.Method,
			&entry.URL, &entry.Status, &entry.StatusCode, &durationMS,
			&entry.BodySnippet, &entry.Error, &entry.ExecutedAt,
		); err != nil {
			return nil, errdef.Wrap(errdef.CodeHistory, err, "scan history entry")
		}
		entry.Duration = time.Duration(durationMS) * time.Millisecond
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errdef.Wrap(errdef.CodeHistory, err, "read history rows")
	}
	return entries, nil
}
