package transcripts

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/loqalabs/loqa-stt/internal/config"
	_ "modernc.org/sqlite"
)

// Utterance is one completed transcription recorded for history.
type Utterance struct {
	ID           int64
	SessionID    string
	Text         string
	Language     string
	AudioSeconds float64
	CreatedAt    time.Time
}

// Store is a SQLite-backed utterance history. In ephemeral mode (the
// default) nothing is persisted and every method is a no-op, so no state
// survives a restart unless history is explicitly enabled. In session
// mode rows live only as long as their session: EndSession drops them,
// and Close wipes whatever remains. Persistent mode keeps rows across
// restarts subject to Prune.
type Store struct {
	db    *sql.DB
	cfg   config.TranscriptStoreConfig
	log   *slog.Logger
	clock func() time.Time
}

// Open initializes the store according to config.
func Open(ctx context.Context, cfg config.TranscriptStoreConfig, log *slog.Logger) (*Store, error) {
	if cfg.RetentionMode == "ephemeral" {
		return &Store{cfg: cfg, log: log, clock: time.Now}, nil
	}

	dir := filepath.Dir(cfg.Path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create data dir: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)", cfg.Path)
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

	if err := s.Prune(ctx); err != nil {
		log.Warn("transcript prune on start failed", slog.String("error", err.Error()))
	}

	return s, nil
}

func (s *Store) initSchema(ctx context.Context) error {
	ddl := `
CREATE TABLE IF NOT EXISTS utterances (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT NOT NULL,
    text TEXT NOT NULL,
    language TEXT,
    audio_seconds REAL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_utterances_session_created ON utterances(session_id, created_at);
`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *Store) sessionScoped() bool {
	return s.cfg.RetentionMode == "session"
}

// EndSession drops a finished session's rows in session mode. Other
// modes keep them.
func (s *Store) EndSession(ctx context.Context, sessionID string) error {
	if s.db == nil || !s.sessionScoped() {
		return nil
	}
	_, err := s.db.ExecContext(ctx, `DELETE FROM utterances WHERE session_id = ?`, sessionID)
	return err
}

// Close releases underlying resources. In session mode it first wipes
// the table so history never outlives the process.
func (s *Store) Close() error {
	if s.db == nil {
		return nil
	}
	if s.sessionScoped() {
		if _, err := s.db.Exec(`DELETE FROM utterances`); err != nil {
			s.log.Warn("failed to wipe session-scoped history", slog.String("error", err.Error()))
		}
	}
	return s.db.Close()
}

// Append records one completed utterance.
func (s *Store) Append(ctx context.Context, u Utterance) error {
	if s.db == nil {
		return nil
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = s.clock().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO utterances(session_id, text, language, audio_seconds, created_at)
		 VALUES(?, ?, ?, ?, ?)`,
		u.SessionID, u.Text, u.Language, u.AudioSeconds, u.CreatedAt)
	return err
}

// ListSession retrieves up to limit utterances for a session ordered
// ascending by time.
func (s *Store) ListSession(ctx context.Context, sessionID string, limit int) ([]Utterance, error) {
	if s.db == nil {
		return nil, nil
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, text, language, audio_seconds, created_at
		 FROM utterances WHERE session_id = ? ORDER BY created_at ASC LIMIT ?`, sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var utterances []Utterance
	for rows.Next() {
		var u Utterance
		var created string
		if err := rows.Scan(&u.ID, &u.SessionID, &u.Text, &u.Language, &u.AudioSeconds, &created); err != nil {
			return nil, err
		}
		if ts, err := time.Parse(time.RFC3339Nano, created); err == nil {
			u.CreatedAt = ts
		}
		utterances = append(utterances, u)
	}
	return utterances, rows.Err()
}

// Prune applies configured retention: a day cutoff and a cap on the number
// of distinct sessions kept.
func (s *Store) Prune(ctx context.Context) error {
	if s.db == nil {
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
		if _, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE created_at < ?`, cutoff.UTC()); err != nil {
			return err
		}
	}
	if s.cfg.MaxSessions > 0 {
		_, err = tx.ExecContext(ctx, `DELETE FROM utterances WHERE session_id NOT IN (
			SELECT session_id FROM utterances GROUP BY session_id
			ORDER BY MAX(created_at) DESC LIMIT ?
		)`, s.cfg.MaxSessions)
		if err != nil {
			return err
		}
	}
	err = tx.Commit()
	return err
}
