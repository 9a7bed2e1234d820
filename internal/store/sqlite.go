package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	sqlite3 "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"coachwire/pkg/interfaces"
	"coachwire/pkg/types"
)

const (
	writeRetryDelay = 5 * time.Second
	writeTimeout    = 30 * time.Second
)

// SQLite persists sessions, turn logs and assessments in a single file.
// All writes funnel through one goroutine; SQLite allows concurrent reads
// under WAL but serializing writes avoids busy errors under load.
type SQLite struct {
	db       *sql.DB
	writeCh  chan writeOp
	shutdown chan struct{}
	wg       sync.WaitGroup
	closed   bool
	mu       sync.RWMutex
	log      *logrus.Entry
}

type writeOp struct {
	run    func(*sql.DB) error
	result chan error
}

func NewSQLite(path string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to execute %s: %w", pragma, err)
		}
	}

	if err := bootstrapSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &SQLite{
		db:       db,
		writeCh:  make(chan writeOp, 100),
		shutdown: make(chan struct{}),
		log:      logrus.WithField("component", "store"),
	}

	s.wg.Add(1)
	go s.writeLoop()

	return s, nil
}

func bootstrapSchema(db *sql.DB) error {
	schema := `
		CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			owner_user_id TEXT NOT NULL,
			config TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			completed_at DATETIME,
			status TEXT NOT NULL,
			abort_reason TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_status ON sessions(status);
		CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_user_id);

		CREATE TABLE IF NOT EXISTS turns (
			session_id TEXT NOT NULL REFERENCES sessions(id),
			sequence INTEGER NOT NULL,
			user_input TEXT NOT NULL,
			system_output TEXT NOT NULL,
			audio_size INTEGER NOT NULL DEFAULT 0,
			analysis TEXT,
			status TEXT NOT NULL,
			started_at DATETIME NOT NULL,
			finished_at DATETIME NOT NULL,
			PRIMARY KEY (session_id, sequence)
		);

		CREATE TABLE IF NOT EXISTS assessments (
			session_id TEXT PRIMARY KEY REFERENCES sessions(id),
			payload TEXT NOT NULL,
			created_at DATETIME NOT NULL
		);
	`
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to bootstrap schema: %w", err)
	}
	return nil
}

// writeLoop executes queued writes one at a time, retrying each failed
// write exactly once after a fixed delay.
func (s *SQLite) writeLoop() {
	defer s.wg.Done()
	for {
		select {
		case op := <-s.writeCh:
			err := op.run(s.db)
			if err != nil && retryable(err) {
				s.log.WithError(err).Warn("write failed, retrying")
				time.Sleep(writeRetryDelay)
				err = op.run(s.db)
			}
			op.result <- err
		case <-s.shutdown:
			return
		}
	}
}

// retryable excludes caller mistakes; only infrastructure failures earn the
// second attempt.
func retryable(err error) bool {
	if errors.Is(err, interfaces.ErrSessionNotFound) || errors.Is(err, ErrDuplicateSession) {
		return false
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
		return false
	}
	return true
}

func (s *SQLite) executeWrite(run func(*sql.DB) error) error {
	s.mu.RLock()
	if s.closed {
		s.mu.RUnlock()
		return ErrClosed
	}
	s.mu.RUnlock()

	result := make(chan error, 1)
	select {
	case s.writeCh <- writeOp{run: run, result: result}:
		return <-result
	case <-time.After(writeTimeout):
		return fmt.Errorf("write operation timeout")
	case <-s.shutdown:
		return ErrClosed
	}
}

func (s *SQLite) CreateSession(ctx context.Context, session *types.Session) error {
	return s.executeWrite(func(db *sql.DB) error {
		configJSON, err := json.Marshal(session.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO sessions (id, kind, owner_user_id, config, started_at, completed_at, status, abort_reason)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			session.ID, session.Kind, session.OwnerUserID, string(configJSON),
			session.StartedAt, session.CompletedAt, session.Status, session.AbortReason,
		)
		if err != nil {
			var sqliteErr sqlite3.Error
			if errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint {
				return ErrDuplicateSession
			}
			return fmt.Errorf("failed to insert session: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetSession(ctx context.Context, sessionID string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, kind, owner_user_id, config, started_at, completed_at, status, abort_reason
		FROM sessions WHERE id = ?`, sessionID)
	return scanSession(row.Scan)
}

func scanSession(scan func(...any) error) (*types.Session, error) {
	var sess types.Session
	var configJSON string
	var completedAt sql.NullTime

	err := scan(&sess.ID, &sess.Kind, &sess.OwnerUserID, &configJSON,
		&sess.StartedAt, &completedAt, &sess.Status, &sess.AbortReason)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to scan session: %w", err)
	}

	if err := json.Unmarshal([]byte(configJSON), &sess.Config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if completedAt.Valid {
		sess.CompletedAt = &completedAt.Time
	}
	return &sess, nil
}

func (s *SQLite) UpdateSession(ctx context.Context, session *types.Session) error {
	return s.executeWrite(func(db *sql.DB) error {
		configJSON, err := json.Marshal(session.Config)
		if err != nil {
			return fmt.Errorf("failed to marshal config: %w", err)
		}
		res, err := db.ExecContext(ctx, `
			UPDATE sessions SET config = ?, completed_at = ?, status = ?, abort_reason = ?
			WHERE id = ?`,
			string(configJSON), session.CompletedAt, session.Status, session.AbortReason, session.ID,
		)
		if err != nil {
			return fmt.Errorf("failed to update session: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return interfaces.ErrSessionNotFound
		}
		return nil
	})
}

func (s *SQLite) ListActiveSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, owner_user_id, config, started_at, completed_at, status, abort_reason
		FROM sessions WHERE status = ? ORDER BY started_at DESC`, types.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query active sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows.Scan)
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating session rows: %w", err)
	}
	return sessions, nil
}

func (s *SQLite) AppendTurn(ctx context.Context, turn *types.Turn) error {
	return s.executeWrite(func(db *sql.DB) error {
		var analysisJSON sql.NullString
		if turn.Analysis != nil {
			data, err := json.Marshal(turn.Analysis)
			if err != nil {
				return fmt.Errorf("failed to marshal analysis: %w", err)
			}
			analysisJSON = sql.NullString{String: string(data), Valid: true}
		}
		_, err := db.ExecContext(ctx, `
			INSERT INTO turns (session_id, sequence, user_input, system_output, audio_size, analysis, status, started_at, finished_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			turn.SessionID, turn.Sequence, turn.UserInput, turn.SystemOutput,
			turn.AudioSize, analysisJSON, turn.Status, turn.StartedAt, turn.FinishedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert turn: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetTurnLog(ctx context.Context, sessionID string) ([]*types.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, sequence, user_input, system_output, audio_size, analysis, status, started_at, finished_at
		FROM turns WHERE session_id = ? ORDER BY sequence ASC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query turn log: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var turns []*types.Turn
	for rows.Next() {
		var turn types.Turn
		var analysisJSON sql.NullString
		err := rows.Scan(&turn.SessionID, &turn.Sequence, &turn.UserInput, &turn.SystemOutput,
			&turn.AudioSize, &analysisJSON, &turn.Status, &turn.StartedAt, &turn.FinishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}
		if analysisJSON.Valid {
			var analysis types.Analysis
			if err := json.Unmarshal([]byte(analysisJSON.String), &analysis); err != nil {
				return nil, fmt.Errorf("failed to unmarshal analysis: %w", err)
			}
			turn.Analysis = &analysis
		}
		turns = append(turns, &turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turn rows: %w", err)
	}
	return turns, nil
}

func (s *SQLite) SaveAssessment(ctx context.Context, assessment *types.Assessment) error {
	return s.executeWrite(func(db *sql.DB) error {
		payload, err := json.Marshal(assessment)
		if err != nil {
			return fmt.Errorf("failed to marshal assessment: %w", err)
		}
		_, err = db.ExecContext(ctx, `
			INSERT INTO assessments (session_id, payload, created_at) VALUES (?, ?, ?)
			ON CONFLICT(session_id) DO UPDATE SET payload = excluded.payload, created_at = excluded.created_at`,
			assessment.SessionID, string(payload), assessment.CreatedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to save assessment: %w", err)
		}
		return nil
	})
}

func (s *SQLite) GetAssessment(ctx context.Context, sessionID string) (*types.Assessment, error) {
	var payload string
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM assessments WHERE session_id = ?`, sessionID).Scan(&payload)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, interfaces.ErrAssessmentNotFound
		}
		return nil, fmt.Errorf("failed to query assessment: %w", err)
	}
	var assessment types.Assessment
	if err := json.Unmarshal([]byte(payload), &assessment); err != nil {
		return nil, fmt.Errorf("failed to unmarshal assessment: %w", err)
	}
	return &assessment, nil
}

func (s *SQLite) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	var count int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM sessions LIMIT 1").Scan(&count); err != nil {
		return fmt.Errorf("database read test failed: %w", err)
	}
	return nil
}

func (s *SQLite) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()

	if err := s.db.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	return nil
}
