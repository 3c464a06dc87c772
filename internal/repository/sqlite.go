package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/xiaot623/gogo/gateway/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id INTEGER PRIMARY KEY AUTOINCREMENT,
			chat_id INTEGER NOT NULL UNIQUE,
			active_tools TEXT,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			last_active_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			turn_id INTEGER PRIMARY KEY AUTOINCREMENT,
			session_id INTEGER NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			token_count INTEGER,
			metadata TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, turn_id)`,
		`CREATE TABLE IF NOT EXISTS system_prompts (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			prompt TEXT NOT NULL,
			set_by INTEGER NOT NULL,
			is_active INTEGER NOT NULL DEFAULT 1,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS tool_executions (
			execution_id TEXT PRIMARY KEY,
			session_id INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			status TEXT NOT NULL,
			args TEXT,
			result TEXT,
			duration_ms INTEGER NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			FOREIGN KEY (session_id) REFERENCES sessions(session_id)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_tool_executions_session ON tool_executions(session_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}

	// Older databases predate per-session metadata.
	return s.ensureColumn("sessions", "metadata", "ALTER TABLE sessions ADD COLUMN metadata TEXT")
}

func (s *SQLiteStore) ensureColumn(tableName, columnName, ddl string) error {
	rows, err := s.db.Query(fmt.Sprintf("PRAGMA table_info(%s)", tableName))
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var cid int
		var name, ctype string
		var notnull int
		var dfltValue sql.NullString
		var pk int
		if err := rows.Scan(&cid, &name, &ctype, &notnull, &dfltValue, &pk); err != nil {
			return err
		}
		if name == columnName {
			return nil
		}
	}
	if err := rows.Err(); err != nil {
		return err
	}

	_, err = s.db.Exec(ddl)
	return err
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// GetOrCreateSession returns the session bound to chatID, creating it on first use.
// An existing session is reactivated rather than recreated.
func (s *SQLiteStore) GetOrCreateSession(ctx context.Context, chatID int64) (*domain.Session, error) {
	now := time.Now().UTC()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (chat_id, created_at, last_active_at) VALUES (?, ?, ?)
		 ON CONFLICT(chat_id) DO UPDATE SET last_active_at = excluded.last_active_at`,
		chatID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to upsert session: %w", err)
	}
	session, err := s.GetSessionByChat(ctx, chatID)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, fmt.Errorf("session for chat %d vanished after upsert", chatID)
	}
	return session, nil
}

const sessionColumns = `session_id, chat_id, active_tools, metadata, created_at, last_active_at`

// GetSession retrieves a session by ID.
func (s *SQLiteStore) GetSession(ctx context.Context, sessionID int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE session_id = ?`, sessionID)
	return scanSession(row)
}

// GetSessionByChat retrieves the session of a chat.
func (s *SQLiteStore) GetSessionByChat(ctx context.Context, chatID int64) (*domain.Session, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE chat_id = ?`, chatID)
	return scanSession(row)
}

func scanSession(row *sql.Row) (*domain.Session, error) {
	var session domain.Session
	var activeTools, metadata sql.NullString
	err := row.Scan(&session.SessionID, &session.ChatID, &activeTools, &metadata, &session.CreatedAt, &session.LastActiveAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if activeTools.Valid && activeTools.String != "" {
		if err := json.Unmarshal([]byte(activeTools.String), &session.ActiveTools); err != nil {
			return nil, fmt.Errorf("failed to decode active tools: %w", err)
		}
	}
	if metadata.Valid {
		session.Metadata = json.RawMessage(metadata.String)
	}
	return &session, nil
}

// SetActiveTools records the advisory tool list of a session.
func (s *SQLiteStore) SetActiveTools(ctx context.Context, sessionID int64, tools []string) error {
	encoded, err := json.Marshal(tools)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions SET active_tools = ? WHERE session_id = ?`, string(encoded), sessionID)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// AppendTurn persists a turn and bumps the session's last activity in one transaction.
// turn.TurnID and turn.CreatedAt are filled in on success.
func (s *SQLiteStore) AppendTurn(ctx context.Context, turn *domain.Turn) error {
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var tokenCount sql.NullInt64
	if turn.TokenCount != nil {
		tokenCount = sql.NullInt64{Int64: int64(*turn.TokenCount), Valid: true}
	}
	res, err := tx.ExecContext(ctx,
		`INSERT INTO turns (session_id, role, content, token_count, metadata, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		turn.SessionID, string(turn.Role), turn.Content, tokenCount, nullStringBytes(turn.Metadata), turn.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert turn: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}

	upd, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE session_id = ?`, turn.CreatedAt, turn.SessionID)
	if err != nil {
		return fmt.Errorf("failed to touch session: %w", err)
	}
	if n, _ := upd.RowsAffected(); n == 0 {
		return domain.ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit turn: %w", err)
	}
	turn.TurnID = id
	return nil
}

// RecentTurns returns up to limit of the newest turns, oldest first.
// Ordering uses the insertion sequence so equal timestamps never reorder turns.
func (s *SQLiteStore) RecentTurns(ctx context.Context, sessionID int64, limit int) ([]domain.Turn, error) {
	query := `SELECT turn_id, session_id, role, content, token_count, metadata, created_at
		FROM turns WHERE session_id = ? ORDER BY turn_id DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var turns []domain.Turn
	for rows.Next() {
		var turn domain.Turn
		var role string
		var tokenCount sql.NullInt64
		var metadata sql.NullString
		if err := rows.Scan(&turn.TurnID, &turn.SessionID, &role, &turn.Content, &tokenCount, &metadata, &turn.CreatedAt); err != nil {
			return nil, err
		}
		turn.Role = domain.Role(role)
		if tokenCount.Valid {
			n := int(tokenCount.Int64)
			turn.TokenCount = &n
		}
		if metadata.Valid {
			turn.Metadata = json.RawMessage(metadata.String)
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// CountTurns returns the number of turns stored for a session.
func (s *SQLiteStore) CountTurns(ctx context.Context, sessionID int64) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM turns WHERE session_id = ?`, sessionID).Scan(&n)
	return n, err
}

// ClearSession deletes every turn of a session and bumps its last activity.
// Both statements share one transaction. Clearing an empty session is not an error.
func (s *SQLiteStore) ClearSession(ctx context.Context, sessionID int64) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, sessionID)
	if err != nil {
		return 0, fmt.Errorf("failed to delete turns: %w", err)
	}
	deleted, _ := res.RowsAffected()

	if _, err := tx.ExecContext(ctx,
		`UPDATE sessions SET last_active_at = ? WHERE session_id = ?`, time.Now().UTC(), sessionID); err != nil {
		return 0, fmt.Errorf("failed to touch session: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit clear: %w", err)
	}
	return deleted, nil
}

// GetActiveSystemPrompt returns the active prompt override, or nil if none is set.
func (s *SQLiteStore) GetActiveSystemPrompt(ctx context.Context) (*domain.SystemPrompt, error) {
	var p domain.SystemPrompt
	err := s.db.QueryRowContext(ctx,
		`SELECT id, prompt, set_by, is_active, created_at FROM system_prompts
		 WHERE is_active = 1 ORDER BY id DESC LIMIT 1`).
		Scan(&p.ID, &p.Prompt, &p.SetBy, &p.Active, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// SetSystemPrompt stores a new active prompt and deactivates the previous ones.
func (s *SQLiteStore) SetSystemPrompt(ctx context.Context, prompt string, setBy int64) (*domain.SystemPrompt, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `UPDATE system_prompts SET is_active = 0 WHERE is_active = 1`); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	res, err := tx.ExecContext(ctx,
		`INSERT INTO system_prompts (prompt, set_by, is_active, created_at) VALUES (?, ?, 1, ?)`,
		prompt, setBy, now)
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit system prompt: %w", err)
	}
	return &domain.SystemPrompt{ID: id, Prompt: prompt, SetBy: setBy, Active: true, CreatedAt: now}, nil
}

// CreateToolExecution records a tool execution.
func (s *SQLiteStore) CreateToolExecution(ctx context.Context, exec *domain.ToolExecution) error {
	if exec.CreatedAt.IsZero() {
		exec.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tool_executions (execution_id, session_id, tool_name, status, args, result, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		exec.ExecutionID, exec.SessionID, exec.ToolName, string(exec.Status),
		nullStringBytes(exec.Args), nullString(exec.Result), exec.DurationMs, exec.CreatedAt)
	return err
}

// ListToolExecutions returns the newest executions of a session first.
func (s *SQLiteStore) ListToolExecutions(ctx context.Context, sessionID int64, limit int) ([]domain.ToolExecution, error) {
	query := `SELECT execution_id, session_id, tool_name, status, args, result, duration_ms, created_at
		FROM tool_executions WHERE session_id = ? ORDER BY created_at DESC`
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}
	rows, err := s.db.QueryContext(ctx, query, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var execs []domain.ToolExecution
	for rows.Next() {
		var e domain.ToolExecution
		var status string
		var args, result sql.NullString
		if err := rows.Scan(&e.ExecutionID, &e.SessionID, &e.ToolName, &status, &args, &result, &e.DurationMs, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Status = domain.ToolStatus(status)
		if args.Valid {
			e.Args = json.RawMessage(args.String)
		}
		e.Result = result.String
		execs = append(execs, e)
	}
	return execs, rows.Err()
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullStringBytes(b []byte) sql.NullString {
	if len(b) == 0 {
		return sql.NullString{}
	}
	return sql.NullString{String: string(b), Valid: true}
}
