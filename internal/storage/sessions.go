package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Session is a persisted Claude conversation tied to a user and project.
type Session struct {
	ID          string
	UserID      int64
	ProjectPath string
	CreatedAt   time.Time
	LastUsedAt  time.Time
}

// TranscriptMessage is a single turn of a session transcript. Content holds
// the raw message blocks as produced by the API client.
type TranscriptMessage struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

// SaveSession upserts a session record, refreshing last_used_at.
func (db *DB) SaveSession(s *Session) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO sessions (id, user_id, project_path, last_used_at)
		VALUES (?, ?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(id) DO UPDATE SET last_used_at = CURRENT_TIMESTAMP
	`, s.ID, s.UserID, s.ProjectPath)
	if err != nil {
		return fmt.Errorf("save session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession returns the session with the given id, or nil if absent.
func (db *DB) GetSession(id string) (*Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var s Session
	row := db.conn.QueryRow(`
		SELECT id, user_id, project_path, created_at, last_used_at
		FROM sessions WHERE id = ?
	`, id)
	err := row.Scan(&s.ID, &s.UserID, &s.ProjectPath, &s.CreatedAt, &s.LastUsedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}
	return &s, nil
}

// UserSessions returns the user's sessions, most recently used first.
func (db *DB) UserSessions(userID int64) ([]*Session, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	rows, err := db.conn.Query(`
		SELECT id, user_id, project_path, created_at, last_used_at
		FROM sessions WHERE user_id = ?
		ORDER BY last_used_at DESC
	`, userID)
	if err != nil {
		return nil, fmt.Errorf("list sessions for user %d: %w", userID, err)
	}
	defer rows.Close()

	var sessions []*Session
	for rows.Next() {
		var s Session
		if err := rows.Scan(&s.ID, &s.UserID, &s.ProjectPath, &s.CreatedAt, &s.LastUsedAt); err != nil {
			return nil, fmt.Errorf("scan session: %w", err)
		}
		sessions = append(sessions, &s)
	}
	return sessions, rows.Err()
}

// SaveTranscript stores the full message history for a session, replacing any
// previous transcript.
func (db *DB) SaveTranscript(sessionID string, messages []TranscriptMessage) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	data, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal transcript: %w", err)
	}
	_, err = db.conn.Exec(`
		INSERT INTO session_transcripts (session_id, transcript)
		VALUES (?, ?)
		ON CONFLICT(session_id) DO UPDATE SET transcript = excluded.transcript
	`, sessionID, string(data))
	if err != nil {
		return fmt.Errorf("save transcript %s: %w", sessionID, err)
	}
	return nil
}

// LoadTranscript returns the stored message history for a session, or nil if
// no transcript exists.
func (db *DB) LoadTranscript(sessionID string) ([]TranscriptMessage, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var data string
	row := db.conn.QueryRow("SELECT transcript FROM session_transcripts WHERE session_id = ?", sessionID)
	err := row.Scan(&data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", sessionID, err)
	}

	var messages []TranscriptMessage
	if err := json.Unmarshal([]byte(data), &messages); err != nil {
		return nil, fmt.Errorf("unmarshal transcript %s: %w", sessionID, err)
	}
	return messages, nil
}

// RecordCost appends a cost ledger entry for a completed agent run.
func (db *DB) RecordCost(userID int64, agentID int, sessionID string, costUSD float64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	_, err := db.conn.Exec(`
		INSERT INTO cost_ledger (user_id, agent_id, session_id, cost_usd)
		VALUES (?, ?, ?, ?)
	`, userID, agentID, sessionID, costUSD)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	return nil
}

// UserCost returns the user's total spend across all recorded runs.
func (db *DB) UserCost(userID int64) (float64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var total float64
	row := db.conn.QueryRow("SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger WHERE user_id = ?", userID)
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum costs for user %d: %w", userID, err)
	}
	return total, nil
}

// CostSince returns the user's spend recorded at or after the given time.
func (db *DB) CostSince(userID int64, since time.Time) (float64, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var total float64
	row := db.conn.QueryRow(`
		SELECT COALESCE(SUM(cost_usd), 0) FROM cost_ledger
		WHERE user_id = ? AND recorded_at >= ?
	`, userID, since.UTC())
	if err := row.Scan(&total); err != nil {
		return 0, fmt.Errorf("sum costs since %s: %w", since.Format(time.RFC3339), err)
	}
	return total, nil
}
