// Package storage is the local client state database: setup flags, resumable
// wizard sessions, and the scheduled-delete queue. It is the client-side
// analog of the web app's persisted key/value storage.
package storage

import (
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database holding local client state.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the client database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (used by
// tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "nest.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate reads embedded SQL migration files and applies any that haven't
// been run yet.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}
		version, err := parseMigrationVersion(entry.Name())
		if err != nil {
			return err
		}

		var exists int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&exists); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if exists > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

func parseMigrationVersion(filename string) (int, error) {
	var version int
	if _, err := fmt.Sscanf(filename, "%d_", &version); err != nil {
		return 0, fmt.Errorf("parsing migration version from %q: %w", filename, err)
	}
	return version, nil
}

// --- Client state ---

// SetState upserts a client state key.
func (s *Store) SetState(key, value string) error {
	_, err := s.db.Exec(`
		INSERT INTO client_state (key, value, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		key, value, time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// GetState returns a client state value, or ErrNotFound.
func (s *Store) GetState(key string) (string, error) {
	var value string
	err := s.db.QueryRow("SELECT value FROM client_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", ErrNotFound
	}
	return value, err
}

// MarkSetupCompleted flips the persistent setup-completed flag.
func (s *Store) MarkSetupCompleted() error {
	return s.SetState(StateSetupCompleted, "true")
}

// SetupCompleted reports whether setup has ever completed on this client.
func (s *Store) SetupCompleted() (bool, error) {
	v, err := s.GetState(StateSetupCompleted)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return v == "true", nil
}

// --- Wizard sessions ---

// SaveSession upserts a wizard session snapshot.
func (s *Store) SaveSession(id string, step int, stateJSON string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO wizard_sessions (id, step, state_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET step = excluded.step, state_json = excluded.state_json, updated_at = excluded.updated_at`,
		id, step, stateJSON, now, now,
	)
	return err
}

// LoadSession returns a saved wizard session, or ErrNotFound.
func (s *Store) LoadSession(id string) (WizardSession, error) {
	var ws WizardSession
	var createdAt, updatedAt string
	err := s.db.QueryRow(`
		SELECT id, step, state_json, created_at, updated_at
		FROM wizard_sessions WHERE id = ?`, id,
	).Scan(&ws.ID, &ws.Step, &ws.StateJSON, &createdAt, &updatedAt)
	if err == sql.ErrNoRows {
		return WizardSession{}, ErrNotFound
	}
	if err != nil {
		return WizardSession{}, err
	}
	if ws.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return WizardSession{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if ws.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return WizardSession{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return ws, nil
}

// DeleteSession removes a saved wizard session. Deleting a session that does
// not exist is not an error.
func (s *Store) DeleteSession(id string) error {
	_, err := s.db.Exec("DELETE FROM wizard_sessions WHERE id = ?", id)
	return err
}

// --- Pending deletes ---

// EnqueueDelete schedules a backend delete for a persisted child.
func (s *Store) EnqueueDelete(d PendingDelete) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !d.RunAfter.IsZero() {
		runAfter = d.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := d.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO pending_deletes (id, child_id, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, 'pending', 0, ?, ?, ?, ?)`,
		d.ID, d.ChildID, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextDelete atomically claims the next due pending delete, marking it
// running. Returns (nil, nil) when nothing is due.
func (s *Store) ClaimNextDelete() (*PendingDelete, error) {
	now := time.Now().UTC().Format(time.RFC3339)

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var d PendingDelete
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(`
		SELECT id, child_id, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM pending_deletes
		WHERE status = 'pending' AND run_after <= ?
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`, now,
	).Scan(&d.ID, &d.ChildID, &d.Status, &d.Attempts, &d.MaxAttempts, &runAfter, &createdAt, &updatedAt, &lastError)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next pending delete: %w", err)
	}

	res, err := tx.Exec(`UPDATE pending_deletes SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, d.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating delete status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	d.Status = "running"
	d.LastError = lastError.String
	if d.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for delete %s: %w", d.ID, err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for delete %s: %w", d.ID, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, now); err != nil {
		return nil, fmt.Errorf("parsing updated_at for delete %s: %w", d.ID, err)
	}
	return &d, nil
}

// CompleteDelete marks a claimed delete as done.
func (s *Store) CompleteDelete(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE pending_deletes SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailDelete records a failed attempt: re-queued with exponential backoff
// until max attempts, then marked failed.
func (s *Store) FailDelete(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM pending_deletes WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE pending_deletes SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE pending_deletes SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}
