package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/weavehub/weave/internal/model"

	_ "modernc.org/sqlite"
)

// sqliteAdapter stores one JSON payload per thread per collection. Records
// are fully rewritten on every mutation; there is no incremental append
// format.
type sqliteAdapter struct {
	db *sql.DB
}

func OpenSQLite(path string) (Adapter, error) {
	dsn := path
	if path != ":memory:" {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return nil, fmt.Errorf("resolve db path: %w", err)
		}
		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			return nil, fmt.Errorf("create db dir: %w", err)
		}
		dsn = absPath
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	// SQLite single-writer: cap pool
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	adapter := &sqliteAdapter{db: db}
	if err := adapter.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}

func (a *sqliteAdapter) migrate() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS threads (
			thread_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread_messages (
			thread_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS thread_runs (
			thread_id TEXT PRIMARY KEY,
			payload TEXT NOT NULL
		)`,
	}
	for _, statement := range statements {
		if _, err := a.db.Exec(statement); err != nil {
			return fmt.Errorf("apply migration: %w", err)
		}
	}
	return nil
}

func (a *sqliteAdapter) SaveThread(ctx context.Context, thread model.Thread) error {
	payload, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO threads(thread_id, payload) VALUES(?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET payload = excluded.payload`,
		thread.ID, string(payload))
	if err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

func (a *sqliteAdapter) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"threads", "thread_messages", "thread_runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE thread_id = ?`, threadID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (a *sqliteAdapter) SaveMessages(ctx context.Context, threadID string, messages []model.Message) error {
	return a.saveCollection(ctx, "thread_messages", threadID, messages)
}

func (a *sqliteAdapter) SaveRuns(ctx context.Context, threadID string, runs []model.Run) error {
	return a.saveCollection(ctx, "thread_runs", threadID, runs)
}

func (a *sqliteAdapter) saveCollection(ctx context.Context, table, threadID string, collection any) error {
	payload, err := json.Marshal(collection)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO `+table+`(thread_id, payload) VALUES(?, ?)
		ON CONFLICT(thread_id) DO UPDATE SET payload = excluded.payload`,
		threadID, string(payload))
	if err != nil {
		return fmt.Errorf("save %s: %w", table, err)
	}
	return nil
}

func (a *sqliteAdapter) Load(ctx context.Context) (Snapshot, error) {
	snapshot := EmptySnapshot()

	rows, err := a.db.QueryContext(ctx, `SELECT payload FROM threads`)
	if err != nil {
		return snapshot, fmt.Errorf("load threads: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return snapshot, fmt.Errorf("scan thread: %w", err)
		}
		var thread model.Thread
		if err := json.Unmarshal([]byte(payload), &thread); err != nil {
			return snapshot, fmt.Errorf("decode thread: %w", err)
		}
		snapshot.Threads = append(snapshot.Threads, thread)
	}
	if err := rows.Err(); err != nil {
		return snapshot, fmt.Errorf("iterate threads: %w", err)
	}

	if err := loadCollection(ctx, a.db, "thread_messages", func(threadID string, payload string) error {
		var messages []model.Message
		if err := json.Unmarshal([]byte(payload), &messages); err != nil {
			return err
		}
		snapshot.MessagesByThread[threadID] = messages
		return nil
	}); err != nil {
		return snapshot, err
	}

	if err := loadCollection(ctx, a.db, "thread_runs", func(threadID string, payload string) error {
		var runs []model.Run
		if err := json.Unmarshal([]byte(payload), &runs); err != nil {
			return err
		}
		snapshot.RunsByThread[threadID] = runs
		return nil
	}); err != nil {
		return snapshot, err
	}

	return snapshot, nil
}

func loadCollection(ctx context.Context, db *sql.DB, table string, apply func(threadID, payload string) error) error {
	rows, err := db.QueryContext(ctx, `SELECT thread_id, payload FROM `+table)
	if err != nil {
		return fmt.Errorf("load %s: %w", table, err)
	}
	defer rows.Close()
	for rows.Next() {
		var threadID, payload string
		if err := rows.Scan(&threadID, &payload); err != nil {
			return fmt.Errorf("scan %s: %w", table, err)
		}
		if err := apply(threadID, payload); err != nil {
			return fmt.Errorf("decode %s: %w", table, err)
		}
	}
	return rows.Err()
}

func (a *sqliteAdapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
