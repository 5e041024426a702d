package persist

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/weavehub/weave/internal/model"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresAdapter struct {
	db *sql.DB
}

func OpenPostgres(dsn string) (Adapter, error) {
	if dsn == "" {
		return nil, fmt.Errorf("WEAVE_DATABASE_URL is required for postgres driver")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(20)
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	adapter := &postgresAdapter{db: db}
	if err := adapter.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return adapter, nil
}

func (a *postgresAdapter) migrate() error {
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

func (a *postgresAdapter) SaveThread(ctx context.Context, thread model.Thread) error {
	payload, err := json.Marshal(thread)
	if err != nil {
		return fmt.Errorf("marshal thread: %w", err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO threads(thread_id, payload) VALUES($1, $2)
		ON CONFLICT(thread_id) DO UPDATE SET payload = excluded.payload`,
		thread.ID, string(payload))
	if err != nil {
		return fmt.Errorf("save thread: %w", err)
	}
	return nil
}

func (a *postgresAdapter) DeleteThread(ctx context.Context, threadID string) error {
	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, table := range []string{"threads", "thread_messages", "thread_runs"} {
		if _, err := tx.ExecContext(ctx, `DELETE FROM `+table+` WHERE thread_id = $1`, threadID); err != nil {
			return fmt.Errorf("delete from %s: %w", table, err)
		}
	}
	return tx.Commit()
}

func (a *postgresAdapter) SaveMessages(ctx context.Context, threadID string, messages []model.Message) error {
	return a.saveCollection(ctx, "thread_messages", threadID, messages)
}

func (a *postgresAdapter) SaveRuns(ctx context.Context, threadID string, runs []model.Run) error {
	return a.saveCollection(ctx, "thread_runs", threadID, runs)
}

func (a *postgresAdapter) saveCollection(ctx context.Context, table, threadID string, collection any) error {
	payload, err := json.Marshal(collection)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", table, err)
	}
	_, err = a.db.ExecContext(ctx, `
		INSERT INTO `+table+`(thread_id, payload) VALUES($1, $2)
		ON CONFLICT(thread_id) DO UPDATE SET payload = excluded.payload`,
		threadID, string(payload))
	if err != nil {
		return fmt.Errorf("save %s: %w", table, err)
	}
	return nil
}

func (a *postgresAdapter) Load(ctx context.Context) (Snapshot, error) {
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

func (a *postgresAdapter) Close() error {
	if a == nil || a.db == nil {
		return nil
	}
	return a.db.Close()
}
