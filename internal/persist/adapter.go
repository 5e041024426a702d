package persist

import (
	"context"
	"fmt"

	"github.com/weavehub/weave/internal/config"
	"github.com/weavehub/weave/internal/model"
)

// Snapshot is the full durable state, re-hydrated into the store on process
// start. Absence of a persisted record is never an error; it yields empty
// collections.
type Snapshot struct {
	Threads          []model.Thread
	MessagesByThread map[string][]model.Message
	RunsByThread     map[string][]model.Run
}

func EmptySnapshot() Snapshot {
	return Snapshot{
		Threads:          []model.Thread{},
		MessagesByThread: map[string][]model.Message{},
		RunsByThread:     map[string][]model.Run{},
	}
}

// Adapter is the durable key-value store behind the thread/message store.
// Every Save* rewrites that thread's full collection record inside one
// write-through operation; there is no write-behind buffering. Conversation
// volume is small, so correctness wins over throughput.
type Adapter interface {
	SaveThread(ctx context.Context, thread model.Thread) error
	DeleteThread(ctx context.Context, threadID string) error
	SaveMessages(ctx context.Context, threadID string, messages []model.Message) error
	SaveRuns(ctx context.Context, threadID string, runs []model.Run) error
	Load(ctx context.Context) (Snapshot, error)
	Close() error
}

// Open returns an Adapter based on the configured driver.
func Open(cfg *config.Config) (Adapter, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		return OpenSQLite(cfg.SQLitePath)
	case "postgres":
		return OpenPostgres(cfg.PostgresURL)
	case "redis":
		return OpenRedis(cfg.RedisAddr, cfg.RedisDB)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unsupported store driver: %s", cfg.StoreDriver)
	}
}
