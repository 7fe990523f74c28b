// Package badger is a disk-backed submission journal. Attempts survive
// process restarts, which matters when chasing a dropped submission reported
// hours later.
package badger

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/echofm-labs/scrobble-engine-go/pkg/journal"
	badgerdb "github.com/dgraph-io/badger/v3"
	"go.uber.org/zap"
)

const (
	keyPrefixAttempt     = "attempt:"
	keySchemaVersion     = "metadata:schema_version"
	currentSchemaVersion = "v1"

	gcInterval     = 5 * time.Minute
	gcDiscardRatio = 0.5
)

// BadgerJournal stores attempts in a local Badger database with SyncWrites
// enabled. A background goroutine runs value log GC.
type BadgerJournal struct {
	db       *badgerdb.DB
	logger   *zap.Logger
	gcCancel context.CancelFunc
	gcWg     sync.WaitGroup
	mu       sync.RWMutex
	closed   bool
}

var _ journal.ISubmissionJournal = (*BadgerJournal)(nil)

func NewBadgerJournal(dataPath string, logger *zap.Logger) (*BadgerJournal, error) {
	absPath, err := filepath.Abs(dataPath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	opts := badgerdb.DefaultOptions(absPath)
	opts.Logger = &badgerLoggerAdapter{logger: logger}
	opts.SyncWrites = true
	opts.CompactL0OnClose = true
	opts.NumVersionsToKeep = 1

	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open badger database at %s: %w", absPath, err)
	}

	bj := &BadgerJournal{
		db:     db,
		logger: logger,
	}

	if err := bj.initSchema(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	bj.gcCancel = cancel
	bj.gcWg.Add(1)
	go bj.runGC(ctx)

	logger.Sugar().Infow("Badger journal initialized", "path", absPath)

	return bj, nil
}

func (b *BadgerJournal) initSchema() error {
	return b.db.Update(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return txn.Set([]byte(keySchemaVersion), []byte(currentSchemaVersion))
		}
		if err != nil {
			return fmt.Errorf("failed to read schema version: %w", err)
		}

		var existingVersion string
		err = item.Value(func(val []byte) error {
			existingVersion = string(val)
			return nil
		})
		if err != nil {
			return fmt.Errorf("failed to read schema version value: %w", err)
		}

		if existingVersion != currentSchemaVersion {
			return fmt.Errorf("unsupported schema version: %s (expected: %s)", existingVersion, currentSchemaVersion)
		}
		return nil
	})
}

func (b *BadgerJournal) runGC(ctx context.Context) {
	defer b.gcWg.Done()

	ticker := time.NewTicker(gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			err := b.db.RunValueLogGC(gcDiscardRatio)
			if err != nil && err != badgerdb.ErrNoRewrite {
				b.logger.Sugar().Warnw("Badger GC error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func (b *BadgerJournal) RecordAttempt(attempt *journal.Attempt) error {
	if attempt == nil {
		return fmt.Errorf("cannot record nil attempt")
	}
	if attempt.ID == "" {
		return fmt.Errorf("attempt ID cannot be empty")
	}

	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("journal is closed")
	}

	data, err := journal.MarshalAttempt(attempt.StampedNow())
	if err != nil {
		return fmt.Errorf("failed to marshal Attempt: %w", err)
	}

	key := keyPrefixAttempt + attempt.ID
	return b.db.Update(func(txn *badgerdb.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

func (b *BadgerJournal) GetAttempt(id string) (*journal.Attempt, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	var data []byte
	err := b.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get([]byte(keyPrefixAttempt + id))
		if err == badgerdb.ErrKeyNotFound {
			return nil // Not found is not an error
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			data = append([]byte{}, val...)
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load Attempt: %w", err)
	}
	if data == nil {
		return nil, nil
	}

	return journal.UnmarshalAttempt(data)
}

func (b *BadgerJournal) ListAttempts() ([]*journal.Attempt, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil, fmt.Errorf("journal is closed")
	}

	var attempts []*journal.Attempt

	err := b.db.View(func(txn *badgerdb.Txn) error {
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefixAttempt)

		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()

			var data []byte
			err := item.Value(func(val []byte) error {
				data = append([]byte{}, val...)
				return nil
			})
			if err != nil {
				return fmt.Errorf("failed to read value: %w", err)
			}

			attempt, err := journal.UnmarshalAttempt(data)
			if err != nil {
				b.logger.Sugar().Warnw("Failed to unmarshal Attempt, skipping",
					"key", string(item.Key()), "error", err)
				continue
			}
			attempts = append(attempts, attempt)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list Attempts: %w", err)
	}

	sort.Slice(attempts, func(i, j int) bool {
		if attempts[i].CreatedAtUnix == attempts[j].CreatedAtUnix {
			return attempts[i].ID < attempts[j].ID
		}
		return attempts[i].CreatedAtUnix < attempts[j].CreatedAtUnix
	})
	return attempts, nil
}

func (b *BadgerJournal) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	if b.gcCancel != nil {
		b.gcCancel()
	}
	b.gcWg.Wait()

	if err := b.db.Close(); err != nil {
		return fmt.Errorf("failed to close badger database: %w", err)
	}

	b.logger.Sugar().Info("Badger journal closed")
	return nil
}

func (b *BadgerJournal) HealthCheck() error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return fmt.Errorf("journal is closed")
	}

	return b.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get([]byte(keySchemaVersion))
		if err == badgerdb.ErrKeyNotFound {
			return fmt.Errorf("schema version not found - database may be corrupted")
		}
		return err
	})
}
