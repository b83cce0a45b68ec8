// Package storage persists baselines, anomaly events and remediation history
// in an embedded BadgerDB. Keyspace:
//
//	baseline/<service>/<metric>          MetricBaseline (replaced in place)
//	anomaly/<id>                         AnomalyEvent (append, ack mutates)
//	history/<id>                         RemediationRecord (append only)
//	history-svc/<service>/<padded-ts>    record ID, cooldown-lookup index
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	badger "github.com/dgraph-io/badger/v4"
)

const (
	prefixBaseline     = "baseline/"
	prefixAnomaly      = "anomaly/"
	prefixHistory      = "history/"
	prefixHistoryBySvc = "history-svc/"
)

// Config holds storage settings.
type Config struct {
	Path     string
	InMemory bool
}

// Store wraps a Badger database with the remedyd keyspace.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Open initialises the store. InMemory mode is intended for tests.
func Open(cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, fmt.Errorf("storage path is required")
		}
		if err := os.MkdirAll(cfg.Path, 0o755); err != nil {
			return nil, fmt.Errorf("create storage dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(true)
	}
	opts = opts.WithLogger(badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) setJSON(key []byte, value []byte) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key, value)
	})
}

// badgerLogger adapts slog to Badger's logger interface, at debug level so
// Badger's chatter stays out of normal output.
type badgerLogger struct {
	logger *slog.Logger
}

func (l badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// ctxErr lets long iterations respect cancellation between items.
func ctxErr(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return nil
	}
}
