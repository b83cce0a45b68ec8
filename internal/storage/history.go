package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/homelabops/remedyd/internal/models"
)

func svcIndexKey(service string, at time.Time) []byte {
	// Zero-padded nanos keep lexicographic order equal to time order, so a
	// reverse scan yields newest first.
	return []byte(fmt.Sprintf("%s%s/%020d", prefixHistoryBySvc, service, at.UnixNano()))
}

// SaveRecord appends a remediation record and its per-service index entry.
// Returns the record ID.
func (s *Store) SaveRecord(ctx context.Context, record models.RemediationRecord) (string, error) {
	if err := ctxErr(ctx); err != nil {
		return "", err
	}
	if record.Service == "" {
		return "", fmt.Errorf("record requires a service")
	}
	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	if record.StartedAt.IsZero() {
		record.StartedAt = time.Now().UTC()
	}

	data, err := json.Marshal(record)
	if err != nil {
		return "", fmt.Errorf("encode record: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixHistory+record.ID), data); err != nil {
			return err
		}
		return txn.Set(svcIndexKey(record.Service, record.StartedAt), []byte(record.ID))
	})
	if err != nil {
		return "", fmt.Errorf("persist record: %w", err)
	}
	return record.ID, nil
}

// ListRecords returns remediation history, newest first, optionally filtered
// by service.
func (s *Store) ListRecords(ctx context.Context, service string, limit int) ([]models.RemediationRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	if service != "" {
		return s.listRecordsByService(ctx, service, limit)
	}

	records := make([]models.RemediationRecord, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixHistory)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var r models.RemediationRecord
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("decode record: %w", err)
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].StartedAt.After(records[j].StartedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (s *Store) listRecordsByService(ctx context.Context, service string, limit int) ([]models.RemediationRecord, error) {
	ids := make([]string, 0, limit)

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixHistoryBySvc + service + "/")
		// Reverse iteration starts past the last key in the prefix range.
		seek := append(append([]byte(nil), prefix...), 0xFF)
		for it.Seek(seek); it.ValidForPrefix(prefix) && len(ids) < limit; it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				ids = append(ids, string(val))
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	records := make([]models.RemediationRecord, 0, len(ids))
	err = s.db.View(func(txn *badger.Txn) error {
		for _, id := range ids {
			item, err := txn.Get([]byte(prefixHistory + id))
			if errors.Is(err, badger.ErrKeyNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			err = item.Value(func(val []byte) error {
				var r models.RemediationRecord
				if err := json.Unmarshal(val, &r); err != nil {
					return fmt.Errorf("decode record: %w", err)
				}
				records = append(records, r)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// LastAttempt returns the start time of the most recent remediation attempt
// for the service, if any. Used to seed cooldown state after a restart.
func (s *Store) LastAttempt(ctx context.Context, service string) (time.Time, bool, error) {
	records, err := s.listRecordsByService(ctx, service, 1)
	if err != nil {
		return time.Time{}, false, err
	}
	if len(records) == 0 {
		return time.Time{}, false, nil
	}
	return records[0].StartedAt, true, nil
}
