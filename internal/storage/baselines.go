package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/homelabops/remedyd/internal/models"
)

// SaveBaseline replaces the stored baseline for (service, metric).
func (s *Store) SaveBaseline(ctx context.Context, baseline models.MetricBaseline) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if baseline.Service == "" || baseline.Metric == "" {
		return fmt.Errorf("baseline requires service and metric")
	}

	data, err := json.Marshal(baseline)
	if err != nil {
		return fmt.Errorf("encode baseline: %w", err)
	}
	key := []byte(prefixBaseline + baseline.Service + "/" + baseline.Metric)
	return s.setJSON(key, data)
}

// ListBaselines returns every stored baseline, for seeding the detector at
// startup.
func (s *Store) ListBaselines(ctx context.Context) ([]models.MetricBaseline, error) {
	baselines := make([]models.MetricBaseline, 0)

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixBaseline)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var b models.MetricBaseline
				if err := json.Unmarshal(val, &b); err != nil {
					return fmt.Errorf("decode baseline: %w", err)
				}
				baselines = append(baselines, b)
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
	return baselines, nil
}

// SaveAnomaly appends one anomaly event.
func (s *Store) SaveAnomaly(ctx context.Context, event models.AnomalyEvent) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}

	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode anomaly: %w", err)
	}
	return s.setJSON([]byte(prefixAnomaly+event.ID), data)
}

// ListAnomalies returns the most recent anomaly events, newest first.
func (s *Store) ListAnomalies(ctx context.Context, limit int) ([]models.AnomalyEvent, error) {
	if limit <= 0 {
		limit = 50
	}

	events := make([]models.AnomalyEvent, 0)
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(prefixAnomaly)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if err := ctxErr(ctx); err != nil {
				return err
			}
			err := it.Item().Value(func(val []byte) error {
				var e models.AnomalyEvent
				if err := json.Unmarshal(val, &e); err != nil {
					return fmt.Errorf("decode anomaly: %w", err)
				}
				events = append(events, e)
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

	sort.Slice(events, func(i, j int) bool {
		return events[i].DetectedAt.After(events[j].DetectedAt)
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

// AcknowledgeAnomaly marks one event acknowledged. This is the only mutation
// anomaly events support.
func (s *Store) AcknowledgeAnomaly(ctx context.Context, id string) error {
	if err := ctxErr(ctx); err != nil {
		return err
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(prefixAnomaly + id)
		item, err := txn.Get(key)
		if err != nil {
			return fmt.Errorf("anomaly %s: %w", id, err)
		}

		var event models.AnomalyEvent
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
		if err != nil {
			return fmt.Errorf("decode anomaly: %w", err)
		}

		event.Acknowledged = true
		data, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("encode anomaly: %w", err)
		}
		return txn.Set(key, data)
	})
}
