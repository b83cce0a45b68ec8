package storage

import (
	"context"
	"sort"

	"github.com/homelabops/remedyd/internal/models"
)

// MinePatterns aggregates remediation history into per-service failure
// patterns: attempt counts, success ratio, most frequent executed action and
// last occurrence. Services with the most attempts sort first.
func (s *Store) MinePatterns(ctx context.Context, maxRecords int) ([]models.FailurePattern, error) {
	if maxRecords <= 0 {
		maxRecords = 200
	}
	records, err := s.ListRecords(ctx, "", maxRecords)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}

	type aggregate struct {
		pattern      models.FailurePattern
		actionCounts map[models.ActionType]int
	}

	byService := make(map[string]*aggregate)
	for _, record := range records {
		agg, ok := byService[record.Service]
		if !ok {
			agg = &aggregate{
				pattern:      models.FailurePattern{Service: record.Service},
				actionCounts: make(map[models.ActionType]int),
			}
			byService[record.Service] = agg
		}

		agg.pattern.Attempts++
		if record.Success {
			agg.pattern.Successes++
		}
		if record.StartedAt.After(agg.pattern.LastSeen) {
			agg.pattern.LastSeen = record.StartedAt
		}
		for _, action := range record.Actions {
			if action.Executed {
				agg.actionCounts[action.Action]++
			}
		}
	}

	patterns := make([]models.FailurePattern, 0, len(byService))
	for _, agg := range byService {
		best := models.ActionType("")
		bestCount := 0
		for action, count := range agg.actionCounts {
			if count > bestCount || (count == bestCount && string(action) < string(best)) {
				best = action
				bestCount = count
			}
		}
		agg.pattern.FrequentAction = best
		agg.pattern.SuccessRatio = float64(agg.pattern.Successes) / float64(agg.pattern.Attempts)
		patterns = append(patterns, agg.pattern)
	}

	sort.Slice(patterns, func(i, j int) bool {
		if patterns[i].Attempts != patterns[j].Attempts {
			return patterns[i].Attempts > patterns[j].Attempts
		}
		return patterns[i].Service < patterns[j].Service
	})
	return patterns, nil
}
