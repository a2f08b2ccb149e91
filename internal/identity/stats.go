package identity

import (
	"context"
	"time"

	"github.com/cvsyn/rin-api/internal/models"
)

// statsRangeDays is how many days of history the stats report covers.
const statsRangeDays = 30

// StatsReport is the admin view of issuance and claim activity.
type StatsReport struct {
	RangeDays int                `json:"range_days"`
	Daily     []models.DailyStat `json:"daily"`
	Totals    models.DailyStat   `json:"totals"`
}

// Stats returns the recent daily aggregates plus lifetime totals.
func (s *Service) Stats(ctx context.Context) (*StatsReport, error) {
	daily, err := s.store.RecentDailyStats(ctx, statsRangeDays)
	if err != nil {
		return nil, err
	}
	totals, err := s.store.DailyTotals(ctx)
	if err != nil {
		return nil, err
	}
	if daily == nil {
		daily = []models.DailyStat{}
	}
	return &StatsReport{RangeDays: statsRangeDays, Daily: daily, Totals: totals}, nil
}

// AggregateDay counts the entities issued and claimed during the UTC
// day containing t and upserts the result, so re-runs for the same day
// overwrite rather than accumulate.
func (s *Service) AggregateDay(ctx context.Context, t time.Time) (models.DailyStat, error) {
	start := time.Date(t.UTC().Year(), t.UTC().Month(), t.UTC().Day(), 0, 0, 0, 0, time.UTC)
	end := start.Add(24 * time.Hour)

	registered, err := s.store.CountIssuedBetween(ctx, start, end)
	if err != nil {
		return models.DailyStat{}, err
	}
	claimed, err := s.store.CountClaimedBetween(ctx, start, end)
	if err != nil {
		return models.DailyStat{}, err
	}

	stat := models.DailyStat{
		Day:           start.Format("2006-01-02"),
		RegisterCount: registered,
		ClaimCount:    claimed,
	}
	if err := s.store.UpsertDailyStat(ctx, stat); err != nil {
		return models.DailyStat{}, err
	}
	return stat, nil
}
