package services

import (
	"context"
	"time"

	"studyroom-backend/internal/logger"
	"studyroom-backend/internal/models"
	"studyroom-backend/internal/storage"
)

type RevenueSummary struct {
	Total   float64                        `json:"total"`
	ByType  map[models.RevenueType]float64 `json:"by_type"`
	Count   int                            `json:"count"`
	Records []*models.RevenueRecord        `json:"records"`
}

type StatisticsService struct {
	store storage.Store
	log   *logger.Logger
}

func NewStatisticsService(store storage.Store, log *logger.Logger) *StatisticsService {
	return &StatisticsService{store: store, log: log}
}

// RevenueSummary aggregates the ledger over an optional time window. Zero
// from/to mean unbounded. Refund rows carry negative amounts so the total
// is net revenue.
func (s *StatisticsService) RevenueSummary(ctx context.Context, from, to time.Time) (*RevenueSummary, error) {
	records, err := s.store.ListRevenue(ctx, from, to)
	if err != nil {
		return nil, err
	}

	summary := &RevenueSummary{
		ByType:  make(map[models.RevenueType]float64),
		Count:   len(records),
		Records: records,
	}
	for _, rec := range records {
		summary.Total += rec.Amount
		summary.ByType[rec.Type] += rec.Amount
	}
	return summary, nil
}

// OrderCountsByStore reports per-store order volume over an optional window.
func (s *StatisticsService) OrderCountsByStore(ctx context.Context, from, to time.Time) (map[int64]int64, error) {
	return s.store.CountOrdersByStore(ctx, from, to)
}
