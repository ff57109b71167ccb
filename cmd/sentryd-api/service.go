package main

import (
	"context"
	"fmt"

	"github.com/wardenhq/sentryd/internal/persistence/chmetrics"
	"github.com/wardenhq/sentryd/internal/persistence/pgaudit"
)

// historyService answers dashboard queries from the durable mirrors
// instead of the live Orchestrator, the same separation the teacher
// draws between its network sensor and its panel API.
type historyService struct {
	ch *chmetrics.Sink
	pg *pgaudit.Store
}

func newHistoryService(ch *chmetrics.Sink, pg *pgaudit.Store) *historyService {
	return &historyService{ch: ch, pg: pg}
}

// overview is the dashboard landing-page summary.
type overview struct {
	TrafficSamples int64 `json:"traffic_samples"`
	AlertsTotal    int64 `json:"alerts_total"`
}

func (s *historyService) getOverview(ctx context.Context) (*overview, error) {
	if s.ch == nil {
		return nil, fmt.Errorf("historyService: clickhouse sink not configured")
	}
	ov := &overview{}
	if err := s.ch.QueryRowScan(ctx, "SELECT count() FROM traffic_samples", &ov.TrafficSamples); err != nil {
		return nil, fmt.Errorf("historyService: traffic sample count: %w", err)
	}
	if err := s.ch.QueryRowScan(ctx, "SELECT count() FROM alerts", &ov.AlertsTotal); err != nil {
		return nil, fmt.Errorf("historyService: alert count: %w", err)
	}
	return ov, nil
}
