// Package chmetrics batches traffic samples and alerts into
// ClickHouse for longer-horizon trend analysis than the in-memory
// anomaly series windows can hold.
package chmetrics

import (
	"context"
	"fmt"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"github.com/wardenhq/sentryd/internal/core/alert"
)

// Sink owns a pooled ClickHouse connection.
type Sink struct {
	conn driver.Conn
}

// Open dials hosts and verifies connectivity.
func Open(hosts []string, database, username, password string) (*Sink, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: hosts,
		Auth: clickhouse.Auth{
			Database: database,
			Username: username,
			Password: password,
		},
		Compression: &clickhouse.Compression{Method: clickhouse.CompressionLZ4},
		DialTimeout: 10 * time.Second,
		MaxOpenConns: 10,
		MaxIdleConns: 5,
		ConnMaxLifetime: time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("chmetrics: open: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		return nil, fmt.Errorf("chmetrics: ping: %w", err)
	}

	return &Sink{conn: conn}, nil
}

// Close releases the connection.
func (s *Sink) Close() error {
	return s.conn.Close()
}

// QueryRowScan runs query and scans its single result row into dest,
// for dashboard summary queries that don't warrant their own typed
// method.
func (s *Sink) QueryRowScan(ctx context.Context, query string, dest ...any) error {
	row := s.conn.QueryRow(ctx, query)
	return row.Scan(dest...)
}

// Migrate creates the traffic_samples and alerts tables.
func (s *Sink) Migrate(ctx context.Context) error {
	if err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS traffic_samples (
			sampled_at      DateTime,
			packet_rate     Float64,
			connection_count Float64,
			port_count      Float64,
			total_packets   UInt64
		) ENGINE = MergeTree() ORDER BY sampled_at
	`); err != nil {
		return fmt.Errorf("chmetrics: migrate traffic_samples: %w", err)
	}

	if err := s.conn.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS alerts (
			id          String,
			severity    String,
			title       String,
			source_addr String,
			occurred_at DateTime
		) ENGINE = MergeTree() ORDER BY occurred_at
	`); err != nil {
		return fmt.Errorf("chmetrics: migrate alerts: %w", err)
	}
	return nil
}

// TrafficSample is one row of the traffic_samples table, written by
// InsertTrafficSamples.
type TrafficSample struct {
	SampledAt       time.Time
	PacketRate      float64
	ConnectionCount float64
	PortCount       float64
	TotalPackets    uint64
}

// InsertTrafficSamples batches samples into traffic_samples.
func (s *Sink) InsertTrafficSamples(ctx context.Context, samples []TrafficSample) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO traffic_samples")
	if err != nil {
		return fmt.Errorf("chmetrics: prepare batch: %w", err)
	}
	for _, sm := range samples {
		if err := batch.Append(sm.SampledAt, sm.PacketRate, sm.ConnectionCount, sm.PortCount, sm.TotalPackets); err != nil {
			return fmt.Errorf("chmetrics: batch append: %w", err)
		}
	}
	return batch.Send()
}

// InsertAlerts batches alerts into the alerts table.
func (s *Sink) InsertAlerts(ctx context.Context, alerts []alert.Alert) error {
	batch, err := s.conn.PrepareBatch(ctx, "INSERT INTO alerts")
	if err != nil {
		return fmt.Errorf("chmetrics: prepare batch: %w", err)
	}
	for _, a := range alerts {
		if err := batch.Append(a.ID, string(a.Severity), a.Title, a.SourceAddr, a.Timestamp); err != nil {
			return fmt.Errorf("chmetrics: batch append: %w", err)
		}
	}
	return batch.Send()
}
