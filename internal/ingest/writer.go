package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"QuotePull/internal/domain/models"
	"QuotePull/internal/domain/repository"
)

// Schema returns the DDL for the daily bar table. ReplacingMergeTree keyed on
// (code, trade_date, adjust) makes repeated writes of the same bar collapse
// to the latest version, which is what gives Upsert its idempotence.
func Schema(database, table string) []string {
	return []string{
		fmt.Sprintf("CREATE DATABASE IF NOT EXISTS %s", database),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.%s (
			code String,
			trade_date Date,
			adjust String,
			open Decimal(18, 4),
			high Decimal(18, 4),
			low Decimal(18, 4),
			close Decimal(18, 4),
			volume Int64,
			amount Decimal(20, 2),
			ingested_at DateTime DEFAULT now()
		) ENGINE = ReplacingMergeTree(ingested_at)
		ORDER BY (code, trade_date, adjust)`, database, table),
	}
}

// ClickHouseWriter implements repository.IngestionWriter over ClickHouse.
type ClickHouseWriter struct {
	db    *sql.DB
	table string
}

func NewClickHouseWriter(db *sql.DB, table string) repository.IngestionWriter {
	return &ClickHouseWriter{db: db, table: table}
}

// Upsert writes a stock's bars in chunked multi-row inserts. Each bar lands
// atomically (one row, all fields); replaying the same bars is a no-op at
// read time thanks to the replacing engine.
func (w *ClickHouseWriter) Upsert(ctx context.Context, bars []models.DailyBar) error {
	if len(bars) == 0 {
		return nil
	}

	const chunkSize = 2000
	for start := 0; start < len(bars); start += chunkSize {
		end := start + chunkSize
		if end > len(bars) {
			end = len(bars)
		}

		values := make([]string, 0, end-start)
		args := make([]interface{}, 0, (end-start)*9)
		for _, b := range bars[start:end] {
			if b.Code == "" || b.TradeDate.IsZero() {
				continue
			}
			values = append(values, "(?, ?, ?, ?, ?, ?, ?, ?, ?)")
			args = append(args,
				b.Code,
				b.TradeDate,
				string(b.Adjust),
				b.Open,
				b.High,
				b.Low,
				b.Close,
				b.Volume,
				b.Amount,
			)
		}
		if len(values) == 0 {
			continue
		}
		q := fmt.Sprintf("INSERT INTO %s (code, trade_date, adjust, open, high, low, close, volume, amount) VALUES %s",
			w.table, strings.Join(values, ","))
		if _, err := w.db.ExecContext(ctx, q, args...); err != nil {
			return fmt.Errorf("upsert bars: %w", err)
		}
	}
	return nil
}
