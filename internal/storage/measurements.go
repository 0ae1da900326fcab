package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/schema"
)

// InsertMeasurements writes items for ep in one transaction. A row that
// fails to insert is logged and skipped; the remaining rows are committed.
func InsertMeasurements[T any](ctx context.Context, s *Store, sc *schema.Schema[T], ep device.Endpoint, items []T) (InsertResult, error) {
	var res InsertResult
	if len(items) == 0 {
		return res, nil
	}

	query, err := sc.InsertSQL()
	if err != nil {
		return res, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return res, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return res, fmt.Errorf("prepare insert into %s: %w", sc.TableName(), err)
	}
	defer stmt.Close()

	ip := ep.IP.String()
	for i := range items {
		if _, err := stmt.ExecContext(ctx, sc.Row(&items[i], ip, ep.Port)...); err != nil {
			s.log.Warn("Skipping measurement row",
				"table", sc.TableName(), "device", ep.String(), "error", err)
			res.Skipped++
			continue
		}
		res.Inserted++
	}

	if err := tx.Commit(); err != nil {
		return InsertResult{Skipped: len(items)}, fmt.Errorf("commit %s: %w", sc.TableName(), err)
	}
	return res, nil
}

// QueryRange returns the measurements of ep with from <= timestamp <= to,
// oldest first.
func QueryRange[T any](ctx context.Context, s *Store, sc *schema.Schema[T], ep device.Endpoint, from, to time.Time) ([]T, error) {
	query, err := sc.SelectRangeSQL()
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, query,
		ep.IP.String(), int64(ep.Port), schema.FormatTime(from), schema.FormatTime(to))
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", sc.TableName(), err)
	}
	defer rows.Close()

	var out []T
	for rows.Next() {
		dest := sc.ScanTargets()
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan %s: %w", sc.TableName(), err)
		}
		m, err := sc.Decode(dest)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", sc.TableName(), err)
	}

	return out, nil
}
