package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pv/poleko-monitor-go/internal/device"
	"github.com/pv/poleko-monitor-go/internal/logger"
	"github.com/pv/poleko-monitor-go/internal/schema"
)

// Store is the SQLite-backed persistence layer. Every call runs on its own
// timeout and leaves no state behind, so callers never share transactions.
type Store struct {
	db      *sql.DB
	path    string
	timeout time.Duration
	log     *slog.Logger
}

// Open opens or creates the database file at path.
func Open(path string, opts Options) (*Store, error) {
	if opts.QueryTimeout <= 0 {
		opts.QueryTimeout = DefaultQueryTimeout
	}
	if opts.Logger == nil {
		opts.Logger = logger.With("storage")
	}

	dsn := fmt.Sprintf("file:%s?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	// SQLite has a single writer; one connection keeps pragmas and
	// transactions from racing each other.
	db.SetMaxOpenConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), opts.QueryTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("open database: %w", err)
	}

	return &Store{
		db:      db,
		path:    path,
		timeout: opts.QueryTimeout,
		log:     opts.Logger,
	}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.timeout)
}

// EnsureSchema creates the devices table and one table per kind. A kind
// whose table cannot be created is logged and skipped; all such failures
// are returned joined. Failure to create the devices table aborts.
func (s *Store) EnsureSchema(ctx context.Context, tables []schema.Table) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if _, err := s.db.ExecContext(ctx, schema.DevicesTableSQL); err != nil {
		return fmt.Errorf("create %s table: %w", schema.DevicesTable, err)
	}
	if err := s.migrateDevices(ctx); err != nil {
		return err
	}

	var errs []error
	for _, t := range tables {
		ddl, err := t.CreateTableSQL()
		if err == nil {
			_, err = s.db.ExecContext(ctx, ddl)
		}
		if err != nil {
			s.log.Error("Failed to create measurement table", "kind", t.Kind(), "error", err)
			errs = append(errs, fmt.Errorf("create table for %s: %w", t.Kind(), err))
			continue
		}
		s.log.Debug("Measurement table ready", "kind", t.Kind(), "table", t.TableName())
	}

	return errors.Join(errs...)
}

// migrateDevices adds columns missing from a devices table created by an
// older build.
func (s *Store) migrateDevices(ctx context.Context) error {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM pragma_table_info('devices')`)
	if err != nil {
		return fmt.Errorf("inspect %s table: %w", schema.DevicesTable, err)
	}
	defer rows.Close()

	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return fmt.Errorf("inspect %s table: %w", schema.DevicesTable, err)
		}
		have[name] = true
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("inspect %s table: %w", schema.DevicesTable, err)
	}
	rows.Close()

	if have[schema.ColumnRefresh] {
		return nil
	}
	ddl := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s INTEGER", schema.DevicesTable, schema.ColumnRefresh)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("migrate %s table: %w", schema.DevicesTable, err)
	}
	s.log.Info("Added column to devices table", "column", schema.ColumnRefresh)
	return nil
}

// LoadDevices reconstructs every persisted device through cat. Rows that
// cannot be turned into a device are skipped; only a failing query is
// returned as an error.
func (s *Store) LoadDevices(ctx context.Context, cat *device.Catalog) (LoadResult, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx,
		`SELECT ip_address, port, familiar_name, kind, refresh_ms FROM devices ORDER BY ip_address, port`)
	if err != nil {
		return LoadResult{}, fmt.Errorf("query devices: %w", err)
	}
	defer rows.Close()

	var res LoadResult
	for rows.Next() {
		var (
			ip    sql.NullString
			port  sql.NullInt64
			label sql.NullString
			kind    sql.NullString
			refresh sql.NullInt64
		)
		if err := rows.Scan(&ip, &port, &label, &kind, &refresh); err != nil {
			res.skip(s.log, fmt.Errorf("scan device row: %w", err))
			continue
		}

		ep, err := device.ParseEndpoint(ip.String, int(port.Int64))
		if err != nil {
			res.skip(s.log, fmt.Errorf("device row %s:%d: %w", ip.String, port.Int64, err))
			continue
		}

		info := device.Info{Endpoint: ep, Label: label.String, Kind: kind.String}
		if refresh.Valid && refresh.Int64 > 0 {
			info.Refresh = time.Duration(refresh.Int64) * time.Millisecond
		}
		d, err := cat.Build(info)
		if err != nil {
			res.skip(s.log, fmt.Errorf("device %s: %w", ep, err))
			continue
		}
		res.Devices = append(res.Devices, d)
	}
	if err := rows.Err(); err != nil {
		return res, fmt.Errorf("iterate devices: %w", err)
	}

	return res, nil
}

func (r *LoadResult) skip(log *slog.Logger, err error) {
	log.Warn("Skipping stored device", "error", err)
	r.Skipped = append(r.Skipped, err)
}

// SaveDevice inserts info or updates the label, kind and refresh override
// of an existing device with the same endpoint.
func (s *Store) SaveDevice(ctx context.Context, info device.Info) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO devices (ip_address, port, familiar_name, kind, refresh_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(ip_address, port) DO UPDATE SET
			familiar_name = excluded.familiar_name,
			kind = excluded.kind,
			refresh_ms = excluded.refresh_ms
	`, info.Endpoint.IP.String(), int64(info.Endpoint.Port), nullString(info.Label), info.Kind, nullMillis(info.Refresh))
	if err != nil {
		return fmt.Errorf("save device %s: %w", info.Endpoint, err)
	}
	return nil
}

// RemoveDevice deletes the device row. Measurement rows go with it through
// the cascading foreign key.
func (s *Store) RemoveDevice(ctx context.Context, info device.Info) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx,
		`DELETE FROM devices WHERE ip_address = ? AND port = ? AND kind = ?`,
		info.Endpoint.IP.String(), int64(info.Endpoint.Port), info.Kind)
	if err != nil {
		return fmt.Errorf("remove device %s: %w", info.Endpoint, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove device %s: %w", info.Endpoint, err)
	}
	if n == 0 {
		return fmt.Errorf("remove device %s: %w", info.Endpoint, ErrDeviceNotFound)
	}
	return nil
}

// CountMeasurements returns the number of stored rows of table for ep.
func (s *Store) CountMeasurements(ctx context.Context, table schema.Table, ep device.Endpoint) (int64, error) {
	if err := table.Err(); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var n int64
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s WHERE %s = ? AND %s = ?",
		table.TableName(), schema.ColumnIPAddress, schema.ColumnPort)
	if err := s.db.QueryRowContext(ctx, query, ep.IP.String(), int64(ep.Port)).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", table.TableName(), err)
	}
	return n, nil
}

// Prune deletes rows of table older than the cutoff and returns how many
// were removed.
func (s *Store) Prune(ctx context.Context, table schema.Table, olderThan time.Time) (int64, error) {
	if err := table.Err(); err != nil {
		return 0, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	query := fmt.Sprintf("DELETE FROM %s WHERE %s < ?", table.TableName(), schema.ColumnTimestamp)
	res, err := s.db.ExecContext(ctx, query, schema.FormatTime(olderThan))
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table.TableName(), err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune %s: %w", table.TableName(), err)
	}
	return n, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullMillis(d time.Duration) sql.NullInt64 {
	return sql.NullInt64{Int64: d.Milliseconds(), Valid: d > 0}
}
