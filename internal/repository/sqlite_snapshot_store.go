package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/snapshot"
	pkgsqlite "VolSurface/pkg/sqlite"
)

var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS surface_snapshots (
		id         TEXT    NOT NULL,
		ticker     TEXT    NOT NULL,
		ts         INTEGER NOT NULL,
		spot       REAL    NOT NULL,
		points     INTEGER NOT NULL,
		payload    BLOB    NOT NULL,
		created_at INTEGER NOT NULL,
		PRIMARY KEY (ticker, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS tickers (
		symbol     TEXT    PRIMARY KEY,
		active     INTEGER NOT NULL DEFAULT 1,
		updated_at INTEGER NOT NULL
	)`,
}

// SQLiteSnapshotStore keeps snapshots in a local SQLite file. Timestamps are stored as
// UTC unix nanoseconds so ordering is exact.
type SQLiteSnapshotStore struct {
	client *pkgsqlite.Client
	db     *sql.DB
	now    func() time.Time
}

func NewSQLiteSnapshotStore(client *pkgsqlite.Client) *SQLiteSnapshotStore {
	return &SQLiteSnapshotStore{client: client, db: client.DB(), now: time.Now}
}

func (s *SQLiteSnapshotStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, sqliteSchema)
}

func (s *SQLiteSnapshotStore) Save(ctx context.Context, snap *models.Snapshot) error {
	payload, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO surface_snapshots (id, ticker, ts, spot, points, payload, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID,
		snap.Ticker,
		snap.Timestamp.UTC().UnixNano(),
		snap.Surface.UnderlyingPrice,
		len(snap.Surface.Points),
		payload,
		s.now().UTC().UnixNano(),
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("save %s@%s: %w", snap.Ticker, snap.Timestamp.Format(time.RFC3339), domrepo.ErrSnapshotExists)
		}
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) Latest(ctx context.Context, ticker string) (*models.Snapshot, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM surface_snapshots WHERE ticker = ? ORDER BY ts DESC LIMIT 1`, ticker,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domrepo.ErrSnapshotNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	return snapshot.Decode(payload)
}

func (s *SQLiteSnapshotStore) TimeRange(ctx context.Context, ticker string) (*models.TimeRange, error) {
	var earliest, latest sql.NullInt64
	var count int64
	err := s.db.QueryRowContext(ctx,
		`SELECT MIN(ts), MAX(ts), COUNT(*) FROM surface_snapshots WHERE ticker = ?`, ticker,
	).Scan(&earliest, &latest, &count)
	if err != nil {
		return nil, fmt.Errorf("snapshot time range: %w", err)
	}
	if count == 0 || !earliest.Valid {
		return nil, domrepo.ErrSnapshotNotFound
	}
	return &models.TimeRange{
		Ticker:   ticker,
		Earliest: time.Unix(0, earliest.Int64).UTC(),
		Latest:   time.Unix(0, latest.Int64).UTC(),
		Count:    count,
	}, nil
}

func (s *SQLiteSnapshotStore) Between(ctx context.Context, ticker string, from, to time.Time, limit int) ([]*models.Snapshot, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM surface_snapshots WHERE ticker = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC LIMIT ?`,
		ticker, from.UTC().UnixNano(), to.UTC().UnixNano(), limit,
	)
	if err != nil {
		return nil, fmt.Errorf("snapshots between: %w", err)
	}
	defer rows.Close()

	out := make([]*models.Snapshot, 0)
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("snapshots between: %w", err)
		}
		snap, err := snapshot.Decode(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *SQLiteSnapshotStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close closes the underlying client.
func (s *SQLiteSnapshotStore) Close() error {
	return s.client.Close()
}

// Ensure adds symbols that are not yet registered as active. Existing rows keep their
// flag.
func (s *SQLiteSnapshotStore) Ensure(ctx context.Context, symbols []string) error {
	now := s.now().UTC().UnixNano()
	for _, sym := range symbols {
		sym = normalizeSymbol(sym)
		if sym == "" {
			continue
		}
		if _, err := s.db.ExecContext(ctx,
			`INSERT INTO tickers (symbol, active, updated_at) VALUES (?, 1, ?) ON CONFLICT(symbol) DO NOTHING`,
			sym, now,
		); err != nil {
			return fmt.Errorf("ensure ticker %s: %w", sym, err)
		}
	}
	return nil
}

func (s *SQLiteSnapshotStore) SetActive(ctx context.Context, symbol string, active bool) error {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("set active: empty symbol")
	}
	flag := 0
	if active {
		flag = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO tickers (symbol, active, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(symbol) DO UPDATE SET active = excluded.active, updated_at = excluded.updated_at`,
		symbol, flag, s.now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("set active %s: %w", symbol, err)
	}
	return nil
}

func (s *SQLiteSnapshotStore) Active(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM tickers WHERE active = 1 ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("active tickers: %w", err)
	}
	defer rows.Close()

	out := make([]string, 0)
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("active tickers: %w", err)
		}
		out = append(out, sym)
	}
	return out, rows.Err()
}

func (s *SQLiteSnapshotStore) List(ctx context.Context) ([]models.Ticker, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol, active, updated_at FROM tickers ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Ticker, 0)
	for rows.Next() {
		var (
			t       models.Ticker
			active  int64
			updated int64
		)
		if err := rows.Scan(&t.Symbol, &active, &updated); err != nil {
			return nil, fmt.Errorf("list tickers: %w", err)
		}
		t.Active = active == 1
		t.UpdatedAt = time.Unix(0, updated).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

func normalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
