package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"VolSurface/internal/domain/models"
	domrepo "VolSurface/internal/domain/repository"
	"VolSurface/internal/services/snapshot"
	pkgch "VolSurface/pkg/clickhouse"
	applogger "VolSurface/pkg/logger"
)

// Snapshots are immutable: Save refuses a known (ticker, ts) and, since two racing
// inserts can both pass that check, reads keep only the earliest insert per key.
func clickhouseSchema(db string) []string {
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.surface_snapshots (
			id          String,
			ticker      LowCardinality(String),
			ts          DateTime64(9, 'UTC'),
			spot        Float64,
			points      UInt32,
			payload     String CODEC(ZSTD(3)),
			inserted_at DateTime64(3, 'UTC') DEFAULT now64(3)
		) ENGINE = MergeTree
		ORDER BY (ticker, ts)`, db),
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s.tickers (
			symbol     String,
			active     UInt8,
			updated_at DateTime64(9, 'UTC')
		) ENGINE = ReplacingMergeTree(updated_at)
		ORDER BY symbol`, db),
	}
}

// CHSnapshotStore implements SnapshotStore and TickerRegistry on ClickHouse.
type CHSnapshotStore struct {
	client   *pkgch.Client
	db       *sql.DB
	database string
	l        *applogger.Logger
	now      func() time.Time
}

func NewCHSnapshotStore(ch *pkgch.Client, l *applogger.Logger) *CHSnapshotStore {
	return &CHSnapshotStore{client: ch, db: ch.DB(), database: ch.Database(), l: l, now: time.Now}
}

func (s *CHSnapshotStore) table(name string) string {
	return s.database + "." + name
}

func latestSnapshotQuery(table string) string {
	return fmt.Sprintf("SELECT payload FROM %s WHERE ticker = ? ORDER BY ts DESC, inserted_at ASC LIMIT 1", table)
}

func snapshotsBetweenQuery(table string, limit int) string {
	q := fmt.Sprintf("SELECT payload FROM %s WHERE ticker = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC, inserted_at ASC LIMIT 1 BY ts", table)
	if limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", limit)
	}
	return q
}

func (s *CHSnapshotStore) Init(ctx context.Context) error {
	return s.client.InitSchema(ctx, clickhouseSchema(s.client.Database()))
}

func (s *CHSnapshotStore) Save(ctx context.Context, snap *models.Snapshot) error {
	start := time.Now()
	payload, err := snapshot.Encode(snap)
	if err != nil {
		return err
	}
	ts := snap.Timestamp.UTC()
	var existing uint64
	exists := fmt.Sprintf("SELECT count(*) FROM %s WHERE ticker = ? AND ts = ?", s.table("surface_snapshots"))
	if err := s.db.QueryRowContext(ctx, exists, snap.Ticker, ts).Scan(&existing); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	if existing > 0 {
		return fmt.Errorf("save %s@%s: %w", snap.Ticker, ts.Format(time.RFC3339), domrepo.ErrSnapshotExists)
	}

	q := fmt.Sprintf("INSERT INTO %s (id, ticker, ts, spot, points, payload) VALUES (?, ?, ?, ?, ?, ?)", s.table("surface_snapshots"))
	if _, err := s.db.ExecContext(ctx, q,
		snap.ID,
		snap.Ticker,
		ts,
		snap.Surface.UnderlyingPrice,
		uint32(len(snap.Surface.Points)),
		string(payload),
	); err != nil {
		s.l.Error("clickhouse save snapshot",
			applogger.String("ticker", snap.Ticker),
			applogger.Error(err))
		return fmt.Errorf("save snapshot: %w", err)
	}
	s.l.Debug("clickhouse snapshot stored",
		applogger.String("ticker", snap.Ticker),
		applogger.Int("bytes", len(payload)),
		applogger.Duration("took", time.Since(start)))
	return nil
}

func (s *CHSnapshotStore) Latest(ctx context.Context, ticker string) (*models.Snapshot, error) {
	snaps, err := s.query(ctx, latestSnapshotQuery(s.table("surface_snapshots")), ticker)
	if err != nil {
		return nil, fmt.Errorf("latest snapshot: %w", err)
	}
	if len(snaps) == 0 {
		return nil, domrepo.ErrSnapshotNotFound
	}
	return snaps[0], nil
}

func (s *CHSnapshotStore) TimeRange(ctx context.Context, ticker string) (*models.TimeRange, error) {
	var (
		earliest, latest time.Time
		count            uint64
	)
	q := fmt.Sprintf("SELECT min(ts), max(ts), uniqExact(ts) FROM %s WHERE ticker = ?", s.table("surface_snapshots"))
	if err := s.db.QueryRowContext(ctx, q, ticker).Scan(&earliest, &latest, &count); err != nil {
		return nil, fmt.Errorf("snapshot time range: %w", err)
	}
	if count == 0 {
		return nil, domrepo.ErrSnapshotNotFound
	}
	return &models.TimeRange{
		Ticker:   ticker,
		Earliest: earliest.UTC(),
		Latest:   latest.UTC(),
		Count:    int64(count),
	}, nil
}

func (s *CHSnapshotStore) Between(ctx context.Context, ticker string, from, to time.Time, limit int) ([]*models.Snapshot, error) {
	snaps, err := s.query(ctx, snapshotsBetweenQuery(s.table("surface_snapshots"), limit), ticker, from.UTC(), to.UTC())
	if err != nil {
		return nil, fmt.Errorf("snapshots between: %w", err)
	}
	return snaps, nil
}

func (s *CHSnapshotStore) query(ctx context.Context, q string, args ...interface{}) ([]*models.Snapshot, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]*models.Snapshot, 0)
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		snap, err := snapshot.Decode([]byte(payload))
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

func (s *CHSnapshotStore) Health(ctx context.Context) error {
	return s.client.Health(ctx)
}

// Close closes the underlying client.
func (s *CHSnapshotStore) Close() error {
	return s.client.Close()
}

func (s *CHSnapshotStore) Ensure(ctx context.Context, symbols []string) error {
	known, err := s.List(ctx)
	if err != nil {
		return err
	}
	seen := make(map[string]bool, len(known))
	for _, t := range known {
		seen[t.Symbol] = true
	}
	for _, sym := range symbols {
		sym = normalizeSymbol(sym)
		if sym == "" || seen[sym] {
			continue
		}
		if err := s.SetActive(ctx, sym, true); err != nil {
			return err
		}
		seen[sym] = true
	}
	return nil
}

func (s *CHSnapshotStore) SetActive(ctx context.Context, symbol string, active bool) error {
	symbol = normalizeSymbol(symbol)
	if symbol == "" {
		return fmt.Errorf("set active: empty symbol")
	}
	var flag uint8
	if active {
		flag = 1
	}
	q := fmt.Sprintf("INSERT INTO %s (symbol, active, updated_at) VALUES (?, ?, ?)", s.table("tickers"))
	if _, err := s.db.ExecContext(ctx, q, symbol, flag, s.now().UTC()); err != nil {
		return fmt.Errorf("set active %s: %w", symbol, err)
	}
	return nil
}

func (s *CHSnapshotStore) Active(ctx context.Context) ([]string, error) {
	all, err := s.List(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(all))
	for _, t := range all {
		if t.Active {
			out = append(out, t.Symbol)
		}
	}
	return out, nil
}

func (s *CHSnapshotStore) List(ctx context.Context) ([]models.Ticker, error) {
	q := fmt.Sprintf("SELECT symbol, active, updated_at FROM %s FINAL ORDER BY symbol", s.table("tickers"))
	rows, err := s.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tickers: %w", err)
	}
	defer rows.Close()

	out := make([]models.Ticker, 0)
	for rows.Next() {
		var (
			t      models.Ticker
			active uint8
		)
		if err := rows.Scan(&t.Symbol, &active, &t.UpdatedAt); err != nil {
			return nil, fmt.Errorf("list tickers: %w", err)
		}
		t.Active = active == 1
		t.UpdatedAt = t.UpdatedAt.UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}
