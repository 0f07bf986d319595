package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/shopspring/decimal"
	_ "modernc.org/sqlite"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(path string) (*Repo, error) {
	// ensure directory exists
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) GetDB() *sql.DB {
	return r.db
}

// 价格以 TEXT 存储，保留 decimal 精度
func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS gas_prices (
  network TEXT NOT NULL,
  observed_at_ms INTEGER NOT NULL,
  base_price TEXT NOT NULL,
  priority_fee TEXT NOT NULL,
  max_fee TEXT NOT NULL,
  block_number INTEGER,
  source TEXT NOT NULL,
  created_at INTEGER NOT NULL,
  PRIMARY KEY(network, observed_at_ms)
);
CREATE INDEX IF NOT EXISTS idx_gas_prices_ts ON gas_prices(observed_at_ms);
`)
	return err
}

func (r *Repo) Append(ctx context.Context, s domain.PriceSample) error {
	var block sql.NullInt64
	if s.BlockNumber != nil {
		block = sql.NullInt64{Int64: int64(*s.BlockNumber), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gas_prices(network, observed_at_ms, base_price, priority_fee, max_fee, block_number, source, created_at)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(network, observed_at_ms) DO UPDATE SET
		base_price=excluded.base_price, priority_fee=excluded.priority_fee, max_fee=excluded.max_fee,
		block_number=excluded.block_number, source=excluded.source
	`, s.Network, s.ObservedAt.UnixMilli(), s.BasePrice.String(), s.PriorityFee.String(), s.MaxFee.String(),
		block, s.Source, time.Now().UnixMilli())
	return err
}

func (r *Repo) Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT observed_at_ms, base_price, priority_fee, max_fee, block_number, source
		FROM gas_prices
		WHERE network = ? AND observed_at_ms >= ? AND observed_at_ms <= ?
		ORDER BY observed_at_ms ASC
	`, network, from.UnixMilli(), to.UnixMilli())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PriceSample, 0)
	for rows.Next() {
		var (
			ms                     int64
			base, priority, maxFee string
			block                  sql.NullInt64
			source                 string
		)
		if err := rows.Scan(&ms, &base, &priority, &maxFee, &block, &source); err != nil {
			return nil, err
		}
		s, err := toSample(network, source, ms, base, priority, maxFee, block)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *Repo) DeleteBefore(ctx context.Context, before time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM gas_prices WHERE observed_at_ms < ?`, before.UnixMilli())
	return err
}

func toSample(network, source string, ms int64, base, priority, maxFee string, block sql.NullInt64) (domain.PriceSample, error) {
	parse := func(v string) (decimal.Decimal, error) {
		d, err := decimal.NewFromString(v)
		if err != nil {
			return decimal.Decimal{}, fmt.Errorf("corrupt price %q: %w", v, err)
		}
		return d, nil
	}
	b, err := parse(base)
	if err != nil {
		return domain.PriceSample{}, err
	}
	p, err := parse(priority)
	if err != nil {
		return domain.PriceSample{}, err
	}
	m, err := parse(maxFee)
	if err != nil {
		return domain.PriceSample{}, err
	}
	var bn *uint64
	if block.Valid {
		n := uint64(block.Int64)
		bn = &n
	}
	return domain.NewPriceSample(network, source, b, p, m, bn, time.UnixMilli(ms)), nil
}

var _ port.HistoryRepository = (*Repo)(nil)
