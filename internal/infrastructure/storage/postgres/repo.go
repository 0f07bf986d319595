package postgres

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"gasfeed/internal/application/port"
	"gasfeed/internal/domain"
)

type Repo struct {
	db *sql.DB
}

func New(dsn string) (*Repo, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	r, err := NewWithDB(db)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewWithDB 使用已有连接并执行迁移
func NewWithDB(db *sql.DB) (*Repo, error) {
	r := &Repo{db: db}
	if err := r.migrate(context.Background()); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repo) Close() error { return r.db.Close() }

// GetDB 供同库的其他组件（如 pets 查询）复用连接池
func (r *Repo) GetDB() *sql.DB {
	return r.db
}

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS gas_prices (
  network TEXT NOT NULL,
  observed_at TIMESTAMPTZ NOT NULL,
  base_price NUMERIC NOT NULL,
  priority_fee NUMERIC NOT NULL,
  max_fee NUMERIC NOT NULL,
  block_number BIGINT,
  source TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
  PRIMARY KEY (network, observed_at)
);
CREATE INDEX IF NOT EXISTS idx_gas_prices_observed_at ON gas_prices(observed_at);
`)
	return err
}

func (r *Repo) Append(ctx context.Context, s domain.PriceSample) error {
	var block sql.NullInt64
	if s.BlockNumber != nil {
		block = sql.NullInt64{Int64: int64(*s.BlockNumber), Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO gas_prices(network, observed_at, base_price, priority_fee, max_fee, block_number, source)
		VALUES($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (network, observed_at) DO UPDATE SET
		base_price = EXCLUDED.base_price, priority_fee = EXCLUDED.priority_fee, max_fee = EXCLUDED.max_fee,
		block_number = EXCLUDED.block_number, source = EXCLUDED.source
	`, s.Network, s.ObservedAt.UTC(), s.BasePrice, s.PriorityFee, s.MaxFee, block, s.Source)
	return err
}

func (r *Repo) Query(ctx context.Context, network string, from, to time.Time) ([]domain.PriceSample, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT observed_at, base_price, priority_fee, max_fee, block_number, source
		FROM gas_prices
		WHERE network = $1 AND observed_at >= $2 AND observed_at <= $3
		ORDER BY observed_at ASC
	`, network, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]domain.PriceSample, 0)
	for rows.Next() {
		var (
			observedAt             time.Time
			base, priority, maxFee decimal.Decimal
			block                  sql.NullInt64
			source                 string
		)
		if err := rows.Scan(&observedAt, &base, &priority, &maxFee, &block, &source); err != nil {
			return nil, err
		}
		var bn *uint64
		if block.Valid {
			n := uint64(block.Int64)
			bn = &n
		}
		out = append(out, domain.NewPriceSample(network, source, base, priority, maxFee, bn, observedAt))
	}
	return out, rows.Err()
}

func (r *Repo) DeleteBefore(ctx context.Context, before time.Time) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM gas_prices WHERE observed_at < $1`, before.UTC())
	return err
}

var _ port.HistoryRepository = (*Repo)(nil)
