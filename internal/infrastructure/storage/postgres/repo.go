package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

const heartbeatKey = "heartbeat_sec"

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

	r := NewWithDB(db)
	if err := r.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return r, nil
}

// NewWithDB 包装已打开的连接，不执行迁移
func NewWithDB(db *sql.DB) *Repo {
	return &Repo{db: db}
}

func (r *Repo) Close() error { return r.db.Close() }

func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS price_history (
  idx BIGINT PRIMARY KEY,
  price NUMERIC(20, 0) NOT NULL,
  recorded_at BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_ts ON price_history(recorded_at);

CREATE TABLE IF NOT EXISTS ledger_settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	return err
}

func (r *Repo) Append(ctx context.Context, index uint64, e model.PriceEntry, beforeCommit func(context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_history(idx, price, recorded_at) VALUES($1, $2, $3)`,
		int64(index), strconv.FormatUint(e.Price, 10), e.RecordedAt,
	); err != nil {
		return fmt.Errorf("insert price %d: %w", index, err)
	}

	if beforeCommit != nil {
		if err := beforeCommit(ctx); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *Repo) Load(ctx context.Context) ([]model.PriceEntry, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT idx, price::text, recorded_at FROM price_history ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows, 0)
}

func (r *Repo) Range(ctx context.Context, start, end uint64) ([]model.PriceEntry, error) {
	var n int64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history`).Scan(&n); err != nil {
		return nil, err
	}
	if start > end || end > uint64(n) {
		return nil, fmt.Errorf("%w: [%d, %d) with length %d", domain.ErrIndexOutOfRange, start, end, n)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT idx, price::text, recorded_at FROM price_history WHERE idx >= $1 AND idx < $2 ORDER BY idx`,
		int64(start), int64(end))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows, start)
}

func (r *Repo) SaveHeartbeat(ctx context.Context, seconds uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_settings(key, value) VALUES($1, $2)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, heartbeatKey, strconv.FormatUint(seconds, 10))
	return err
}

func (r *Repo) LoadHeartbeat(ctx context.Context) (uint64, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM ledger_settings WHERE key=$1`, heartbeatKey).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	hb, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, false, fmt.Errorf("parse heartbeat %q: %w", raw, err)
	}
	return hb, true, nil
}

func scanEntries(rows *sql.Rows, first uint64) ([]model.PriceEntry, error) {
	defer rows.Close()

	out := make([]model.PriceEntry, 0)
	want := first
	for rows.Next() {
		var (
			idx   int64
			price string
			e     model.PriceEntry
		)
		if err := rows.Scan(&idx, &price, &e.RecordedAt); err != nil {
			return nil, err
		}
		if uint64(idx) != want {
			return nil, fmt.Errorf("price history gap: expected index %d, got %d", want, idx)
		}
		p, err := strconv.ParseUint(price, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse price at %d: %w", idx, err)
		}
		e.Price = p
		out = append(out, e)
		want++
	}
	return out, rows.Err()
}

var _ port.HistoryStore = (*Repo)(nil)
