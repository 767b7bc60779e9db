package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	_ "modernc.org/sqlite"

	"xoracle/internal/application/port"
	"xoracle/internal/domain"
	"xoracle/internal/domain/model"
)

const heartbeatKey = "heartbeat_sec"

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

// price 以十进制文本存储，database/sql 不接受高位为 1 的 uint64
func (r *Repo) migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
CREATE TABLE IF NOT EXISTS price_history (
  idx INTEGER PRIMARY KEY,
  price TEXT NOT NULL,
  recorded_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_price_history_ts ON price_history(recorded_at);

CREATE TABLE IF NOT EXISTS ledger_settings (
  key TEXT PRIMARY KEY,
  value TEXT NOT NULL
);
`)
	return err
}

// Append 在事务内写入一条记录，beforeCommit 失败则回滚
func (r *Repo) Append(ctx context.Context, index uint64, e model.PriceEntry, beforeCommit func(context.Context) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO price_history(idx, price, recorded_at) VALUES(?, ?, ?)`,
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
	rows, err := r.db.QueryContext(ctx, `SELECT idx, price, recorded_at FROM price_history ORDER BY idx`)
	if err != nil {
		return nil, err
	}
	return scanEntries(rows, 0)
}

func (r *Repo) Range(ctx context.Context, start, end uint64) ([]model.PriceEntry, error) {
	var n uint64
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM price_history`).Scan(&n); err != nil {
		return nil, err
	}
	if start > end || end > n {
		return nil, fmt.Errorf("%w: [%d, %d) with length %d", domain.ErrIndexOutOfRange, start, end, n)
	}

	rows, err := r.db.QueryContext(ctx,
		`SELECT idx, price, recorded_at FROM price_history WHERE idx >= ? AND idx < ? ORDER BY idx`,
		int64(start), int64(end))
	if err != nil {
		return nil, err
	}
	return scanEntries(rows, start)
}

func (r *Repo) SaveHeartbeat(ctx context.Context, seconds uint64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO ledger_settings(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value
	`, heartbeatKey, strconv.FormatUint(seconds, 10))
	return err
}

func (r *Repo) LoadHeartbeat(ctx context.Context) (uint64, bool, error) {
	var raw string
	err := r.db.QueryRowContext(ctx, `SELECT value FROM ledger_settings WHERE key=?`, heartbeatKey).Scan(&raw)
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

// scanEntries 读取连续的记录，索引出现空洞视为数据损坏
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
