package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/alanyoungcy/copybot/internal/domain"
)

// TradeLogStore implements domain.TradeLogStore using PostgreSQL.
type TradeLogStore struct {
	pool *pgxpool.Pool
}

// NewTradeLogStore creates a new TradeLogStore backed by the given connection pool.
func NewTradeLogStore(pool *pgxpool.Pool) *TradeLogStore {
	return &TradeLogStore{pool: pool}
}

const tradeLogSelectCols = `id, action, asset_id, amount, percentage, originator,
	trigger, signal_time, exec_time, duration_ns, tx_hash, error, error_kind`

func scanTradeLogRows(rows pgx.Rows) ([]domain.TradeLogEntry, error) {
	var entries []domain.TradeLogEntry
	for rows.Next() {
		var (
			e      domain.TradeLogEntry
			action string
			durNS  int64
		)
		if err := rows.Scan(
			&e.ID, &action, &e.AssetID, &e.Amount, &e.Percentage, &e.Originator,
			&e.Trigger, &e.SignalTime, &e.ExecTime, &durNS, &e.TxHash, &e.Error, &e.ErrorKind,
		); err != nil {
			return nil, err
		}
		e.Action = domain.TradeAction(action)
		e.Duration = time.Duration(durNS)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Insert appends one entry. Re-inserting the same ID is a no-op.
func (s *TradeLogStore) Insert(ctx context.Context, e domain.TradeLogEntry) error {
	const query = `
		INSERT INTO trade_log (
			id, action, asset_id, amount, percentage, originator,
			trigger, signal_time, exec_time, duration_ns, tx_hash, error, error_kind
		) VALUES (
			$1, $2, $3, $4, $5, $6,
			$7, $8, $9, $10, $11, $12, $13
		) ON CONFLICT (id) DO NOTHING`

	_, err := s.pool.Exec(ctx, query,
		e.ID, string(e.Action), e.AssetID, e.Amount, e.Percentage, e.Originator,
		e.Trigger, e.SignalTime, e.ExecTime, int64(e.Duration), e.TxHash, e.Error, e.ErrorKind,
	)
	if err != nil {
		return fmt.Errorf("postgres: insert trade log %s: %w", e.ID, err)
	}
	return nil
}

// ListRecent returns entries newest first with optional time filtering.
func (s *TradeLogStore) ListRecent(ctx context.Context, opts domain.ListOpts) ([]domain.TradeLogEntry, error) {
	query := `SELECT ` + tradeLogSelectCols + ` FROM trade_log WHERE TRUE`
	var args []any
	argIdx := 1

	if opts.Since != nil {
		query += fmt.Sprintf(" AND signal_time >= $%d", argIdx)
		args = append(args, *opts.Since)
		argIdx++
	}
	if opts.Until != nil {
		query += fmt.Sprintf(" AND signal_time <= $%d", argIdx)
		args = append(args, *opts.Until)
		argIdx++
	}

	query += " ORDER BY signal_time DESC, id"

	if opts.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, opts.Limit)
		argIdx++
	}
	if opts.Offset > 0 {
		query += fmt.Sprintf(" OFFSET $%d", argIdx)
		args = append(args, opts.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade log: %w", err)
	}
	defer rows.Close()

	entries, err := scanTradeLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade log: %w", err)
	}
	return entries, nil
}

// ListBefore returns up to limit entries older than before, oldest first.
func (s *TradeLogStore) ListBefore(ctx context.Context, before time.Time, limit int) ([]domain.TradeLogEntry, error) {
	query := `SELECT ` + tradeLogSelectCols + ` FROM trade_log
		WHERE signal_time < $1 ORDER BY signal_time ASC, id`
	args := []any{before}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list trade log before: %w", err)
	}
	defer rows.Close()

	entries, err := scanTradeLogRows(rows)
	if err != nil {
		return nil, fmt.Errorf("postgres: scan trade log before: %w", err)
	}
	return entries, nil
}

// DeleteBefore removes entries older than before and reports how many went.
func (s *TradeLogStore) DeleteBefore(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, "DELETE FROM trade_log WHERE signal_time < $1", before)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete trade log before: %w", err)
	}
	return tag.RowsAffected(), nil
}

// Compile-time interface check.
var _ domain.TradeLogStore = (*TradeLogStore)(nil)
