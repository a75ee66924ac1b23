package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

type ledgerTx struct {
	q        pgx.Tx
	readOnly bool
}

func (t *ledgerTx) Balance(ctx context.Context, user users.Address) (h fhe.Handle, err error) {
	var b []byte
	err = t.q.QueryRow(ctx, `SELECT handle FROM balances WHERE addr = $1`, user.String()).Scan(&b)
	if errors.Is(err, pgx.ErrNoRows) {
		return fhe.NullHandle, nil
	}
	if err != nil {
		return h, fmt.Errorf("get balance: %w", err)
	}
	copy(h[:], b)
	return h, nil
}

func (t *ledgerTx) SetBalance(ctx context.Context, user users.Address, h fhe.Handle) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	_, err := t.q.Exec(ctx, `INSERT INTO balances (addr, handle) VALUES ($1, $2)
		ON CONFLICT (addr) DO UPDATE SET handle = EXCLUDED.handle`,
		user.String(), h[:],
	)
	if err != nil {
		return fmt.Errorf("set balance: %w", err)
	}
	return nil
}

func (t *ledgerTx) NativeBalance(ctx context.Context, addr users.Address) (*big.Int, error) {
	var s string
	err := t.q.QueryRow(ctx, `SELECT wei FROM native_balances WHERE addr = $1`, addr.String()).Scan(&s)
	if errors.Is(err, pgx.ErrNoRows) {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, fmt.Errorf("get native balance: %w", err)
	}
	return parseBig(s)
}

func (t *ledgerTx) SetNativeBalance(ctx context.Context, addr users.Address, v *big.Int) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	_, err := t.q.Exec(ctx, `INSERT INTO native_balances (addr, wei) VALUES ($1, $2)
		ON CONFLICT (addr) DO UPDATE SET wei = EXCLUDED.wei`,
		addr.String(), v.String(),
	)
	if err != nil {
		return fmt.Errorf("set native balance: %w", err)
	}
	return nil
}

func (t *ledgerTx) AppendEvent(ctx context.Context, e *events.Event) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	var seq int64
	err := t.q.QueryRow(ctx, `INSERT INTO events (tx, kind, addr, amount_in, amount_out, created_at)
		VALUES ($1, $2, $3, $4, $5, $6) RETURNING seq`,
		e.TxID, string(e.Kind), e.User.String(), e.AmountIn.String(), e.AmountOut.String(), e.Timestamp,
	).Scan(&seq)
	if err != nil {
		return fmt.Errorf("insert event: %w", err)
	}
	e.Seq = uint64(seq)
	return nil
}

func (t *ledgerTx) Events(ctx context.Context, f events.Filter) ([]events.Event, error) {
	query := `SELECT seq, tx, kind, addr, amount_in, amount_out, created_at FROM events WHERE seq > $1`
	args := []any{int64(f.SinceSeq)}
	if f.User != nil {
		args = append(args, f.User.String())
		query += fmt.Sprintf(" AND addr = $%d", len(args))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		query += fmt.Sprintf(" AND kind = $%d", len(args))
	}
	query += " ORDER BY seq"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := t.q.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var res []events.Event
	for rows.Next() {
		var (
			e                         events.Event
			seq                       int64
			kind, user, amtIn, amtOut string
			ts                        time.Time
		)
		if err := rows.Scan(&seq, &e.TxID, &kind, &user, &amtIn, &amtOut, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		if e.User, err = users.ParseAddress(user); err != nil {
			return nil, fmt.Errorf("parse event user: %w", err)
		}
		if e.AmountIn, err = parseBig(amtIn); err != nil {
			return nil, err
		}
		if e.AmountOut, err = parseBig(amtOut); err != nil {
			return nil, err
		}
		e.Seq = uint64(seq)
		e.Kind = events.Kind(kind)
		e.Timestamp = ts
		res = append(res, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return res, nil
}

func (t *ledgerTx) PutTransaction(ctx context.Context, tx *transaction.Transaction) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	var handle []byte
	if !tx.Handle.IsNull() {
		handle = tx.Handle[:]
	}
	value := "0"
	if tx.Value != nil {
		value = tx.Value.String()
	}
	_, err := t.q.Exec(ctx, `INSERT INTO transactions
		(id, confirming_phase, method, caller, value, amount, handle, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			confirming_phase = EXCLUDED.confirming_phase,
			handle = EXCLUDED.handle,
			error = EXCLUDED.error`,
		tx.UUID, tx.ConfirmingPhase, tx.Method, tx.Caller.String(), value,
		strconv.FormatUint(tx.Amount, 10), handle, tx.Err, tx.TimeStamp,
	)
	if err != nil {
		return fmt.Errorf("put transaction: %w", err)
	}
	return nil
}

func (t *ledgerTx) GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	var (
		tx                    transaction.Transaction
		caller, value, amount string
		handle                []byte
	)
	err := t.q.QueryRow(ctx, `SELECT id, confirming_phase, method, caller, value, amount, handle, COALESCE(error, ''), created_at
		FROM transactions WHERE id = $1`, id,
	).Scan(&tx.UUID, &tx.ConfirmingPhase, &tx.Method, &caller, &value, &amount, &handle, &tx.Err, &tx.TimeStamp)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, swap.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get transaction: %w", err)
	}

	if tx.Caller, err = users.ParseAddress(caller); err != nil {
		return nil, fmt.Errorf("parse caller: %w", err)
	}
	if tx.Value, err = parseBig(value); err != nil {
		return nil, err
	}
	if tx.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, fmt.Errorf("parse amount: %w", err)
	}
	copy(tx.Handle[:], handle)
	return &tx, nil
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid integer %q", s)
	}
	return v, nil
}
