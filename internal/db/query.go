package db

import (
	"context"
	"database/sql"
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
	"github.com/pkg/errors"
)

// LedgerStore 是 swap.Store 的 sqlite 实现
type LedgerStore struct {
	db *sql.DB
}

// OpenLedgerStore 打开账本数据库，path 可以是 ":memory:"
func OpenLedgerStore(ctx context.Context, path string) (*LedgerStore, error) {
	db, err := open(ctx, path,
		CreateBalanceTable(),
		CreateNativeBalanceTable(),
		CreateEventTable(),
		CreateTransactionTable(),
	)
	if err != nil {
		return nil, err
	}
	return &LedgerStore{db: db}, nil
}

func (s *LedgerStore) Update(ctx context.Context, fn func(tx swap.Tx) error) (err error) {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	// fn 崩溃时也要回滚，否则唯一的连接一直被占用
	defer func() {
		if p := recover(); p != nil {
			_ = sqlTx.Rollback()
			err = errors.Errorf("ledger update failed: %v", p)
		}
	}()
	if err = fn(&ledgerTx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}
	return errors.Wrap(sqlTx.Commit(), "commit")
}

func (s *LedgerStore) View(ctx context.Context, fn func(tx swap.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer sqlTx.Rollback()
	return fn(&ledgerTx{q: sqlTx, readOnly: true})
}

func (s *LedgerStore) Close() error {
	return s.db.Close()
}

type ledgerTx struct {
	q        *sql.Tx
	readOnly bool
}

// --- 读取部分 ---

func (t *ledgerTx) Balance(ctx context.Context, user users.Address) (h fhe.Handle, err error) {
	var b []byte
	err = t.q.QueryRowContext(ctx, `SELECT handle FROM Balances WHERE user = ?`, user.String()).Scan(&b)
	if err == sql.ErrNoRows {
		return fhe.NullHandle, nil
	}
	if err != nil {
		return h, errors.Wrap(err, "query balance")
	}
	copy(h[:], b)
	return h, nil
}

func (t *ledgerTx) NativeBalance(ctx context.Context, addr users.Address) (*big.Int, error) {
	var s string
	err := t.q.QueryRowContext(ctx, `SELECT wei FROM NativeBalances WHERE addr = ?`, addr.String()).Scan(&s)
	if err == sql.ErrNoRows {
		return new(big.Int), nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "query native balance")
	}
	return parseBig(s)
}

func (t *ledgerTx) Events(ctx context.Context, f events.Filter) ([]events.Event, error) {
	query := `SELECT seq, tx, kind, user, amount_in, amount_out, timestamp FROM Events WHERE seq > ?`
	args := []interface{}{f.SinceSeq}
	if f.User != nil {
		query += ` AND user = ?`
		args = append(args, f.User.String())
	}
	if f.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, string(f.Kind))
	}
	query += ` ORDER BY seq`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}

	rows, err := t.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "query events")
	}
	defer rows.Close()

	var res []events.Event
	for rows.Next() {
		var (
			e                   events.Event
			txID, kind, user    string
			amountIn, amountOut string
			ts                  int64
		)
		if err = rows.Scan(&e.Seq, &txID, &kind, &user, &amountIn, &amountOut, &ts); err != nil {
			return nil, errors.Wrap(err, "scan event")
		}
		if e.TxID, err = uuid.Parse(txID); err != nil {
			return nil, errors.Wrap(err, "parse event tx")
		}
		if e.User, err = users.ParseAddress(user); err != nil {
			return nil, errors.Wrap(err, "parse event user")
		}
		if e.AmountIn, err = parseBig(amountIn); err != nil {
			return nil, err
		}
		if e.AmountOut, err = parseBig(amountOut); err != nil {
			return nil, err
		}
		e.Kind = events.Kind(kind)
		e.Timestamp = time.Unix(ts, 0)
		res = append(res, e)
	}
	return res, errors.Wrap(rows.Err(), "iterate events")
}

func (t *ledgerTx) GetTransaction(ctx context.Context, id uuid.UUID) (*transaction.Transaction, error) {
	var (
		tx                   transaction.Transaction
		caller, value, amount string
		handle               []byte
		errText              sql.NullString
	)
	err := t.q.QueryRowContext(ctx, `
		SELECT uuid, confirming_phase, method, caller, value, amount, handle, error, timestamp
		FROM Transactions
		WHERE uuid = ?
	`, id.String()).Scan(
		&tx.UUID, &tx.ConfirmingPhase, &tx.Method, &caller, &value, &amount, &handle, &errText, &tx.TimeStamp,
	)
	if err == sql.ErrNoRows {
		return nil, swap.ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "scan row")
	}

	if tx.Caller, err = users.ParseAddress(caller); err != nil {
		return nil, errors.Wrap(err, "parse caller")
	}
	if tx.Value, err = parseBig(value); err != nil {
		return nil, err
	}
	if tx.Amount, err = strconv.ParseUint(amount, 10, 64); err != nil {
		return nil, errors.Wrap(err, "parse amount")
	}
	copy(tx.Handle[:], handle)
	tx.Err = errText.String
	return &tx, nil
}

// --- 写入部分 ---

func (t *ledgerTx) SetBalance(ctx context.Context, user users.Address, h fhe.Handle) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO Balances (user, handle) VALUES (?, ?)
		ON CONFLICT (user) DO UPDATE SET handle = excluded.handle
	`, user.String(), h[:])
	return errors.Wrap(err, "update balance")
}

func (t *ledgerTx) SetNativeBalance(ctx context.Context, addr users.Address, v *big.Int) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO NativeBalances (addr, wei) VALUES (?, ?)
		ON CONFLICT (addr) DO UPDATE SET wei = excluded.wei
	`, addr.String(), v.String())
	return errors.Wrap(err, "update native balance")
}

func (t *ledgerTx) AppendEvent(ctx context.Context, e *events.Event) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	res, err := t.q.ExecContext(ctx, `
		INSERT INTO Events (tx, kind, user, amount_in, amount_out, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)
	`, e.TxID.String(), string(e.Kind), e.User.String(), e.AmountIn.String(), e.AmountOut.String(), e.Timestamp.Unix())
	if err != nil {
		return errors.Wrap(err, "insert event")
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return errors.Wrap(err, "event seq")
	}
	e.Seq = uint64(seq)
	return nil
}

// PutTransaction 将回执写入/更新至数据库
func (t *ledgerTx) PutTransaction(ctx context.Context, tx *transaction.Transaction) error {
	if t.readOnly {
		return swap.ErrReadOnly
	}
	var handle []byte
	if !tx.Handle.IsNull() {
		handle = tx.Handle[:]
	}
	_, err := t.q.ExecContext(ctx, `
		INSERT INTO Transactions (
			uuid, confirming_phase, method, caller, value, amount, handle, error, timestamp
		)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (uuid) DO UPDATE
		SET
			confirming_phase = excluded.confirming_phase,
			handle = excluded.handle,
			error = excluded.error
	`,
		tx.UUID.String(), tx.ConfirmingPhase, tx.Method, tx.Caller.String(), bigString(tx.Value),
		strconv.FormatUint(tx.Amount, 10), handle, tx.Err, tx.TimeStamp,
	)
	return errors.Wrap(err, "write transaction")
}

func parseBig(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, errors.Errorf("invalid integer %q", s)
	}
	return v, nil
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
