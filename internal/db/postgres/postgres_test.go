package postgres

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/CamberLoid/TrustlessSwap/internal/events"
	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/swap"
	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var alice = users.CreateAddress(users.ZeroAddress, 1)

func newMock(t *testing.T) (pgxmock.PgxPoolIface, *Store) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return mock, NewStore(mock)
}

func TestStore_Migrate(t *testing.T) {
	mock, s := newMock(t)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS balances").
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))

	require.NoError(t, s.Migrate(context.Background()))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateCommits(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	var h fhe.Handle
	h[0], h[30], h[31] = 0xaa, byte(fhe.TypeUint64), 1

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(ledgerLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("SELECT handle FROM balances WHERE addr").
		WithArgs(alice.String()).
		WillReturnRows(pgxmock.NewRows([]string{"handle"}))
	mock.ExpectExec("INSERT INTO balances").
		WithArgs(alice.String(), h[:]).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT wei FROM native_balances").
		WithArgs(alice.String()).
		WillReturnRows(pgxmock.NewRows([]string{"wei"}).AddRow("1000000000000000000"))
	mock.ExpectExec("INSERT INTO native_balances").
		WithArgs(alice.String(), "0").
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	err := s.Update(ctx, func(tx swap.Tx) error {
		cur, err := tx.Balance(ctx, alice)
		require.NoError(t, err)
		assert.True(t, cur.IsNull())
		if err = tx.SetBalance(ctx, alice, h); err != nil {
			return err
		}
		wei, err := tx.NativeBalance(ctx, alice)
		require.NoError(t, err)
		assert.Equal(t, "1000000000000000000", wei.String())
		return tx.SetNativeBalance(ctx, alice, new(big.Int))
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateRollsBack(t *testing.T) {
	mock, s := newMock(t)
	boom := errors.New("boom")

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(ledgerLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx swap.Tx) error { return boom })
	assert.ErrorIs(t, err, boom)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_ViewIsReadOnly(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	mock.ExpectBegin()
	mock.ExpectRollback()

	err := s.View(ctx, func(tx swap.Tx) error {
		return tx.SetBalance(ctx, alice, fhe.NullHandle)
	})
	assert.ErrorIs(t, err, swap.ErrReadOnly)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AppendAndQueryEvents(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()
	ts := time.Unix(1700000000, 0).UTC()

	e := events.Event{
		TxID:      uuid.New(),
		Kind:      events.KindEthSwapped,
		User:      alice,
		AmountIn:  big.NewInt(1000),
		AmountOut: big.NewInt(3),
		Timestamp: ts,
	}

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(ledgerLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectQuery("INSERT INTO events").
		WithArgs(e.TxID, "EthSwapped", alice.String(), "1000", "3", ts).
		WillReturnRows(pgxmock.NewRows([]string{"seq"}).AddRow(int64(7)))
	mock.ExpectCommit()

	require.NoError(t, s.Update(ctx, func(tx swap.Tx) error {
		return tx.AppendEvent(ctx, &e)
	}))
	assert.Equal(t, uint64(7), e.Seq)

	mock.ExpectBegin()
	mock.ExpectQuery("SELECT seq, tx, kind, addr, amount_in, amount_out, created_at FROM events WHERE seq > .+ AND addr = .+ AND kind = .+ ORDER BY seq LIMIT").
		WithArgs(int64(6), alice.String(), "EthSwapped", 10).
		WillReturnRows(pgxmock.NewRows([]string{"seq", "tx", "kind", "addr", "amount_in", "amount_out", "created_at"}).
			AddRow(int64(7), e.TxID, "EthSwapped", alice.String(), "1000", "3", ts))
	mock.ExpectRollback()

	var got []events.Event
	require.NoError(t, s.View(ctx, func(tx swap.Tx) (err error) {
		got, err = tx.Events(ctx, events.Filter{User: &alice, Kind: events.KindEthSwapped, SinceSeq: 6, Limit: 10})
		return
	}))
	require.Len(t, got, 1)
	assert.Equal(t, uint64(7), got[0].Seq)
	assert.Equal(t, e.TxID, got[0].TxID)
	assert.Equal(t, alice, got[0].User)
	assert.Equal(t, "3", got[0].AmountOut.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Transactions(t *testing.T) {
	mock, s := newMock(t)
	ctx := context.Background()

	var h fhe.Handle
	h[0], h[30], h[31] = 0xbb, byte(fhe.TypeUint64), 1
	rec := transaction.New(transaction.MethodSwapEthForUsdt, alice, big.NewInt(1000), time.Unix(1700000000, 0))
	rec.Amount = 18446744073709551615
	rec.Handle = h
	rec.Confirm()

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(ledgerLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectExec("INSERT INTO transactions").
		WithArgs(rec.UUID, "confirmed", "swapEthForUsdt", alice.String(), "1000",
			"18446744073709551615", h[:], "", int64(1700000000)).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()

	require.NoError(t, s.Update(ctx, func(tx swap.Tx) error {
		return tx.PutTransaction(ctx, rec)
	}))

	missing := uuid.New()
	mock.ExpectBegin()
	mock.ExpectQuery("SELECT id, confirming_phase, method, caller").
		WithArgs(rec.UUID).
		WillReturnRows(pgxmock.NewRows([]string{"id", "confirming_phase", "method", "caller", "value", "amount", "handle", "error", "created_at"}).
			AddRow(rec.UUID, "confirmed", "swapEthForUsdt", alice.String(), "1000", "18446744073709551615", h[:], "", int64(1700000000)))
	mock.ExpectQuery("SELECT id, confirming_phase, method, caller").
		WithArgs(missing).
		WillReturnRows(pgxmock.NewRows([]string{"id", "confirming_phase", "method", "caller", "value", "amount", "handle", "error", "created_at"}))
	mock.ExpectRollback()

	require.NoError(t, s.View(ctx, func(tx swap.Tx) error {
		got, err := tx.GetTransaction(ctx, rec.UUID)
		require.NoError(t, err)
		assert.Equal(t, rec.Amount, got.Amount)
		assert.Equal(t, h, got.Handle)
		assert.Equal(t, alice, got.Caller)
		assert.True(t, got.IsConfirmed())

		_, err = tx.GetTransaction(ctx, missing)
		assert.ErrorIs(t, err, swap.ErrNotFound)
		return nil
	}))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_UpdateRollsBackOnPanic(t *testing.T) {
	mock, s := newMock(t)

	mock.ExpectBegin()
	mock.ExpectExec("SELECT pg_advisory_xact_lock").
		WithArgs(ledgerLockKey).
		WillReturnResult(pgxmock.NewResult("SELECT", 1))
	mock.ExpectRollback()

	err := s.Update(context.Background(), func(tx swap.Tx) error { panic("boom") })
	assert.ErrorContains(t, err, "boom")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCiphertextStore(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s := NewCiphertextStore(mock)
	ctx := context.Background()

	var h, unknown fhe.Handle
	h[0], h[30], h[31] = 0xbb, byte(fhe.TypeUint64), 1
	unknown[0] = 0xcc

	mock.ExpectExec("INSERT INTO fhe_ciphertexts").
		WithArgs(h[:], []byte{1, 2, 3}).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT ct FROM fhe_ciphertexts").
		WithArgs(h[:]).
		WillReturnRows(pgxmock.NewRows([]string{"ct"}).AddRow([]byte{1, 2, 3}))
	mock.ExpectExec("INSERT INTO fhe_acl").
		WithArgs(h[:], alice.String()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	// 第二次授权不插入新行，句柄存在
	mock.ExpectExec("INSERT INTO fhe_acl").
		WithArgs(h[:], alice.String()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM fhe_ciphertexts`).
		WithArgs(h[:]).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM fhe_acl`).
		WithArgs(h[:], alice.String()).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(true))
	mock.ExpectQuery("SELECT ct FROM fhe_ciphertexts").
		WithArgs(unknown[:]).
		WillReturnRows(pgxmock.NewRows([]string{"ct"}))
	mock.ExpectExec("INSERT INTO fhe_acl").
		WithArgs(unknown[:], alice.String()).
		WillReturnResult(pgxmock.NewResult("INSERT", 0))
	mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM fhe_ciphertexts`).
		WithArgs(unknown[:]).
		WillReturnRows(pgxmock.NewRows([]string{"exists"}).AddRow(false))

	require.NoError(t, s.PutCiphertext(ctx, h, []byte{1, 2, 3}))
	ct, err := s.GetCiphertext(ctx, h)
	require.NoError(t, err)
	assert.Equal(t, []byte{1, 2, 3}, ct)
	require.NoError(t, s.Grant(ctx, h, alice))
	require.NoError(t, s.Grant(ctx, h, alice))
	ok, err := s.Allowed(ctx, h, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = s.GetCiphertext(ctx, unknown)
	assert.ErrorIs(t, err, fhe.ErrUnknownHandle)
	assert.ErrorIs(t, s.Grant(ctx, unknown, alice), fhe.ErrUnknownHandle)
	assert.NoError(t, mock.ExpectationsWereMet())
}
