package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/jackc/pgx/v5"
)

// CiphertextStore implements fhe.CiphertextStore on the ledger database, so
// every server instance sharing the database resolves the same handles.
// Writes are autocommitted outside the ledger transaction, like the separate
// sqlite file of the single-node setup.
type CiphertextStore struct {
	pool Pool
}

func NewCiphertextStore(pool Pool) *CiphertextStore {
	return &CiphertextStore{pool: pool}
}

func (s *CiphertextStore) PutCiphertext(ctx context.Context, h fhe.Handle, ct []byte) error {
	_, err := s.pool.Exec(ctx, `INSERT INTO fhe_ciphertexts (handle, ct) VALUES ($1, $2)
		ON CONFLICT (handle) DO UPDATE SET ct = EXCLUDED.ct`,
		h[:], ct,
	)
	if err != nil {
		return fmt.Errorf("put ciphertext: %w", err)
	}
	return nil
}

func (s *CiphertextStore) GetCiphertext(ctx context.Context, h fhe.Handle) ([]byte, error) {
	var ct []byte
	err := s.pool.QueryRow(ctx, `SELECT ct FROM fhe_ciphertexts WHERE handle = $1`, h[:]).Scan(&ct)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fhe.ErrUnknownHandle
	}
	if err != nil {
		return nil, fmt.Errorf("get ciphertext: %w", err)
	}
	return ct, nil
}

func (s *CiphertextStore) Grant(ctx context.Context, h fhe.Handle, principal users.Address) error {
	tag, err := s.pool.Exec(ctx, `INSERT INTO fhe_acl (handle, principal)
		SELECT handle, $2 FROM fhe_ciphertexts WHERE handle = $1
		ON CONFLICT DO NOTHING`,
		h[:], principal.String(),
	)
	if err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	if tag.RowsAffected() > 0 {
		return nil
	}

	// 0 行：已经授权过，或者句柄不存在
	var exists bool
	if err = s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fhe_ciphertexts WHERE handle = $1)`, h[:],
	).Scan(&exists); err != nil {
		return fmt.Errorf("grant: %w", err)
	}
	if !exists {
		return fhe.ErrUnknownHandle
	}
	return nil
}

func (s *CiphertextStore) Allowed(ctx context.Context, h fhe.Handle, principal users.Address) (bool, error) {
	var ok bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM fhe_acl WHERE handle = $1 AND principal = $2)`,
		h[:], principal.String(),
	).Scan(&ok)
	if err != nil {
		return false, fmt.Errorf("query acl: %w", err)
	}
	return ok, nil
}
