package db

import (
	"context"
	"database/sql"

	"github.com/CamberLoid/TrustlessSwap/internal/fhe"
	"github.com/CamberLoid/TrustlessSwap/internal/users"
	"github.com/pkg/errors"
)

// CiphertextStore 是协处理器的 sqlite 存储，实现 fhe.CiphertextStore。
// 它与账本使用不同的数据库文件：协处理器在账本事务进行中写入密文
type CiphertextStore struct {
	db *sql.DB
}

func OpenCiphertextStore(ctx context.Context, path string) (*CiphertextStore, error) {
	db, err := open(ctx, path, CreateCiphertextTable(), CreateACLTable())
	if err != nil {
		return nil, err
	}
	return &CiphertextStore{db: db}, nil
}

func (s *CiphertextStore) Close() error {
	return s.db.Close()
}

func (s *CiphertextStore) PutCiphertext(ctx context.Context, h fhe.Handle, ct []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO Ciphertexts (handle, ct) VALUES (?, ?)
		ON CONFLICT (handle) DO UPDATE SET ct = excluded.ct
	`, h[:], ct)
	return errors.Wrap(err, "write ciphertext")
}

func (s *CiphertextStore) GetCiphertext(ctx context.Context, h fhe.Handle) (ct []byte, err error) {
	err = s.db.QueryRowContext(ctx, `SELECT ct FROM Ciphertexts WHERE handle = ?`, h[:]).Scan(&ct)
	if err == sql.ErrNoRows {
		return nil, fhe.ErrUnknownHandle
	}
	return ct, errors.Wrap(err, "query ciphertext")
}

func (s *CiphertextStore) Grant(ctx context.Context, h fhe.Handle, principal users.Address) error {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM Ciphertexts WHERE handle = ?`, h[:]).Scan(&n); err != nil {
		return errors.Wrap(err, "query ciphertext")
	}
	if n == 0 {
		return fhe.ErrUnknownHandle
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO ACL (handle, principal) VALUES (?, ?)
		ON CONFLICT DO NOTHING
	`, h[:], principal.String())
	return errors.Wrap(err, "grant")
}

func (s *CiphertextStore) Allowed(ctx context.Context, h fhe.Handle, principal users.Address) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(1) FROM ACL WHERE handle = ? AND principal = ?`, h[:], principal.String(),
	).Scan(&n)
	if err != nil {
		return false, errors.Wrap(err, "query acl")
	}
	return n > 0, nil
}
