package db

import (
	"context"
	"database/sql"
	"os"
	"path/filepath"

	"github.com/CamberLoid/TrustlessSwap/internal/transaction"
	"github.com/pkg/errors"
)

// CreateReceiptTable 客户端本地保存的回执，receipt 为回执的 JSON
func CreateReceiptTable() string {
	return `
		CREATE TABLE IF NOT EXISTS receipts (
			uuid TEXT PRIMARY KEY,
			method TEXT NOT NULL,
			phase TEXT NOT NULL,
			timestamp INTEGER NOT NULL,
			receipt TEXT NOT NULL
		);
	`
}

// History 是客户端的回执记录。服务端只对调用者公开回执，
// 客户端自己保存一份以便离线查看
type History struct {
	db *sql.DB
}

func OpenHistory(ctx context.Context, path string) (*History, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, errors.Wrap(err, "create history dir")
	}
	db, err := open(ctx, path, CreateReceiptTable())
	if err != nil {
		return nil, err
	}
	return &History{db: db}, nil
}

func (h *History) Close() error {
	return h.db.Close()
}

// Record 写入或者更新一条回执
func (h *History) Record(ctx context.Context, rec *transaction.Transaction) error {
	data, err := rec.MarshalToJSON()
	if err != nil {
		return errors.Wrap(err, "marshal receipt")
	}
	_, err = h.db.ExecContext(ctx,
		`INSERT INTO receipts (uuid, method, phase, timestamp, receipt) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(uuid) DO UPDATE SET phase = excluded.phase, receipt = excluded.receipt`,
		rec.UUID.String(), rec.Method, rec.ConfirmingPhase, rec.TimeStamp, string(data))
	return errors.Wrap(err, "insert receipt")
}

// List 按时间倒序返回最近的 limit 条回执，limit <= 0 时返回全部
func (h *History) List(ctx context.Context, limit int) ([]*transaction.Transaction, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := h.db.QueryContext(ctx,
		`SELECT receipt FROM receipts ORDER BY timestamp DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query receipts")
	}
	defer rows.Close()

	var out []*transaction.Transaction
	for rows.Next() {
		var data string
		if err = rows.Scan(&data); err != nil {
			return nil, errors.Wrap(err, "scan receipt")
		}
		rec, err := transaction.UnmarshalFromJSON([]byte(data))
		if err != nil {
			return nil, errors.Wrap(err, "decode receipt")
		}
		out = append(out, rec)
	}
	return out, errors.Wrap(rows.Err(), "iterate receipts")
}
