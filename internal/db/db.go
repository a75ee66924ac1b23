// 包 db 包含账本和协处理器共用的 sqlite 存储
package db

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

// --- 数据库具体操作 ---
// --- 初始化：建表 ---

// table Balances
// user TEXT PRIMARY KEY <- 0x 开头的地址
// handle BLOB <- 32 字节的余额句柄
func CreateBalanceTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Balances (
			user TEXT PRIMARY KEY,
			handle BLOB NOT NULL
		);
	`
}

// table NativeBalances
// wei 以十进制字符串存放，uint256 超出 INTEGER 的范围
func CreateNativeBalanceTable() string {
	return `
		CREATE TABLE IF NOT EXISTS NativeBalances (
			addr TEXT PRIMARY KEY,
			wei TEXT NOT NULL
		);
	`
}

// table Events，seq 即事件序号
func CreateEventTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Events (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			tx TEXT NOT NULL,
			kind TEXT NOT NULL,
			user TEXT NOT NULL,
			amount_in TEXT NOT NULL,
			amount_out TEXT NOT NULL,
			timestamp INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS events_user ON Events(user);
	`
}

// table Transactions
// amount 是 uint64，同样以字符串存放
func CreateTransactionTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Transactions (
			uuid TEXT PRIMARY KEY NOT NULL,
			confirming_phase TEXT NOT NULL,
			method TEXT NOT NULL,
			caller TEXT NOT NULL,
			value TEXT NOT NULL,
			amount TEXT NOT NULL,
			handle BLOB,
			error TEXT,
			timestamp INTEGER
		);
	`
}

// table Ciphertexts, 协处理器使用
// handle BLOB PRIMARY KEY
// ct BLOB <- rlwe.Ciphertext.MarshalBinary()
func CreateCiphertextTable() string {
	return `
		CREATE TABLE IF NOT EXISTS Ciphertexts (
			handle BLOB PRIMARY KEY,
			ct BLOB NOT NULL
		);
	`
}

// table ACL, 协处理器使用
func CreateACLTable() string {
	return `
		CREATE TABLE IF NOT EXISTS ACL (
			handle BLOB NOT NULL REFERENCES Ciphertexts(handle),
			principal TEXT NOT NULL,
			PRIMARY KEY (handle, principal)
		);
	`
}

// open 打开/创建数据库并建表
// sqlite 同一时间只允许一个写者，这里限制为单连接
func open(ctx context.Context, path string, tables ...string) (db *sql.DB, err error) {
	db, err = sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	db.SetMaxOpenConns(1)

	if _, err = db.ExecContext(ctx, "PRAGMA foreign_keys = ON;"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "enable foreign keys")
	}
	for _, table := range tables {
		if _, err = db.ExecContext(ctx, table); err != nil {
			db.Close()
			return nil, errors.Wrap(err, "create table")
		}
	}
	return db, nil
}
