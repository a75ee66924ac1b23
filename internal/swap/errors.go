package swap

import "errors"

var (
	// ErrBackendUnsupported: the confidential backend reports a protocol id
	// this ledger was not built for.
	ErrBackendUnsupported = errors.New("swap: confidential backend unsupported")
	// ErrAmountOverflow: the quoted USDT credit does not fit in 64 bits.
	ErrAmountOverflow = errors.New("swap: usdt amount overflows uint64")
	// ErrInsufficientBalance: the encrypted balance cannot cover the redemption.
	ErrInsufficientBalance = errors.New("swap: insufficient encrypted balance")

	ErrInvalidAmount     = errors.New("swap: invalid amount")
	ErrInsufficientFunds = errors.New("swap: insufficient native funds")
	ErrTransferFailed    = errors.New("swap: native transfer failed")
	ErrNotFound          = errors.New("swap: not found")
	ErrReadOnly          = errors.New("swap: write in read-only transaction")
)
