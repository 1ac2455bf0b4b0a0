package archive

import (
	"github.com/toofooboo/Carmen/common"
)

// An Archive retains a history of account states on a block-level
// granularity. The history is recorded by adding per-block updates with
// strictly increasing block numbers. All updates are append-only; history
// written once can no longer be altered.
//
// Add(..) and the Get(..) operations are thread safe and may thus be run in
// parallel, with at most one writer at a time.
type Archive interface {

	// Add appends the changes of the given block to this archive. The block
	// must be higher than any block added before.
	Add(block uint64, update common.Update) error

	// GetLastBlockHeight gets the maximum block height added so far; -1 if
	// the archive is empty.
	GetLastBlockHeight() (int64, error)

	// Exists allows to fetch the historic existence status of an account.
	Exists(block uint64, account common.Address) (exists bool, err error)

	// GetBalance allows to fetch a historic balance of an account.
	GetBalance(block uint64, account common.Address) (balance common.Balance, err error)

	// GetCode allows to fetch a historic code of an account.
	GetCode(block uint64, account common.Address) (code []byte, err error)

	// GetCodeHash fetches the Keccak-256 hash of the historic code of an
	// account; accounts without code report the hash of the empty code.
	GetCodeHash(block uint64, account common.Address) (hash common.Hash, err error)

	// GetNonce allows to fetch a historic nonce of an account.
	GetNonce(block uint64, account common.Address) (nonce common.Nonce, err error)

	// GetStorage allows to fetch a historic value of a storage slot. Slots
	// not written since the account's last reincarnation report the zero
	// value.
	GetStorage(block uint64, account common.Address, slot common.Key) (value common.Value, err error)

	// GetHash fetches the archive-wide commitment for the given block: the
	// hash of the latest per-account chain values at that block, in address
	// order.
	GetHash(block uint64) (hash common.Hash, err error)

	// GetAccountHash fetches the per-account hash chain value of the given
	// account at the given block; zero for untouched accounts.
	GetAccountHash(block uint64, account common.Address) (hash common.Hash, err error)

	// GetAccountList fetches the ascending list of distinct accounts touched
	// up to (and including) the given block.
	GetAccountList(block uint64) ([]common.Address, error)

	common.FlushAndCloser
	common.MemoryFootprintProvider
}
