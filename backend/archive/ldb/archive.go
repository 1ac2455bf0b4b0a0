// Package ldb provides an archive implementation backed by a LevelDB
// instance. It records the same append-only history as the SQLite archive,
// keyed by table spaces with inverted block numbers, and commits to the same
// archive-wide hash.
package ldb

import (
	"bytes"
	"fmt"
	"sync"
	"unsafe"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/toofooboo/Carmen/backend"
	"github.com/toofooboo/Carmen/backend/archive"
	"github.com/toofooboo/Carmen/common"
)

// Archive is the LevelDB implementation of an account-state archive. The
// database handle is shared, not owned: closing the archive does not close
// the underlying LevelDB.
type Archive struct {
	db                       *backend.LevelDbMemoryFootprintWrapper
	reincarnationNumberCache map[common.Address]int
	batch                    leveldb.Batch
	lastBlockCache           blockCache
	addMutex                 sync.Mutex
}

func NewArchive(db *backend.LevelDbMemoryFootprintWrapper) (*Archive, error) {
	return &Archive{
		db:                       db,
		reincarnationNumberCache: map[common.Address]int{},
	}, nil
}

// Add appends a new update as a new block into the archive. Only one Add may
// be in progress at a time; readers are not blocked by it.
func (a *Archive) Add(block uint64, update common.Update) error {
	a.addMutex.Lock()
	defer a.addMutex.Unlock()

	lastBlock, empty, err := a.getLastBlock()
	if err != nil {
		return fmt.Errorf("failed to get the preceding block; %w", err)
	}
	if !empty && block <= lastBlock {
		return fmt.Errorf("unable to add block %d, archive already contains block %d", block, lastBlock)
	}

	a.batch.Reset()
	if err := a.addUpdateIntoBatch(block, &update); err != nil {
		return err
	}

	var blockK blockKey
	blockK.set(block)
	a.batch.Put(blockK[:], nil)

	if err := a.db.Write(&a.batch, nil); err != nil {
		return err
	}

	a.lastBlockCache.set(block)
	return nil
}

func (a *Archive) addUpdateIntoBatch(block uint64, update *common.Update) error {
	// Current reincarnation numbers are cached; the cache is consistent as
	// this archive is the only writer of the database.
	getReincarnationNumber := func(account common.Address) (int, error) {
		if res, exists := a.reincarnationNumberCache[account]; exists {
			return res, nil
		}
		_, reincarnation, err := a.getStatus(block, account)
		if err != nil {
			return 0, err
		}
		a.reincarnationNumberCache[account] = reincarnation
		return reincarnation, nil
	}

	// Deletes are applied before creates so that a destroy-and-recreate
	// within one block lands on the higher reincarnation.
	for _, account := range update.DeletedAccounts {
		reincarnation, err := getReincarnationNumber(account)
		if err != nil {
			return fmt.Errorf("failed to get status; %w", err)
		}
		var accountK accountBlockKey
		accountK.set(backend.AccountArchiveKey, account, block)
		var statusV accountStatusValue
		statusV.set(false, reincarnation+1)
		a.batch.Put(accountK[:], statusV[:])
		a.reincarnationNumberCache[account] = reincarnation + 1
	}

	for _, account := range update.CreatedAccounts {
		reincarnation, err := getReincarnationNumber(account)
		if err != nil {
			return fmt.Errorf("failed to get status; %w", err)
		}
		var accountK accountBlockKey
		accountK.set(backend.AccountArchiveKey, account, block)
		var statusV accountStatusValue
		statusV.set(true, reincarnation+1)
		a.batch.Put(accountK[:], statusV[:])
		a.reincarnationNumberCache[account] = reincarnation + 1
	}

	for _, cur := range update.Balances {
		var accountK accountBlockKey
		accountK.set(backend.BalanceArchiveKey, cur.Account, block)
		a.batch.Put(accountK[:], cur.Balance[:])
	}

	for _, cur := range update.Codes {
		var accountK accountBlockKey
		accountK.set(backend.CodeArchiveKey, cur.Account, block)
		a.batch.Put(accountK[:], cur.Code)
	}

	for _, cur := range update.Nonces {
		var accountK accountBlockKey
		accountK.set(backend.NonceArchiveKey, cur.Account, block)
		a.batch.Put(accountK[:], cur.Nonce[:])
	}

	for _, cur := range update.Slots {
		reincarnation, err := getReincarnationNumber(cur.Account) // uses status changes from above
		if err != nil {
			return fmt.Errorf("failed to get status; %w", err)
		}
		var slotK accountKeyBlockKey
		slotK.set(backend.StorageArchiveKey, cur.Account, reincarnation, cur.Key, block)
		a.batch.Put(slotK[:], cur.Value[:])
	}

	// Extend the hash chain of every touched account.
	accounts, accountUpdates := archive.AccountUpdatesFrom(update)
	for _, account := range accounts {
		lastAccountHash, err := a.GetAccountHash(block, account)
		if err != nil {
			return fmt.Errorf("failed to get previous account hash; %w", err)
		}
		diffHash := accountUpdates[account].GetHash()
		newAccountHash := common.GetSha256Hash(lastAccountHash[:], diffHash[:])

		var accountK accountBlockKey
		accountK.set(backend.AccountHashArchiveKey, account, block)
		a.batch.Put(accountK[:], newAccountHash[:])
	}

	return nil
}

// getLastBlock provides the number of the highest block written so far.
func (a *Archive) getLastBlock() (number uint64, empty bool, err error) {
	if number, has := a.lastBlockCache.get(); has {
		return number, false, nil
	}

	keyRange := getBlockKeyRangeFromHighest()
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		var blockK blockKey
		copy(blockK[:], it.Key())
		return blockK.get(), false, nil
	}
	return 0, true, it.Error()
}

// GetLastBlockHeight gets the maximum block height added so far; -1 if the
// archive does not contain any block yet.
func (a *Archive) GetLastBlockHeight() (int64, error) {
	block, empty, err := a.getLastBlock()
	if err != nil || empty {
		return -1, err
	}
	return int64(block), nil
}

func (a *Archive) getStatus(block uint64, account common.Address) (exists bool, reincarnation int, err error) {
	var key accountBlockKey
	key.set(backend.AccountArchiveKey, account, block)
	keyRange := key.getRange()
	it := a.db.NewIterator(&keyRange, &opt.ReadOptions{})
	defer it.Release()

	if it.Next() {
		var statusV accountStatusValue
		copy(statusV[:], it.Value())
		exists, reincarnation = statusV.get()
		return exists, reincarnation, nil
	}
	return false, 0, it.Error()
}

func (a *Archive) Exists(block uint64, account common.Address) (exists bool, err error) {
	exists, _, err = a.getStatus(block, account)
	return exists, err
}

func (a *Archive) GetBalance(block uint64, account common.Address) (balance common.Balance, err error) {
	var key accountBlockKey
	key.set(backend.BalanceArchiveKey, account, block)
	keyRange := key.getRange()
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		balance.SetBytes(it.Value())
		return balance, nil
	}
	return common.Balance{}, it.Error()
}

func (a *Archive) GetCode(block uint64, account common.Address) (code []byte, err error) {
	var key accountBlockKey
	key.set(backend.CodeArchiveKey, account, block)
	keyRange := key.getRange()
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		return bytes.Clone(it.Value()), nil
	}
	return nil, it.Error()
}

func (a *Archive) GetCodeHash(block uint64, account common.Address) (hash common.Hash, err error) {
	code, err := a.GetCode(block, account)
	if err != nil {
		return common.Hash{}, err
	}
	return common.GetKeccak256Hash(code), nil
}

func (a *Archive) GetNonce(block uint64, account common.Address) (nonce common.Nonce, err error) {
	var key accountBlockKey
	key.set(backend.NonceArchiveKey, account, block)
	keyRange := key.getRange()
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		nonce.SetBytes(it.Value())
		return nonce, nil
	}
	return common.Nonce{}, it.Error()
}

func (a *Archive) GetStorage(block uint64, account common.Address, slot common.Key) (value common.Value, err error) {
	accountExists, reincarnation, err := a.getStatus(block, account)
	if !accountExists || err != nil {
		return common.Value{}, err
	}

	var key accountKeyBlockKey
	key.set(backend.StorageArchiveKey, account, reincarnation, slot, block)
	keyRange := key.getRange()
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		value.SetBytes(it.Value())
		return value, nil
	}
	return common.Value{}, it.Error()
}

// GetHash computes the archive-wide commitment at the given block: the hash
// of the latest per-account chain values, ingested in ascending account
// order. The account-hash tablespace is ordered by account and descending
// block, so a single forward scan visits the latest entry of each account
// first.
func (a *Archive) GetHash(block uint64) (hash common.Hash, err error) {
	keyRange := getTableRange(backend.AccountHashArchiveKey)
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	hasher := common.NewSha256Hasher()
	var current common.Address
	taken, first := false, true
	for it.Next() {
		var key accountBlockKey
		copy(key[:], it.Key())
		account, entryBlock := key.get()
		if first || account != current {
			current, taken, first = account, false, false
		}
		if !taken && entryBlock <= block {
			hasher.Ingest(it.Value())
			taken = true
		}
	}
	if err := it.Error(); err != nil {
		return common.Hash{}, err
	}
	return hasher.GetHash(), nil
}

func (a *Archive) GetAccountHash(block uint64, account common.Address) (hash common.Hash, err error) {
	var key accountBlockKey
	key.set(backend.AccountHashArchiveKey, account, block)
	keyRange := key.getRange()
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	if it.Next() {
		hash.SetBytes(it.Value())
		return hash, nil
	}
	return common.Hash{}, it.Error()
}

// GetAccountList fetches the ascending list of distinct accounts covered by
// the archive up to (and including) the given block.
func (a *Archive) GetAccountList(block uint64) ([]common.Address, error) {
	keyRange := getTableRange(backend.AccountHashArchiveKey)
	it := a.db.NewIterator(&keyRange, nil)
	defer it.Release()

	var res []common.Address
	for it.Next() {
		var key accountBlockKey
		copy(key[:], it.Key())
		account, entryBlock := key.get()
		if entryBlock > block {
			continue
		}
		if len(res) == 0 || res[len(res)-1] != account {
			res = append(res, account)
		}
	}
	return res, it.Error()
}

// Flush is a no-op; every Add is written to the database as one batch before
// it returns. The batch is written without the LevelDB sync option.
func (a *Archive) Flush() error {
	return nil
}

// Close detaches the archive from the shared database; the database itself
// stays open and is closed by its owner.
func (a *Archive) Close() error {
	return nil
}

// GetMemoryFootprint provides the size of the archive in memory.
func (a *Archive) GetMemoryFootprint() *common.MemoryFootprint {
	mf := common.NewMemoryFootprint(unsafe.Sizeof(*a))
	var address common.Address
	var reincarnation int
	mf.AddChild("reincarnationNumberCache", common.NewMemoryFootprint(uintptr(len(a.reincarnationNumberCache))*(unsafe.Sizeof(address)+unsafe.Sizeof(reincarnation))))
	return mf
}

// blockCache remembers the number of the last written block.
type blockCache struct {
	mu        sync.Mutex
	lastBlock uint64
	has       bool
}

func (c *blockCache) set(number uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastBlock = number
	c.has = true
}

func (c *blockCache) get() (number uint64, has bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastBlock, c.has
}
