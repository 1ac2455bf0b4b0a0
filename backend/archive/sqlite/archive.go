// Package sqlite provides an archive implementation backed by an embedded
// SQLite database. Each block update is appended inside a single transaction;
// per-account hash chains commit the recorded history and can be re-derived
// from the raw rows for verification.
package sqlite

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"unsafe"

	"github.com/toofooboo/Carmen/backend/archive"
	"github.com/toofooboo/Carmen/backend/sqlite"
	"github.com/toofooboo/Carmen/common"
)

const (
	// ErrClosed is the error produced when operating on a closed archive.
	ErrClosed = common.ConstError("archive already closed")
	// ErrBlockNotMonotonic is the error produced when a block is added out
	// of order.
	ErrBlockNotMonotonic = common.ConstError("block is not greater than the last added block")
	// ErrCorruptedArchive is the base error of all verification failures.
	ErrCorruptedArchive = common.ConstError("archive verification failed")
)

// See reference: https://www.sqlite.org/lang.html

const (
	kCreateBlockTable   = "CREATE TABLE IF NOT EXISTS block (number INT PRIMARY KEY)"
	kAddBlockStmt       = "INSERT INTO block(number) VALUES (?)"
	kGetBlockHeightStmt = "SELECT number FROM block ORDER BY number DESC LIMIT 1"

	kCreateAccountHashTable = "CREATE TABLE IF NOT EXISTS account_hash (account BLOB, block INT, hash BLOB, PRIMARY KEY(account,block))"
	kAddAccountHashStmt     = "INSERT INTO account_hash(account, block, hash) VALUES (?,?,?)"
	kGetAccountHashStmt     = "SELECT hash FROM account_hash WHERE account = ? AND block <= ? ORDER BY block DESC LIMIT 1"

	kCreateStatusTable = "CREATE TABLE IF NOT EXISTS status (account BLOB, block INT, exist INT, reincarnation INT, PRIMARY KEY (account,block))"
	kCreateAccountStmt = "INSERT INTO status(account,block,exist,reincarnation) VALUES (?,?,1,(SELECT IFNULL(MAX(reincarnation)+1,0) FROM status WHERE account = ?))"
	kDeleteAccountStmt = "INSERT INTO status(account,block,exist,reincarnation) VALUES (?,?,0,(SELECT IFNULL(MAX(reincarnation)+1,0) FROM status WHERE account = ?))"
	kGetStatusStmt     = "SELECT exist FROM status WHERE account = ? AND block <= ? ORDER BY block DESC LIMIT 1"

	kCreateBalanceTable = "CREATE TABLE IF NOT EXISTS balance (account BLOB, block INT, value BLOB, PRIMARY KEY (account,block))"
	kAddBalanceStmt     = "INSERT INTO balance(account,block,value) VALUES (?,?,?)"
	kGetBalanceStmt     = "SELECT value FROM balance WHERE account = ? AND block <= ? ORDER BY block DESC LIMIT 1"

	kCreateCodeTable = "CREATE TABLE IF NOT EXISTS code (account BLOB, block INT, code BLOB, PRIMARY KEY (account,block))"
	kAddCodeStmt     = "INSERT INTO code(account,block,code) VALUES (?,?,?)"
	kGetCodeStmt     = "SELECT code FROM code WHERE account = ? AND block <= ? ORDER BY block DESC LIMIT 1"

	kCreateNonceTable = "CREATE TABLE IF NOT EXISTS nonce (account BLOB, block INT, value BLOB, PRIMARY KEY (account,block))"
	kAddNonceStmt     = "INSERT INTO nonce(account,block,value) VALUES (?,?,?)"
	kGetNonceStmt     = "SELECT value FROM nonce WHERE account = ? AND block <= ? ORDER BY block DESC LIMIT 1"

	kCreateValueTable = "CREATE TABLE IF NOT EXISTS storage (account BLOB, reincarnation INT, slot BLOB, block INT, value BLOB, PRIMARY KEY (account,reincarnation,slot,block))"
	kAddValueStmt     = "INSERT INTO storage(account,reincarnation,slot,block,value) VALUES (?,(SELECT IFNULL(MAX(reincarnation),0) FROM status WHERE account = ? AND block <= ?),?,?,?)"
	kGetValueStmt     = "SELECT value FROM storage WHERE account = ? AND reincarnation = (SELECT IFNULL(MAX(reincarnation),0) FROM status WHERE account = ? AND block <= ?) AND slot = ? AND block <= ? ORDER BY block DESC LIMIT 1"

	kGetHashStmt = "SELECT hash FROM account_hash a INNER JOIN (SELECT account, MAX(block) as block FROM account_hash WHERE block <= ? GROUP BY account) b ON a.account = b.account AND a.block = b.block ORDER BY a.account"

	kGetAccountListStmt = "SELECT DISTINCT account FROM account_hash WHERE block <= ? ORDER BY account"
)

// Archive is the SQLite implementation of an account-state archive. It owns
// the database file <directory>/archive.sqlite exclusively while open.
//
// Every prepared statement is owned by the archive for its entire lifetime
// and finalized on Close. The write path shares one mutation lock; each
// getter holds its own lock, so different getters may serve reads in
// parallel while a block is being added.
type Archive struct {
	db *sqlite.Database

	// mutationLock guards all write-path statements and the Add transaction.
	mutationLock       sync.Mutex
	addBlockStmt       *sqlite.Statement
	createAccountStmt  *sqlite.Statement
	deleteAccountStmt  *sqlite.Statement
	addBalanceStmt     *sqlite.Statement
	addCodeStmt        *sqlite.Statement
	addNonceStmt       *sqlite.Statement
	addValueStmt       *sqlite.Statement
	addAccountHashStmt *sqlite.Statement

	getBlockHeightLock sync.Mutex
	getBlockHeightStmt *sqlite.Statement

	getAccountHashLock sync.Mutex
	getAccountHashStmt *sqlite.Statement

	getStatusLock sync.Mutex
	getStatusStmt *sqlite.Statement

	getBalanceLock sync.Mutex
	getBalanceStmt *sqlite.Statement

	getCodeLock sync.Mutex
	getCodeStmt *sqlite.Statement

	getNonceLock sync.Mutex
	getNonceStmt *sqlite.Statement

	getValueLock sync.Mutex
	getValueStmt *sqlite.Statement
}

// Open opens the archive stored in the given directory, creating the
// database file and its tables on first use. Schema creation is idempotent.
func Open(directory string) (*Archive, error) {
	db, err := sqlite.Open(filepath.Join(directory, "archive.sqlite"))
	if err != nil {
		return nil, err
	}

	tables := []string{
		kCreateBlockTable,
		kCreateAccountHashTable,
		kCreateStatusTable,
		kCreateBalanceTable,
		kCreateCodeTable,
		kCreateNonceTable,
		kCreateValueTable,
	}
	for _, ddl := range tables {
		if err := db.Run(ddl); err != nil {
			return nil, errors.Join(fmt.Errorf("failed to create archive tables; %w", err), db.Close())
		}
	}

	a := &Archive{db: db}
	prepare := func(query string) (stmt *sqlite.Statement) {
		if err == nil {
			stmt, err = db.Prepare(query)
		}
		return stmt
	}

	a.addBlockStmt = prepare(kAddBlockStmt)
	a.getBlockHeightStmt = prepare(kGetBlockHeightStmt)
	a.addAccountHashStmt = prepare(kAddAccountHashStmt)
	a.getAccountHashStmt = prepare(kGetAccountHashStmt)
	a.createAccountStmt = prepare(kCreateAccountStmt)
	a.deleteAccountStmt = prepare(kDeleteAccountStmt)
	a.getStatusStmt = prepare(kGetStatusStmt)
	a.addBalanceStmt = prepare(kAddBalanceStmt)
	a.getBalanceStmt = prepare(kGetBalanceStmt)
	a.addCodeStmt = prepare(kAddCodeStmt)
	a.getCodeStmt = prepare(kGetCodeStmt)
	a.addNonceStmt = prepare(kAddNonceStmt)
	a.getNonceStmt = prepare(kGetNonceStmt)
	a.addValueStmt = prepare(kAddValueStmt)
	a.getValueStmt = prepare(kGetValueStmt)

	if err != nil {
		return nil, errors.Join(fmt.Errorf("failed to prepare archive statements; %w", err), a.Close())
	}
	return a, nil
}

// Add appends the update of the given block to the archive. The block must be
// strictly higher than every block added before; the whole update is written
// in one transaction, so either all of its rows become visible or none.
func (a *Archive) Add(block uint64, update common.Update) error {
	last, err := a.GetLastBlockHeight()
	if err != nil {
		return fmt.Errorf("failed to get last block height; %w", err)
	}
	if last >= 0 && uint64(last) >= block {
		return fmt.Errorf("%w: unable to insert block %d, archive already contains block %d", ErrBlockNotMonotonic, block, last)
	}

	// Compute hashes of account updates before entering the critical section.
	accounts, accountUpdates := archive.AccountUpdatesFrom(&update)
	diffHashes := make(map[common.Address]common.Hash, len(accounts))
	for _, account := range accounts {
		diffHashes[account] = accountUpdates[account].GetHash()
	}

	a.mutationLock.Lock()
	defer a.mutationLock.Unlock()
	if a.addValueStmt == nil {
		return ErrClosed
	}

	if err := a.db.Run("BEGIN TRANSACTION"); err != nil {
		return err
	}
	if err := a.addBlockInTransaction(block, &update, accounts, diffHashes); err != nil {
		return errors.Join(err, a.db.Run("ROLLBACK TRANSACTION"))
	}
	return a.db.Run("END TRANSACTION")
}

func (a *Archive) addBlockInTransaction(block uint64, update *common.Update, accounts []common.Address, diffHashes map[common.Address]common.Hash) error {
	if err := runInsert(a.addBlockStmt, func(stmt *sqlite.Statement) error {
		return stmt.BindInt64(0, int64(block))
	}); err != nil {
		return fmt.Errorf("failed to add block %d; %w", block, err)
	}

	// Deletes are applied before creates. Deleting and creating the same
	// account in one block yields two status rows with the same primary key,
	// so such an update fails and the transaction is rolled back.
	for _, account := range update.DeletedAccounts {
		if err := runInsert(a.deleteAccountStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, account[:]),
				stmt.BindInt64(1, int64(block)),
				stmt.BindBytes(2, account[:]),
			)
		}); err != nil {
			return fmt.Errorf("failed to add account deletion; %w", err)
		}
	}

	for _, account := range update.CreatedAccounts {
		if err := runInsert(a.createAccountStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, account[:]),
				stmt.BindInt64(1, int64(block)),
				stmt.BindBytes(2, account[:]),
			)
		}); err != nil {
			return fmt.Errorf("failed to add account creation; %w", err)
		}
	}

	for _, cur := range update.Balances {
		if err := runInsert(a.addBalanceStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, cur.Account[:]),
				stmt.BindInt64(1, int64(block)),
				stmt.BindBytes(2, cur.Balance[:]),
			)
		}); err != nil {
			return fmt.Errorf("failed to add balance; %w", err)
		}
	}

	for _, cur := range update.Codes {
		if err := runInsert(a.addCodeStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, cur.Account[:]),
				stmt.BindInt64(1, int64(block)),
				stmt.BindBytes(2, cur.Code),
			)
		}); err != nil {
			return fmt.Errorf("failed to add code; %w", err)
		}
	}

	for _, cur := range update.Nonces {
		if err := runInsert(a.addNonceStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, cur.Account[:]),
				stmt.BindInt64(1, int64(block)),
				stmt.BindBytes(2, cur.Nonce[:]),
			)
		}); err != nil {
			return fmt.Errorf("failed to add nonce; %w", err)
		}
	}

	for _, cur := range update.Slots {
		// The account is bound twice: once for the value row itself and once
		// inside the subquery resolving its current reincarnation.
		if err := runInsert(a.addValueStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, cur.Account[:]),
				stmt.BindBytes(1, cur.Account[:]),
				stmt.BindInt64(2, int64(block)),
				stmt.BindBytes(3, cur.Key[:]),
				stmt.BindInt64(4, int64(block)),
				stmt.BindBytes(5, cur.Value[:]),
			)
		}); err != nil {
			return fmt.Errorf("failed to add storage value; %w", err)
		}
	}

	for _, account := range accounts {
		lastHash, err := a.GetAccountHash(block, account)
		if err != nil {
			return fmt.Errorf("failed to get previous account hash; %w", err)
		}
		diffHash := diffHashes[account]
		newHash := common.GetSha256Hash(lastHash[:], diffHash[:])
		if err := runInsert(a.addAccountHashStmt, func(stmt *sqlite.Statement) error {
			return errors.Join(
				stmt.BindBytes(0, account[:]),
				stmt.BindInt64(1, int64(block)),
				stmt.BindBytes(2, newHash[:]),
			)
		}); err != nil {
			return fmt.Errorf("failed to add account hash; %w", err)
		}
	}

	return nil
}

// runInsert resets the given statement, applies the parameter bindings, and
// executes it. The caller must hold the lock guarding the statement.
func runInsert(stmt *sqlite.Statement, bind func(*sqlite.Statement) error) error {
	if err := stmt.Reset(); err != nil {
		return err
	}
	if err := bind(stmt); err != nil {
		return err
	}
	return stmt.Run()
}

// GetLastBlockHeight gets the maximum block height added so far; -1 if the
// archive does not contain any block yet.
func (a *Archive) GetLastBlockHeight() (int64, error) {
	a.getBlockHeightLock.Lock()
	defer a.getBlockHeightLock.Unlock()
	if a.getBlockHeightStmt == nil {
		return 0, ErrClosed
	}
	if err := a.getBlockHeightStmt.Reset(); err != nil {
		return 0, err
	}
	result := int64(-1)
	if err := a.getBlockHeightStmt.Query(func(row sqlite.Row) {
		result = row.GetInt64(0)
	}); err != nil {
		return 0, err
	}
	return result, nil
}

// Exists reports whether the given account existed at the given block. An
// account never touched by any status change reports false.
func (a *Archive) Exists(block uint64, account common.Address) (exists bool, err error) {
	a.getStatusLock.Lock()
	defer a.getStatusLock.Unlock()
	if a.getStatusStmt == nil {
		return false, ErrClosed
	}
	if err := a.getStatusStmt.Reset(); err != nil {
		return false, err
	}
	if err := errors.Join(
		a.getStatusStmt.BindBytes(0, account[:]),
		a.getStatusStmt.BindInt64(1, int64(block)),
	); err != nil {
		return false, err
	}

	// The query produces 0 or 1 results. No result means the account was
	// never touched, which is the default non-existing state.
	if err := a.getStatusStmt.Query(func(row sqlite.Row) {
		exists = row.GetInt(0) != 0
	}); err != nil {
		return false, err
	}
	return exists, nil
}

// GetBalance fetches the balance of the given account at the given block.
// Accounts without any recorded balance report the zero balance.
func (a *Archive) GetBalance(block uint64, account common.Address) (balance common.Balance, err error) {
	a.getBalanceLock.Lock()
	defer a.getBalanceLock.Unlock()
	if a.getBalanceStmt == nil {
		return balance, ErrClosed
	}
	if err := a.getBalanceStmt.Reset(); err != nil {
		return balance, err
	}
	if err := errors.Join(
		a.getBalanceStmt.BindBytes(0, account[:]),
		a.getBalanceStmt.BindInt64(1, int64(block)),
	); err != nil {
		return balance, err
	}
	if err := a.getBalanceStmt.Query(func(row sqlite.Row) {
		balance.SetBytes(row.GetBytes(0))
	}); err != nil {
		return common.Balance{}, err
	}
	return balance, nil
}

// GetCode fetches the code of the given account at the given block; nil if
// no code was ever recorded.
func (a *Archive) GetCode(block uint64, account common.Address) (code []byte, err error) {
	a.getCodeLock.Lock()
	defer a.getCodeLock.Unlock()
	if a.getCodeStmt == nil {
		return nil, ErrClosed
	}
	if err := a.getCodeStmt.Reset(); err != nil {
		return nil, err
	}
	if err := errors.Join(
		a.getCodeStmt.BindBytes(0, account[:]),
		a.getCodeStmt.BindInt64(1, int64(block)),
	); err != nil {
		return nil, err
	}
	if err := a.getCodeStmt.Query(func(row sqlite.Row) {
		code = bytes.Clone(row.GetBytes(0))
	}); err != nil {
		return nil, err
	}
	return code, nil
}

// GetCodeHash fetches the Keccak-256 hash of the code of the given account
// at the given block; the hash of the empty code if none was recorded.
func (a *Archive) GetCodeHash(block uint64, account common.Address) (hash common.Hash, err error) {
	code, err := a.GetCode(block, account)
	if err != nil {
		return common.Hash{}, err
	}
	return common.GetKeccak256Hash(code), nil
}

// GetNonce fetches the nonce of the given account at the given block.
// Accounts without any recorded nonce report the zero nonce.
func (a *Archive) GetNonce(block uint64, account common.Address) (nonce common.Nonce, err error) {
	a.getNonceLock.Lock()
	defer a.getNonceLock.Unlock()
	if a.getNonceStmt == nil {
		return nonce, ErrClosed
	}
	if err := a.getNonceStmt.Reset(); err != nil {
		return nonce, err
	}
	if err := errors.Join(
		a.getNonceStmt.BindBytes(0, account[:]),
		a.getNonceStmt.BindInt64(1, int64(block)),
	); err != nil {
		return nonce, err
	}
	if err := a.getNonceStmt.Query(func(row sqlite.Row) {
		nonce.SetBytes(row.GetBytes(0))
	}); err != nil {
		return common.Nonce{}, err
	}
	return nonce, nil
}

// GetStorage fetches the value of the given storage slot at the given block.
// Only writes since the account's most recent reincarnation are visible; all
// other slots report the zero value.
func (a *Archive) GetStorage(block uint64, account common.Address, slot common.Key) (value common.Value, err error) {
	a.getValueLock.Lock()
	defer a.getValueLock.Unlock()
	if a.getValueStmt == nil {
		return value, ErrClosed
	}
	if err := a.getValueStmt.Reset(); err != nil {
		return value, err
	}
	// The account is bound twice: once for the value row and once inside the
	// subquery resolving the account's reincarnation at the given block.
	if err := errors.Join(
		a.getValueStmt.BindBytes(0, account[:]),
		a.getValueStmt.BindBytes(1, account[:]),
		a.getValueStmt.BindInt64(2, int64(block)),
		a.getValueStmt.BindBytes(3, slot[:]),
		a.getValueStmt.BindInt64(4, int64(block)),
	); err != nil {
		return value, err
	}
	if err := a.getValueStmt.Query(func(row sqlite.Row) {
		value.SetBytes(row.GetBytes(0))
	}); err != nil {
		return common.Value{}, err
	}
	return value, nil
}

// GetAccountHash fetches the hash-chain value of the given account at the
// given block. The chain of an account starts at the zero hash and is
// extended by hashing the previous chain value with the hash of each applied
// account update.
func (a *Archive) GetAccountHash(block uint64, account common.Address) (hash common.Hash, err error) {
	a.getAccountHashLock.Lock()
	defer a.getAccountHashLock.Unlock()
	if a.getAccountHashStmt == nil {
		return hash, ErrClosed
	}
	if err := a.getAccountHashStmt.Reset(); err != nil {
		return hash, err
	}
	if err := errors.Join(
		a.getAccountHashStmt.BindBytes(0, account[:]),
		a.getAccountHashStmt.BindInt64(1, int64(block)),
	); err != nil {
		return hash, err
	}
	if err := a.getAccountHashStmt.Query(func(row sqlite.Row) {
		hash.SetBytes(row.GetBytes(0))
	}); err != nil {
		return common.Hash{}, err
	}
	return hash, nil
}

// GetHash computes the archive-wide commitment at the given block: the hash
// of the latest per-account chain values, ingested in ascending account
// order. An empty archive reports the hash of the empty byte string.
func (a *Archive) GetHash(block uint64) (hash common.Hash, err error) {
	stmt, err := a.db.Prepare(kGetHashStmt)
	if err != nil {
		return hash, err
	}
	defer stmt.Finalize()
	if err := stmt.BindInt64(0, int64(block)); err != nil {
		return hash, err
	}
	hasher := common.NewSha256Hasher()
	if err := stmt.Query(func(row sqlite.Row) {
		hasher.Ingest(row.GetBytes(0))
	}); err != nil {
		return hash, err
	}
	return hasher.GetHash(), nil
}

// GetAccountList fetches the ascending list of distinct accounts covered by
// the archive up to (and including) the given block.
func (a *Archive) GetAccountList(block uint64) ([]common.Address, error) {
	stmt, err := a.db.Prepare(kGetAccountListStmt)
	if err != nil {
		return nil, err
	}
	defer stmt.Finalize()
	if err := stmt.BindInt64(0, int64(block)); err != nil {
		return nil, err
	}
	var res []common.Address
	if err := stmt.Query(func(row sqlite.Row) {
		var addr common.Address
		addr.SetBytes(row.GetBytes(0))
		res = append(res, addr)
	}); err != nil {
		return nil, err
	}
	return res, nil
}

// Verify runs a full integrity check of the archive content up to the given
// block: the database file itself, the archive-wide commitment against the
// expected hash, every per-account hash chain, and the absence of content
// rows without a matching hash entry.
func (a *Archive) Verify(block uint64, expectedHash common.Hash) error {
	if err := a.db.IntegrityCheck(); err != nil {
		return err
	}

	hash, err := a.GetHash(block)
	if err != nil {
		return err
	}
	if hash != expectedHash {
		return fmt.Errorf("%w: archive hash does not match expected hash, got %v, wanted %v", ErrCorruptedArchive, hash, expectedHash)
	}

	accounts, err := a.GetAccountList(block)
	if err != nil {
		return err
	}
	for _, account := range accounts {
		if err := a.VerifyAccount(block, account); err != nil {
			return err
		}
	}

	// Check that there is no content in any of the data tables that is not
	// covered by an account-hash entry.
	for _, table := range []string{"status", "balance", "nonce", "code", "storage"} {
		query := fmt.Sprintf("SELECT 1 FROM (SELECT account FROM %s WHERE block <= ? EXCEPT SELECT account FROM account_hash WHERE block <= ?) LIMIT 1", table)
		stmt, err := a.db.Prepare(query)
		if err != nil {
			return err
		}
		found := false
		err = errors.Join(
			stmt.BindInt64(0, int64(block)),
			stmt.BindInt64(1, int64(block)),
		)
		if err == nil {
			err = stmt.Query(func(sqlite.Row) { found = true })
		}
		if closeErr := stmt.Finalize(); closeErr != nil {
			err = errors.Join(err, closeErr)
		}
		if err != nil {
			return err
		}
		if found {
			return fmt.Errorf("%w: found extra row of data in table `%s`", ErrCorruptedArchive, table)
		}
	}

	return nil
}

// accountIterator is one ordered cursor over the rows of a single account in
// one of the archive tables, used by VerifyAccount to replay its history.
type accountIterator struct {
	stmt *sqlite.Statement
	iter *sqlite.Iterator
}

func (a *Archive) openAccountIterator(query string, block uint64, account common.Address) (*accountIterator, error) {
	stmt, err := a.db.Prepare(query)
	if err != nil {
		return nil, err
	}
	if err := errors.Join(
		stmt.BindBytes(0, account[:]),
		stmt.BindInt64(1, int64(block)),
	); err != nil {
		stmt.Finalize()
		return nil, err
	}
	iter, err := stmt.Open()
	if err != nil {
		stmt.Finalize()
		return nil, err
	}
	return &accountIterator{stmt: stmt, iter: iter}, nil
}

func (i *accountIterator) close() error {
	return errors.Join(i.iter.Close(), i.stmt.Finalize())
}

// VerifyAccount replays the recorded history of the given account up to the
// given block and checks it against the stored hash chain. Every data row
// must be covered by a hash entry of its block, every hash entry must be
// backed by data, and the chain values must reproduce bit for bit.
func (a *Archive) VerifyAccount(block uint64, account common.Address) (res error) {
	queries := []string{
		"SELECT block, hash FROM account_hash WHERE account = ? AND block <= ? ORDER BY block",
		"SELECT block, exist FROM status WHERE account = ? AND block <= ? ORDER BY block",
		"SELECT block, value FROM balance WHERE account = ? AND block <= ? ORDER BY block",
		"SELECT block, value FROM nonce WHERE account = ? AND block <= ? ORDER BY block",
		"SELECT block, code FROM code WHERE account = ? AND block <= ? ORDER BY block",
		"SELECT block, slot, value FROM storage WHERE account = ? AND block <= ? ORDER BY block, slot",
	}

	iterators := make([]*accountIterator, 0, len(queries))
	defer func() {
		for _, cur := range iterators {
			res = errors.Join(res, cur.close())
		}
	}()
	for _, query := range queries {
		iter, err := a.openAccountIterator(query, block, account)
		if err != nil {
			return err
		}
		iterators = append(iterators, iter)
	}

	hashIter := iterators[0].iter
	stateIter := iterators[1].iter
	balanceIter := iterators[2].iter
	nonceIter := iterators[3].iter
	codeIter := iterators[4].iter
	storageIter := iterators[5].iter
	dataIters := []*sqlite.Iterator{stateIter, balanceIter, nonceIter, codeIter, storageIter}

	// Position every data iterator on its first row and determine the first
	// block to be processed.
	next := int64(block) + 1
	for _, iter := range dataIters {
		ok, err := iter.Next()
		if err != nil {
			return err
		}
		if ok && iter.GetInt64(0) < next {
			next = iter.GetInt64(0)
		}
	}

	var hash common.Hash
	last := next - 1
	for next <= int64(block) {
		current := next
		if current <= last {
			// Only possible if primary key constraints are violated.
			return fmt.Errorf("%w: multiple updates for same information in same block found", ErrCorruptedArchive)
		}
		last = current

		// Recreate the account update applied at the current block.
		update := archive.AccountUpdate{}

		if !stateIter.Finished() && stateIter.GetInt64(0) == current {
			if stateIter.GetInt(1) == 0 {
				update.Deleted = true
			} else {
				update.Created = true
			}
			if _, err := stateIter.Next(); err != nil {
				return err
			}
		}

		if !balanceIter.Finished() && balanceIter.GetInt64(0) == current {
			update.HasBalance = true
			update.Balance.SetBytes(balanceIter.GetBytes(1))
			if _, err := balanceIter.Next(); err != nil {
				return err
			}
		}

		if !nonceIter.Finished() && nonceIter.GetInt64(0) == current {
			update.HasNonce = true
			update.Nonce.SetBytes(nonceIter.GetBytes(1))
			if _, err := nonceIter.Next(); err != nil {
				return err
			}
		}

		if !codeIter.Finished() && codeIter.GetInt64(0) == current {
			update.HasCode = true
			update.Code = bytes.Clone(codeIter.GetBytes(1))
			if _, err := codeIter.Next(); err != nil {
				return err
			}
		}

		for !storageIter.Finished() && storageIter.GetInt64(0) == current {
			var slot archive.AccountSlotUpdate
			slot.Key.SetBytes(storageIter.GetBytes(1))
			slot.Value.SetBytes(storageIter.GetBytes(2))
			update.Storage = append(update.Storage, slot)
			if _, err := storageIter.Next(); err != nil {
				return err
			}
		}

		// The update must be covered by a hash entry of the same block.
		ok, err := hashIter.Next()
		if err != nil {
			return err
		}
		if !ok || hashIter.GetInt64(0) != current {
			return fmt.Errorf("%w: archive contains update for block %d but no hash for it", ErrCorruptedArchive, current)
		}

		// Extend the chain and compare it with the stored value.
		diffHash := update.GetHash()
		hash = common.GetSha256Hash(hash[:], diffHash[:])
		var should common.Hash
		should.SetBytes(hashIter.GetBytes(1))
		if hash != should {
			return fmt.Errorf("%w: hash for block %d does not match", ErrCorruptedArchive, current)
		}

		// Find the next block to be processed.
		next = int64(block) + 1
		for _, iter := range dataIters {
			if !iter.Finished() && iter.GetInt64(0) < next {
				next = iter.GetInt64(0)
			}
		}
	}

	// There must be no hash entries beyond the recorded data.
	ok, err := hashIter.Next()
	if err != nil {
		return err
	}
	if ok {
		return fmt.Errorf("%w: archive contains hash for update on block %d but no data", ErrCorruptedArchive, hashIter.GetInt64(0))
	}

	return nil
}

// Flush is a no-op; every Add is committed on completion.
func (a *Archive) Flush() error {
	return nil
}

// Close finalizes all prepared statements and releases the database. Closing
// an already-closed archive has no effect; Add, the getters, and the
// verification fail on a closed archive, while Flush remains a no-op.
func (a *Archive) Close() error {
	var errs []error
	finalize := func(stmt **sqlite.Statement) {
		if *stmt != nil {
			errs = append(errs, (*stmt).Finalize())
			*stmt = nil
		}
	}

	a.mutationLock.Lock()
	finalize(&a.addBlockStmt)
	finalize(&a.createAccountStmt)
	finalize(&a.deleteAccountStmt)
	finalize(&a.addBalanceStmt)
	finalize(&a.addCodeStmt)
	finalize(&a.addNonceStmt)
	finalize(&a.addValueStmt)
	finalize(&a.addAccountHashStmt)
	a.mutationLock.Unlock()

	a.getBlockHeightLock.Lock()
	finalize(&a.getBlockHeightStmt)
	a.getBlockHeightLock.Unlock()

	a.getAccountHashLock.Lock()
	finalize(&a.getAccountHashStmt)
	a.getAccountHashLock.Unlock()

	a.getStatusLock.Lock()
	finalize(&a.getStatusStmt)
	a.getStatusLock.Unlock()

	a.getBalanceLock.Lock()
	finalize(&a.getBalanceStmt)
	a.getBalanceLock.Unlock()

	a.getCodeLock.Lock()
	finalize(&a.getCodeStmt)
	a.getCodeLock.Unlock()

	a.getNonceLock.Lock()
	finalize(&a.getNonceStmt)
	a.getNonceLock.Unlock()

	a.getValueLock.Lock()
	finalize(&a.getValueStmt)
	a.getValueLock.Unlock()

	errs = append(errs, a.db.Close())
	return errors.Join(errs...)
}

// GetMemoryFootprint provides the size of the archive in memory.
func (a *Archive) GetMemoryFootprint() *common.MemoryFootprint {
	res := common.NewMemoryFootprint(unsafe.Sizeof(*a))
	res.AddChild("sqlite", a.db.GetMemoryFootprint())
	return res
}
