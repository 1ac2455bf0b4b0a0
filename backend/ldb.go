package backend

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/opt"

	"github.com/toofooboo/Carmen/common"
)

// TableSpace divides a key-value store into logical tables by prefixing every
// key with a one-byte tag.
type TableSpace byte

const (
	// BlockArchiveKey is a tablespace for the block numbers of the archive
	BlockArchiveKey TableSpace = '1'
	// AccountArchiveKey is a tablespace for archive account states
	AccountArchiveKey TableSpace = '2'
	// BalanceArchiveKey is a tablespace for archive balances
	BalanceArchiveKey TableSpace = '3'
	// CodeArchiveKey is a tablespace for archive codes of contracts
	CodeArchiveKey TableSpace = '4'
	// NonceArchiveKey is a tablespace for archive nonces
	NonceArchiveKey TableSpace = '5'
	// StorageArchiveKey is a tablespace for archive storage slot values
	StorageArchiveKey TableSpace = '6'
	// AccountHashArchiveKey is a tablespace for archive account hashes
	AccountHashArchiveKey TableSpace = '7'
)

// OpenLevelDb opens the LevelDB instance stored in the given directory and
// wraps it into a memory-footprint-reporting handle.
func OpenLevelDb(path string, options *opt.Options) (*LevelDbMemoryFootprintWrapper, error) {
	ldb, err := leveldb.OpenFile(path, options)
	if err != nil {
		return nil, err
	}
	mf := common.NewMemoryFootprint(0)
	mf.AddChild("writeBuffer", common.NewMemoryFootprint(uintptr(options.GetWriteBuffer())))
	return &LevelDbMemoryFootprintWrapper{ldb, mf}, nil
}

// LevelDbMemoryFootprintWrapper is a LevelDB handle extended with a memory
// footprint providing method.
type LevelDbMemoryFootprintWrapper struct {
	*leveldb.DB
	mf *common.MemoryFootprint
}

func (wrapper *LevelDbMemoryFootprintWrapper) GetMemoryFootprint() *common.MemoryFootprint {
	var ldbStats leveldb.DBStats
	if err := wrapper.DB.Stats(&ldbStats); err != nil {
		panic(fmt.Errorf("failed to get LevelDB stats; %w", err))
	}
	wrapper.mf.AddChild("blockCache", common.NewMemoryFootprint(uintptr(ldbStats.BlockCacheSize)))
	return wrapper.mf
}
