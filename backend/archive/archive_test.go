package archive_test

import (
	"bytes"
	"io"
	"math/big"
	"testing"

	"github.com/toofooboo/Carmen/backend"
	"github.com/toofooboo/Carmen/backend/archive"
	"github.com/toofooboo/Carmen/backend/archive/ldb"
	"github.com/toofooboo/Carmen/backend/archive/sqlite"
	"github.com/toofooboo/Carmen/common"
)

type archiveFactory struct {
	label      string
	getArchive func(tempDir string) archive.Archive
}

func getArchiveFactories(tb testing.TB) []archiveFactory {
	return []archiveFactory{
		{
			label: "SQLite",
			getArchive: func(tempDir string) archive.Archive {
				a, err := sqlite.Open(tempDir)
				if err != nil {
					tb.Fatalf("failed to open SQLite archive; %v", err)
				}
				return a
			},
		},
		{
			label: "LevelDB",
			getArchive: func(tempDir string) archive.Archive {
				db, err := backend.OpenLevelDb(tempDir, nil)
				if err != nil {
					tb.Fatalf("failed to open LevelDB; %v", err)
				}
				a, err := ldb.NewArchive(db)
				if err != nil {
					tb.Fatalf("failed to create archive; %v", err)
				}
				return &ldbArchiveWrapper{a, db}
			},
		},
	}
}

// ldbArchiveWrapper closes the shared LevelDB together with the archive.
type ldbArchiveWrapper struct {
	archive.Archive
	db io.Closer
}

func (w *ldbArchiveWrapper) Close() error {
	if err := w.Archive.Close(); err != nil {
		return err
	}
	return w.db.Close()
}

var (
	addr1 = common.Address{0x01}
)

func balance(value int64) common.Balance {
	res, err := common.ToBalance(big.NewInt(value))
	if err != nil {
		panic(err)
	}
	return res
}

func TestAddGet(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
				Balances: []common.BalanceUpdate{
					{Account: addr1, Balance: balance(0x12)},
				},
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x05}, Value: common.Value{0x47}},
				},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}

			if err := a.Add(5, common.Update{
				Balances: []common.BalanceUpdate{
					{Account: addr1, Balance: balance(0x34)},
				},
				Codes: []common.CodeUpdate{
					{Account: addr1, Code: []byte{0x12, 0x23}},
				},
				Nonces: []common.NonceUpdate{
					{Account: addr1, Nonce: common.ToNonce(0x54)},
				},
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x05}, Value: common.Value{0x89}},
				},
			}); err != nil {
				t.Fatalf("failed to add block 5; %v", err)
			}
			if err := a.Add(7, common.Update{}); err != nil {
				t.Fatalf("failed to add block 7; %v", err)
			}

			if b, err := a.GetBalance(1, addr1); err != nil || b != balance(0x12) {
				t.Errorf("unexpected balance at block 1: %x; %v", b, err)
			}
			if b, err := a.GetBalance(3, addr1); err != nil || b != balance(0x12) {
				t.Errorf("unexpected balance at block 3: %x; %v", b, err)
			}
			if b, err := a.GetBalance(5, addr1); err != nil || b != balance(0x34) {
				t.Errorf("unexpected balance at block 5: %x; %v", b, err)
			}

			if code, err := a.GetCode(3, addr1); err != nil || code != nil {
				t.Errorf("unexpected code at block 3: %x; %v", code, err)
			}
			if code, err := a.GetCode(5, addr1); err != nil || !bytes.Equal(code, []byte{0x12, 0x23}) {
				t.Errorf("unexpected code at block 5: %x; %v", code, err)
			}

			if nonce, err := a.GetNonce(4, addr1); err != nil || nonce != (common.Nonce{}) {
				t.Errorf("unexpected nonce at block 4: %x; %v", nonce, err)
			}
			if nonce, err := a.GetNonce(5, addr1); err != nil || nonce != common.ToNonce(0x54) {
				t.Errorf("unexpected nonce at block 5: %x; %v", nonce, err)
			}

			if value, err := a.GetStorage(0, addr1, common.Key{0x05}); err != nil || value != (common.Value{}) {
				t.Errorf("unexpected value at block 0: %x; %v", value, err)
			}
			if value, err := a.GetStorage(2, addr1, common.Key{0x05}); err != nil || value != (common.Value{0x47}) {
				t.Errorf("unexpected value at block 2: %x; %v", value, err)
			}
			if value, err := a.GetStorage(6, addr1, common.Key{0x05}); err != nil || value != (common.Value{0x89}) {
				t.Errorf("unexpected value at block 6: %x; %v", value, err)
			}

			if lastBlock, err := a.GetLastBlockHeight(); err != nil || lastBlock != 7 {
				t.Errorf("unexpected last block height: %d; %v", lastBlock, err)
			}
		})
	}
}

func TestAccountDeleteCreateClearsStorage(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
				Balances: []common.BalanceUpdate{
					{Account: addr1, Balance: balance(0x12)},
				},
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x05}, Value: common.Value{0x47}},
				},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}

			if err := a.Add(5, common.Update{
				DeletedAccounts: []common.Address{addr1},
			}); err != nil {
				t.Fatalf("failed to add block 5; %v", err)
			}

			if err := a.Add(9, common.Update{
				CreatedAccounts: []common.Address{addr1},
			}); err != nil {
				t.Fatalf("failed to add block 9; %v", err)
			}

			if exists, err := a.Exists(1, addr1); err != nil || !exists {
				t.Errorf("unexpected existence status at block 1: %t; %v", exists, err)
			}
			if exists, err := a.Exists(5, addr1); err != nil || exists {
				t.Errorf("unexpected existence status at block 5: %t; %v", exists, err)
			}
			if exists, err := a.Exists(9, addr1); err != nil || !exists {
				t.Errorf("unexpected existence status at block 9: %t; %v", exists, err)
			}

			// The old storage value is isolated by the reincarnation counter;
			// after the delete and the re-create it reads as zero.
			if value, err := a.GetStorage(1, addr1, common.Key{0x05}); err != nil || value != (common.Value{0x47}) {
				t.Errorf("unexpected value at block 1: %x; %v", value, err)
			}
			if value, err := a.GetStorage(5, addr1, common.Key{0x05}); err != nil || value != (common.Value{}) {
				t.Errorf("unexpected value at block 5: %x; %v", value, err)
			}
			if value, err := a.GetStorage(9, addr1, common.Key{0x05}); err != nil || value != (common.Value{}) {
				t.Errorf("unexpected value at block 9: %x; %v", value, err)
			}
		})
	}
}

func TestAccountStatusOnly(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}
			if err := a.Add(2, common.Update{}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}

			if exists, err := a.Exists(1, addr1); err != nil || !exists {
				t.Errorf("unexpected account status at block 1: %t; %v", exists, err)
			}
			if exists, err := a.Exists(2, addr1); err != nil || !exists {
				t.Errorf("unexpected account status at block 2: %t; %v", exists, err)
			}
		})
	}
}

func TestStorageOnly(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x37}, Value: common.Value{0x12}},
				},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}

			if err := a.Add(2, common.Update{
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x37}, Value: common.Value{0x34}},
				},
			}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}

			if value, err := a.GetStorage(1, addr1, common.Key{0x37}); err != nil || value != (common.Value{0x12}) {
				t.Errorf("unexpected value at block 1: %x; %v", value, err)
			}
			if value, err := a.GetStorage(2, addr1, common.Key{0x37}); err != nil || value != (common.Value{0x34}) {
				t.Errorf("unexpected value at block 2: %x; %v", value, err)
			}
		})
	}
}

func TestPreventingBlockOverrides(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x37}, Value: common.Value{0x12}},
				},
			}); err == nil {
				t.Errorf("allowed overriding already written block 1")
			}

			// The failed insert must not leave any rows behind.
			if value, err := a.GetStorage(1, addr1, common.Key{0x37}); err != nil || value != (common.Value{}) {
				t.Errorf("unexpected value at block 1: %x; %v", value, err)
			}
			if exists, err := a.Exists(1, addr1); err != nil || exists {
				t.Errorf("unexpected account status at block 1: %t; %v", exists, err)
			}
		})
	}
}

func TestPreventingBlockOutOfOrder(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(2, common.Update{
				CreatedAccounts: []common.Address{addr1},
			}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
				Slots: []common.SlotUpdate{
					{Account: addr1, Key: common.Key{0x37}, Value: common.Value{0x12}},
				},
			}); err == nil {
				t.Errorf("allowed inserting block 1 while block 2 already exists")
			}

			if value, err := a.GetStorage(1, addr1, common.Key{0x37}); err != nil || value != (common.Value{}) {
				t.Errorf("unexpected value at block 1: %x; %v", value, err)
			}
		})
	}
}

func TestEmptyBlocksDoNotChangeHash(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			// An empty archive commits to the hash of the empty string.
			emptyHash := common.GetSha256Hash()
			if hash, err := a.GetHash(0); err != nil || hash != emptyHash {
				t.Errorf("unexpected hash of empty archive: %x; %v", hash, err)
			}

			if err := a.Add(0, common.Update{}); err != nil {
				t.Fatalf("failed to add empty block 0; %v", err)
			}
			if err := a.Add(1, common.Update{}); err != nil {
				t.Fatalf("failed to add empty block 1; %v", err)
			}
			if hash, err := a.GetHash(1); err != nil || hash != emptyHash {
				t.Errorf("empty blocks must not change the archive hash: %x; %v", hash, err)
			}

			if err := a.Add(2, common.Update{
				CreatedAccounts: []common.Address{addr1},
			}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}
			if err := a.Add(3, common.Update{}); err != nil {
				t.Fatalf("failed to add empty block 3; %v", err)
			}

			hash2, err := a.GetHash(2)
			if err != nil || hash2 == emptyHash {
				t.Errorf("unexpected hash of block 2: %x; %v", hash2, err)
			}
			hash3, err := a.GetHash(3)
			if err != nil || hash2 != hash3 {
				t.Errorf("unexpected hash of block 3: %x != %x; %v", hash2, hash3, err)
			}
		})
	}
}

func TestArchiveHashIsDerivedFromAccountHashChains(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			addr2 := common.Address{0x02}
			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1, addr2},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}
			if err := a.Add(2, common.Update{
				Balances: []common.BalanceUpdate{
					{Account: addr2, Balance: balance(0x12)},
				},
			}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}

			h1, err := a.GetAccountHash(2, addr1)
			if err != nil {
				t.Fatalf("failed to get account hash; %v", err)
			}
			h2, err := a.GetAccountHash(2, addr2)
			if err != nil {
				t.Fatalf("failed to get account hash; %v", err)
			}

			// The commitment ingests the latest chain values in address order.
			want := common.GetSha256Hash(h1[:], h2[:])
			if got, err := a.GetHash(2); err != nil || got != want {
				t.Errorf("unexpected archive hash: %x, wanted %x; %v", got, want, err)
			}
		})
	}
}

func TestAccountHashChainsFollowCombineRule(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			update1 := common.Update{
				CreatedAccounts: []common.Address{addr1},
				Balances: []common.BalanceUpdate{
					{Account: addr1, Balance: balance(100)},
				},
			}
			update2 := common.Update{
				Nonces: []common.NonceUpdate{
					{Account: addr1, Nonce: common.ToNonce(1)},
				},
			}

			if err := a.Add(1, update1); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}
			if err := a.Add(3, update2); err != nil {
				t.Fatalf("failed to add block 3; %v", err)
			}

			_, updates1 := archive.AccountUpdatesFrom(&update1)
			_, updates2 := archive.AccountUpdatesFrom(&update2)

			var chain common.Hash
			diff1 := updates1[addr1].GetHash()
			chain = common.GetSha256Hash(chain[:], diff1[:])
			if got, err := a.GetAccountHash(1, addr1); err != nil || got != chain {
				t.Errorf("unexpected account hash at block 1: %x, wanted %x; %v", got, chain, err)
			}
			// An untouched block keeps the last chain value.
			if got, err := a.GetAccountHash(2, addr1); err != nil || got != chain {
				t.Errorf("unexpected account hash at block 2: %x, wanted %x; %v", got, chain, err)
			}

			diff2 := updates2[addr1].GetHash()
			chain = common.GetSha256Hash(chain[:], diff2[:])
			if got, err := a.GetAccountHash(3, addr1); err != nil || got != chain {
				t.Errorf("unexpected account hash at block 3: %x, wanted %x; %v", got, chain, err)
			}
		})
	}
}

func TestArchiveHashesAgreeAcrossImplementations(t *testing.T) {
	factories := getArchiveFactories(t)
	updates := []struct {
		block  uint64
		update common.Update
	}{
		{1, common.Update{
			CreatedAccounts: []common.Address{addr1, {0x02}},
			Balances: []common.BalanceUpdate{
				{Account: addr1, Balance: balance(100)},
			},
			Slots: []common.SlotUpdate{
				{Account: addr1, Key: common.Key{0x01}, Value: common.Value{0x02}},
			},
		}},
		{2, common.Update{}},
		{3, common.Update{
			DeletedAccounts: []common.Address{addr1},
			Nonces: []common.NonceUpdate{
				{Account: common.Address{0x02}, Nonce: common.ToNonce(12)},
			},
			Codes: []common.CodeUpdate{
				{Account: common.Address{0x02}, Code: []byte{0x01, 0x02}},
			},
		}},
	}

	hashes := make(map[string]common.Hash)
	for _, factory := range factories {
		a := factory.getArchive(t.TempDir())
		for _, cur := range updates {
			if err := a.Add(cur.block, cur.update); err != nil {
				t.Fatalf("%s: failed to add block %d; %v", factory.label, cur.block, err)
			}
		}
		hash, err := a.GetHash(3)
		if err != nil {
			t.Fatalf("%s: failed to get hash; %v", factory.label, err)
		}
		hashes[factory.label] = hash
		if err := a.Close(); err != nil {
			t.Fatalf("%s: failed to close archive; %v", factory.label, err)
		}
	}

	reference := hashes[factories[0].label]
	for label, hash := range hashes {
		if hash != reference {
			t.Errorf("implementations disagree on the archive hash: %s reports %x, %s reports %x",
				factories[0].label, reference, label, hash)
		}
	}
}

func TestGetCodeHash(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr1},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}
			if err := a.Add(2, common.Update{
				Codes: []common.CodeUpdate{
					{Account: addr1, Code: []byte{0x01, 0x02}},
				},
			}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}

			emptyCodeHash := common.GetKeccak256Hash(nil)
			if hash, err := a.GetCodeHash(1, addr1); err != nil || hash != emptyCodeHash {
				t.Errorf("unexpected code hash at block 1: %x; %v", hash, err)
			}
			if hash, err := a.GetCodeHash(2, addr1); err != nil || hash != common.GetKeccak256Hash([]byte{0x01, 0x02}) {
				t.Errorf("unexpected code hash at block 2: %x; %v", hash, err)
			}
		})
	}
}

func TestGetAccountList(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			addr2 := common.Address{0x02}
			addr3 := common.Address{0x03}

			if err := a.Add(1, common.Update{
				CreatedAccounts: []common.Address{addr3, addr1},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}
			if err := a.Add(2, common.Update{
				CreatedAccounts: []common.Address{addr2},
			}); err != nil {
				t.Fatalf("failed to add block 2; %v", err)
			}

			list, err := a.GetAccountList(1)
			if err != nil {
				t.Fatalf("failed to get account list; %v", err)
			}
			if len(list) != 2 || list[0] != addr1 || list[1] != addr3 {
				t.Errorf("unexpected account list at block 1: %v", list)
			}

			list, err = a.GetAccountList(2)
			if err != nil {
				t.Fatalf("failed to get account list; %v", err)
			}
			if len(list) != 3 || list[0] != addr1 || list[1] != addr2 || list[2] != addr3 {
				t.Errorf("unexpected account list at block 2: %v", list)
			}
		})
	}
}

func TestZeroBlock(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(0, common.Update{
				CreatedAccounts: []common.Address{addr1},
				Balances: []common.BalanceUpdate{
					{Account: addr1, Balance: balance(0x11)},
				},
			}); err != nil {
				t.Fatalf("failed to add block 0; %v", err)
			}
			if err := a.Add(1, common.Update{
				Balances: []common.BalanceUpdate{
					{Account: addr1, Balance: balance(0x12)},
				},
			}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}

			if exists, err := a.Exists(0, addr1); err != nil || !exists {
				t.Errorf("unexpected account status at block 0: %t; %v", exists, err)
			}
			if b, err := a.GetBalance(0, addr1); err != nil || b != balance(0x11) {
				t.Errorf("unexpected balance at block 0: %x; %v", b, err)
			}
			if b, err := a.GetBalance(1, addr1); err != nil || b != balance(0x12) {
				t.Errorf("unexpected balance at block 1: %x; %v", b, err)
			}
		})
	}
}

func TestBlockHeight(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			// Initially, the block height is reported as -1.
			if height, err := a.GetLastBlockHeight(); height != -1 || err != nil {
				t.Fatalf("unexpected block height of empty archive: %d, %v", height, err)
			}

			if err := a.Add(0, common.Update{}); err != nil {
				t.Fatalf("failed to add empty block 0; %v", err)
			}
			if height, err := a.GetLastBlockHeight(); height != 0 || err != nil {
				t.Fatalf("unexpected block height after block 0: %d, %v", height, err)
			}

			if err := a.Add(5, common.Update{CreatedAccounts: []common.Address{addr1}}); err != nil {
				t.Fatalf("failed to add block 5; %v", err)
			}
			if height, err := a.GetLastBlockHeight(); height != 5 || err != nil {
				t.Fatalf("unexpected block height after block 5: %d, %v", height, err)
			}
		})
	}
}

func TestMemoryFootprintIsProvided(t *testing.T) {
	for _, factory := range getArchiveFactories(t) {
		t.Run(factory.label, func(t *testing.T) {
			a := factory.getArchive(t.TempDir())
			defer a.Close()

			if err := a.Add(1, common.Update{CreatedAccounts: []common.Address{addr1}}); err != nil {
				t.Fatalf("failed to add block 1; %v", err)
			}
			if footprint := a.GetMemoryFootprint(); footprint == nil || footprint.Total() == 0 {
				t.Errorf("expected a non-empty memory footprint, got %v", footprint)
			}
		})
	}
}
