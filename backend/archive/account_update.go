package archive

import (
	"encoding/binary"

	"slices"

	"github.com/toofooboo/Carmen/common"
)

// AccountUpdate combines the changes applied to a single account in one
// block. It is the diff unit of the per-account hash chains: every touched
// account contributes the hash of its AccountUpdate to its chain.
type AccountUpdate struct {
	Created    bool
	Deleted    bool
	HasBalance bool
	Balance    common.Balance
	HasNonce   bool
	Nonce      common.Nonce
	HasCode    bool
	Code       []byte
	Storage    []AccountSlotUpdate
}

type AccountSlotUpdate struct {
	Key   common.Key
	Value common.Value
}

// AccountUpdatesFrom partitions a block update by account. It returns the
// sorted list of touched addresses and the per-account projection; every
// touched account appears exactly once.
func AccountUpdatesFrom(update *common.Update) ([]common.Address, map[common.Address]*AccountUpdate) {
	res := make(map[common.Address]*AccountUpdate)

	get := func(address common.Address) *AccountUpdate {
		au, exists := res[address]
		if !exists {
			au = new(AccountUpdate)
			res[address] = au
		}
		return au
	}

	for _, address := range update.CreatedAccounts {
		get(address).Created = true
	}
	for _, address := range update.DeletedAccounts {
		get(address).Deleted = true
	}
	for _, cur := range update.Balances {
		au := get(cur.Account)
		au.HasBalance = true
		au.Balance = cur.Balance
	}
	for _, cur := range update.Nonces {
		au := get(cur.Account)
		au.HasNonce = true
		au.Nonce = cur.Nonce
	}
	for _, cur := range update.Codes {
		au := get(cur.Account)
		au.HasCode = true
		au.Code = cur.Code
	}
	for _, cur := range update.Slots {
		au := get(cur.Account)
		au.Storage = append(au.Storage, AccountSlotUpdate{
			Key:   cur.Key,
			Value: cur.Value,
		})
	}

	accounts := make([]common.Address, 0, len(res))
	for account := range res {
		accounts = append(accounts, account)
	}
	slices.SortFunc(accounts, func(a, b common.Address) int { return a.Compare(&b) })

	return accounts, res
}

// Tags of the account lifecycle byte leading the canonical encoding.
const (
	statusUnchanged byte = 0
	statusCreated   byte = 1
	statusDeleted   byte = 2
)

// Markers preceding each optional field of the canonical encoding.
const (
	fieldAbsent  byte = 0
	fieldPresent byte = 1
)

// GetHash computes the hash of this update over its canonical byte encoding:
// the lifecycle tag, the optional balance, nonce, and code each preceded by a
// presence marker (the code additionally by its 4-byte big-endian length),
// and the storage writes in their recorded order as key/value pairs.
func (au *AccountUpdate) GetHash() common.Hash {
	hasher := common.NewSha256Hasher()

	status := statusUnchanged
	if au.Created {
		status = statusCreated
	}
	if au.Deleted {
		status = statusDeleted
	}
	hasher.Ingest([]byte{status})

	if au.HasBalance {
		hasher.Ingest([]byte{fieldPresent}, au.Balance[:])
	} else {
		hasher.Ingest([]byte{fieldAbsent})
	}

	if au.HasNonce {
		hasher.Ingest([]byte{fieldPresent}, au.Nonce[:])
	} else {
		hasher.Ingest([]byte{fieldAbsent})
	}

	if au.HasCode {
		var size [4]byte
		binary.BigEndian.PutUint32(size[:], uint32(len(au.Code)))
		hasher.Ingest([]byte{fieldPresent}, size[:], au.Code)
	} else {
		hasher.Ingest([]byte{fieldAbsent})
	}

	for _, slot := range au.Storage {
		hasher.Ingest(slot.Key[:], slot.Value[:])
	}

	return hasher.GetHash()
}
