package ldb

import (
	"encoding/binary"

	"github.com/syndtr/goleveldb/leveldb/util"

	"github.com/toofooboo/Carmen/backend"
	"github.com/toofooboo/Carmen/common"
)

const blockSize = 8                 // block number size (uint64)
const maxBlock = 0xFFFFFFFFFFFFFFFE // highest storable block - must leave room for the range limit
const reincSize = 4                 // reincarnation (uint32)

var limitBlock = []byte{0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF, 0xFF} // range limit, greater than any inverted block

// Block numbers are stored inverted (maxBlock - block) so that a forward
// iterator yields the most recent write of a range first.

// blockKey is a key of the block table, consisting of the tablespace tag and
// the inverted block number.
type blockKey [1 + blockSize]byte

func (k *blockKey) set(block uint64) {
	k[0] = byte(backend.BlockArchiveKey)
	binary.BigEndian.PutUint64(k[1:], maxBlock-block)
}

func (k *blockKey) get() (block uint64) {
	return maxBlock - binary.BigEndian.Uint64(k[1:])
}

// getBlockKeyRangeFrom provides a key range iterating blocks downwards from
// the given block.
func getBlockKeyRangeFrom(block uint64) util.Range {
	var start, end blockKey
	start.set(block)
	end[0] = start[0]
	copy(end[1:], limitBlock)
	return util.Range{Start: start[:], Limit: end[:]}
}

// getBlockKeyRangeFromHighest provides a key range iterating all blocks from
// the highest to the first.
func getBlockKeyRangeFromHighest() util.Range {
	return getBlockKeyRangeFrom(maxBlock)
}

// accountBlockKey is a key of the per-account tables (status, balance, nonce,
// code, account hash), consisting of the tablespace tag, the account address,
// and the inverted block number.
type accountBlockKey [1 + common.AddressSize + blockSize]byte

func (k *accountBlockKey) set(table backend.TableSpace, account common.Address, block uint64) {
	k[0] = byte(table)
	copy(k[1:1+common.AddressSize], account[:])
	binary.BigEndian.PutUint64(k[1+common.AddressSize:], maxBlock-block)
}

func (k *accountBlockKey) get() (account common.Address, block uint64) {
	copy(account[:], k[1:1+common.AddressSize])
	block = maxBlock - binary.BigEndian.Uint64(k[1+common.AddressSize:])
	return account, block
}

// getRange provides a key range iterating the account value downwards from
// the block of this key.
func (k *accountBlockKey) getRange() util.Range {
	end := *k
	copy(end[1+common.AddressSize:], limitBlock)
	return util.Range{Start: k[:], Limit: end[:]}
}

// getTableRange provides a key range covering a whole per-account tablespace,
// ordered by account ascending and block descending within each account.
func getTableRange(table backend.TableSpace) util.Range {
	return util.Range{Start: []byte{byte(table)}, Limit: []byte{byte(table) + 1}}
}

// accountKeyBlockKey is a key of the storage table, consisting of the
// tablespace tag, the account address, the account reincarnation, the slot
// key, and the inverted block number. Tagging slots with the reincarnation
// invalidates the whole account storage on every account create or delete.
type accountKeyBlockKey [1 + common.AddressSize + reincSize + common.KeySize + blockSize]byte

func (k *accountKeyBlockKey) set(table backend.TableSpace, account common.Address, reincarnation int, slot common.Key, block uint64) {
	k[0] = byte(table)
	copy(k[1:1+common.AddressSize], account[:])
	binary.BigEndian.PutUint32(k[1+common.AddressSize:], uint32(reincarnation))
	copy(k[1+common.AddressSize+reincSize:], slot[:])
	binary.BigEndian.PutUint64(k[1+common.AddressSize+reincSize+common.KeySize:], maxBlock-block)
}

// getRange provides a key range iterating the slot value downwards from the
// block of this key.
func (k *accountKeyBlockKey) getRange() util.Range {
	end := *k
	copy(end[1+common.AddressSize+reincSize+common.KeySize:], limitBlock)
	return util.Range{Start: k[:], Limit: end[:]}
}

// accountStatusValue is the value stored for an account status row: the
// existence flag followed by the reincarnation counter.
type accountStatusValue [1 + reincSize]byte

func (v *accountStatusValue) set(exists bool, reincarnation int) {
	if exists {
		v[0] = 1
	} else {
		v[0] = 0
	}
	binary.BigEndian.PutUint32(v[1:], uint32(reincarnation))
}

func (v *accountStatusValue) get() (exists bool, reincarnation int) {
	exists = v[0] != 0
	reincarnation = int(binary.BigEndian.Uint32(v[1:]))
	return exists, reincarnation
}
