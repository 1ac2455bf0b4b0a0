package common

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math/big"
)

type Serializable interface {
	ToBytes() []byte
	SetBytes([]byte) bool
	Size() int // size in bytes when serialized
}

type Identifier interface {
	uint64 | uint32
}

const (
	AddressSize = 20
	KeySize     = 32
	ValueSize   = 32
	BalanceSize = 16
	NonceSize   = 8
	HashSize    = 32
)

// Address is a 20-byte account identifier.
type Address [AddressSize]byte

// Key is a 32-byte storage slot selector.
type Key [KeySize]byte

// Value is a 32-byte storage slot value; the zero value marks an absent slot.
type Value [ValueSize]byte

// Balance is a 16-byte account balance with big-endian integer semantics.
type Balance [BalanceSize]byte

// Nonce is an 8-byte account nonce with big-endian integer semantics.
type Nonce [NonceSize]byte

// Hash is a 32-byte hash value.
type Hash [HashSize]byte

func (a *Address) Compare(b *Address) int {
	return bytes.Compare(a[:], b[:])
}

func (a *Address) SetBytes(b []byte) {
	copyPadded(a[:], b)
}

func (a Address) ToBytes() []byte {
	return a[:]
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", a[:])
}

func (k *Key) Compare(b *Key) int {
	return bytes.Compare(k[:], b[:])
}

func (k *Key) SetBytes(b []byte) {
	copyPadded(k[:], b)
}

func (k Key) ToBytes() []byte {
	return k[:]
}

func (k Key) String() string {
	return fmt.Sprintf("0x%x", k[:])
}

func (v *Value) SetBytes(b []byte) {
	copyPadded(v[:], b)
}

func (v Value) ToBytes() []byte {
	return v[:]
}

func (v Value) String() string {
	return fmt.Sprintf("0x%x", v[:])
}

var (
	one        = big.NewInt(1)
	maxBalance = getMaxBalance()
)

func getMaxBalance() *big.Int {
	res := big.NewInt(1)
	res.Lsh(res, uint(BalanceSize*8))
	res.Sub(res, one)
	return res
}

// ToBalance converts the provided non-negative integer into a Balance. An
// error is produced for values outside the representable range.
func ToBalance(value *big.Int) (res Balance, err error) {
	if value.Sign() < 0 {
		return res, fmt.Errorf("cannot convert negative numbers to balances: %v", value)
	}
	if value.Cmp(maxBalance) > 0 {
		return res, fmt.Errorf("value exceeds maximum balance: %v > %v", value, maxBalance)
	}
	value.FillBytes(res[:])
	return res, nil
}

func (b *Balance) ToBigInt() *big.Int {
	return (&big.Int{}).SetBytes(b[:])
}

func (b *Balance) SetBytes(data []byte) {
	copyPadded(b[:], data)
}

func (b Balance) ToBytes() []byte {
	return b[:]
}

// ToNonce encodes the given value as a big-endian Nonce.
func ToNonce(value uint64) (n Nonce) {
	binary.BigEndian.PutUint64(n[:], value)
	return n
}

func (n *Nonce) ToUint64() uint64 {
	return binary.BigEndian.Uint64(n[:])
}

func (n *Nonce) SetBytes(data []byte) {
	copyPadded(n[:], data)
}

func (n Nonce) ToBytes() []byte {
	return n[:]
}

func (h *Hash) Compare(b *Hash) int {
	return bytes.Compare(h[:], b[:])
}

func (h *Hash) SetBytes(b []byte) {
	copyPadded(h[:], b)
}

func (h Hash) ToBytes() []byte {
	return h[:]
}

func (h Hash) String() string {
	return fmt.Sprintf("0x%x", h[:])
}

// HashFromString decodes a hex string into a Hash. Only the characters that
// form valid hex pairs are consumed; the remainder of the hash stays zero.
func HashFromString(s string) (h Hash) {
	data, _ := hex.DecodeString(s)
	copy(h[:], data)
	return h
}

// copyPadded fills dst from src, zero-filling the tail if src is shorter.
func copyPadded(dst, src []byte) {
	n := copy(dst, src)
	for ; n < len(dst); n++ {
		dst[n] = 0
	}
}
