package common

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"slices"
)

//go:generate mockgen -source update.go -destination update_mocks.go -package common

// Update summarizes the effective changes to the account state at the end of
// a block. It combines account lifecycle events (created or deleted),
// balance, nonce, and code updates, and storage slot writes.
//
// An example use of an update would look like this:
//
//	// Create an update.
//	update := Update{}
//	// Fill in changes.
//	update.AppendCreateAccount(..)
//	update.AppendBalanceUpdate(..)
//	...
//	// Optionally, check that the provided data is valid (sorted and unique).
//	err := update.Check()
//
// Valid instances can then be appended to an archive as a block update.
type Update struct {
	DeletedAccounts []Address
	CreatedAccounts []Address
	Balances        []BalanceUpdate
	Nonces          []NonceUpdate
	Codes           []CodeUpdate
	Slots           []SlotUpdate
}

type BalanceUpdate struct {
	Account Address
	Balance Balance
}

type NonceUpdate struct {
	Account Address
	Nonce   Nonce
}

type CodeUpdate struct {
	Account Address
	Code    []byte
}

type SlotUpdate struct {
	Account Address
	Key     Key
	Value   Value
}

// IsEmpty is true if there is no change covered by this update.
func (u *Update) IsEmpty() bool {
	return len(u.DeletedAccounts) == 0 &&
		len(u.CreatedAccounts) == 0 &&
		len(u.Balances) == 0 &&
		len(u.Nonces) == 0 &&
		len(u.Codes) == 0 &&
		len(u.Slots) == 0
}

// AppendDeleteAccount registers an account to be deleted in this block.
// Deletes are the first change applied in a block, clearing the account's
// storage before any create or value update of the same block takes effect.
func (u *Update) AppendDeleteAccount(addr Address) {
	u.DeletedAccounts = append(u.DeletedAccounts, addr)
}

// AppendCreateAccount registers a new account to be created in this block,
// after the deletes of the same block have been applied.
func (u *Update) AppendCreateAccount(addr Address) {
	u.CreatedAccounts = append(u.CreatedAccounts, addr)
}

// AppendBalanceUpdate registers a balance update to be conducted.
func (u *Update) AppendBalanceUpdate(addr Address, balance Balance) {
	u.Balances = append(u.Balances, BalanceUpdate{addr, balance})
}

// AppendNonceUpdate registers a nonce update to be conducted.
func (u *Update) AppendNonceUpdate(addr Address, nonce Nonce) {
	u.Nonces = append(u.Nonces, NonceUpdate{addr, nonce})
}

// AppendCodeUpdate registers a code update to be conducted.
func (u *Update) AppendCodeUpdate(addr Address, code []byte) {
	u.Codes = append(u.Codes, CodeUpdate{addr, code})
}

// AppendSlotUpdate registers a slot value update to be conducted.
func (u *Update) AppendSlotUpdate(addr Address, key Key, value Value) {
	u.Slots = append(u.Slots, SlotUpdate{addr, key, value})
}

// Normalize sorts all changes and removes duplicates.
func (u *Update) Normalize() error {
	u.DeletedAccounts = sortUnique(u.DeletedAccounts, compareAccounts, equalValues[Address])
	u.CreatedAccounts = sortUnique(u.CreatedAccounts, compareAccounts, equalValues[Address])
	u.Balances = sortUnique(u.Balances, compareBalanceUpdates, equalValues[BalanceUpdate])
	u.Nonces = sortUnique(u.Nonces, compareNonceUpdates, equalValues[NonceUpdate])
	u.Codes = sortUnique(u.Codes, compareCodeUpdates, equalCodeUpdates)
	u.Slots = sortUnique(u.Slots, compareSlotUpdates, equalValues[SlotUpdate])
	return u.Check()
}

// Check verifies that all changes are unique and in order, and that no
// account is both created and deleted within the update.
func (u *Update) Check() error {
	if !isSortedAndUnique(u.DeletedAccounts, compareAccounts) {
		return fmt.Errorf("deleted accounts are not in order or unique")
	}
	if !isSortedAndUnique(u.CreatedAccounts, compareAccounts) {
		return fmt.Errorf("created accounts are not in order or unique")
	}
	if !isSortedAndUnique(u.Balances, compareBalanceUpdates) {
		return fmt.Errorf("balance updates are not in order or unique")
	}
	if !isSortedAndUnique(u.Nonces, compareNonceUpdates) {
		return fmt.Errorf("nonce updates are not in order or unique")
	}
	if !isSortedAndUnique(u.Codes, compareCodeUpdates) {
		return fmt.Errorf("code updates are not in order or unique")
	}
	if !isSortedAndUnique(u.Slots, compareSlotUpdates) {
		return fmt.Errorf("storage updates are not in order or unique")
	}

	for i, j := 0, 0; i < len(u.CreatedAccounts) && j < len(u.DeletedAccounts); {
		cmp := u.CreatedAccounts[i].Compare(&u.DeletedAccounts[j])
		if cmp == 0 {
			return fmt.Errorf("unable to create and delete same address in update: %v", u.CreatedAccounts[i])
		}
		if cmp < 0 {
			i++
		} else {
			j++
		}
	}
	return nil
}

// ApplyTo applies this update to the provided target in a standardized
// order: delete accounts, create accounts, set balances, set nonces,
// set codes, and set storage values.
func (u *Update) ApplyTo(s UpdateTarget) error {
	for _, addr := range u.DeletedAccounts {
		if err := s.DeleteAccount(addr); err != nil {
			return err
		}
	}
	for _, addr := range u.CreatedAccounts {
		if err := s.CreateAccount(addr); err != nil {
			return err
		}
	}
	for _, change := range u.Balances {
		if err := s.SetBalance(change.Account, change.Balance); err != nil {
			return err
		}
	}
	for _, change := range u.Nonces {
		if err := s.SetNonce(change.Account, change.Nonce); err != nil {
			return err
		}
	}
	for _, change := range u.Codes {
		if err := s.SetCode(change.Account, change.Code); err != nil {
			return err
		}
	}
	for _, change := range u.Slots {
		if err := s.SetStorage(change.Account, change.Key, change.Value); err != nil {
			return err
		}
	}
	return nil
}

// UpdateTarget is any state implementation offering individual mutation
// operations; ApplyTo forwards an update to such a target in the canonical
// order.
type UpdateTarget interface {
	// CreateAccount creates a new account with the given address.
	CreateAccount(address Address) error

	// DeleteAccount deletes the account with the given address.
	DeleteAccount(address Address) error

	// SetBalance sets the balance of the given account.
	SetBalance(address Address, balance Balance) error

	// SetNonce sets the nonce of the given account.
	SetNonce(address Address, nonce Nonce) error

	// SetStorage sets the value of the given storage slot.
	SetStorage(address Address, key Key, value Value) error

	// SetCode sets the code of the given account.
	SetCode(address Address, code []byte) error
}

const updateEncodingVersion byte = 0

// ToBytes serializes this update into a flat byte string suitable for
// persisting or replaying block diffs.
func (u *Update) ToBytes() []byte {
	size := 1 + 6*4 // version + sizes
	size += len(u.DeletedAccounts) * AddressSize
	size += len(u.CreatedAccounts) * AddressSize
	size += len(u.Balances) * (AddressSize + BalanceSize)
	size += len(u.Nonces) * (AddressSize + NonceSize)
	size += len(u.Slots) * (AddressSize + KeySize + ValueSize)
	for _, cur := range u.Codes {
		size += AddressSize + 2 + len(cur.Code)
	}

	res := make([]byte, 0, size)
	res = append(res, updateEncodingVersion)
	res = binary.BigEndian.AppendUint32(res, uint32(len(u.DeletedAccounts)))
	res = binary.BigEndian.AppendUint32(res, uint32(len(u.CreatedAccounts)))
	res = binary.BigEndian.AppendUint32(res, uint32(len(u.Balances)))
	res = binary.BigEndian.AppendUint32(res, uint32(len(u.Codes)))
	res = binary.BigEndian.AppendUint32(res, uint32(len(u.Nonces)))
	res = binary.BigEndian.AppendUint32(res, uint32(len(u.Slots)))

	for _, addr := range u.DeletedAccounts {
		res = append(res, addr[:]...)
	}
	for _, addr := range u.CreatedAccounts {
		res = append(res, addr[:]...)
	}
	for _, cur := range u.Balances {
		res = append(res, cur.Account[:]...)
		res = append(res, cur.Balance[:]...)
	}
	for _, cur := range u.Codes {
		res = append(res, cur.Account[:]...)
		res = binary.BigEndian.AppendUint16(res, uint16(len(cur.Code)))
		res = append(res, cur.Code...)
	}
	for _, cur := range u.Nonces {
		res = append(res, cur.Account[:]...)
		res = append(res, cur.Nonce[:]...)
	}
	for _, cur := range u.Slots {
		res = append(res, cur.Account[:]...)
		res = append(res, cur.Key[:]...)
		res = append(res, cur.Value[:]...)
	}
	return res
}

// UpdateFromBytes restores an update from its ToBytes encoding.
func UpdateFromBytes(data []byte) (Update, error) {
	if len(data) < 1+6*4 {
		return Update{}, fmt.Errorf("invalid encoding, too few bytes")
	}
	if data[0] != updateEncodingVersion {
		return Update{}, fmt.Errorf("unknown encoding version: %d", data[0])
	}

	data = data[1:]
	numDeleted := binary.BigEndian.Uint32(data[0:])
	numCreated := binary.BigEndian.Uint32(data[4:])
	numBalances := binary.BigEndian.Uint32(data[8:])
	numCodes := binary.BigEndian.Uint32(data[12:])
	numNonces := binary.BigEndian.Uint32(data[16:])
	numSlots := binary.BigEndian.Uint32(data[20:])
	data = data[24:]

	res := Update{}

	readAddresses := func(count uint32) ([]Address, error) {
		if count == 0 {
			return nil, nil
		}
		if len(data) < int(count)*AddressSize {
			return nil, fmt.Errorf("invalid encoding, truncated address list")
		}
		list := make([]Address, count)
		for i := range list {
			copy(list[i][:], data)
			data = data[AddressSize:]
		}
		return list, nil
	}

	var err error
	if res.DeletedAccounts, err = readAddresses(numDeleted); err != nil {
		return res, err
	}
	if res.CreatedAccounts, err = readAddresses(numCreated); err != nil {
		return res, err
	}

	if numBalances > 0 {
		if len(data) < int(numBalances)*(AddressSize+BalanceSize) {
			return res, fmt.Errorf("invalid encoding, balance list truncated")
		}
		res.Balances = make([]BalanceUpdate, numBalances)
		for i := range res.Balances {
			copy(res.Balances[i].Account[:], data)
			data = data[AddressSize:]
			copy(res.Balances[i].Balance[:], data)
			data = data[BalanceSize:]
		}
	}

	if numCodes > 0 {
		res.Codes = make([]CodeUpdate, numCodes)
		for i := range res.Codes {
			if len(data) < AddressSize+2 {
				return res, fmt.Errorf("invalid encoding, truncated code list")
			}
			copy(res.Codes[i].Account[:], data)
			data = data[AddressSize:]
			codeLength := binary.BigEndian.Uint16(data)
			data = data[2:]
			if len(data) < int(codeLength) {
				return res, fmt.Errorf("invalid encoding, truncated code")
			}
			res.Codes[i].Code = bytes.Clone(data[:codeLength])
			data = data[codeLength:]
		}
	}

	if numNonces > 0 {
		if len(data) < int(numNonces)*(AddressSize+NonceSize) {
			return res, fmt.Errorf("invalid encoding, nonce list truncated")
		}
		res.Nonces = make([]NonceUpdate, numNonces)
		for i := range res.Nonces {
			copy(res.Nonces[i].Account[:], data)
			data = data[AddressSize:]
			copy(res.Nonces[i].Nonce[:], data)
			data = data[NonceSize:]
		}
	}

	if numSlots > 0 {
		if len(data) < int(numSlots)*(AddressSize+KeySize+ValueSize) {
			return res, fmt.Errorf("invalid encoding, slot list truncated")
		}
		res.Slots = make([]SlotUpdate, numSlots)
		for i := range res.Slots {
			copy(res.Slots[i].Account[:], data)
			data = data[AddressSize:]
			copy(res.Slots[i].Key[:], data)
			data = data[KeySize:]
			copy(res.Slots[i].Value[:], data)
			data = data[ValueSize:]
		}
	}

	return res, nil
}

func compareAccounts(a, b *Address) int {
	return a.Compare(b)
}

func compareBalanceUpdates(a, b *BalanceUpdate) int {
	return a.Account.Compare(&b.Account)
}

func compareNonceUpdates(a, b *NonceUpdate) int {
	return a.Account.Compare(&b.Account)
}

func compareCodeUpdates(a, b *CodeUpdate) int {
	return a.Account.Compare(&b.Account)
}

func compareSlotUpdates(a, b *SlotUpdate) int {
	if cmp := a.Account.Compare(&b.Account); cmp != 0 {
		return cmp
	}
	return a.Key.Compare(&b.Key)
}

func equalValues[T comparable](a, b *T) bool {
	return *a == *b
}

func equalCodeUpdates(a, b *CodeUpdate) bool {
	return a.Account == b.Account && bytes.Equal(a.Code, b.Code)
}

func isSortedAndUnique[T any](list []T, compare func(a, b *T) int) bool {
	for i := 0; i < len(list)-1; i++ {
		if compare(&list[i], &list[i+1]) >= 0 {
			return false
		}
	}
	return true
}

// sortUnique sorts the input and removes duplicates. Sorting and equality are
// provided separately; a balance update, for instance, is ordered by account
// only while duplicates must match in both account and balance.
func sortUnique[T any](list []T, compare func(a, b *T) int, equal func(a, b *T) bool) []T {
	if len(list) <= 1 {
		return list
	}
	slices.SortFunc(list, func(a, b T) int { return compare(&a, &b) })
	j := 0
	for i := 1; i < len(list); i++ {
		if !equal(&list[j], &list[i]) {
			j++
			list[j] = list[i]
		}
	}
	return list[:j+1]
}
