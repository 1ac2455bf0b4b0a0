package common

import (
	"math/big"
	"testing"
)

var balanceValuePairs = []struct {
	i *big.Int
	b Balance
}{
	{big.NewInt(0), Balance{}},
	{big.NewInt(1), Balance{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1}},
	{big.NewInt(256), Balance{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0}},
	{big.NewInt(1 << 32), Balance{0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 0, 1, 0, 0, 0, 0}},
	{maxBalance, Balance{255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255, 255}},
}

func TestBigIntToBalanceConversion(t *testing.T) {
	for _, pair := range balanceValuePairs {
		balance, err := ToBalance(pair.i)
		if err != nil {
			t.Errorf("failed to convert %v to balance: %v", pair.i, err)
		}
		if balance != pair.b {
			t.Errorf("incorrect conversion of %v into balance - wanted %v, got %v", pair.i, pair.b, balance)
		}
	}
}

func TestBalanceToBigIntConversion(t *testing.T) {
	for _, pair := range balanceValuePairs {
		if val := pair.b.ToBigInt(); val.Cmp(pair.i) != 0 {
			t.Errorf("incorrect conversion of balance %v - wanted %v, got %v", pair.b, pair.i, val)
		}
	}
}

func TestOutOfRangeValuesCanNotBeConvertedToBalances(t *testing.T) {
	if _, err := ToBalance(big.NewInt(-1)); err == nil {
		t.Errorf("converting negative values should have raised an error")
	}
	tooLarge := (&big.Int{}).Add(maxBalance, one)
	if _, err := ToBalance(tooLarge); err == nil {
		t.Errorf("converting values exceeding the maximum balance should have raised an error")
	}
}

var nonceValuePairs = []struct {
	i uint64
	n Nonce
}{
	{0, Nonce{}},
	{1, Nonce{0, 0, 0, 0, 0, 0, 0, 1}},
	{256, Nonce{0, 0, 0, 0, 0, 0, 1, 0}},
	{1 << 32, Nonce{0, 0, 0, 1, 0, 0, 0, 0}},
	{^uint64(0), Nonce{255, 255, 255, 255, 255, 255, 255, 255}},
}

func TestNonceConversionRoundTrip(t *testing.T) {
	for _, pair := range nonceValuePairs {
		nonce := ToNonce(pair.i)
		if nonce != pair.n {
			t.Errorf("incorrect conversion of %v into nonce - wanted %v, got %v", pair.i, pair.n, nonce)
		}
		if val := nonce.ToUint64(); val != pair.i {
			t.Errorf("incorrect conversion of nonce %v - wanted %v, got %v", pair.n, pair.i, val)
		}
	}
}

func TestSetBytesRoundTrip(t *testing.T) {
	var addr Address
	addr.SetBytes([]byte{0x01, 0x02})
	if addr != (Address{0x01, 0x02}) {
		t.Errorf("unexpected address: %v", addr)
	}
	if got := addr.ToBytes(); len(got) != AddressSize || got[0] != 0x01 {
		t.Errorf("unexpected address bytes: %x", got)
	}

	var key Key
	key.SetBytes(make([]byte, KeySize+5)) // too long inputs are truncated
	if key != (Key{}) {
		t.Errorf("unexpected key: %v", key)
	}

	var value Value
	value.SetBytes([]byte{0xab})
	if value != (Value{0xab}) {
		t.Errorf("unexpected value: %v", value)
	}

	// SetBytes on a dirty target must clear the tail beyond the input.
	nonce := Nonce{1, 2, 3, 4, 5, 6, 7, 8}
	nonce.SetBytes([]byte{0x09})
	if nonce != (Nonce{0x09}) {
		t.Errorf("unexpected nonce: %v", nonce)
	}
}

func TestAddressOrdering(t *testing.T) {
	a := Address{0x01}
	b := Address{0x02}
	if a.Compare(&b) >= 0 || b.Compare(&a) <= 0 || a.Compare(&a) != 0 {
		t.Errorf("unexpected address ordering of %v and %v", a, b)
	}
}

func TestHashFromString(t *testing.T) {
	tests := []struct {
		input  string
		result Hash
	}{
		{"0000000000000000000000000000000000000000000000000000000000000000", Hash{}},
		{"1000000000000000000000000000000000000000000000000000000000000000", Hash{0x10}},
		{"1200000000000000000000000000000000000000000000000000000000000000", Hash{0x12}},
	}

	for _, test := range tests {
		if got, want := HashFromString(test.input), test.result; got != want {
			t.Errorf("failed to parse %s: expected %v, got %v", test.input, want, got)
		}
	}
}
