package crypto

import (
	"encoding/hex"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestBIP32TestVector2 implements spec.md scenario S1: derive
// m/0/2147483647'/1/2147483646'/2 from BIP32 test vector 2's seed and check
// the exported extended private key against the published test vector.
func TestBIP32TestVector2(t *testing.T) {
	seed, err := hex.DecodeString("fffcf9f6f3f0edeae7e4e1dedbd8d5d2cfccc9c6c3c0bdbab7b4b1aeaba8a5a29f9c999693908d8a8784817e7b7875726f6c696663605d5a5754514e4b484542")
	require.NoError(t, err)

	master, err := MasterFromSeed(seed)
	require.NoError(t, err)

	path := []uint32{0, HardenedKeyStart + 2147483647, 1, HardenedKeyStart + 2147483646, 2}

	key := master
	for _, idx := range path {
		key, err = key.Child(idx, true)
		require.NoError(t, err)
	}

	xprv, err := key.String(true)
	require.NoError(t, err)
	require.Equal(t,
		"xprvA2nrNbFZABcdryreWet9Ea4LvTJcGsqrMzxHx98MMrotbir7yrKCEXw7nadnHM8Dq38EGfSh6dqA9QWTyefMLEcBYJUuekgW4BYPJcr9E7j",
		xprv)

	xpub, err := key.String(false)
	require.NoError(t, err)
	require.Equal(t,
		"xpub6FnCn6nSzZAw5Tw7cgR9bi15UV96gLZhjDstkXXxvCLsUXBGXPdSnLFbdpq8p9HmGsApME5hQTZ3emM2rnY5agb9rXpVGyy3bdW6EEgAtqt",
		xpub)
}

func TestChildHardenedRequiresPrivate(t *testing.T) {
	seed := make([]byte, 32)
	for i := range seed {
		seed[i] = byte(i + 1)
	}
	master, err := MasterFromSeed(seed)
	require.NoError(t, err)

	pubOnly, err := master.Child(0, false)
	require.NoError(t, err)
	require.False(t, pubOnly.IsPrivate)

	_, err = pubOnly.Child(HardenedKeyStart, false)
	require.ErrorIs(t, err, ErrHardenedWithoutPrivate)
}
