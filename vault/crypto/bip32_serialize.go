package crypto

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/base58"
)

// Standard mainnet BIP32 version bytes, per spec §6.
var (
	MainNetPrivateVersion = [4]byte{0x04, 0x88, 0xAD, 0xE4}
	MainNetPublicVersion  = [4]byte{0x04, 0x88, 0xB2, 0x1E}
)

// Serialize produces the standard 78-byte BIP32 payload (before base58check)
// for k, including the private key when includePrivate is true and k
// carries one.
func (k *ExtendedKey) Serialize(privVersion, pubVersion [4]byte, includePrivate bool) ([]byte, error) {
	if includePrivate && !k.IsPrivate {
		return nil, errors.New("crypto: cannot serialize private key: none present")
	}

	buf := make([]byte, 0, 78)
	if includePrivate {
		buf = append(buf, privVersion[:]...)
	} else {
		buf = append(buf, pubVersion[:]...)
	}
	buf = append(buf, k.Depth)

	fp := make([]byte, 4)
	binary.BigEndian.PutUint32(fp, k.ParentFP)
	buf = append(buf, fp...)

	cn := make([]byte, 4)
	binary.BigEndian.PutUint32(cn, k.ChildNum)
	buf = append(buf, cn...)

	buf = append(buf, k.ChainCode[:]...)

	if includePrivate {
		buf = append(buf, 0x00)
		buf = append(buf, k.PrivKey...)
	} else {
		buf = append(buf, k.PubKey...)
	}
	return buf, nil
}

// String returns the base58check-encoded extended key, mainnet versions.
func (k *ExtendedKey) String(includePrivate bool) (string, error) {
	payload, err := k.Serialize(MainNetPrivateVersion, MainNetPublicVersion, includePrivate)
	if err != nil {
		return "", err
	}
	return base58CheckEncode(payload), nil
}

// ParseExtendedKey parses a base58check-encoded BIP32 string back into an
// ExtendedKey, used by importBIP32.
func ParseExtendedKey(s string) (*ExtendedKey, error) {
	payload, err := base58CheckDecode(s)
	if err != nil {
		return nil, err
	}
	if len(payload) != 78 {
		return nil, errors.New("crypto: malformed extended key payload")
	}

	version := [4]byte{payload[0], payload[1], payload[2], payload[3]}
	isPrivate := version == MainNetPrivateVersion

	k := &ExtendedKey{
		Depth:    payload[4],
		ParentFP: binary.BigEndian.Uint32(payload[5:9]),
		ChildNum: binary.BigEndian.Uint32(payload[9:13]),
	}
	copy(k.ChainCode[:], payload[13:45])

	if isPrivate {
		k.PrivKey = append([]byte(nil), payload[46:78]...)
		_, pub := btcec.PrivKeyFromBytes(k.PrivKey)
		k.PubKey = pub.SerializeCompressed()
		k.IsPrivate = true
	} else {
		k.PubKey = append([]byte(nil), payload[45:78]...)
		k.IsPrivate = false
	}
	return k, nil
}

func base58CheckEncode(payload []byte) string {
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	full := append(append([]byte(nil), payload...), second[:4]...)
	return base58.Encode(full)
}

func base58CheckDecode(s string) ([]byte, error) {
	full := base58.Decode(s)
	if len(full) < 5 {
		return nil, errors.New("crypto: base58check string too short")
	}
	payload, checksum := full[:len(full)-4], full[len(full)-4:]
	first := sha256.Sum256(payload)
	second := sha256.Sum256(first[:])
	for i := 0; i < 4; i++ {
		if checksum[i] != second[i] {
			return nil, errors.New("crypto: base58check checksum mismatch")
		}
	}
	return payload, nil
}
