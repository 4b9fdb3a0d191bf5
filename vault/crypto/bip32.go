// Package crypto implements the vault's primitive cryptographic operations:
// BIP32 HD derivation and serialization, Hash160, and the AES-CBC passphrase
// encryption used to protect private key and seed material at rest.
//
// None of these primitives are re-specified here beyond standard semantics;
// this package is the adapter between btcec/base58/golang.org/x/crypto
// and the vault's Keychain model.
package crypto

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/sha512"
	"encoding/binary"
	"errors"

	"github.com/btcsuite/btcd/btcec/v2"
	"golang.org/x/crypto/ripemd160"
)

// HardenedKeyStart is the index at which hardened derivation begins; any
// child number at or above this value is a hardened derivation step.
const HardenedKeyStart = uint32(1 << 31)

// ErrHardenedWithoutPrivate is returned when a hardened child is requested
// from a node that does not carry a private key.
var ErrHardenedWithoutPrivate = errors.New("crypto: cannot derive a hardened child without the parent private key")

// ExtendedKey is a BIP32 HD node: public material (ChainCode, PubKey) plus
// an optional private scalar. It has no notion of encryption, lock state,
// name or persistence -- those live on vault.Keychain, which wraps one.
type ExtendedKey struct {
	Depth     uint8
	ParentFP  uint32
	ChildNum  uint32
	ChainCode [32]byte
	PubKey    []byte // 33-byte compressed
	PrivKey   []byte // 32-byte scalar, nil if public-only
	IsPrivate bool
}

// MasterFromSeed derives the BIP32 master node from raw seed entropy via
// HMAC-SHA512("Bitcoin seed", entropy), per spec §4.1 newKeychain.
func MasterFromSeed(seed []byte) (*ExtendedKey, error) {
	if len(seed) < 16 {
		return nil, errors.New("crypto: seed must be at least 128 bits")
	}

	mac := hmac.New(sha512.New, []byte("Bitcoin seed"))
	mac.Write(seed)
	sum := mac.Sum(nil)

	il, ir := sum[:32], sum[32:]

	priv, pub := btcec.PrivKeyFromBytes(il)
	if priv == nil {
		return nil, errors.New("crypto: invalid master key derived from seed")
	}

	key := &ExtendedKey{
		Depth:     0,
		ParentFP:  0,
		ChildNum:  0,
		PubKey:    pub.SerializeCompressed(),
		PrivKey:   il,
		IsPrivate: true,
	}
	copy(key.ChainCode[:], ir)
	return key, nil
}

// fingerprint returns the first 4 bytes of HASH160(pubkey), used as the
// ParentFP of a derived child.
func fingerprint(pubKey []byte) uint32 {
	h := Hash160(pubKey)
	return binary.BigEndian.Uint32(h[:4])
}

// Child derives the child at index i. wantPrivate requests private
// derivation; hardened steps (i >= HardenedKeyStart) require the receiver to
// already carry a private key regardless of wantPrivate, matching spec
// §4.1's "hardened public-only derivation is forbidden" invariant.
func (k *ExtendedKey) Child(i uint32, wantPrivate bool) (*ExtendedKey, error) {
	hardened := i >= HardenedKeyStart
	if hardened && !k.IsPrivate {
		return nil, ErrHardenedWithoutPrivate
	}
	if wantPrivate && !k.IsPrivate {
		return nil, errors.New("crypto: cannot derive a private child from a public-only node")
	}

	var data []byte
	if hardened {
		data = make([]byte, 0, 37)
		data = append(data, 0x00)
		data = append(data, k.PrivKey...)
	} else {
		data = append(data, k.PubKey...)
	}
	idxBytes := make([]byte, 4)
	binary.BigEndian.PutUint32(idxBytes, i)
	data = append(data, idxBytes...)

	mac := hmac.New(sha512.New, k.ChainCode[:])
	mac.Write(data)
	sum := mac.Sum(nil)
	il, ir := sum[:32], sum[32:]

	child := &ExtendedKey{
		Depth:    k.Depth + 1,
		ParentFP: fingerprint(k.PubKey),
		ChildNum: i,
	}
	copy(child.ChainCode[:], ir)

	if k.IsPrivate {
		childPriv, err := addPrivateKeys(k.PrivKey, il)
		if err != nil {
			return nil, err
		}
		_, pub := btcec.PrivKeyFromBytes(childPriv)
		child.PrivKey = childPriv
		child.PubKey = pub.SerializeCompressed()
		child.IsPrivate = true

		if !wantPrivate {
			child.PrivKey = nil
			child.IsPrivate = false
		}
		return child, nil
	}

	childPub, err := addPublicKeys(k.PubKey, il)
	if err != nil {
		return nil, err
	}
	child.PubKey = childPub
	child.IsPrivate = false
	return child, nil
}

func addPrivateKeys(parentKey, il []byte) ([]byte, error) {
	var ilScalar, keyScalar btcec.ModNScalar
	if overflow := ilScalar.SetByteSlice(il); overflow {
		return nil, errors.New("crypto: invalid tweak, derive next index")
	}
	keyScalar.SetByteSlice(parentKey)
	keyScalar.Add(&ilScalar)
	if keyScalar.IsZero() {
		return nil, errors.New("crypto: invalid derived key is zero")
	}
	out := keyScalar.Bytes()
	return out[:], nil
}

func addPublicKeys(parentPub, il []byte) ([]byte, error) {
	var ilScalar btcec.ModNScalar
	if overflow := ilScalar.SetByteSlice(il); overflow {
		return nil, errors.New("crypto: invalid tweak, derive next index")
	}

	ilPoint := new(btcec.JacobianPoint)
	var ilPrivFieldBytes [32]byte
	ilBytes := ilScalar.Bytes()
	copy(ilPrivFieldBytes[:], ilBytes[:])
	btcec.ScalarBaseMultNonConst(&ilScalar, ilPoint)

	parentPt, err := btcec.ParsePubKey(parentPub)
	if err != nil {
		return nil, err
	}
	var parentJ btcec.JacobianPoint
	parentPt.AsJacobian(&parentJ)

	var result btcec.JacobianPoint
	btcec.AddNonConst(ilPoint, &parentJ, &result)
	result.ToAffine()

	childPub := btcec.NewPublicKey(&result.X, &result.Y)
	return childPub.SerializeCompressed(), nil
}

// Hash160 computes RIPEMD160(SHA256(data)), the identity-hash primitive
// used throughout the data model (Keychain.Hash, Account.Hash, the P2SH
// payee hash, ...).
func Hash160(data []byte) [20]byte {
	sha := sha256.Sum256(data)
	r := ripemd160.New()
	r.Write(sha[:])
	var out [20]byte
	copy(out[:], r.Sum(nil))
	return out
}
