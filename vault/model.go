package vault

import (
	"sort"
	"strings"
	"time"

	vcrypto "github.com/sigvault/vault/vault/crypto"
)

// Keychain is an HD node with optional encrypted private/seed material, per
// spec §3. Ciphertext fields are empty when the keychain holds no private
// material at all; Salt is 0 when cleartext, non-zero when AES-encrypted.
type Keychain struct {
	ID       int64
	Name     string
	Depth    uint8
	ParentFP uint32
	ChildNum uint32
	ChainCode [32]byte
	PubKey   []byte

	PrivCiphertext []byte
	PrivSalt       uint64

	SeedCiphertext []byte
	SeedSalt       uint64
	// HasSeed disambiguates "seed never supplied" from "cleartext seed
	// with salt 0", resolving spec §9's Open Question #2.
	HasSeed bool

	// DerivationPath is the sequence of 32-bit child indices from the
	// root master to this node; the high bit of each index marks a
	// hardened step.
	DerivationPath []uint32

	ParentKeychainID int64 // 0 if this is a root/imported keychain
	Hidden           bool
}

// Hash is the keychain identity: RIPEMD160(SHA256(pubkey || chain_code)).
func (k *Keychain) Hash() [20]byte {
	data := make([]byte, 0, len(k.PubKey)+32)
	data = append(data, k.PubKey...)
	data = append(data, k.ChainCode[:]...)
	return vcrypto.Hash160(data)
}

// IsPrivate reports whether this keychain holds private ciphertext at all.
func (k *Keychain) IsPrivate() bool { return len(k.PrivCiphertext) > 0 }

// IsEncrypted reports whether the private ciphertext is AES-encrypted
// (salt != 0) as opposed to stored cleartext (salt == 0).
func (k *Keychain) IsEncrypted() bool { return k.PrivSalt != 0 }

// ValidName rejects the empty string and any name starting with '@', which
// is reserved for system bin names like "@change"/"@default".
func ValidName(name string) bool {
	return name != "" && !strings.HasPrefix(name, "@")
}

// Key is a materialized signing key at (root keychain, derivation path,
// index). RootIsPrivate mirrors whether its root keychain holds private
// material.
type Key struct {
	ID              int64
	RootKeychainID  int64
	DerivationPath  []uint32
	Index           uint32
	PubKey          []byte
	RootIsPrivate   bool
}

// Reserved account bin indices, per spec §3.
const (
	BinIndexReserved = 0
	BinIndexChange   = 1
	BinIndexDefault  = 2
)

const (
	BinNameChange  = "@change"
	BinNameDefault = "@default"
)

// Account is a named M-of-N multisig group over a set of keychains.
type Account struct {
	ID               int64
	Name             string
	MinSigs          int
	KeychainIDs      []int64 // unique, order irrelevant for hashing
	UnusedPoolSize   uint32
	CompressedKeys   bool
	UseWitness       bool
	UseWitnessP2SH   bool
	TimeCreated      time.Time
}

const DefaultUnusedPoolSize = 25

// flagsByte encodes Account's witness configuration the way spec §3 defines
// the Account hash's trailing flags byte: 0x00 uncompressed legacy, 0x01
// witness, 0x03 witness + p2sh-wrap.
func (a *Account) flagsByte() byte {
	if !a.UseWitness {
		return 0x00
	}
	if a.UseWitnessP2SH {
		return 0x03
	}
	return 0x01
}

// Hash is RIPEMD160(SHA256(minsigs || sorted(keychain hashes) || flags)).
// keychainHashes maps a keychain ID to its Keychain.Hash() value; the
// caller supplies it since Account itself only stores IDs.
func (a *Account) Hash(keychainHashes map[int64][20]byte) [20]byte {
	hashes := make([][20]byte, 0, len(a.KeychainIDs))
	for _, id := range a.KeychainIDs {
		hashes = append(hashes, keychainHashes[id])
	}
	sort.Slice(hashes, func(i, j int) bool {
		for b := 0; b < 20; b++ {
			if hashes[i][b] != hashes[j][b] {
				return hashes[i][b] < hashes[j][b]
			}
		}
		return false
	})

	data := make([]byte, 0, 1+20*len(hashes)+1)
	data = append(data, byte(a.MinSigs))
	for _, h := range hashes {
		data = append(data, h[:]...)
	}
	data = append(data, a.flagsByte())
	return vcrypto.Hash160(data)
}

// AccountBin is a named derivation branch within an account.
type AccountBin struct {
	ID              int64
	AccountID       int64
	Name            string
	Index           uint32
	NextScriptIndex uint32
	ScriptCount     uint32
	Labels          map[uint32]string

	// ChildKeychainIDs holds the keychains this bin's signing keys are
	// derived from. NewAccount and NewAccountBin store the account's own
	// keychain IDs here, in Account.KeychainIDs order; each script's keys
	// are derived from those keychains at child(bin.Index)/child(index).
	// No child keychain records are created for a bin.
	ChildKeychainIDs []int64
}

func (b *AccountBin) IsChange() bool  { return b.Index == BinIndexChange }
func (b *AccountBin) IsDefault() bool { return b.Index == BinIndexDefault }

// Hash is computed the same way Account.Hash is, over the keychains named
// by ChildKeychainIDs. For bins created by NewAccount and NewAccountBin those
// are the account's own keychains, not keychains derived at the bin's index.
func (b *AccountBin) Hash(minSigs int, keychainHashes map[int64][20]byte, flags byte) [20]byte {
	hashes := make([][20]byte, 0, len(b.ChildKeychainIDs))
	for _, id := range b.ChildKeychainIDs {
		hashes = append(hashes, keychainHashes[id])
	}
	sort.Slice(hashes, func(i, j int) bool {
		for k := 0; k < 20; k++ {
			if hashes[i][k] != hashes[j][k] {
				return hashes[i][k] < hashes[j][k]
			}
		}
		return false
	})
	data := make([]byte, 0, 1+20*len(hashes)+1)
	data = append(data, byte(minSigs))
	for _, h := range hashes {
		data = append(data, h[:]...)
	}
	data = append(data, flags)
	return vcrypto.Hash160(data)
}

// ScriptStatus is the lifecycle state of a SigningScript, per spec §4.2:
// monotone, never downgraded.
type ScriptStatus int

const (
	ScriptUnused ScriptStatus = iota
	ScriptIssued
	ScriptChange
	ScriptUsed
)

func (s ScriptStatus) String() string {
	switch s {
	case ScriptUnused:
		return "UNUSED"
	case ScriptIssued:
		return "ISSUED"
	case ScriptChange:
		return "CHANGE"
	case ScriptUsed:
		return "USED"
	default:
		return "UNKNOWN"
	}
}

// SigningScript is a materialized (bin, index) multisig script.
type SigningScript struct {
	ID               int64
	AccountBinID     int64
	Index            uint32
	Label            string
	Status           ScriptStatus
	RedeemScript     []byte
	TxInScript       []byte // template with zero-length signature placeholders
	TxOutScript      []byte
	KeyIDs           []int64 // in the bin's ChildKeychainIDs order, not sorted by pubkey
}

// User is a username with an optional output-script whitelist.
type User struct {
	ID               int64
	Username         string
	Enabled          bool
	ScriptWhitelist  map[string]bool // hex(txoutscript) -> allowed
}

func ValidUsername(name string) bool {
	return name != ""
}
