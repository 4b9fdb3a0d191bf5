package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/binary"
	"errors"
)

// ErrDecryptFailed is returned by Decrypt when the ciphertext's padding or
// length is malformed, per spec §4.1's "reject on padding/format error".
var ErrDecryptFailed = errors.New("crypto: decryption failed: malformed ciphertext")

// DeriveAESKey hashes passphrase twice with SHA-256 to produce the 256-bit
// AES key, per spec §4.1's AES encryption discipline.
func DeriveAESKey(passphrase []byte) [32]byte {
	first := sha256.Sum256(passphrase)
	return sha256.Sum256(first[:])
}

// NewSalt draws a fresh random 64-bit salt for a ciphertext field. A salt of
// 0 is reserved to mean "cleartext" (spec §3's Keychain.encrypted
// definition), so NewSalt retries on the vanishingly unlikely zero draw.
func NewSalt() (uint64, error) {
	for {
		var buf [8]byte
		if _, err := rand.Read(buf[:]); err != nil {
			return 0, err
		}
		salt := binary.BigEndian.Uint64(buf[:])
		if salt != 0 {
			return salt, nil
		}
	}
}

// deriveIV mixes the salt into the key to produce a deterministic 16-byte
// IV, so the same (key, salt) pair always yields the same IV without
// persisting it separately.
func deriveIV(key [32]byte, salt uint64) [aes.BlockSize]byte {
	var saltBytes [8]byte
	binary.BigEndian.PutUint64(saltBytes[:], salt)

	mixed := sha256.Sum256(append(append([]byte(nil), key[:]...), saltBytes[:]...))
	var iv [aes.BlockSize]byte
	copy(iv[:], mixed[:aes.BlockSize])
	return iv
}

// Encrypt encrypts plaintext under key and salt using AES-256-CBC with
// PKCS#7 padding.
func Encrypt(key [32]byte, salt uint64, plaintext []byte) ([]byte, error) {
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}

	padded := pkcs7Pad(plaintext, aes.BlockSize)
	iv := deriveIV(key, salt)

	out := make([]byte, len(padded))
	mode := cipher.NewCBCEncrypter(block, iv[:])
	mode.CryptBlocks(out, padded)
	return out, nil
}

// Decrypt reverses Encrypt using the stored salt, rejecting malformed
// ciphertext (wrong length, bad padding) with ErrDecryptFailed rather than
// returning garbage plaintext.
func Decrypt(key [32]byte, salt uint64, ciphertext []byte) ([]byte, error) {
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return nil, ErrDecryptFailed
	}

	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, err
	}
	iv := deriveIV(key, salt)

	out := make([]byte, len(ciphertext))
	mode := cipher.NewCBCDecrypter(block, iv[:])
	mode.CryptBlocks(out, ciphertext)

	return pkcs7Unpad(out)
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(append([]byte(nil), data...), padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrDecryptFailed
	}
	padLen := int(data[len(data)-1])
	if padLen == 0 || padLen > len(data) {
		return nil, ErrDecryptFailed
	}
	for _, b := range data[len(data)-padLen:] {
		if int(b) != padLen {
			return nil, ErrDecryptFailed
		}
	}
	return data[:len(data)-padLen], nil
}
