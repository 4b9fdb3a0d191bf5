package crypto

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	key := DeriveAESKey([]byte("correct horse battery staple"))
	salt, err := NewSalt()
	require.NoError(t, err)

	plaintext := []byte("a 32-byte master private key!!!!")
	ciphertext, err := Encrypt(key, salt, plaintext)
	require.NoError(t, err)
	require.NotEqual(t, plaintext, ciphertext)

	got, err := Decrypt(key, salt, ciphertext)
	require.NoError(t, err)
	require.Equal(t, plaintext, got)
}

func TestDecryptWrongKeyFails(t *testing.T) {
	key := DeriveAESKey([]byte("passphrase-one"))
	wrongKey := DeriveAESKey([]byte("passphrase-two"))
	salt, err := NewSalt()
	require.NoError(t, err)

	ciphertext, err := Encrypt(key, salt, []byte("some private key material"))
	require.NoError(t, err)

	_, err = Decrypt(wrongKey, salt, ciphertext)
	require.Error(t, err)
}

func TestDecryptMalformedCiphertext(t *testing.T) {
	key := DeriveAESKey([]byte("pw"))
	_, err := Decrypt(key, 1, []byte("not a multiple of the block size!"))
	require.ErrorIs(t, err, ErrDecryptFailed)
}
