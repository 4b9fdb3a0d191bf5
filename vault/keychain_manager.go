package vault

import (
	"crypto/rand"

	vcrypto "github.com/sigvault/vault/vault/crypto"
	"github.com/sigvault/vault/vaulterrors"
)

// NewKeychain creates a root keychain from entropy, optionally encrypting its
// private material with lockKey (nil/empty means store cleartext).
func (v *Vault) NewKeychain(name string, entropy []byte, lockKey []byte) (*Keychain, error) {
	if !ValidName(name) {
		return nil, vaulterrors.NewInvalidName(name)
	}

	var keychain *Keychain
	err := v.mutate(func(tx StoreTx) error {
		if _, err := tx.GetKeychainByName(name); err == nil {
			return vaulterrors.NewKeychainAlreadyExists(name)
		}

		master, err := vcrypto.MasterFromSeed(entropy)
		if err != nil {
			return err
		}

		k := &Keychain{
			Name:     name,
			Depth:    0,
			ParentFP: 0,
			ChildNum: 0,
			PubKey:   master.PubKey,
			HasSeed:  true,
		}
		copy(k.ChainCode[:], master.ChainCode[:])

		if _, err := tx.GetKeychainByHash(k.Hash()); err == nil {
			return vaulterrors.NewKeychainAlreadyExists(name)
		}

		if err := v.sealPrivateMaterial(k, master.PrivKey, entropy, lockKey); err != nil {
			return err
		}

		id, err := tx.InsertKeychain(k)
		if err != nil {
			return err
		}
		k.ID = id
		keychain = k
		return nil
	})
	return keychain, err
}

// sealPrivateMaterial encrypts (or stores cleartext, if lockKey is empty)
// privKey and seed into k's ciphertext fields.
func (v *Vault) sealPrivateMaterial(k *Keychain, privKey, seed, lockKey []byte) error {
	if len(privKey) == 0 {
		return nil
	}

	if len(lockKey) == 0 {
		k.PrivCiphertext = privKey
		k.PrivSalt = 0
		k.SeedCiphertext = seed
		k.SeedSalt = 0
		return nil
	}

	privSalt, err := vcrypto.NewSalt()
	if err != nil {
		return err
	}
	privCipher, err := vcrypto.Encrypt(vcrypto.DeriveAESKey(lockKey), privSalt, privKey)
	if err != nil {
		return err
	}
	seedSalt, err := vcrypto.NewSalt()
	if err != nil {
		return err
	}
	seedCipher, err := vcrypto.Encrypt(vcrypto.DeriveAESKey(lockKey), seedSalt, seed)
	if err != nil {
		return err
	}

	k.PrivCiphertext = privCipher
	k.PrivSalt = privSalt
	k.SeedCiphertext = seedCipher
	k.SeedSalt = seedSalt
	return nil
}

// RenameKeychain renames a keychain, rejecting a collision with an existing
// name.
func (v *Vault) RenameKeychain(oldName, newName string) error {
	return v.mutate(func(tx StoreTx) error {
		k, err := tx.GetKeychainByName(oldName)
		if err != nil {
			return vaulterrors.NewKeychainNotFound(oldName)
		}
		if oldName == newName {
			return nil
		}
		if _, err := tx.GetKeychainByName(newName); err == nil {
			return vaulterrors.NewKeychainAlreadyExists(newName)
		}
		k.Name = newName
		return tx.UpdateKeychain(k)
	})
}

// GetKeychain returns a keychain by name.
func (v *Vault) GetKeychain(name string) (*Keychain, error) {
	var k *Keychain
	err := v.view(func(tx StoreTx) error {
		var err error
		k, err = tx.GetKeychainByName(name)
		if err != nil {
			return vaulterrors.NewKeychainNotFound(name)
		}
		return nil
	})
	return k, err
}

// ListKeychains returns every keychain, optionally restricted to roots.
func (v *Vault) ListKeychains(rootOnly bool) ([]*Keychain, error) {
	var out []*Keychain
	err := v.view(func(tx StoreTx) error {
		all, err := tx.ListKeychains()
		if err != nil {
			return err
		}
		if !rootOnly {
			out = all
			return nil
		}
		for _, k := range all {
			if k.ParentKeychainID == 0 {
				out = append(out, k)
			}
		}
		return nil
	})
	return out, err
}

// LockAllKeychains clears every cached unlock key, notifying observers for
// each keychain that transitions from unlocked to locked.
func (v *Vault) LockAllKeychains() error {
	v.unlockedMu.Lock()
	names := make([]string, 0, len(v.unlocked))
	for name := range v.unlocked {
		names = append(names, name)
	}
	v.unlocked = make(map[string][]byte)
	v.unlockedMu.Unlock()

	return v.mutate(func(tx StoreTx) error {
		for _, name := range names {
			v.signals.push(KeychainLockedEvent{Name: name})
		}
		return nil
	})
}

// LockKeychain discards the cached unlock key for a single keychain.
func (v *Vault) LockKeychain(name string) error {
	v.unlockedMu.Lock()
	_, wasUnlocked := v.unlocked[name]
	delete(v.unlocked, name)
	v.unlockedMu.Unlock()

	if !wasUnlocked {
		return nil
	}
	return v.mutate(func(tx StoreTx) error {
		v.signals.push(KeychainLockedEvent{Name: name})
		return nil
	})
}

// UnlockKeychain verifies lockKey decrypts the keychain's private material
// and, if so, caches it for subsequent signing operations.
func (v *Vault) UnlockKeychain(name string, lockKey []byte) error {
	var k *Keychain
	err := v.view(func(tx StoreTx) error {
		var err error
		k, err = tx.GetKeychainByName(name)
		if err != nil {
			return vaulterrors.NewKeychainNotFound(name)
		}
		return nil
	})
	if err != nil {
		return err
	}
	if !k.IsPrivate() {
		return vaulterrors.NewIsNotPrivate(name)
	}

	if _, err := v.decryptPrivKey(k, lockKey); err != nil {
		return vaulterrors.NewPrivateKeyUnlockFailed(name, err)
	}

	v.unlockedMu.Lock()
	v.unlocked[name] = lockKey
	v.unlockedMu.Unlock()

	return v.mutate(func(tx StoreTx) error {
		v.signals.push(KeychainUnlockedEvent{Name: name})
		return nil
	})
}

// decryptPrivKey returns k's cleartext private key, using lockKey if
// supplied, or the cached unlock key for k.Name otherwise.
func (v *Vault) decryptPrivKey(k *Keychain, lockKey []byte) ([]byte, error) {
	if !k.IsPrivate() {
		return nil, vaulterrors.NewIsNotPrivate(k.Name)
	}
	if !k.IsEncrypted() {
		return k.PrivCiphertext, nil
	}

	if len(lockKey) == 0 {
		v.unlockedMu.Lock()
		cached, ok := v.unlocked[k.Name]
		v.unlockedMu.Unlock()
		if !ok {
			return nil, vaulterrors.NewPrivateKeyLocked(k.Name)
		}
		lockKey = cached
	}

	return vcrypto.Decrypt(vcrypto.DeriveAESKey(lockKey), k.PrivSalt, k.PrivCiphertext)
}

// EncryptKeychain re-encrypts a cleartext-private keychain with lockKey.
func (v *Vault) EncryptKeychain(name string, lockKey []byte) error {
	return v.mutate(func(tx StoreTx) error {
		k, err := tx.GetKeychainByName(name)
		if err != nil {
			return vaulterrors.NewKeychainNotFound(name)
		}
		priv, err := v.decryptPrivKey(k, nil)
		if err != nil {
			return err
		}
		var seed []byte
		if k.HasSeed {
			seed, err = v.decryptSeed(k, nil)
			if err != nil {
				return err
			}
		}
		if err := v.sealPrivateMaterial(k, priv, seed, lockKey); err != nil {
			return err
		}
		return tx.UpdateKeychain(k)
	})
}

// DecryptKeychain strips encryption from a keychain's private material,
// storing it cleartext.
func (v *Vault) DecryptKeychain(name string) error {
	return v.mutate(func(tx StoreTx) error {
		k, err := tx.GetKeychainByName(name)
		if err != nil {
			return vaulterrors.NewKeychainNotFound(name)
		}
		priv, err := v.decryptPrivKey(k, nil)
		if err != nil {
			return err
		}
		var seed []byte
		if k.HasSeed {
			seed, err = v.decryptSeed(k, nil)
			if err != nil {
				return err
			}
		}
		if err := v.sealPrivateMaterial(k, priv, seed, nil); err != nil {
			return err
		}
		return tx.UpdateKeychain(k)
	})
}

func (v *Vault) decryptSeed(k *Keychain, lockKey []byte) ([]byte, error) {
	if !k.HasSeed {
		return nil, nil
	}
	if k.SeedSalt == 0 {
		return k.SeedCiphertext, nil
	}
	if len(lockKey) == 0 {
		v.unlockedMu.Lock()
		cached, ok := v.unlocked[k.Name]
		v.unlockedMu.Unlock()
		if !ok {
			return nil, vaulterrors.NewPrivateKeyLocked(k.Name)
		}
		lockKey = cached
	}
	return vcrypto.Decrypt(vcrypto.DeriveAESKey(lockKey), k.SeedSalt, k.SeedCiphertext)
}

// ExportBIP32 serializes a keychain as a BIP32 extended key string.
// Exporting the private extended key requires the keychain to already be
// unlocked (or lockKey to be supplied).
func (v *Vault) ExportBIP32(name string, exportPrivate bool, lockKey []byte) (string, error) {
	var result string
	err := v.view(func(tx StoreTx) error {
		k, err := tx.GetKeychainByName(name)
		if err != nil {
			return vaulterrors.NewKeychainNotFound(name)
		}
		exportPrivate = exportPrivate && k.IsPrivate()

		ext := &vcrypto.ExtendedKey{
			Depth:     k.Depth,
			ParentFP:  k.ParentFP,
			ChildNum:  k.ChildNum,
			ChainCode: k.ChainCode,
			PubKey:    k.PubKey,
		}

		if exportPrivate {
			priv, err := v.decryptPrivKey(k, lockKey)
			if err != nil {
				return err
			}
			ext.PrivKey = priv
		}

		result, err = ext.String(exportPrivate)
		return err
	})
	return result, err
}

// ImportBIP32 creates a new root keychain from a serialized extended key.
func (v *Vault) ImportBIP32(name, extKey string, lockKey []byte) (*Keychain, error) {
	ext, err := vcrypto.ParseExtendedKey(extKey)
	if err != nil {
		return nil, err
	}

	var keychain *Keychain
	err = v.mutate(func(tx StoreTx) error {
		if _, err := tx.GetKeychainByName(name); err == nil {
			return vaulterrors.NewKeychainAlreadyExists(name)
		}

		k := &Keychain{
			Name:     name,
			Depth:    ext.Depth,
			ParentFP: ext.ParentFP,
			ChildNum: ext.ChildNum,
			PubKey:   ext.PubKey,
			HasSeed:  false,
		}
		copy(k.ChainCode[:], ext.ChainCode[:])

		if err := v.sealPrivateMaterial(k, ext.PrivKey, nil, lockKey); err != nil {
			return err
		}

		id, err := tx.InsertKeychain(k)
		if err != nil {
			return err
		}
		k.ID = id
		keychain = k
		return nil
	})
	return keychain, err
}

// randomEntropy returns n cryptographically random bytes, a convenience for
// callers minting a brand new root keychain.
func randomEntropy(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}
