package vault

import (
	"time"

	vcrypto "github.com/sigvault/vault/vault/crypto"
	"github.com/sigvault/vault/vault/txscript"
	"github.com/sigvault/vault/vaulterrors"
)

// NewAccount creates an M-of-N multisig account over the named keychains,
// plus its mandatory @change and @default bins, each pre-filled to
// unusedPoolSize UNUSED signing scripts, per spec §4.2. unusedPoolSize of 0
// selects DefaultUnusedPoolSize.
func (v *Vault) NewAccount(name string, minSigs int, keychainNames []string, unusedPoolSize uint32, compressedKeys, useWitness, useWitnessP2SH bool) (*Account, error) {
	if !ValidName(name) {
		return nil, vaulterrors.NewInvalidName(name)
	}
	if unusedPoolSize == 0 {
		unusedPoolSize = DefaultUnusedPoolSize
	}

	var account *Account
	err := v.mutate(func(tx StoreTx) error {
		if _, err := tx.GetAccountByName(name); err == nil {
			return vaulterrors.NewAccountAlreadyExists(name)
		}

		keychainHashes := make(map[int64][20]byte, len(keychainNames))
		keychainIDs := make([]int64, 0, len(keychainNames))
		for _, kn := range keychainNames {
			k, err := tx.GetKeychainByName(kn)
			if err != nil {
				return vaulterrors.NewKeychainNotFound(kn)
			}
			keychainIDs = append(keychainIDs, k.ID)
			keychainHashes[k.ID] = k.Hash()
		}

		a := &Account{
			Name:           name,
			MinSigs:        minSigs,
			KeychainIDs:    keychainIDs,
			UnusedPoolSize: unusedPoolSize,
			CompressedKeys: compressedKeys,
			UseWitness:     useWitness,
			UseWitnessP2SH: useWitnessP2SH,
			TimeCreated:    time.Now(),
		}

		id, err := tx.InsertAccount(a)
		if err != nil {
			return err
		}
		a.ID = id
		account = a

		changeBin := &AccountBin{AccountID: a.ID, Name: BinNameChange, Index: BinIndexChange, ChildKeychainIDs: keychainIDs}
		if _, err := tx.InsertAccountBin(changeBin); err != nil {
			return err
		}
		defaultBin := &AccountBin{AccountID: a.ID, Name: BinNameDefault, Index: BinIndexDefault, ChildKeychainIDs: keychainIDs}
		if _, err := tx.InsertAccountBin(defaultBin); err != nil {
			return err
		}

		for _, bin := range []*AccountBin{changeBin, defaultBin} {
			if err := v.refillAccountBinPoolUnwrapped(tx, a, bin); err != nil {
				return err
			}
		}
		return nil
	})
	return account, err
}

// NewAccountBin creates a custom (non-reserved) derivation branch within an
// existing account and fills its initial script pool.
func (v *Vault) NewAccountBin(accountName, binName string) (*AccountBin, error) {
	if !ValidName(binName) {
		return nil, vaulterrors.NewInvalidName(binName)
	}

	var bin *AccountBin
	err := v.mutate(func(tx StoreTx) error {
		a, err := tx.GetAccountByName(accountName)
		if err != nil {
			return vaulterrors.NewAccountNotFound(accountName)
		}
		if _, err := tx.GetAccountBinByName(a.ID, binName); err == nil {
			return vaulterrors.NewAccountBinAlreadyExists(accountName, binName)
		}

		existing, err := tx.ListAccountBins(a.ID)
		if err != nil {
			return err
		}
		maxIndex := uint32(BinIndexDefault)
		for _, b := range existing {
			if b.Index > maxIndex {
				maxIndex = b.Index
			}
		}

		b := &AccountBin{
			AccountID:        a.ID,
			Name:             binName,
			Index:            maxIndex + 1,
			ChildKeychainIDs: a.KeychainIDs,
		}
		id, err := tx.InsertAccountBin(b)
		if err != nil {
			return err
		}
		b.ID = id
		bin = b

		return v.refillAccountBinPoolUnwrapped(tx, a, b)
	})
	return bin, err
}

// RefillAccountPool tops up every bin of account back up to its unused
// pool size, used after a burst of script issuance or a change to
// UnusedPoolSize.
func (v *Vault) RefillAccountPool(accountName string) error {
	return v.mutate(func(tx StoreTx) error {
		a, err := tx.GetAccountByName(accountName)
		if err != nil {
			return vaulterrors.NewAccountNotFound(accountName)
		}
		bins, err := tx.ListAccountBins(a.ID)
		if err != nil {
			return err
		}
		for _, bin := range bins {
			if err := v.refillAccountBinPoolUnwrapped(tx, a, bin); err != nil {
				return err
			}
		}
		return nil
	})
}

// refillAccountBinPoolUnwrapped tops bin up to account.UnusedPoolSize UNUSED
// scripts, materializing new SigningScripts (and their Keys) as needed. It
// assumes the caller already holds the vault lock and an open StoreTx.
//
// The @change bin's lookahead pool is measured against ScriptUnused exactly
// like @default's: a freshly derived change script starts life UNUSED and
// only becomes CHANGE once issueChangeScriptUnwrapped actually claims it,
// per spec §4.2's UNUSED->CHANGE transition.
func (v *Vault) refillAccountBinPoolUnwrapped(tx StoreTx, account *Account, bin *AccountBin) error {
	unused, err := tx.ListSigningScriptsByStatus(bin.ID, ScriptUnused)
	if err != nil {
		return err
	}

	poolSize := account.UnusedPoolSize
	if poolSize == 0 {
		poolSize = DefaultUnusedPoolSize
	}

	for uint32(len(unused)) < poolSize {
		script, err := v.newSigningScriptUnwrapped(tx, account, bin, bin.NextScriptIndex)
		if err != nil {
			return err
		}
		if _, err := tx.InsertSigningScript(script); err != nil {
			return err
		}
		bin.NextScriptIndex++
		bin.ScriptCount++
		unused = append(unused, script)
	}
	return tx.UpdateAccountBin(bin)
}

// newSigningScriptUnwrapped derives the multisig redeem/output scripts and
// per-keychain signing keys for (bin, index), the two-level BIP32 path spec
// §4.1 uses for a signing script: child(bin.Index) then child(index), taken
// from each account keychain's own root.
func (v *Vault) newSigningScriptUnwrapped(tx StoreTx, account *Account, bin *AccountBin, index uint32) (*SigningScript, error) {
	pubKeys := make([][]byte, 0, len(bin.ChildKeychainIDs))
	keyIDs := make([]int64, 0, len(bin.ChildKeychainIDs))

	for _, keychainID := range bin.ChildKeychainIDs {
		kc, err := tx.GetKeychain(keychainID)
		if err != nil {
			return nil, err
		}

		root := &vcrypto.ExtendedKey{
			Depth:     kc.Depth,
			ParentFP:  kc.ParentFP,
			ChildNum:  kc.ChildNum,
			ChainCode: kc.ChainCode,
			PubKey:    kc.PubKey,
			IsPrivate: false,
		}
		binChild, err := root.Child(bin.Index, false)
		if err != nil {
			return nil, err
		}
		scriptChild, err := binChild.Child(index, false)
		if err != nil {
			return nil, err
		}

		key := &Key{
			RootKeychainID: keychainID,
			DerivationPath: []uint32{bin.Index, index},
			Index:          index,
			PubKey:         scriptChild.PubKey,
			RootIsPrivate:  kc.IsPrivate(),
		}
		keyID, err := tx.InsertKey(key)
		if err != nil {
			return nil, err
		}
		key.ID = keyID

		pubKeys = append(pubKeys, scriptChild.PubKey)
		keyIDs = append(keyIDs, keyID)
	}

	redeem, err := txscript.RedeemScript(account.MinSigs, pubKeys)
	if err != nil {
		return nil, err
	}

	mode := txscript.ModeLegacy
	if account.UseWitness {
		mode = txscript.ModeWitness
		if account.UseWitnessP2SH {
			mode = txscript.ModeWitnessP2SHWrap
		}
	}
	txOutScript, err := txscript.TxOutScript(redeem, mode)
	if err != nil {
		return nil, err
	}

	// TxInScript holds whatever the scriptSig must carry to spend this
	// output, per spec §4.2's three wrapping variants: the legacy
	// placeholder scriptSig (sigs spliced in later by signTx), a push of
	// the witness program for a P2SH-wrapped witness output (this never
	// changes shape; signatures live in the witness stack instead), or
	// nothing at all for a native witness output.
	//
	// The placeholder has one slot per pubkey (len(pubKeys), not
	// account.MinSigs): a signer's slot is its position in the full
	// canonical pubkey order, and for M<N accounts that position can run
	// past M.
	var txInScript []byte
	switch mode {
	case txscript.ModeLegacy:
		txInScript, err = txscript.TxInScriptTemplate(redeem, len(pubKeys))
		if err != nil {
			return nil, err
		}
	case txscript.ModeWitnessP2SHWrap:
		witnessProgram, err := txscript.P2WSHScript(redeem)
		if err != nil {
			return nil, err
		}
		txInScript, err = txscript.ScriptSigPushOnly(witnessProgram)
		if err != nil {
			return nil, err
		}
	}

	return &SigningScript{
		AccountBinID: bin.ID,
		Index:        index,
		Status:       ScriptUnused,
		RedeemScript: redeem,
		TxInScript:   txInScript,
		TxOutScript:  txOutScript,
		KeyIDs:       keyIDs,
	}, nil
}

// IssueSigningScript hands out the lowest-index UNUSED script in the named
// bin, marking it ISSUED, and refills the pool behind it.
func (v *Vault) IssueSigningScript(accountName, binName, label string) (*SigningScript, error) {
	var issued *SigningScript
	err := v.mutate(func(tx StoreTx) error {
		a, err := tx.GetAccountByName(accountName)
		if err != nil {
			return vaulterrors.NewAccountNotFound(accountName)
		}
		bin, err := tx.GetAccountBinByName(a.ID, binName)
		if err != nil {
			return vaulterrors.NewAccountBinNotFound(accountName, binName)
		}
		if bin.IsChange() {
			return vaulterrors.NewCannotIssueChangeScript(accountName, binName)
		}

		unused, err := tx.ListUnusedSigningScripts(bin.ID)
		if err != nil {
			return err
		}
		if len(unused) == 0 {
			return vaulterrors.NewOutOfScripts(accountName, binName)
		}

		lowest := unused[0]
		for _, s := range unused[1:] {
			if s.Index < lowest.Index {
				lowest = s
			}
		}
		lowest.Status = ScriptIssued
		lowest.Label = label
		if err := tx.UpdateSigningScript(lowest); err != nil {
			return err
		}
		issued = lowest

		return v.refillAccountBinPoolUnwrapped(tx, a, bin)
	})
	return issued, err
}

// issueChangeScriptUnwrapped hands out the lowest-index UNUSED script in the
// @change bin, marking it CHANGE so it is never claimed again by a later
// createTx, and refills the pool behind it -- the same claim-then-refill
// pattern IssueSigningScript uses for ordinary bins, with CHANGE standing in
// for ISSUED. insertTx later promotes it to USED once the tx that actually
// spends to it is inserted.
func (v *Vault) issueChangeScriptUnwrapped(tx StoreTx, account *Account) (*SigningScript, error) {
	bin, err := tx.GetAccountBinByName(account.ID, BinNameChange)
	if err != nil {
		return nil, err
	}

	unused, err := tx.ListSigningScriptsByStatus(bin.ID, ScriptUnused)
	if err != nil {
		return nil, err
	}
	if len(unused) == 0 {
		return nil, vaulterrors.NewOutOfScripts(account.Name, BinNameChange)
	}
	lowest := unused[0]
	for _, s := range unused[1:] {
		if s.Index < lowest.Index {
			lowest = s
		}
	}
	lowest.Status = ScriptChange
	if err := tx.UpdateSigningScript(lowest); err != nil {
		return nil, err
	}

	if err := v.refillAccountBinPoolUnwrapped(tx, account, bin); err != nil {
		return nil, err
	}
	return lowest, nil
}

// GetAccount returns an account by name.
func (v *Vault) GetAccount(name string) (*Account, error) {
	var a *Account
	err := v.view(func(tx StoreTx) error {
		var err error
		a, err = tx.GetAccountByName(name)
		if err != nil {
			return vaulterrors.NewAccountNotFound(name)
		}
		return nil
	})
	return a, err
}

// ListAccounts returns every account in the vault.
func (v *Vault) ListAccounts() ([]*Account, error) {
	var out []*Account
	err := v.view(func(tx StoreTx) error {
		var err error
		out, err = tx.ListAccounts()
		return err
	})
	return out, err
}
