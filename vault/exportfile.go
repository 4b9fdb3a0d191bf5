package vault

import "encoding/json"

// exportedVault is the on-disk shape of a vault-wide export, mirroring the
// record set spec §6's Boost-text-archive format names (Keychain, Key,
// Account, AccountBin, SigningScript, Tx, User, BlockHeader), minus
// MerkleBlock: merkle proofs are sync-cache state the coordinator rebuilds
// from the network on the next resync rather than vault-owned ground truth,
// so they are not part of the export set.
type exportedVault struct {
	SchemaVersion  uint32            `json:"schema_version"`
	Network        string            `json:"network"`
	Keychains      []*Keychain       `json:"keychains"`
	Keys           []*Key            `json:"keys"`
	Accounts       []*Account        `json:"accounts"`
	AccountBins    []*AccountBin     `json:"account_bins"`
	SigningScripts []*SigningScript  `json:"signing_scripts"`
	Txs            []*Tx             `json:"txs"`
	Users          []*User           `json:"users"`
	BlockHeaders   []*BlockHeader    `json:"block_headers"`
}

// ExportVault serializes every record this vault holds to an indented JSON
// document. Any implementation may pick its own serialization provided
// round-trip equivalence within that implementation (spec §6); JSON is used
// here in place of the original's Boost text archive since no corpus
// dependency offers a generic, human-inspectable full-object-graph
// serializer better suited to this than the standard library's.
func (v *Vault) ExportVault() ([]byte, error) {
	var out exportedVault
	err := v.view(func(tx StoreTx) error {
		var err error
		if out.SchemaVersion, err = tx.SchemaVersion(); err != nil {
			return err
		}
		if out.Network, err = tx.Network(); err != nil {
			return err
		}
		if out.Keychains, err = tx.ListKeychains(); err != nil {
			return err
		}
		if out.Keys, err = tx.ListKeys(); err != nil {
			return err
		}
		if out.Accounts, err = tx.ListAccounts(); err != nil {
			return err
		}
		for _, a := range out.Accounts {
			bins, err := tx.ListAccountBins(a.ID)
			if err != nil {
				return err
			}
			out.AccountBins = append(out.AccountBins, bins...)
		}
		if out.SigningScripts, err = tx.ListAllSigningScripts(); err != nil {
			return err
		}
		if out.Txs, err = tx.ListAllTxs(); err != nil {
			return err
		}
		if out.Users, err = tx.ListUsers(); err != nil {
			return err
		}
		if out.BlockHeaders, err = tx.ListBlockHeaders(); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return json.MarshalIndent(&out, "", "  ")
}

// ImportVault loads every record in data into this vault's store, per spec
// §6's importVault. Records are re-inserted under freshly assigned IDs (the
// destination store need not share the source's ID space, e.g. importing
// into a different backend), so every foreign-key-shaped reference
// (KeychainIDs, AccountBinID, KeyIDs, the Receiving*/Sending* IDs on TxOut)
// is rewritten through an old-ID -> new-ID map built up as each record type
// is inserted, preserving the original object graph under the new IDs.
func (v *Vault) ImportVault(data []byte) error {
	var in exportedVault
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}

	return v.mutate(func(tx StoreTx) error {
		if err := tx.SetSchemaVersion(in.SchemaVersion); err != nil {
			return err
		}
		if err := tx.SetNetwork(in.Network); err != nil {
			return err
		}

		keychainIDs := make(map[int64]int64, len(in.Keychains))
		for _, k := range in.Keychains {
			oldID := k.ID
			newID, err := tx.InsertKeychain(k)
			if err != nil {
				return err
			}
			keychainIDs[oldID] = newID
		}

		keyIDs := make(map[int64]int64, len(in.Keys))
		for _, k := range in.Keys {
			oldID := k.ID
			k.RootKeychainID = keychainIDs[k.RootKeychainID]
			newID, err := tx.InsertKey(k)
			if err != nil {
				return err
			}
			keyIDs[oldID] = newID
		}

		accountIDs := make(map[int64]int64, len(in.Accounts))
		for _, a := range in.Accounts {
			oldID := a.ID
			a.KeychainIDs = remapIDs(a.KeychainIDs, keychainIDs)
			newID, err := tx.InsertAccount(a)
			if err != nil {
				return err
			}
			accountIDs[oldID] = newID
		}

		binIDs := make(map[int64]int64, len(in.AccountBins))
		for _, b := range in.AccountBins {
			oldID := b.ID
			b.AccountID = accountIDs[b.AccountID]
			b.ChildKeychainIDs = remapIDs(b.ChildKeychainIDs, keychainIDs)
			newID, err := tx.InsertAccountBin(b)
			if err != nil {
				return err
			}
			binIDs[oldID] = newID
		}

		scriptIDs := make(map[int64]int64, len(in.SigningScripts))
		for _, sc := range in.SigningScripts {
			oldID := sc.ID
			sc.AccountBinID = binIDs[sc.AccountBinID]
			sc.KeyIDs = remapIDs(sc.KeyIDs, keyIDs)
			newID, err := tx.InsertSigningScript(sc)
			if err != nil {
				return err
			}
			scriptIDs[oldID] = newID
		}

		for _, t := range in.Txs {
			for _, out := range t.TxOuts {
				if out.SendingAccountID != 0 {
					out.SendingAccountID = accountIDs[out.SendingAccountID]
				}
				if out.ReceivingAccountID != 0 {
					out.ReceivingAccountID = accountIDs[out.ReceivingAccountID]
				}
				if out.ReceivingBinID != 0 {
					out.ReceivingBinID = binIDs[out.ReceivingBinID]
				}
				if out.ReceivingScriptID != 0 {
					out.ReceivingScriptID = scriptIDs[out.ReceivingScriptID]
				}
			}
			if _, err := tx.InsertTx(t); err != nil {
				return err
			}
		}

		for _, u := range in.Users {
			if _, err := tx.InsertUser(u); err != nil {
				return err
			}
		}

		for _, h := range in.BlockHeaders {
			if err := tx.InsertBlockHeader(h); err != nil {
				return err
			}
		}

		return nil
	})
}

func remapIDs(ids []int64, m map[int64]int64) []int64 {
	out := make([]int64, len(ids))
	for i, id := range ids {
		out[i] = m[id]
	}
	return out
}
