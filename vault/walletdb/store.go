package walletdb

import (
	"bytes"
	"context"
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/btcsuite/btcwallet/walletdb"
	_ "github.com/btcsuite/btcwallet/walletdb/bdb"

	"github.com/sigvault/vault/vault"
)

const (
	dbFileName       = "vault.db"
	dbFilePermission = 0600
)

var bufPool = &sync.Pool{
	New: func() interface{} { return new(bytes.Buffer) },
}

// DB is the walletdb/bbolt-backed implementation of vault.Store.
type DB struct {
	walletdb.DB
}

// Open opens (creating if necessary) the vault database under dbPath.
func Open(dbPath string) (*DB, error) {
	path := filepath.Join(dbPath, dbFileName)

	var (
		db  walletdb.DB
		err error
	)
	if _, statErr := os.Stat(path); os.IsNotExist(statErr) {
		if mkErr := os.MkdirAll(dbPath, 0700); mkErr != nil {
			return nil, mkErr
		}
		db, err = walletdb.Create("bdb", path, true, 0)
	} else {
		db, err = walletdb.Open("bdb", path, true, 0)
	}
	if err != nil {
		return nil, err
	}

	if err := walletdb.Update(db, func(tx walletdb.ReadWriteTx) error {
		for _, name := range topLevelBuckets {
			if _, err := tx.CreateTopLevelBucket(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		db.Close()
		return nil, err
	}

	return &DB{DB: db}, nil
}

func (d *DB) Update(ctx context.Context, fn func(vault.StoreTx) error) error {
	return walletdb.Update(d.DB, func(wtx walletdb.ReadWriteTx) error {
		return fn(&Tx{rwtx: wtx})
	})
}

func (d *DB) View(ctx context.Context, fn func(vault.StoreTx) error) error {
	return walletdb.View(d.DB, func(wtx walletdb.ReadTx) error {
		return fn(&Tx{rtx: wtx})
	})
}

func (d *DB) Close() error { return d.DB.Close() }

// Tx adapts a walletdb transaction to vault.StoreTx. Exactly one of rwtx/rtx
// is set, mirroring whether the enclosing call was Update or View.
type Tx struct {
	rwtx walletdb.ReadWriteTx
	rtx  walletdb.ReadTx
}

func (t *Tx) readBucket(name []byte) walletdb.ReadBucket {
	if t.rwtx != nil {
		return t.rwtx.ReadWriteBucket(name)
	}
	return t.rtx.ReadBucket(name)
}

func (t *Tx) writeBucket(name []byte) (walletdb.ReadWriteBucket, error) {
	if t.rwtx == nil {
		return nil, fmt.Errorf("vault/walletdb: write attempted inside a read-only transaction")
	}
	return t.rwtx.ReadWriteBucket(name), nil
}

func encode(v interface{}) ([]byte, error) {
	buf := bufPool.Get().(*bytes.Buffer)
	buf.Reset()
	defer bufPool.Put(buf)

	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	out := make([]byte, buf.Len())
	copy(out, buf.Bytes())
	return out, nil
}

func decode(data []byte, v interface{}) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func idKey(id int64) []byte {
	var k [8]byte
	byteOrder.PutUint64(k[:], uint64(id))
	return k[:]
}

func idFromKey(k []byte) int64 { return int64(byteOrder.Uint64(k)) }

// nextID increments and returns the per-bucket autoincrement counter stored
// under bucketMeta, keyed by the record bucket's own name.
func (t *Tx) nextID(bucketName []byte) (int64, error) {
	meta, err := t.writeBucket(bucketMeta)
	if err != nil {
		return 0, err
	}
	counterKey := append([]byte("next-id:"), bucketName...)
	var next uint64 = 1
	if raw := meta.Get(counterKey); raw != nil {
		next = byteOrder.Uint64(raw) + 1
	}
	var buf [8]byte
	byteOrder.PutUint64(buf[:], next)
	if err := meta.Put(counterKey, buf[:]); err != nil {
		return 0, err
	}
	return int64(next), nil
}

func (t *Tx) SchemaVersion() (uint32, error) {
	meta := t.readBucket(bucketMeta)
	raw := meta.Get(metaSchemaVersionKey)
	if raw == nil {
		return 0, nil
	}
	return byteOrder.Uint32(raw), nil
}

func (t *Tx) SetSchemaVersion(v uint32) error {
	meta, err := t.writeBucket(bucketMeta)
	if err != nil {
		return err
	}
	var buf [4]byte
	byteOrder.PutUint32(buf[:], v)
	return meta.Put(metaSchemaVersionKey, buf[:])
}

func (t *Tx) Network() (string, error) {
	meta := t.readBucket(bucketMeta)
	raw := meta.Get(metaNetworkKey)
	return string(raw), nil
}

func (t *Tx) SetNetwork(n string) error {
	meta, err := t.writeBucket(bucketMeta)
	if err != nil {
		return err
	}
	return meta.Put(metaNetworkKey, []byte(n))
}

// --- Keychains ---

func (t *Tx) InsertKeychain(k *vault.Keychain) (int64, error) {
	id, err := t.nextID(bucketKeychains)
	if err != nil {
		return 0, err
	}
	k.ID = id
	if err := t.UpdateKeychain(k); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Tx) UpdateKeychain(k *vault.Keychain) error {
	b, err := t.writeBucket(bucketKeychains)
	if err != nil {
		return err
	}
	data, err := encode(k)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(k.ID), data); err != nil {
		return err
	}

	byName, err := t.writeBucket(bucketKeychainByName)
	if err != nil {
		return err
	}
	if err := byName.Put([]byte(k.Name), idKey(k.ID)); err != nil {
		return err
	}

	byHash, err := t.writeBucket(bucketKeychainByHash)
	if err != nil {
		return err
	}
	hash := k.Hash()
	return byHash.Put(hash[:], idKey(k.ID))
}

func (t *Tx) GetKeychain(id int64) (*vault.Keychain, error) {
	b := t.readBucket(bucketKeychains)
	raw := b.Get(idKey(id))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var k vault.Keychain
	if err := decode(raw, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (t *Tx) GetKeychainByName(name string) (*vault.Keychain, error) {
	idx := t.readBucket(bucketKeychainByName)
	idRaw := idx.Get([]byte(name))
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetKeychain(idFromKey(idRaw))
}

func (t *Tx) GetKeychainByHash(hash [20]byte) (*vault.Keychain, error) {
	idx := t.readBucket(bucketKeychainByHash)
	idRaw := idx.Get(hash[:])
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetKeychain(idFromKey(idRaw))
}

func (t *Tx) ListKeychains() ([]*vault.Keychain, error) {
	b := t.readBucket(bucketKeychains)
	var out []*vault.Keychain
	err := b.ForEach(func(k, v []byte) error {
		var kc vault.Keychain
		if err := decode(v, &kc); err != nil {
			return err
		}
		out = append(out, &kc)
		return nil
	})
	return out, err
}

// --- Keys ---

func (t *Tx) InsertKey(k *vault.Key) (int64, error) {
	id, err := t.nextID(bucketKeys)
	if err != nil {
		return 0, err
	}
	k.ID = id

	b, err := t.writeBucket(bucketKeys)
	if err != nil {
		return 0, err
	}
	data, err := encode(k)
	if err != nil {
		return 0, err
	}
	if err := b.Put(idKey(id), data); err != nil {
		return 0, err
	}

	byPub, err := t.writeBucket(bucketKeyByPub)
	if err != nil {
		return 0, err
	}
	if err := byPub.Put(k.PubKey, idKey(id)); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Tx) GetKey(id int64) (*vault.Key, error) {
	b := t.readBucket(bucketKeys)
	raw := b.Get(idKey(id))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var k vault.Key
	if err := decode(raw, &k); err != nil {
		return nil, err
	}
	return &k, nil
}

func (t *Tx) GetKeyByPubKey(pubKey []byte) (*vault.Key, error) {
	idx := t.readBucket(bucketKeyByPub)
	idRaw := idx.Get(pubKey)
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetKey(idFromKey(idRaw))
}

func (t *Tx) ListKeys() ([]*vault.Key, error) {
	b := t.readBucket(bucketKeys)
	var out []*vault.Key
	err := b.ForEach(func(k, v []byte) error {
		var key vault.Key
		if err := decode(v, &key); err != nil {
			return err
		}
		out = append(out, &key)
		return nil
	})
	return out, err
}

// --- Accounts ---

func (t *Tx) InsertAccount(a *vault.Account) (int64, error) {
	id, err := t.nextID(bucketAccounts)
	if err != nil {
		return 0, err
	}
	a.ID = id
	if err := t.UpdateAccount(a); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Tx) UpdateAccount(a *vault.Account) error {
	b, err := t.writeBucket(bucketAccounts)
	if err != nil {
		return err
	}
	data, err := encode(a)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(a.ID), data); err != nil {
		return err
	}
	byName, err := t.writeBucket(bucketAccountByName)
	if err != nil {
		return err
	}
	return byName.Put([]byte(a.Name), idKey(a.ID))
}

func (t *Tx) GetAccount(id int64) (*vault.Account, error) {
	b := t.readBucket(bucketAccounts)
	raw := b.Get(idKey(id))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var a vault.Account
	if err := decode(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) GetAccountByName(name string) (*vault.Account, error) {
	idx := t.readBucket(bucketAccountByName)
	idRaw := idx.Get([]byte(name))
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetAccount(idFromKey(idRaw))
}

func (t *Tx) ListAccounts() ([]*vault.Account, error) {
	b := t.readBucket(bucketAccounts)
	var out []*vault.Account
	err := b.ForEach(func(k, v []byte) error {
		var a vault.Account
		if err := decode(v, &a); err != nil {
			return err
		}
		out = append(out, &a)
		return nil
	})
	return out, err
}

// --- AccountBins ---

func (t *Tx) InsertAccountBin(a *vault.AccountBin) (int64, error) {
	id, err := t.nextID(bucketAccountBins)
	if err != nil {
		return 0, err
	}
	a.ID = id
	if err := t.UpdateAccountBin(a); err != nil {
		return 0, err
	}
	return id, nil
}

func binNameKey(accountID int64, name string) []byte {
	return append(idKey(accountID), []byte(":"+name)...)
}

func (t *Tx) UpdateAccountBin(a *vault.AccountBin) error {
	b, err := t.writeBucket(bucketAccountBins)
	if err != nil {
		return err
	}
	data, err := encode(a)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(a.ID), data); err != nil {
		return err
	}
	byName, err := t.writeBucket(bucketAccountBinsByName)
	if err != nil {
		return err
	}
	return byName.Put(binNameKey(a.AccountID, a.Name), idKey(a.ID))
}

func (t *Tx) GetAccountBin(id int64) (*vault.AccountBin, error) {
	b := t.readBucket(bucketAccountBins)
	raw := b.Get(idKey(id))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var a vault.AccountBin
	if err := decode(raw, &a); err != nil {
		return nil, err
	}
	return &a, nil
}

func (t *Tx) GetAccountBinByName(accountID int64, name string) (*vault.AccountBin, error) {
	idx := t.readBucket(bucketAccountBinsByName)
	idRaw := idx.Get(binNameKey(accountID, name))
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetAccountBin(idFromKey(idRaw))
}

func (t *Tx) ListAccountBins(accountID int64) ([]*vault.AccountBin, error) {
	b := t.readBucket(bucketAccountBins)
	var out []*vault.AccountBin
	err := b.ForEach(func(k, v []byte) error {
		var a vault.AccountBin
		if err := decode(v, &a); err != nil {
			return err
		}
		if a.AccountID == accountID {
			out = append(out, &a)
		}
		return nil
	})
	return out, err
}

// --- SigningScripts ---

func (t *Tx) InsertSigningScript(s *vault.SigningScript) (int64, error) {
	id, err := t.nextID(bucketSigningScripts)
	if err != nil {
		return 0, err
	}
	s.ID = id
	if err := t.UpdateSigningScript(s); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Tx) UpdateSigningScript(s *vault.SigningScript) error {
	b, err := t.writeBucket(bucketSigningScripts)
	if err != nil {
		return err
	}
	data, err := encode(s)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(s.ID), data); err != nil {
		return err
	}

	byTxOut, err := t.writeBucket(bucketSigningScriptsByTxOut)
	if err != nil {
		return err
	}
	if err := byTxOut.Put(s.TxOutScript, idKey(s.ID)); err != nil {
		return err
	}

	unusedIdx, err := t.writeBucket(bucketSigningScriptsUnusedIdx)
	if err != nil {
		return err
	}
	unusedKey := append(idKey(s.AccountBinID), idKey(s.ID)...)
	if s.Status == vault.ScriptUnused {
		return unusedIdx.Put(unusedKey, nil)
	}
	return unusedIdx.Delete(unusedKey)
}

func (t *Tx) GetSigningScript(id int64) (*vault.SigningScript, error) {
	b := t.readBucket(bucketSigningScripts)
	raw := b.Get(idKey(id))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var s vault.SigningScript
	if err := decode(raw, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (t *Tx) GetSigningScriptByTxOutScript(script []byte) (*vault.SigningScript, error) {
	idx := t.readBucket(bucketSigningScriptsByTxOut)
	idRaw := idx.Get(script)
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetSigningScript(idFromKey(idRaw))
}

func (t *Tx) ListUnusedSigningScripts(binID int64) ([]*vault.SigningScript, error) {
	idx := t.readBucket(bucketSigningScriptsUnusedIdx)
	prefix := idKey(binID)
	var out []*vault.SigningScript
	c := idx.ReadCursor()
	defer c.Close()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		s, err := t.GetSigningScript(idFromKey(k[8:]))
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}

func (t *Tx) ListSigningScriptsByStatus(binID int64, status vault.ScriptStatus) ([]*vault.SigningScript, error) {
	b := t.readBucket(bucketSigningScripts)
	var out []*vault.SigningScript
	err := b.ForEach(func(k, v []byte) error {
		var s vault.SigningScript
		if err := decode(v, &s); err != nil {
			return err
		}
		if s.AccountBinID == binID && s.Status == status {
			out = append(out, &s)
		}
		return nil
	})
	return out, err
}

func (t *Tx) ListAllSigningScripts() ([]*vault.SigningScript, error) {
	b := t.readBucket(bucketSigningScripts)
	var out []*vault.SigningScript
	err := b.ForEach(func(k, v []byte) error {
		var s vault.SigningScript
		if err := decode(v, &s); err != nil {
			return err
		}
		out = append(out, &s)
		return nil
	})
	return out, err
}

func (t *Tx) CountSigningScripts(binID int64) (uint32, error) {
	b := t.readBucket(bucketSigningScripts)
	var count uint32
	err := b.ForEach(func(k, v []byte) error {
		var s vault.SigningScript
		if err := decode(v, &s); err != nil {
			return err
		}
		if s.AccountBinID == binID {
			count++
		}
		return nil
	})
	return count, err
}

// --- Txs ---

func (t *Tx) InsertTx(tx *vault.Tx) (int64, error) {
	id, err := t.nextID(bucketTxs)
	if err != nil {
		return 0, err
	}
	tx.ID = id
	if err := t.UpdateTx(tx); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Tx) UpdateTx(tx *vault.Tx) error {
	b, err := t.writeBucket(bucketTxs)
	if err != nil {
		return err
	}

	// Drop stale secondary-index entries left over from a prior status or
	// block height, before writing the fresh ones below.
	if prevRaw := b.Get(idKey(tx.ID)); prevRaw != nil {
		var prev vault.Tx
		if err := decode(prevRaw, &prev); err == nil {
			if byStatus, err := t.writeBucket(bucketTxsByStatus); err == nil {
				byStatus.Delete(append([]byte{byte(prev.Status)}, idKey(tx.ID)...))
			}
			if prev.BlockHash != nil {
				if byHeight, err := t.writeBucket(bucketTxsByHeight); err == nil {
					var h [4]byte
					byteOrder.PutUint32(h[:], uint32(prev.BlockHeight))
					byHeight.Delete(append(h[:], idKey(tx.ID)...))
				}
			}
		}
	}

	data, err := encode(tx)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(tx.ID), data); err != nil {
		return err
	}

	byUnsigned, err := t.writeBucket(bucketTxsByUnsignedHash)
	if err != nil {
		return err
	}
	if err := byUnsigned.Put(tx.UnsignedHash[:], idKey(tx.ID)); err != nil {
		return err
	}

	if tx.Status != vault.TxUnsigned {
		bySigned, err := t.writeBucket(bucketTxsBySignedHash)
		if err != nil {
			return err
		}
		if err := bySigned.Put(tx.SignedHash[:], idKey(tx.ID)); err != nil {
			return err
		}
	}

	byStatus, err := t.writeBucket(bucketTxsByStatus)
	if err != nil {
		return err
	}
	var statusKey [1]byte
	statusKey[0] = byte(tx.Status)
	if err := byStatus.Put(append(statusKey[:], idKey(tx.ID)...), nil); err != nil {
		return err
	}

	if tx.BlockHash != nil {
		byHeight, err := t.writeBucket(bucketTxsByHeight)
		if err != nil {
			return err
		}
		var h [4]byte
		byteOrder.PutUint32(h[:], uint32(tx.BlockHeight))
		if err := byHeight.Put(append(h[:], idKey(tx.ID)...), nil); err != nil {
			return err
		}
	}
	return nil
}

func (t *Tx) GetTx(id int64) (*vault.Tx, error) {
	b := t.readBucket(bucketTxs)
	raw := b.Get(idKey(id))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var tx vault.Tx
	if err := decode(raw, &tx); err != nil {
		return nil, err
	}
	return &tx, nil
}

func (t *Tx) GetTxByUnsignedHash(hash [32]byte) (*vault.Tx, error) {
	idx := t.readBucket(bucketTxsByUnsignedHash)
	idRaw := idx.Get(hash[:])
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetTx(idFromKey(idRaw))
}

func (t *Tx) GetTxBySignedHash(hash [32]byte) (*vault.Tx, error) {
	idx := t.readBucket(bucketTxsBySignedHash)
	idRaw := idx.Get(hash[:])
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	return t.GetTx(idFromKey(idRaw))
}

func (t *Tx) ListTxsByStatus(status vault.TxStatus) ([]*vault.Tx, error) {
	idx := t.readBucket(bucketTxsByStatus)
	prefix := []byte{byte(status)}
	var out []*vault.Tx
	c := idx.ReadCursor()
	defer c.Close()
	for k, _ := c.Seek(prefix); k != nil && bytes.HasPrefix(k, prefix); k, _ = c.Next() {
		tx, err := t.GetTx(idFromKey(k[1:]))
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (t *Tx) ListTxsByBlockHeight(height int32) ([]*vault.Tx, error) {
	idx := t.readBucket(bucketTxsByHeight)
	var prefix [4]byte
	byteOrder.PutUint32(prefix[:], uint32(height))
	var out []*vault.Tx
	c := idx.ReadCursor()
	defer c.Close()
	for k, _ := c.Seek(prefix[:]); k != nil && bytes.HasPrefix(k, prefix[:]); k, _ = c.Next() {
		tx, err := t.GetTx(idFromKey(k[4:]))
		if err != nil {
			return nil, err
		}
		out = append(out, tx)
	}
	return out, nil
}

func (t *Tx) ListAllTxs() ([]*vault.Tx, error) {
	b := t.readBucket(bucketTxs)
	var out []*vault.Tx
	err := b.ForEach(func(k, v []byte) error {
		var tx vault.Tx
		if err := decode(v, &tx); err != nil {
			return err
		}
		out = append(out, &tx)
		return nil
	})
	return out, err
}

func (t *Tx) DeleteTx(id int64) error {
	tx, err := t.GetTx(id)
	if err != nil {
		return err
	}
	b, err := t.writeBucket(bucketTxs)
	if err != nil {
		return err
	}
	if err := b.Delete(idKey(id)); err != nil {
		return err
	}
	byUnsigned, err := t.writeBucket(bucketTxsByUnsignedHash)
	if err != nil {
		return err
	}
	if err := byUnsigned.Delete(tx.UnsignedHash[:]); err != nil {
		return err
	}
	byStatus, err := t.writeBucket(bucketTxsByStatus)
	if err != nil {
		return err
	}
	return byStatus.Delete(append([]byte{byte(tx.Status)}, idKey(id)...))
}

// --- BlockHeaders ---

func heightKey(height int32) []byte {
	var k [4]byte
	byteOrder.PutUint32(k[:], uint32(height))
	return k[:]
}

func (t *Tx) InsertBlockHeader(h *vault.BlockHeader) error {
	b, err := t.writeBucket(bucketBlockHeaders)
	if err != nil {
		return err
	}
	data, err := encode(h)
	if err != nil {
		return err
	}
	return b.Put(heightKey(h.Height), data)
}

func (t *Tx) GetBlockHeader(height int32) (*vault.BlockHeader, error) {
	b := t.readBucket(bucketBlockHeaders)
	raw := b.Get(heightKey(height))
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var h vault.BlockHeader
	if err := decode(raw, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *Tx) GetBestBlockHeader() (*vault.BlockHeader, error) {
	b := t.readBucket(bucketBlockHeaders)
	c := b.ReadCursor()
	defer c.Close()
	k, v := c.Last()
	if k == nil {
		return nil, vault.ErrNotFound
	}
	var h vault.BlockHeader
	if err := decode(v, &h); err != nil {
		return nil, err
	}
	return &h, nil
}

func (t *Tx) ListBlockHeaders() ([]*vault.BlockHeader, error) {
	b := t.readBucket(bucketBlockHeaders)
	var out []*vault.BlockHeader
	err := b.ForEach(func(k, v []byte) error {
		var h vault.BlockHeader
		if err := decode(v, &h); err != nil {
			return err
		}
		out = append(out, &h)
		return nil
	})
	return out, err
}

func (t *Tx) DeleteBlockHeadersFrom(height int32) error {
	b, err := t.writeBucket(bucketBlockHeaders)
	if err != nil {
		return err
	}
	c := b.ReadWriteCursor()
	defer c.Close()
	var toDelete [][]byte
	for k, _ := c.Seek(heightKey(height)); k != nil; k, _ = c.Next() {
		cp := make([]byte, len(k))
		copy(cp, k)
		toDelete = append(toDelete, cp)
	}
	for _, k := range toDelete {
		if err := b.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

// --- MerkleBlocks ---

func (t *Tx) InsertMerkleBlock(m *vault.MerkleBlock) error {
	b, err := t.writeBucket(bucketMerkleBlocks)
	if err != nil {
		return err
	}
	data, err := encode(m)
	if err != nil {
		return err
	}
	return b.Put(m.BlockHash[:], data)
}

func (t *Tx) GetMerkleBlock(hash [32]byte) (*vault.MerkleBlock, error) {
	b := t.readBucket(bucketMerkleBlocks)
	raw := b.Get(hash[:])
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var m vault.MerkleBlock
	if err := decode(raw, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (t *Tx) DeleteMerkleBlock(hash [32]byte) error {
	b, err := t.writeBucket(bucketMerkleBlocks)
	if err != nil {
		return err
	}
	return b.Delete(hash[:])
}

// --- Users ---

func (t *Tx) InsertUser(u *vault.User) (int64, error) {
	id, err := t.nextID(bucketUsers)
	if err != nil {
		return 0, err
	}
	u.ID = id
	if err := t.UpdateUser(u); err != nil {
		return 0, err
	}
	return id, nil
}

func (t *Tx) UpdateUser(u *vault.User) error {
	b, err := t.writeBucket(bucketUsers)
	if err != nil {
		return err
	}
	data, err := encode(u)
	if err != nil {
		return err
	}
	if err := b.Put(idKey(u.ID), data); err != nil {
		return err
	}
	byName, err := t.writeBucket(bucketUsersByName)
	if err != nil {
		return err
	}
	return byName.Put([]byte(u.Username), idKey(u.ID))
}

func (t *Tx) GetUserByUsername(name string) (*vault.User, error) {
	idx := t.readBucket(bucketUsersByName)
	idRaw := idx.Get([]byte(name))
	if idRaw == nil {
		return nil, vault.ErrNotFound
	}
	b := t.readBucket(bucketUsers)
	raw := b.Get(idRaw)
	if raw == nil {
		return nil, vault.ErrNotFound
	}
	var u vault.User
	if err := decode(raw, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

func (t *Tx) ListUsers() ([]*vault.User, error) {
	b := t.readBucket(bucketUsers)
	var out []*vault.User
	err := b.ForEach(func(k, v []byte) error {
		var u vault.User
		if err := decode(v, &u); err != nil {
			return err
		}
		out = append(out, &u)
		return nil
	})
	return out, err
}
