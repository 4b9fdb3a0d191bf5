package vault

import (
	"context"
	"sync"
)

// memStore is a process-local, non-persistent Store used by unit tests that
// exercise vault logic without a real walletdb/bbolt backing file.
type memStore struct {
	mu sync.Mutex

	schemaVersion uint32
	network       string

	nextID int64

	keychains map[int64]*Keychain
	keys      map[int64]*Key
	accounts  map[int64]*Account
	bins      map[int64]*AccountBin
	scripts   map[int64]*SigningScript
	txs       map[int64]*Tx
	headers   map[int32]*BlockHeader
	blocks    map[[32]byte]*MerkleBlock
	users     map[int64]*User
}

// NewMemStore constructs an in-memory Store, for tests only.
func NewMemStore() Store {
	return &memStore{
		keychains: make(map[int64]*Keychain),
		keys:      make(map[int64]*Key),
		accounts:  make(map[int64]*Account),
		bins:      make(map[int64]*AccountBin),
		scripts:   make(map[int64]*SigningScript),
		txs:       make(map[int64]*Tx),
		headers:   make(map[int32]*BlockHeader),
		blocks:    make(map[[32]byte]*MerkleBlock),
		users:     make(map[int64]*User),
	}
}

func (s *memStore) Update(ctx context.Context, fn func(StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

func (s *memStore) View(ctx context.Context, fn func(StoreTx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return fn(&memTx{s: s})
}

func (s *memStore) Close() error { return nil }

type memTx struct{ s *memStore }

func (t *memTx) alloc() int64 {
	t.s.nextID++
	return t.s.nextID
}

func (t *memTx) SchemaVersion() (uint32, error)    { return t.s.schemaVersion, nil }
func (t *memTx) SetSchemaVersion(v uint32) error   { t.s.schemaVersion = v; return nil }
func (t *memTx) Network() (string, error)          { return t.s.network, nil }
func (t *memTx) SetNetwork(n string) error         { t.s.network = n; return nil }

func (t *memTx) InsertKeychain(k *Keychain) (int64, error) {
	k.ID = t.alloc()
	t.s.keychains[k.ID] = k
	return k.ID, nil
}
func (t *memTx) UpdateKeychain(k *Keychain) error { t.s.keychains[k.ID] = k; return nil }
func (t *memTx) GetKeychain(id int64) (*Keychain, error) {
	k, ok := t.s.keychains[id]
	if !ok {
		return nil, ErrNotFound
	}
	return k, nil
}
func (t *memTx) GetKeychainByName(name string) (*Keychain, error) {
	for _, k := range t.s.keychains {
		if k.Name == name {
			return k, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) GetKeychainByHash(hash [20]byte) (*Keychain, error) {
	for _, k := range t.s.keychains {
		if k.Hash() == hash {
			return k, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListKeychains() ([]*Keychain, error) {
	out := make([]*Keychain, 0, len(t.s.keychains))
	for _, k := range t.s.keychains {
		out = append(out, k)
	}
	return out, nil
}

func (t *memTx) InsertKey(k *Key) (int64, error) {
	k.ID = t.alloc()
	t.s.keys[k.ID] = k
	return k.ID, nil
}
func (t *memTx) GetKey(id int64) (*Key, error) {
	k, ok := t.s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	return k, nil
}
func (t *memTx) GetKeyByPubKey(pubKey []byte) (*Key, error) {
	for _, k := range t.s.keys {
		if string(k.PubKey) == string(pubKey) {
			return k, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListKeys() ([]*Key, error) {
	out := make([]*Key, 0, len(t.s.keys))
	for _, k := range t.s.keys {
		out = append(out, k)
	}
	return out, nil
}

func (t *memTx) InsertAccount(a *Account) (int64, error) {
	a.ID = t.alloc()
	t.s.accounts[a.ID] = a
	return a.ID, nil
}
func (t *memTx) UpdateAccount(a *Account) error { t.s.accounts[a.ID] = a; return nil }
func (t *memTx) GetAccount(id int64) (*Account, error) {
	a, ok := t.s.accounts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return a, nil
}
func (t *memTx) GetAccountByName(name string) (*Account, error) {
	for _, a := range t.s.accounts {
		if a.Name == name {
			return a, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListAccounts() ([]*Account, error) {
	out := make([]*Account, 0, len(t.s.accounts))
	for _, a := range t.s.accounts {
		out = append(out, a)
	}
	return out, nil
}

func (t *memTx) InsertAccountBin(a *AccountBin) (int64, error) {
	a.ID = t.alloc()
	t.s.bins[a.ID] = a
	return a.ID, nil
}
func (t *memTx) UpdateAccountBin(a *AccountBin) error { t.s.bins[a.ID] = a; return nil }
func (t *memTx) GetAccountBin(id int64) (*AccountBin, error) {
	b, ok := t.s.bins[id]
	if !ok {
		return nil, ErrNotFound
	}
	return b, nil
}
func (t *memTx) GetAccountBinByName(accountID int64, name string) (*AccountBin, error) {
	for _, b := range t.s.bins {
		if b.AccountID == accountID && b.Name == name {
			return b, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListAccountBins(accountID int64) ([]*AccountBin, error) {
	var out []*AccountBin
	for _, b := range t.s.bins {
		if b.AccountID == accountID {
			out = append(out, b)
		}
	}
	return out, nil
}

func (t *memTx) InsertSigningScript(sc *SigningScript) (int64, error) {
	sc.ID = t.alloc()
	t.s.scripts[sc.ID] = sc
	return sc.ID, nil
}
func (t *memTx) UpdateSigningScript(sc *SigningScript) error { t.s.scripts[sc.ID] = sc; return nil }
func (t *memTx) GetSigningScript(id int64) (*SigningScript, error) {
	sc, ok := t.s.scripts[id]
	if !ok {
		return nil, ErrNotFound
	}
	return sc, nil
}
func (t *memTx) GetSigningScriptByTxOutScript(script []byte) (*SigningScript, error) {
	for _, sc := range t.s.scripts {
		if string(sc.TxOutScript) == string(script) {
			return sc, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListUnusedSigningScripts(binID int64) ([]*SigningScript, error) {
	var out []*SigningScript
	for _, sc := range t.s.scripts {
		if sc.AccountBinID == binID && sc.Status == ScriptUnused {
			out = append(out, sc)
		}
	}
	return out, nil
}
func (t *memTx) ListSigningScriptsByStatus(binID int64, status ScriptStatus) ([]*SigningScript, error) {
	var out []*SigningScript
	for _, sc := range t.s.scripts {
		if sc.AccountBinID == binID && sc.Status == status {
			out = append(out, sc)
		}
	}
	return out, nil
}
func (t *memTx) ListAllSigningScripts() ([]*SigningScript, error) {
	out := make([]*SigningScript, 0, len(t.s.scripts))
	for _, sc := range t.s.scripts {
		out = append(out, sc)
	}
	return out, nil
}
func (t *memTx) CountSigningScripts(binID int64) (uint32, error) {
	var n uint32
	for _, sc := range t.s.scripts {
		if sc.AccountBinID == binID {
			n++
		}
	}
	return n, nil
}

func (t *memTx) InsertTx(tx *Tx) (int64, error) {
	tx.ID = t.alloc()
	t.s.txs[tx.ID] = tx
	return tx.ID, nil
}
func (t *memTx) UpdateTx(tx *Tx) error { t.s.txs[tx.ID] = tx; return nil }
func (t *memTx) GetTx(id int64) (*Tx, error) {
	tx, ok := t.s.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return tx, nil
}
func (t *memTx) GetTxByUnsignedHash(hash [32]byte) (*Tx, error) {
	for _, tx := range t.s.txs {
		if tx.UnsignedHash == hash {
			return tx, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) GetTxBySignedHash(hash [32]byte) (*Tx, error) {
	for _, tx := range t.s.txs {
		if tx.Status != TxUnsigned && tx.SignedHash == hash {
			return tx, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListTxsByStatus(status TxStatus) ([]*Tx, error) {
	var out []*Tx
	for _, tx := range t.s.txs {
		if tx.Status == status {
			out = append(out, tx)
		}
	}
	return out, nil
}
func (t *memTx) ListTxsByBlockHeight(height int32) ([]*Tx, error) {
	var out []*Tx
	for _, tx := range t.s.txs {
		if tx.BlockHash != nil && tx.BlockHeight == height {
			out = append(out, tx)
		}
	}
	return out, nil
}
func (t *memTx) ListAllTxs() ([]*Tx, error) {
	out := make([]*Tx, 0, len(t.s.txs))
	for _, tx := range t.s.txs {
		out = append(out, tx)
	}
	return out, nil
}
func (t *memTx) DeleteTx(id int64) error {
	delete(t.s.txs, id)
	return nil
}

func (t *memTx) InsertBlockHeader(h *BlockHeader) error {
	t.s.headers[h.Height] = h
	return nil
}
func (t *memTx) GetBlockHeader(height int32) (*BlockHeader, error) {
	h, ok := t.s.headers[height]
	if !ok {
		return nil, ErrNotFound
	}
	return h, nil
}
func (t *memTx) GetBestBlockHeader() (*BlockHeader, error) {
	var best *BlockHeader
	for _, h := range t.s.headers {
		if best == nil || h.Height > best.Height {
			best = h
		}
	}
	if best == nil {
		return nil, ErrNotFound
	}
	return best, nil
}
func (t *memTx) ListBlockHeaders() ([]*BlockHeader, error) {
	out := make([]*BlockHeader, 0, len(t.s.headers))
	for _, h := range t.s.headers {
		out = append(out, h)
	}
	return out, nil
}
func (t *memTx) DeleteBlockHeadersFrom(height int32) error {
	for h := range t.s.headers {
		if h >= height {
			delete(t.s.headers, h)
		}
	}
	return nil
}

func (t *memTx) InsertMerkleBlock(m *MerkleBlock) error {
	t.s.blocks[m.BlockHash] = m
	return nil
}
func (t *memTx) GetMerkleBlock(hash [32]byte) (*MerkleBlock, error) {
	m, ok := t.s.blocks[hash]
	if !ok {
		return nil, ErrNotFound
	}
	return m, nil
}
func (t *memTx) DeleteMerkleBlock(hash [32]byte) error {
	delete(t.s.blocks, hash)
	return nil
}

func (t *memTx) InsertUser(u *User) (int64, error) {
	u.ID = t.alloc()
	t.s.users[u.ID] = u
	return u.ID, nil
}
func (t *memTx) UpdateUser(u *User) error { t.s.users[u.ID] = u; return nil }
func (t *memTx) GetUserByUsername(name string) (*User, error) {
	for _, u := range t.s.users {
		if u.Username == name {
			return u, nil
		}
	}
	return nil, ErrNotFound
}
func (t *memTx) ListUsers() ([]*User, error) {
	out := make([]*User, 0, len(t.s.users))
	for _, u := range t.s.users {
		out = append(out, u)
	}
	return out, nil
}
