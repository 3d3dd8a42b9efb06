package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
)

// Store persists ledger balances in Pebble so a host can restart without
// losing reference-ledger state. Keys: bal:<asset hex>:<holder hex>.
type Store struct {
	db *pebble.DB
}

func NewStore(path string) (*Store, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open ledger store at %s: %w", path, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func balanceKey(asset []byte, holder common.Address) []byte {
	k := make([]byte, 0, 4+2*len(asset)+1+2*common.AddressLength)
	k = append(k, "bal:"...)
	k = append(k, hex.EncodeToString(asset)...)
	k = append(k, ':')
	k = append(k, hex.EncodeToString(holder.Bytes())...)
	return k
}

// SaveBalance writes one (holder, asset) balance row durably.
func (s *Store) SaveBalance(e BalanceEntry) error {
	if err := s.db.Set(balanceKey(e.Asset, e.Holder), e.Amount.Bytes(), pebble.Sync); err != nil {
		return fmt.Errorf("save balance: %w", err)
	}
	return nil
}

// SaveAll persists every balance the ledger currently holds.
func (s *Store) SaveAll(l *MemLedger) error {
	for _, e := range l.Entries() {
		if err := s.SaveBalance(e); err != nil {
			return err
		}
	}
	return nil
}

// LoadInto replays every persisted balance row into the ledger.
func (s *Store) LoadInto(l *MemLedger) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("bal:"),
		UpperBound: []byte("bal;"), // ';' is ':'+1
	})
	if err != nil {
		return fmt.Errorf("iterate ledger store: %w", err)
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		key := iter.Key()
		rest := key[len("bal:"):]
		sep := -1
		for i, b := range rest {
			if b == ':' {
				sep = i
				break
			}
		}
		if sep < 0 {
			return fmt.Errorf("malformed ledger store key %q", key)
		}
		asset, err := hex.DecodeString(string(rest[:sep]))
		if err != nil {
			return fmt.Errorf("decode asset in key %q: %w", key, err)
		}
		holderRaw, err := hex.DecodeString(string(rest[sep+1:]))
		if err != nil {
			return fmt.Errorf("decode holder in key %q: %w", key, err)
		}
		amount := new(big.Int).SetBytes(iter.Value())
		if err := l.Mint(common.BytesToAddress(holderRaw), asset, amount); err != nil {
			return err
		}
	}
	return iter.Error()
}
