// Package watcher keeps bookkeeping over pending signed orders: it accepts
// an order after verifying it could still settle, rejects everything else,
// and drops orders once they are filled. It owns no settlement state.
package watcher

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/haryshwaran/crossmatch/pkg/exchange"
)

// OrderWatcher tracks accepted-but-unsettled signed orders, persisted in
// Pebble so pending state survives a host restart.
type OrderWatcher struct {
	hasher   exchange.Hasher
	verifier exchange.SignatureVerifier
	db       *pebble.DB
	log      *zap.Logger

	mu       sync.Mutex
	pending  map[common.Hash]*exchange.SignedOrder
	accepted uint64
	rejected uint64
	removed  uint64
}

// Stats summarizes the watcher's bookkeeping.
type Stats struct {
	Pending  int
	Accepted uint64
	Rejected uint64
	Removed  uint64
}

func NewOrderWatcher(path string, hasher exchange.Hasher, verifier exchange.SignatureVerifier, log *zap.Logger) (*OrderWatcher, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open order store at %s: %w", path, err)
	}
	w := &OrderWatcher{
		hasher:   hasher,
		verifier: verifier,
		db:       db,
		log:      log,
		pending:  make(map[common.Hash]*exchange.SignedOrder),
	}
	if err := w.loadPending(); err != nil {
		db.Close()
		return nil, err
	}
	return w, nil
}

func (w *OrderWatcher) Close() error { return w.db.Close() }

func orderKey(digest common.Hash) []byte {
	return append([]byte("ord:"), digest.Bytes()...)
}

// Add verifies and records a signed order. Rejected orders leave no trace:
// expired, zero-amount, or tampered orders never enter the pending set.
func (w *OrderWatcher) Add(o *exchange.SignedOrder, now time.Time) error {
	if err := w.add(o, now); err != nil {
		w.mu.Lock()
		w.rejected++
		w.mu.Unlock()
		w.log.Warn("order rejected", zap.Error(err), zap.String("maker", o.Maker.Hex()))
		return err
	}
	return nil
}

func (w *OrderWatcher) add(o *exchange.SignedOrder, now time.Time) error {
	if o.Expired(now) {
		return fmt.Errorf("%w: expires %s", exchange.ErrExpiredOrder, o.ExpirationTimeSeconds)
	}
	if o.MakerAssetAmount.Sign() <= 0 || o.TakerAssetAmount.Sign() <= 0 {
		return fmt.Errorf("%w: maker %s, taker %s", exchange.ErrInvalidAmount, o.MakerAssetAmount, o.TakerAssetAmount)
	}
	if err := exchange.VerifySignedOrder(o, w.hasher, w.verifier); err != nil {
		return err
	}
	digest, err := w.hasher.HashOrder(&o.Order)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[digest]; ok {
		return fmt.Errorf("order %s already pending", digest.Hex())
	}
	data, err := json.Marshal(o)
	if err != nil {
		return fmt.Errorf("marshal order: %w", err)
	}
	if err := w.db.Set(orderKey(digest), data, pebble.Sync); err != nil {
		return fmt.Errorf("persist order: %w", err)
	}
	w.pending[digest] = o
	w.accepted++
	w.log.Info("order accepted",
		zap.String("order", digest.Hex()),
		zap.String("maker", o.Maker.Hex()),
		zap.Int("pending", len(w.pending)),
	)
	return nil
}

// Remove drops a settled or abandoned order from the pending set.
func (w *OrderWatcher) Remove(digest common.Hash) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.pending[digest]; !ok {
		return nil
	}
	if err := w.db.Delete(orderKey(digest), pebble.Sync); err != nil {
		return fmt.Errorf("delete order: %w", err)
	}
	delete(w.pending, digest)
	w.removed++
	return nil
}

// Get returns a pending order by digest.
func (w *OrderWatcher) Get(digest common.Hash) (*exchange.SignedOrder, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.pending[digest]
	return o, ok
}

func (w *OrderWatcher) Stats() Stats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return Stats{
		Pending:  len(w.pending),
		Accepted: w.accepted,
		Rejected: w.rejected,
		Removed:  w.removed,
	}
}

func (w *OrderWatcher) loadPending() error {
	iter, err := w.db.NewIter(&pebble.IterOptions{
		LowerBound: []byte("ord:"),
		UpperBound: []byte("ord;"),
	})
	if err != nil {
		return fmt.Errorf("iterate order store: %w", err)
	}
	defer iter.Close()
	for iter.First(); iter.Valid(); iter.Next() {
		var o exchange.SignedOrder
		if err := json.Unmarshal(iter.Value(), &o); err != nil {
			return fmt.Errorf("decode pending order %x: %w", iter.Key(), err)
		}
		digest := common.BytesToHash(iter.Key()[len("ord:"):])
		w.pending[digest] = &o
	}
	return iter.Error()
}
