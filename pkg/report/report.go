// Package report captures ledger balance snapshots and computes signed
// deltas between them, the verification primitive a host uses to confirm a
// settlement moved exactly what the settlement result claims.
package report

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/haryshwaran/crossmatch/pkg/ledger"
)

// Key identifies one balance cell.
type Key struct {
	Holder common.Address
	Asset  string // raw asset-data bytes as string, byte-exact
}

// Snapshot maps every (holder, asset) pair of interest to its balance at
// capture time. Read-only after Take; the settlement engine never sees it.
type Snapshot map[Key]*big.Int

// Take reads the ledger for every (holder, asset) combination.
func Take(l ledger.Ledger, holders []common.Address, assets [][]byte) Snapshot {
	snap := make(Snapshot, len(holders)*len(assets))
	for _, holder := range holders {
		for _, asset := range assets {
			snap[Key{Holder: holder, Asset: string(asset)}] = l.BalanceOf(holder, asset)
		}
	}
	return snap
}

// Diff returns after-before as signed deltas. Pairs present in either
// snapshot appear in the result; an untouched pair reports a zero delta.
func Diff(before, after Snapshot) map[Key]*big.Int {
	deltas := make(map[Key]*big.Int, len(after))
	for key, b := range after {
		prev := before[key]
		if prev == nil {
			prev = new(big.Int)
		}
		deltas[key] = new(big.Int).Sub(b, prev)
	}
	for key, prev := range before {
		if _, ok := deltas[key]; !ok {
			deltas[key] = new(big.Int).Neg(prev)
		}
	}
	return deltas
}

// AssetTotals sums deltas per asset class. A settlement that conserves
// value reports zero for every asset.
func AssetTotals(deltas map[Key]*big.Int) map[string]*big.Int {
	totals := make(map[string]*big.Int)
	for key, d := range deltas {
		if totals[key.Asset] == nil {
			totals[key.Asset] = new(big.Int)
		}
		totals[key.Asset].Add(totals[key.Asset], d)
	}
	return totals
}
